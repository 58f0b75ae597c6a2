package models

// Attachment is a binary file embedded inline in an operation payload.
// Data is base64-encoded so payloads stay plain JSON in the local store.
type Attachment struct {
	Filename  string `json:"filename"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ActorPayload is the create/update payload for an agricultural-commodity
// actor (farmer, buyer, cooperative, broker).
type ActorPayload struct {
	Name        string       `json:"name,omitempty"`
	Role        string       `json:"role,omitempty"`
	Region      string       `json:"region,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// TransactionPayload is the create/update payload for a trade transaction.
// Buyer and Seller may reference actors that have not synced yet.
type TransactionPayload struct {
	Buyer       Ref          `json:"buyer,omitempty"`
	Seller      Ref          `json:"seller,omitempty"`
	Commodity   string       `json:"commodity,omitempty"`
	QuantityKg  float64      `json:"quantity_kg,omitempty"`
	UnitPrice   float64      `json:"unit_price,omitempty"`
	Currency    string       `json:"currency,omitempty"`
	TradeDate   string       `json:"trade_date,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// DocumentPayload is the create payload for a standalone document tied to
// an owning entity (contract scan, quality certificate, receipt).
type DocumentPayload struct {
	Owner      Ref        `json:"owner,omitempty"`
	OwnerType  string     `json:"owner_type,omitempty"`
	Title      string     `json:"title,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Attachment Attachment `json:"attachment,omitempty"`
}
