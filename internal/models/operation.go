package models

import "time"

// OperationType denotes the kind of mutation a pending operation carries.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
)

// OperationStatus is the lifecycle state of a pending operation.
type OperationStatus string

const (
	StatusQueued  OperationStatus = "queued"
	StatusSyncing OperationStatus = "syncing"
	StatusFailed  OperationStatus = "failed"
)

// Entity type tags used to select a sync handler.
const (
	EntityActor       = "actor"
	EntityTransaction = "transaction"
	EntityDocument    = "document"
)

// PendingOperation is a queued, not-yet-confirmed mutation awaiting
// submission to the authoritative server. For creates, EntityID is a
// client-generated local identifier that has no meaning to the server
// until the operation syncs.
type PendingOperation struct {
	ID          int64           `json:"id"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Op          OperationType   `json:"operation"`
	Payload     []byte          `json:"payload"`
	UserID      string          `json:"user_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Retries     int             `json:"retries"`
	Status      OperationStatus `json:"status"`
	LastError   string          `json:"last_error,omitempty"`
	LastAttempt time.Time       `json:"last_attempt,omitempty"`
}

// NewPendingOperation holds the caller-supplied fields of an operation
// before the store assigns an ID and timestamp.
type NewPendingOperation struct {
	EntityType string
	EntityID   string
	Op         OperationType
	Payload    []byte
	UserID     string
}
