package remote

// CreateResponse is returned by the server after an entity create. ID is the
// server-assigned identifier; Replayed indicates the create was deduplicated
// against a previously seen idempotency key.
type CreateResponse struct {
	ID       string `json:"id"`
	Replayed bool   `json:"replayed,omitempty"`
}

// AttachmentUpload is the wire form of an attachment upload.
type AttachmentUpload struct {
	Filename  string `json:"filename"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"` // base64
}

// ErrorResponse is the structured error body returned by the server.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
