// Package remote implements the HTTP client for the authoritative server.
// It performs single calls only; retry and backoff policy belongs to the
// sync orchestrator.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// RemoteClient defines the contract for communicating with the server.
// One method per handler action: create, update, upload-attachment.
type RemoteClient interface {
	// CreateEntity creates an entity and returns its server-assigned id.
	// idempotencyKey lets the server deduplicate replayed creates.
	CreateEntity(ctx context.Context, entityType string, body map[string]any, idempotencyKey string) (string, error)

	// UpdateEntity applies a sparse patch: only the fields present in patch
	// are sent, and only those may change on the server.
	UpdateEntity(ctx context.Context, entityType, serverID string, patch map[string]any) error

	// UploadAttachment attaches a binary file to an existing entity.
	UploadAttachment(ctx context.Context, entityType, serverID string, att *AttachmentUpload) error

	// Ping checks connectivity and token validity.
	Ping(ctx context.Context) error
}

// HTTPClient implements RemoteClient over HTTP.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTP-based remote client.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{},
	}
}

func (c *HTTPClient) url(path string) string {
	return fmt.Sprintf("%s/api/v1%s", c.baseURL, path)
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-ID", uuid.New().String())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, reqBody, respBody any, headers map[string]string) error {
	var body io.Reader
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/json"

	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, url, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// CreateEntity posts a new entity and returns its server-assigned id.
func (c *HTTPClient) CreateEntity(ctx context.Context, entityType string, body map[string]any, idempotencyKey string) (string, error) {
	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	var resp CreateResponse
	if err := c.doJSON(ctx, "POST", c.url("/"+entityType), body, &resp, headers); err != nil {
		return "", fmt.Errorf("create %s: %w", entityType, err)
	}
	return resp.ID, nil
}

// UpdateEntity patches an entity with exactly the provided fields.
func (c *HTTPClient) UpdateEntity(ctx context.Context, entityType, serverID string, patch map[string]any) error {
	if err := c.doJSON(ctx, "PATCH", c.url("/"+entityType+"/"+serverID), patch, nil, nil); err != nil {
		return fmt.Errorf("update %s %s: %w", entityType, serverID, err)
	}
	return nil
}

// UploadAttachment posts an inline-encoded attachment for an entity.
func (c *HTTPClient) UploadAttachment(ctx context.Context, entityType, serverID string, att *AttachmentUpload) error {
	url := c.url("/" + entityType + "/" + serverID + "/attachments")
	if err := c.doJSON(ctx, "POST", url, att, nil, nil); err != nil {
		return fmt.Errorf("upload attachment %s: %w", att.Filename, err)
	}
	return nil
}

// Ping checks reachability and that the token is accepted.
func (c *HTTPClient) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, "GET", c.baseURL+"/healthz", nil, nil)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	return nil
}

// RemoteError represents a structured error from the server.
type RemoteError struct {
	Code    string
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s — %s", e.Status, e.Code, e.Message)
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &RemoteError{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	return &RemoteError{
		Code:    errResp.Error,
		Message: errResp.Message,
		Status:  resp.StatusCode,
	}
}
