// Package handler turns queued operations into authoritative API calls.
// One handler per entity type, registered in a lookup table keyed by the
// operation's entity type tag. Handlers classify errors but never decide
// retry policy; that belongs to the sync orchestrator.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kalnberzina/agrosync/internal/models"
	"github.com/kalnberzina/agrosync/internal/remote"
	"github.com/kalnberzina/agrosync/internal/resolver"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentUploads bounds parallel attachment uploads per operation.
const maxConcurrentUploads = 4

// Handler processes one pending operation for a single entity type.
// Handlers must tolerate being called more than once for the same
// operation: a create whose local identifier is already mapped is a replay
// and must not create a second server entity.
type Handler interface {
	Handle(ctx context.Context, op *models.PendingOperation) error
}

// Registry is the strategy table mapping entity type tags to handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a registry with the built-in entity handlers.
func NewRegistry(res *resolver.Resolver, client remote.RemoteClient, logger *slog.Logger) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.Register(models.EntityActor, &actorHandler{res: res, client: client, logger: logger})
	r.Register(models.EntityTransaction, &transactionHandler{res: res, client: client, logger: logger})
	r.Register(models.EntityDocument, &documentHandler{res: res, client: client, logger: logger})
	return r
}

// Register adds or replaces the handler for an entity type.
func (r *Registry) Register(entityType string, h Handler) {
	r.handlers[entityType] = h
}

// Lookup returns the handler for an entity type.
func (r *Registry) Lookup(entityType string) (Handler, bool) {
	h, ok := r.handlers[entityType]
	return h, ok
}

// decodeSparse unmarshals a payload into a field map, preserving sparse
// patch semantics: fields absent from the payload stay absent.
func decodeSparse(payload []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return m, nil
}

// resolveRefField replaces a tagged reference field in a sparse field map
// with its resolved server identifier. Missing fields are left alone;
// unresolved local references propagate *resolver.UnresolvedError.
func resolveRefField(res *resolver.Resolver, m map[string]any, field, refEntityType string) error {
	raw, ok := m[field]
	if !ok || raw == nil {
		return nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode %s ref: %w", field, err)
	}
	var ref models.Ref
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("decode %s ref: %w", field, err)
	}

	serverID, err := res.Resolve(refEntityType, ref)
	if err != nil {
		return err
	}
	m[field] = serverID
	return nil
}

// uploadAttachments pushes attachments as a follow-up step after the owning
// entity synced. Failures here are non-fatal to the primary operation:
// they are logged and reported separately, never returned.
func uploadAttachments(ctx context.Context, logger *slog.Logger, client remote.RemoteClient, entityType, serverID string, atts []models.Attachment) {
	if len(atts) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentUploads)

	for _, att := range atts {
		g.Go(func() error {
			upload := &remote.AttachmentUpload{
				Filename:  att.Filename,
				MediaType: att.MediaType,
				Data:      att.Data,
			}
			if err := client.UploadAttachment(ctx, entityType, serverID, upload); err != nil {
				logger.Warn("attachment upload failed",
					"entity_type", entityType,
					"server_id", serverID,
					"filename", att.Filename,
					"error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// decodeAttachments pulls the attachments slice out of a payload.
func decodeAttachments(payload []byte) []models.Attachment {
	var wrapper struct {
		Attachments []models.Attachment `json:"attachments"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return nil
	}
	return wrapper.Attachments
}
