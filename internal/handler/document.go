package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kalnberzina/agrosync/internal/models"
	"github.com/kalnberzina/agrosync/internal/remote"
	"github.com/kalnberzina/agrosync/internal/resolver"
)

// documentHandler syncs standalone documents (contract scans, quality
// certificates, receipts). The owner reference is typed by the payload's
// owner_type field, since a document may belong to an actor or a
// transaction.
type documentHandler struct {
	res    *resolver.Resolver
	client remote.RemoteClient
	logger *slog.Logger
}

func (h *documentHandler) Handle(ctx context.Context, op *models.PendingOperation) error {
	switch op.Op {
	case models.OperationCreate:
		return h.create(ctx, op)
	case models.OperationUpdate:
		return h.update(ctx, op)
	default:
		return fmt.Errorf("document handler: unsupported operation %q", op.Op)
	}
}

func (h *documentHandler) create(ctx context.Context, op *models.PendingOperation) error {
	if serverID, ok := h.res.Lookup(models.EntityDocument, op.EntityID); ok {
		h.logger.Debug("document create replayed, already mapped",
			"local_id", op.EntityID, "server_id", serverID)
		return nil
	}

	var payload models.DocumentPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	body, err := decodeSparse(op.Payload)
	if err != nil {
		return err
	}
	if err := resolveRefField(h.res, body, "owner", ownerEntityType(payload.OwnerType)); err != nil {
		return err
	}
	// The file itself goes up as a follow-up attachment upload.
	delete(body, "attachment")

	serverID, err := h.client.CreateEntity(ctx, models.EntityDocument, body, op.EntityID)
	if err != nil {
		return err
	}

	if err := h.res.Register(models.EntityDocument, op.EntityID, serverID); err != nil {
		return fmt.Errorf("register document mapping: %w", err)
	}

	if payload.Attachment.Filename != "" {
		uploadAttachments(ctx, h.logger, h.client, models.EntityDocument, serverID,
			[]models.Attachment{payload.Attachment})
	}
	return nil
}

func (h *documentHandler) update(ctx context.Context, op *models.PendingOperation) error {
	serverID, err := h.res.ResolveID(models.EntityDocument, op.EntityID)
	if err != nil {
		return err
	}

	var payload models.DocumentPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	patch, err := decodeSparse(op.Payload)
	if err != nil {
		return err
	}
	if err := resolveRefField(h.res, patch, "owner", ownerEntityType(payload.OwnerType)); err != nil {
		return err
	}
	delete(patch, "attachment")

	if err := h.client.UpdateEntity(ctx, models.EntityDocument, serverID, patch); err != nil {
		return err
	}

	if payload.Attachment.Filename != "" {
		uploadAttachments(ctx, h.logger, h.client, models.EntityDocument, serverID,
			[]models.Attachment{payload.Attachment})
	}
	return nil
}

func ownerEntityType(ownerType string) string {
	if ownerType == "" {
		return models.EntityActor
	}
	return ownerType
}
