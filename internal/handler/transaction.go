package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalnberzina/agrosync/internal/models"
	"github.com/kalnberzina/agrosync/internal/remote"
	"github.com/kalnberzina/agrosync/internal/resolver"
)

// transactionHandler syncs trade transactions. Buyer and seller are actor
// references that may still point at local identifiers; both must resolve
// before the transaction can be sent.
type transactionHandler struct {
	res    *resolver.Resolver
	client remote.RemoteClient
	logger *slog.Logger
}

func (h *transactionHandler) Handle(ctx context.Context, op *models.PendingOperation) error {
	switch op.Op {
	case models.OperationCreate:
		return h.create(ctx, op)
	case models.OperationUpdate:
		return h.update(ctx, op)
	default:
		return fmt.Errorf("transaction handler: unsupported operation %q", op.Op)
	}
}

func (h *transactionHandler) create(ctx context.Context, op *models.PendingOperation) error {
	if serverID, ok := h.res.Lookup(models.EntityTransaction, op.EntityID); ok {
		h.logger.Debug("transaction create replayed, already mapped",
			"local_id", op.EntityID, "server_id", serverID)
		return nil
	}

	body, err := decodeSparse(op.Payload)
	if err != nil {
		return err
	}
	if err := resolveRefField(h.res, body, "buyer", models.EntityActor); err != nil {
		return err
	}
	if err := resolveRefField(h.res, body, "seller", models.EntityActor); err != nil {
		return err
	}
	delete(body, "attachments")

	serverID, err := h.client.CreateEntity(ctx, models.EntityTransaction, body, op.EntityID)
	if err != nil {
		return err
	}

	if err := h.res.Register(models.EntityTransaction, op.EntityID, serverID); err != nil {
		return fmt.Errorf("register transaction mapping: %w", err)
	}

	uploadAttachments(ctx, h.logger, h.client, models.EntityTransaction, serverID, decodeAttachments(op.Payload))
	return nil
}

func (h *transactionHandler) update(ctx context.Context, op *models.PendingOperation) error {
	serverID, err := h.res.ResolveID(models.EntityTransaction, op.EntityID)
	if err != nil {
		return err
	}

	patch, err := decodeSparse(op.Payload)
	if err != nil {
		return err
	}
	// Only resolve references actually present in the patch.
	if err := resolveRefField(h.res, patch, "buyer", models.EntityActor); err != nil {
		return err
	}
	if err := resolveRefField(h.res, patch, "seller", models.EntityActor); err != nil {
		return err
	}
	delete(patch, "attachments")

	if err := h.client.UpdateEntity(ctx, models.EntityTransaction, serverID, patch); err != nil {
		return err
	}

	uploadAttachments(ctx, h.logger, h.client, models.EntityTransaction, serverID, decodeAttachments(op.Payload))
	return nil
}
