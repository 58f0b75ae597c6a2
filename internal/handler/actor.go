package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalnberzina/agrosync/internal/models"
	"github.com/kalnberzina/agrosync/internal/remote"
	"github.com/kalnberzina/agrosync/internal/resolver"
)

// actorHandler syncs actor operations (farmers, buyers, cooperatives,
// brokers). Actor payloads carry no foreign keys, only attachments.
type actorHandler struct {
	res    *resolver.Resolver
	client remote.RemoteClient
	logger *slog.Logger
}

func (h *actorHandler) Handle(ctx context.Context, op *models.PendingOperation) error {
	switch op.Op {
	case models.OperationCreate:
		return h.create(ctx, op)
	case models.OperationUpdate:
		return h.update(ctx, op)
	default:
		return fmt.Errorf("actor handler: unsupported operation %q", op.Op)
	}
}

func (h *actorHandler) create(ctx context.Context, op *models.PendingOperation) error {
	// Replay of an already-confirmed create: the server entity exists,
	// only the queue entry is stale.
	if serverID, ok := h.res.Lookup(models.EntityActor, op.EntityID); ok {
		h.logger.Debug("actor create replayed, already mapped",
			"local_id", op.EntityID, "server_id", serverID)
		return nil
	}

	body, err := decodeSparse(op.Payload)
	if err != nil {
		return err
	}
	delete(body, "attachments")

	serverID, err := h.client.CreateEntity(ctx, models.EntityActor, body, op.EntityID)
	if err != nil {
		return err
	}

	if err := h.res.Register(models.EntityActor, op.EntityID, serverID); err != nil {
		return fmt.Errorf("register actor mapping: %w", err)
	}

	uploadAttachments(ctx, h.logger, h.client, models.EntityActor, serverID, decodeAttachments(op.Payload))
	return nil
}

func (h *actorHandler) update(ctx context.Context, op *models.PendingOperation) error {
	serverID, err := h.res.ResolveID(models.EntityActor, op.EntityID)
	if err != nil {
		return err
	}

	patch, err := decodeSparse(op.Payload)
	if err != nil {
		return err
	}
	delete(patch, "attachments")

	if err := h.client.UpdateEntity(ctx, models.EntityActor, serverID, patch); err != nil {
		return err
	}

	uploadAttachments(ctx, h.logger, h.client, models.EntityActor, serverID, decodeAttachments(op.Payload))
	return nil
}
