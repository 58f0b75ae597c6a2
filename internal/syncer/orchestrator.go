// Package syncer drains the pending-operation queue against the
// authoritative server. It owns all ordering, retry, backoff, and
// termination decisions; handlers only classify.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalnberzina/agrosync/internal/handler"
	"github.com/kalnberzina/agrosync/internal/models"
	"github.com/kalnberzina/agrosync/internal/remote"
	"github.com/kalnberzina/agrosync/internal/resolver"
	"github.com/kalnberzina/agrosync/internal/store"
)

// ErrAuthRequired aborts a drain cycle when the server rejects the bearer
// token. Queued operations are left untouched; the user must sign in.
var ErrAuthRequired = errors.New("authentication required: sign in to sync")

// DrainResult summarizes one drain cycle.
type DrainResult struct {
	Synced    int // operations confirmed and removed
	Deferred  int // operations still blocked on an unresolved dependency
	Transient int // operations that failed transiently and will be retried
	Failed    int // operations marked permanently failed
	Skipped   int // operations gated by backoff or already failed
}

// Orchestrator is the single drain process for one user session. Only one
// drain may be active at a time; a second trigger while draining schedules
// exactly one more pass after the current one completes.
type Orchestrator struct {
	store    *store.Store
	res      *resolver.Resolver
	registry *handler.Registry
	client   remote.RemoteClient
	userID   string
	config   *Config
	logger   *slog.Logger

	mu       sync.Mutex
	draining bool
	rerun    bool

	now func() time.Time
}

// New builds an orchestrator for the given user.
func New(st *store.Store, res *resolver.Resolver, reg *handler.Registry, client remote.RemoteClient, userID string, cfg *Config, logger *slog.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    st,
		res:      res,
		registry: reg,
		client:   client,
		userID:   userID,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// TriggerSync runs drain cycles until the queue settles. When a drain is
// already in progress the call is a no-op that schedules one more cycle.
// Triggers: connectivity regained, session start, manual retry.
func (o *Orchestrator) TriggerSync(ctx context.Context) (*DrainResult, error) {
	o.mu.Lock()
	if o.draining {
		o.rerun = true
		o.mu.Unlock()
		return nil, nil
	}
	o.draining = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.draining = false
		o.mu.Unlock()
	}()

	// Check reachability once up front: an unreachable server aborts the
	// cycle without burning any operation's retry budget.
	if err := o.client.Ping(ctx); err != nil {
		if class, _ := classify(err); class == failureAuth {
			return nil, ErrAuthRequired
		}
		return nil, fmt.Errorf("server unreachable: %w", err)
	}

	total := &DrainResult{}
	for {
		result, err := o.drain(ctx)
		if result != nil {
			total.add(result)
		}

		o.mu.Lock()
		again := o.rerun
		o.rerun = false
		o.mu.Unlock()

		if err != nil || !again {
			return total, err
		}
	}
}

func (r *DrainResult) add(other *DrainResult) {
	r.Synced += other.Synced
	r.Deferred += other.Deferred
	r.Transient += other.Transient
	r.Failed += other.Failed
	r.Skipped += other.Skipped
}

// drain runs one drain cycle: select, order, dispatch, settle.
func (o *Orchestrator) drain(ctx context.Context) (*DrainResult, error) {
	ops, err := o.store.ListForUser(o.userID)
	if err != nil {
		return nil, fmt.Errorf("list pending operations: %w", err)
	}

	result := &DrainResult{}

	// Select: drop permanently failed operations and those still inside
	// their backoff window. Timestamp order is the dependency order; a
	// user cannot reference an entity before creating it.
	var queue []*models.PendingOperation
	for _, op := range ops {
		if op.Status == models.StatusFailed || o.gated(op.Retries, op.LastAttempt) {
			result.Skipped++
			continue
		}
		queue = append(queue, op)
	}

	if len(queue) == 0 {
		return result, nil
	}
	o.logger.Info("drain cycle started", "user_id", o.userID, "operations", len(queue))

	// Fixed-point dispatch: operations blocked on an unresolved dependency
	// are re-queued to the end of the pass and retried as long as some
	// other operation made progress, bounded by a hard pass ceiling.
	blocked := make(map[int64]*resolver.UnresolvedError)
	for pass := 0; len(queue) > 0 && pass < o.config.MaxRequeuePasses; pass++ {
		var deferred []*models.PendingOperation
		progress := false

		for _, op := range queue {
			if ctx.Err() != nil {
				// Connectivity dropped mid-cycle; everything not yet
				// dispatched stays queued untouched.
				return result, ctx.Err()
			}

			outcome, unresolved, err := o.dispatch(ctx, op)
			if err != nil {
				return result, err
			}

			switch outcome {
			case outcomeSynced:
				result.Synced++
				progress = true
			case outcomeUnresolved:
				blocked[op.ID] = unresolved
				deferred = append(deferred, op)
			case outcomeTransient:
				result.Transient++
			case outcomeFailed:
				result.Failed++
			}
		}

		queue = deferred
		if !progress {
			break
		}
	}

	// Settle operations still blocked after the fixed point. A dependency
	// with a pending create will resolve on a later cycle; one without is
	// a dangling reference, which is invalid rather than delayed.
	for _, op := range queue {
		unresolved := blocked[op.ID]
		if unresolved == nil {
			continue
		}

		pending, err := o.store.HasPendingCreate(unresolved.EntityType, unresolved.LocalID)
		if err != nil {
			return result, err
		}
		if !pending {
			cause := fmt.Sprintf("invalid reference: %s/%s does not exist locally or remotely",
				unresolved.EntityType, unresolved.LocalID)
			o.logger.Error("operation references a dangling identifier",
				"operation_id", op.ID, "entity_type", op.EntityType, "cause", cause)
			if err := o.store.MarkFailed(op.ID, cause); err != nil {
				return result, err
			}
			result.Failed++
			continue
		}

		// Still resolvable later: degrade to a transient failure with backoff.
		if err := o.store.IncrementRetry(op.ID, unresolved.Error()); err != nil {
			return result, err
		}
		result.Deferred++
	}

	o.logger.Info("drain cycle finished",
		"synced", result.Synced, "deferred", result.Deferred,
		"transient", result.Transient, "failed", result.Failed)
	return result, nil
}

type dispatchOutcome int

const (
	outcomeSynced dispatchOutcome = iota
	outcomeUnresolved
	outcomeTransient
	outcomeFailed
)

// dispatch sends one operation through its entity handler and applies the
// failure taxonomy. Store errors are returned directly; handler errors are
// absorbed into the outcome.
func (o *Orchestrator) dispatch(ctx context.Context, op *models.PendingOperation) (dispatchOutcome, *resolver.UnresolvedError, error) {
	h, ok := o.registry.Lookup(op.EntityType)
	if !ok {
		cause := fmt.Sprintf("no handler registered for entity type %q", op.EntityType)
		if err := o.store.MarkFailed(op.ID, cause); err != nil {
			return 0, nil, err
		}
		return outcomeFailed, nil, nil
	}

	if err := o.store.MarkSyncing(op.ID); err != nil {
		return 0, nil, err
	}

	hctx, cancel := context.WithTimeout(ctx, o.config.RequestTimeout)
	handleErr := h.Handle(hctx, op)
	cancel()

	if handleErr == nil {
		if err := o.store.Remove(op.ID); err != nil {
			return 0, nil, err
		}
		return outcomeSynced, nil, nil
	}

	class, unresolved := classify(handleErr)

	// Interrupted mid-dispatch by the caller, not by the per-op timeout:
	// leave the operation transient-failed so it is retried later.
	if ctx.Err() != nil {
		if err := o.store.IncrementRetry(op.ID, handleErr.Error()); err != nil {
			return 0, nil, err
		}
		return outcomeTransient, nil, ctx.Err()
	}

	switch class {
	case failureUnresolved:
		// Not a hard failure: back to queued without touching the retry
		// counter, then to the end of the current pass.
		if err := o.store.MarkQueued(op.ID, false); err != nil {
			return 0, nil, err
		}
		return outcomeUnresolved, unresolved, nil

	case failureAuth:
		o.logger.Warn("sync rejected: sign in to sync", "operation_id", op.ID)
		if err := o.store.MarkQueued(op.ID, false); err != nil {
			return 0, nil, err
		}
		return 0, nil, ErrAuthRequired

	case failurePermanent:
		o.logger.Error("operation rejected by server",
			"operation_id", op.ID, "entity_type", op.EntityType, "error", handleErr)
		if err := o.store.MarkFailed(op.ID, handleErr.Error()); err != nil {
			return 0, nil, err
		}
		return outcomeFailed, nil, nil

	default: // transient
		if op.Retries+1 >= o.config.MaxRetries {
			cause := fmt.Sprintf("retry budget exhausted after %d attempts: %v", op.Retries+1, handleErr)
			o.logger.Error("operation failed permanently", "operation_id", op.ID, "cause", cause)
			if err := o.store.MarkFailed(op.ID, cause); err != nil {
				return 0, nil, err
			}
			return outcomeFailed, nil, nil
		}
		o.logger.Warn("operation failed transiently",
			"operation_id", op.ID, "retries", op.Retries+1, "error", handleErr)
		if err := o.store.IncrementRetry(op.ID, handleErr.Error()); err != nil {
			return 0, nil, err
		}
		return outcomeTransient, nil, nil
	}
}

// RetryFailed resets a failed operation to queued with a fresh retry budget
// and runs a drain cycle.
func (o *Orchestrator) RetryFailed(ctx context.Context, opID int64) (*DrainResult, error) {
	op, err := o.store.GetOperation(opID)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, fmt.Errorf("operation %d not found", opID)
	}
	if op.Status != models.StatusFailed {
		return nil, fmt.Errorf("operation %d is %s, only failed operations can be retried", opID, op.Status)
	}

	if err := o.store.MarkQueued(opID, true); err != nil {
		return nil, err
	}
	return o.TriggerSync(ctx)
}

// Discard drops a failed operation from the queue for good.
func (o *Orchestrator) Discard(opID int64) error {
	op, err := o.store.GetOperation(opID)
	if err != nil {
		return err
	}
	if op == nil {
		return fmt.Errorf("operation %d not found", opID)
	}
	return o.store.Remove(opID)
}
