package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kalnberzina/agrosync/internal/models"
)

// Enqueue persists a new pending operation and returns its store-assigned ID.
// The insert is a single statement, so it is atomic across process restarts.
func (s *Store) Enqueue(op *models.NewPendingOperation) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO pending_operations
			(entity_type, entity_id, operation, payload, user_id, timestamp, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.EntityType, op.EntityID, string(op.Op), op.Payload, op.UserID,
		time.Now().UTC().Format(time.RFC3339Nano), string(models.StatusQueued),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue operation: %w", err)
	}
	return id, nil
}

// Amend replaces the payload of an existing queued create for the given
// entity, refreshing its timestamp. It reports whether a matching operation
// existed; callers should Enqueue instead when it did not. Operations that
// are mid-sync or failed are not amended.
func (s *Store) Amend(entityType, entityID, userID string, payload []byte) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE pending_operations
		 SET payload = ?, timestamp = ?
		 WHERE entity_type = ? AND entity_id = ? AND user_id = ?
		   AND operation = ? AND status = ?`,
		payload, time.Now().UTC().Format(time.RFC3339Nano),
		entityType, entityID, userID,
		string(models.OperationCreate), string(models.StatusQueued),
	)
	if err != nil {
		return false, fmt.Errorf("amend operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("amend operation: %w", err)
	}
	return n > 0, nil
}

// ListForUser returns the user's pending operations ordered by timestamp
// ascending. Both the orchestrator and the outbox display read this.
func (s *Store) ListForUser(userID string) ([]*models.PendingOperation, error) {
	rows, err := s.db.Query(
		`SELECT id, entity_type, entity_id, operation, payload, user_id,
			timestamp, retries, status, last_error, last_attempt
		 FROM pending_operations
		 WHERE user_id = ?
		 ORDER BY timestamp ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []*models.PendingOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// GetOperation returns a single operation by ID, or nil if it does not exist.
func (s *Store) GetOperation(id int64) (*models.PendingOperation, error) {
	row := s.db.QueryRow(
		`SELECT id, entity_type, entity_id, operation, payload, user_id,
			timestamp, retries, status, last_error, last_attempt
		 FROM pending_operations WHERE id = ?`,
		id,
	)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return op, err
}

// GetPendingCreate returns the queued create operation for an entity, or
// nil when none exists. Callers use it to merge draft edits before Amend.
func (s *Store) GetPendingCreate(entityType, entityID, userID string) (*models.PendingOperation, error) {
	row := s.db.QueryRow(
		`SELECT id, entity_type, entity_id, operation, payload, user_id,
			timestamp, retries, status, last_error, last_attempt
		 FROM pending_operations
		 WHERE entity_type = ? AND entity_id = ? AND user_id = ?
		   AND operation = ? AND status = ?`,
		entityType, entityID, userID,
		string(models.OperationCreate), string(models.StatusQueued),
	)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return op, err
}

// Remove deletes an operation after its sync has been confirmed.
func (s *Store) Remove(id int64) error {
	_, err := s.db.Exec("DELETE FROM pending_operations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("remove operation %d: %w", id, err)
	}
	return nil
}

// MarkSyncing flags an operation as currently being dispatched.
func (s *Store) MarkSyncing(id int64) error {
	return s.setStatus(id, models.StatusSyncing)
}

// MarkQueued returns an operation to the queued state. Manual retry also
// goes through here, with the retry counter reset.
func (s *Store) MarkQueued(id int64, resetRetries bool) error {
	if resetRetries {
		_, err := s.db.Exec(
			"UPDATE pending_operations SET status = ?, retries = 0, last_error = '' WHERE id = ?",
			string(models.StatusQueued), id,
		)
		if err != nil {
			return fmt.Errorf("requeue operation %d: %w", id, err)
		}
		return nil
	}
	return s.setStatus(id, models.StatusQueued)
}

// MarkFailed flags an operation as permanently failed, recording the cause.
// Failed operations stay in the store until the user retries or discards them.
func (s *Store) MarkFailed(id int64, cause string) error {
	_, err := s.db.Exec(
		"UPDATE pending_operations SET status = ?, last_error = ? WHERE id = ?",
		string(models.StatusFailed), cause, id,
	)
	if err != nil {
		return fmt.Errorf("mark operation %d failed: %w", id, err)
	}
	return nil
}

// IncrementRetry bumps the retry counter after a transient failure and
// stamps the attempt time used for backoff gating.
func (s *Store) IncrementRetry(id int64, cause string) error {
	_, err := s.db.Exec(
		`UPDATE pending_operations
		 SET retries = retries + 1, status = ?, last_error = ?, last_attempt = ?
		 WHERE id = ?`,
		string(models.StatusQueued), cause,
		time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("increment retry for operation %d: %w", id, err)
	}
	return nil
}

// HasPendingCreate reports whether a create operation for the given local
// identifier is still queued. The orchestrator uses this to tell a delayed
// reference apart from a dangling one.
func (s *Store) HasPendingCreate(entityType, localID string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pending_operations
		 WHERE entity_type = ? AND entity_id = ? AND operation = ?`,
		entityType, localID, string(models.OperationCreate),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check pending create: %w", err)
	}
	return n > 0, nil
}

func (s *Store) setStatus(id int64, status models.OperationStatus) error {
	_, err := s.db.Exec(
		"UPDATE pending_operations SET status = ? WHERE id = ?",
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("set operation %d status %s: %w", id, status, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(r rowScanner) (*models.PendingOperation, error) {
	var op models.PendingOperation
	var operation, status, ts string
	var lastAttempt sql.NullString
	err := r.Scan(
		&op.ID, &op.EntityType, &op.EntityID, &operation, &op.Payload,
		&op.UserID, &ts, &op.Retries, &status, &op.LastError, &lastAttempt,
	)
	if err != nil {
		return nil, err
	}
	op.Op = models.OperationType(operation)
	op.Status = models.OperationStatus(status)
	op.Timestamp = parseTimestamp(ts)
	if lastAttempt.Valid {
		op.LastAttempt = parseTimestamp(lastAttempt.String)
	}
	return &op, nil
}
