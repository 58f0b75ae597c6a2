// Package metastore persists the reference server's entity state in a
// single embedded bbolt database.
package metastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("entity not found")

var (
	bucketEntities    = []byte("entities")
	bucketIdempotency = []byte("idempotency")
)

// Store holds server-side entities, keyed by entity type and server id,
// plus the idempotency-key index that deduplicates replayed creates.
type Store struct {
	db *bolt.DB
}

// New opens or creates a bbolt database at the given path.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create meta directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open meta database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEntities, bucketIdempotency} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the bbolt database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func entityKey(entityType, id string) []byte {
	return []byte(entityType + ":" + id)
}

// CreateEntity stores a new entity and returns its server-assigned id.
// A previously seen idempotency key short-circuits to the id assigned the
// first time, so replayed creates never produce duplicates.
func (s *Store) CreateEntity(entityType string, fields map[string]any, idempotencyKey string) (id string, replayed bool, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		idem := tx.Bucket(bucketIdempotency)
		idemKey := entityKey(entityType, idempotencyKey)

		if idempotencyKey != "" {
			if existing := idem.Get(idemKey); existing != nil {
				id = string(existing)
				replayed = true
				return nil
			}
		}

		id = "srv-" + uuid.New().String()
		fields["id"] = id
		fields["created_at"] = time.Now().UTC().Format(time.RFC3339)

		data, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("marshal entity: %w", err)
		}
		if err := tx.Bucket(bucketEntities).Put(entityKey(entityType, id), data); err != nil {
			return err
		}
		if idempotencyKey != "" {
			return idem.Put(idemKey, []byte(id))
		}
		return nil
	})
	return id, replayed, err
}

// UpdateEntity merges exactly the provided fields into an existing entity.
// Fields absent from the patch are left untouched.
func (s *Store) UpdateEntity(entityType, id string, patch map[string]any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		key := entityKey(entityType, id)

		data := b.Get(key)
		if data == nil {
			return ErrNotFound
		}

		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return fmt.Errorf("unmarshal entity: %w", err)
		}
		for k, v := range patch {
			if k == "id" || k == "created_at" {
				continue
			}
			fields[k] = v
		}
		fields["updated_at"] = time.Now().UTC().Format(time.RFC3339)

		merged, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("marshal entity: %w", err)
		}
		return b.Put(key, merged)
	})
}

// GetEntity returns an entity's fields. Returns ErrNotFound if missing.
func (s *Store) GetEntity(entityType, id string) (map[string]any, error) {
	var fields map[string]any
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntities).Get(entityKey(entityType, id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &fields)
	})
	return fields, err
}

// AddAttachmentRef appends an attachment reference to an entity.
func (s *Store) AddAttachmentRef(entityType, id, filename, hash string) error {
	return s.UpdateEntityFunc(entityType, id, func(fields map[string]any) {
		refs, _ := fields["attachments"].([]any)
		refs = append(refs, map[string]any{"filename": filename, "hash": hash})
		fields["attachments"] = refs
	})
}

// UpdateEntityFunc applies an in-place mutation to an entity under the
// write transaction.
func (s *Store) UpdateEntityFunc(entityType, id string, mutate func(map[string]any)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		key := entityKey(entityType, id)

		data := b.Get(key)
		if data == nil {
			return ErrNotFound
		}

		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return fmt.Errorf("unmarshal entity: %w", err)
		}
		mutate(fields)

		updated, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("marshal entity: %w", err)
		}
		return b.Put(key, updated)
	})
}
