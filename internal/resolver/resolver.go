// Package resolver translates client-generated local identifiers into
// server-assigned identifiers once the owning entity has synced.
package resolver

import (
	"fmt"
	"sync"

	"github.com/kalnberzina/agrosync/internal/models"
	"github.com/kalnberzina/agrosync/internal/store"
)

// UnresolvedError reports a local identifier that has no server mapping yet.
// The orchestrator treats it as "not yet", not as a hard failure.
type UnresolvedError struct {
	EntityType string
	LocalID    string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved dependency: %s/%s has no server identifier yet", e.EntityType, e.LocalID)
}

type mappingKey struct {
	entityType string
	localID    string
}

// Resolver maintains the local-to-server identifier mapping. Lookups hit an
// in-memory map; writes go through the store so mappings survive restarts.
type Resolver struct {
	store *store.Store

	mu    sync.RWMutex
	cache map[mappingKey]string
}

// New builds a resolver over the given store, warming the cache from the
// persisted mappings.
func New(st *store.Store) (*Resolver, error) {
	mappings, err := st.AllMappings()
	if err != nil {
		return nil, fmt.Errorf("load identifier mappings: %w", err)
	}

	cache := make(map[mappingKey]string, len(mappings))
	for _, m := range mappings {
		cache[mappingKey{m.EntityType, m.LocalID}] = m.ServerID
	}

	return &Resolver{store: st, cache: cache}, nil
}

// Resolve turns a reference into a server identifier. Server references pass
// through unchanged; local references are looked up, and a miss returns
// *UnresolvedError carrying the blocking (entityType, localID) pair.
func (r *Resolver) Resolve(entityType string, ref models.Ref) (string, error) {
	if !ref.IsLocal() {
		return ref.ID, nil
	}

	r.mu.RLock()
	serverID, ok := r.cache[mappingKey{entityType, ref.ID}]
	r.mu.RUnlock()
	if ok {
		return serverID, nil
	}

	return "", &UnresolvedError{EntityType: entityType, LocalID: ref.ID}
}

// ResolveID resolves a bare entity identifier of unknown provenance, as
// carried by update operations. A mapped local identifier resolves to its
// server identifier; an unmapped identifier with a pending create is not
// resolvable yet; anything else is taken to already be a server identifier
// and returned unchanged.
func (r *Resolver) ResolveID(entityType, id string) (string, error) {
	r.mu.RLock()
	serverID, ok := r.cache[mappingKey{entityType, id}]
	r.mu.RUnlock()
	if ok {
		return serverID, nil
	}

	pending, err := r.store.HasPendingCreate(entityType, id)
	if err != nil {
		return "", err
	}
	if pending {
		return "", &UnresolvedError{EntityType: entityType, LocalID: id}
	}
	return id, nil
}

// Lookup reports whether a local identifier has already been mapped.
func (r *Resolver) Lookup(entityType, localID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	serverID, ok := r.cache[mappingKey{entityType, localID}]
	return serverID, ok
}

// Register records a freshly confirmed local-to-server mapping. It is called
// exactly once per local identifier, immediately after the entity's create
// operation succeeds; a conflicting second registration is an error.
func (r *Resolver) Register(entityType, localID, serverID string) error {
	if err := r.store.PutMapping(entityType, localID, serverID); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[mappingKey{entityType, localID}] = serverID
	r.mu.Unlock()
	return nil
}
