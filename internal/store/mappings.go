package store

import (
	"database/sql"
	"fmt"
)

// Mapping is a resolved local-to-server identifier pair.
type Mapping struct {
	EntityType string
	LocalID    string
	ServerID   string
}

// PutMapping records a local-to-server identifier mapping. Mappings are
// write-once: inserting a different server id for an already-mapped local
// id is an error, while re-inserting the identical pair is a no-op.
func (s *Store) PutMapping(entityType, localID, serverID string) error {
	existing, err := s.GetMapping(entityType, localID)
	if err != nil {
		return err
	}
	if existing != "" {
		if existing == serverID {
			return nil
		}
		return fmt.Errorf("mapping %s/%s already resolved to %s, refusing remap to %s",
			entityType, localID, existing, serverID)
	}

	_, err = s.db.Exec(
		"INSERT INTO id_mappings (entity_type, local_id, server_id) VALUES (?, ?, ?)",
		entityType, localID, serverID,
	)
	if err != nil {
		return fmt.Errorf("put mapping %s/%s: %w", entityType, localID, err)
	}
	return nil
}

// GetMapping returns the server id for a local id, or "" when unmapped.
func (s *Store) GetMapping(entityType, localID string) (string, error) {
	var serverID string
	err := s.db.QueryRow(
		"SELECT server_id FROM id_mappings WHERE entity_type = ? AND local_id = ?",
		entityType, localID,
	).Scan(&serverID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get mapping %s/%s: %w", entityType, localID, err)
	}
	return serverID, nil
}

// AllMappings returns every recorded mapping, used to warm the resolver
// cache at startup.
func (s *Store) AllMappings() ([]*Mapping, error) {
	rows, err := s.db.Query("SELECT entity_type, local_id, server_id FROM id_mappings")
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.EntityType, &m.LocalID, &m.ServerID); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}
