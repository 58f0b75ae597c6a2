package models

import (
	"encoding/json"
	"fmt"
)

// RefKind distinguishes local from server identifiers.
type RefKind string

const (
	RefLocal  RefKind = "local"
	RefServer RefKind = "server"
)

// Ref is an entity reference that is either a client-generated local
// identifier or a server-assigned identifier. The distinction is carried
// explicitly rather than sniffed from the identifier format; a Ref is
// resolved to a server identifier exactly once, at the resolver boundary.
type Ref struct {
	Kind RefKind
	ID   string
}

// LocalRef builds a reference to a client-generated identifier.
func LocalRef(id string) Ref {
	return Ref{Kind: RefLocal, ID: id}
}

// ServerRef builds a reference to a server-assigned identifier.
func ServerRef(id string) Ref {
	return Ref{Kind: RefServer, ID: id}
}

// IsLocal reports whether the reference still points at a local identifier.
func (r Ref) IsLocal() bool {
	return r.Kind == RefLocal
}

// IsZero reports whether the reference is unset.
func (r Ref) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// MarshalJSON encodes a Ref as {"local":"..."} or {"server":"..."}.
func (r Ref) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RefLocal, RefServer:
		return json.Marshal(map[string]string{string(r.Kind): r.ID})
	default:
		return nil, fmt.Errorf("marshal ref: unknown kind %q", r.Kind)
	}
}

// UnmarshalJSON decodes the single-key object form produced by MarshalJSON.
func (r *Ref) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("unmarshal ref: %w", err)
	}
	if len(m) != 1 {
		return fmt.Errorf("unmarshal ref: expected one key, got %d", len(m))
	}
	for k, v := range m {
		switch RefKind(k) {
		case RefLocal, RefServer:
			r.Kind = RefKind(k)
			r.ID = v
		default:
			return fmt.Errorf("unmarshal ref: unknown kind %q", k)
		}
	}
	return nil
}
