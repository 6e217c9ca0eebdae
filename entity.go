package shardkit

import (
	"fmt"
	"strconv"
)

// ID is the identifier of a persisted entity. The zero ID marks an entity
// that has not been saved yet.
type ID uint64

// Valid reports whether the id has been assigned.
func (i ID) Valid() bool { return i != 0 }

// String returns the decimal representation of the id.
func (i ID) String() string { return strconv.FormatUint(uint64(i), 10) }

// IDFromString parses a decimal id.
func IDFromString(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(v), nil
}

// Entity is anything the sharded session can persist.
type Entity interface {
	EntityType() string
	EntityID() ID
	SetEntityID(ID)
}

// Valuer exposes the properties of an entity or result row by dotted path.
// The boolean result is false when the property does not exist.
type Valuer interface {
	Value(path string) (interface{}, bool)
}

// Association is one association-typed property of an entity.
type Association struct {
	Property string

	// Collection marks a collection-valued association. Collection
	// associations are the most expensive to materialize and are inspected
	// last by the cross-shard guard.
	Collection bool

	// Targets holds the related entities. A single-valued association holds
	// at most one target.
	Targets []Entity
}

// Associated is implemented by entities with associations to other entities.
type Associated interface {
	Associations() []Association
}

// Key identifies an entity independently of any shard.
type Key struct {
	Type string `json:"type"`
	ID   ID     `json:"id"`
}

// KeyOf returns the key of e.
func KeyOf(e Entity) Key {
	return Key{Type: e.EntityType(), ID: e.EntityID()}
}

// String returns "type#id".
func (k Key) String() string { return k.Type + "#" + k.ID.String() }

// ResolutionRequest asks which shards may hold the entity of the given type
// and identifier.
type ResolutionRequest struct {
	EntityType string
	ID         ID
}
