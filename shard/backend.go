package shard

import (
	"context"
	"time"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/criteria"
)

//go:generate go run github.com/golang/mock/mockgen -package mock -destination ../mock/shard.go github.com/influxdata/shardkit/shard Backend,Session

// Backend is one physical single-node store. It knows nothing about its
// sibling shards.
type Backend interface {
	// OpenSession creates a local unit of work against the store.
	OpenSession(ctx context.Context) (Session, error)

	// Close releases the store.
	Close() error
}

// Session is the local unit of work of a Backend.
type Session interface {
	// Get returns the entity or nil if it does not exist.
	Get(ctx context.Context, entityType string, id shardkit.ID) (shardkit.Entity, error)

	// Save inserts a new entity. The entity must have an identifier.
	Save(ctx context.Context, e shardkit.Entity) error

	// Update replaces a stored entity. It fails with ENotFound if absent.
	Update(ctx context.Context, e shardkit.Entity) error

	// Delete removes an entity. Deleting an absent entity is not an error.
	Delete(ctx context.Context, e shardkit.Entity) error

	// List executes c locally and returns entities, or *criteria.Row values
	// when c has a projection.
	List(ctx context.Context, c *criteria.Criteria) ([]interface{}, error)

	SetReadOnly(readOnly bool)
	SetTimeout(d time.Duration)

	Close() error
}
