package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/internal/localexec"
	"github.com/influxdata/shardkit/shard"
)

// Store is an in memory shard backend keeping one btree per entity type.
// Records are stored encoded so callers never share state with the store.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]*btree.BTree
	closed  bool
}

// NewStore creates an instance of a Store.
func NewStore() *Store {
	return &Store{
		buckets: map[string]*btree.BTree{},
	}
}

var _ shard.Backend = (*Store)(nil)

// OpenSession opens a local session on the store.
func (s *Store) OpenSession(ctx context.Context) (shard.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("inmem: store is closed")
	}
	return &Session{store: s}, nil
}

// Close drops every record.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = map[string]*btree.BTree{}
	return nil
}

// Len returns the number of records of the given type.
func (s *Store) Len(entityType string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.buckets[entityType]; ok {
		return b.Len()
	}
	return 0
}

type item struct {
	id    shardkit.ID
	value []byte
}

// Less is used to implement btree.Item.
func (i *item) Less(b btree.Item) bool {
	j, ok := b.(*item)
	if !ok {
		return false
	}
	return i.id < j.id
}

// bucket returns the btree of entityType, creating it when create is set.
func (s *Store) bucket(entityType string, create bool) *btree.BTree {
	b, ok := s.buckets[entityType]
	if !ok && create {
		b = btree.New(2)
		s.buckets[entityType] = b
	}
	return b
}

// Session is a local session on a Store.
type Session struct {
	store    *Store
	readOnly bool
	timeout  time.Duration
}

func (s *Session) SetReadOnly(readOnly bool) { s.readOnly = readOnly }
func (s *Session) SetTimeout(d time.Duration) { s.timeout = d }
func (s *Session) Close() error               { return nil }

// Get retrieves the record of the given type and identifier.
func (s *Session) Get(ctx context.Context, entityType string, id shardkit.ID) (shardkit.Entity, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	b := s.store.bucket(entityType, false)
	if b == nil {
		return nil, nil
	}
	i := b.Get(&item{id: id})
	if i == nil {
		return nil, nil
	}
	r, err := shardkit.UnmarshalRecord(i.(*item).value)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Save inserts a new record.
func (s *Session) Save(ctx context.Context, e shardkit.Entity) error {
	return s.put(ctx, "inmem/Save", e, false)
}

// Update replaces an existing record.
func (s *Session) Update(ctx context.Context, e shardkit.Entity) error {
	return s.put(ctx, "inmem/Update", e, true)
}

func (s *Session) put(ctx context.Context, op string, e shardkit.Entity, replace bool) error {
	if s.readOnly {
		return localexec.ErrReadOnly(op)
	}
	r, err := localexec.RecordOf(op, e)
	if err != nil {
		return err
	}
	value, err := shardkit.MarshalRecord(r)
	if err != nil {
		return err
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	b := s.store.bucket(r.Type, true)
	exists := b.Has(&item{id: r.ID})
	switch {
	case replace && !exists:
		return localexec.ErrNotFound(op, r.Key())
	case !replace && exists:
		return localexec.ErrExists(op, r.Key())
	}
	b.ReplaceOrInsert(&item{id: r.ID, value: value})
	return nil
}

// Delete removes a record.
func (s *Session) Delete(ctx context.Context, e shardkit.Entity) error {
	if s.readOnly {
		return localexec.ErrReadOnly("inmem/Delete")
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if b := s.store.bucket(e.EntityType(), false); b != nil {
		b.Delete(&item{id: e.EntityID()})
	}
	return nil
}

// List evaluates c over the records of its entity type.
func (s *Session) List(ctx context.Context, c *criteria.Criteria) ([]interface{}, error) {
	ctx, cancel := localexec.WithTimeout(ctx, s.timeout)
	defer cancel()

	records, err := s.scan(c.EntityType)
	if err != nil {
		return nil, err
	}
	return localexec.Execute(ctx, records, c)
}

func (s *Session) scan(entityType string) ([]*shardkit.Record, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	b := s.store.bucket(entityType, false)
	if b == nil {
		return nil, nil
	}
	records := make([]*shardkit.Record, 0, b.Len())
	var err error
	b.Ascend(func(i btree.Item) bool {
		var r *shardkit.Record
		if r, err = shardkit.UnmarshalRecord(i.(*item).value); err != nil {
			return false
		}
		records = append(records, r)
		return true
	})
	return records, err
}
