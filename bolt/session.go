package bolt

import (
	"context"
	"time"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/internal/localexec"
	bolt "go.etcd.io/bbolt"
)

// Session is a local session against a bolt shard. Queries are evaluated in
// memory over the records of the queried type.
type Session struct {
	client   *Client
	readOnly bool
	timeout  time.Duration
}

func (s *Session) SetReadOnly(readOnly bool) { s.readOnly = readOnly }
func (s *Session) SetTimeout(d time.Duration) { s.timeout = d }
func (s *Session) Close() error               { return nil }

// Get retrieves the record of the given type and identifier.
func (s *Session) Get(ctx context.Context, entityType string, id shardkit.ID) (shardkit.Entity, error) {
	var r *shardkit.Record
	err := s.client.db.View(func(tx *bolt.Tx) error {
		b := typeBucket(tx, entityType)
		if b == nil {
			return nil
		}
		v := b.Get(encodeID(id))
		if v == nil {
			return nil
		}
		var err error
		r, err = shardkit.UnmarshalRecord(v)
		return err
	})
	if err != nil || r == nil {
		return nil, err
	}
	return r, nil
}

// Save inserts a new record.
func (s *Session) Save(ctx context.Context, e shardkit.Entity) error {
	return s.put(ctx, "bolt/Save", e, false)
}

// Update replaces an existing record.
func (s *Session) Update(ctx context.Context, e shardkit.Entity) error {
	return s.put(ctx, "bolt/Update", e, true)
}

func (s *Session) put(ctx context.Context, op string, e shardkit.Entity, replace bool) error {
	if s.readOnly {
		return localexec.ErrReadOnly(op)
	}
	r, err := localexec.RecordOf(op, e)
	if err != nil {
		return err
	}
	v, err := shardkit.MarshalRecord(r)
	if err != nil {
		return err
	}

	return s.client.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(recordsBucket).CreateBucketIfNotExists([]byte(r.Type))
		if err != nil {
			return err
		}
		k := encodeID(r.ID)
		exists := b.Get(k) != nil
		switch {
		case replace && !exists:
			return localexec.ErrNotFound(op, r.Key())
		case !replace && exists:
			return localexec.ErrExists(op, r.Key())
		}
		return b.Put(k, v)
	})
}

// Delete removes a record.
func (s *Session) Delete(ctx context.Context, e shardkit.Entity) error {
	if s.readOnly {
		return localexec.ErrReadOnly("bolt/Delete")
	}
	return s.client.db.Update(func(tx *bolt.Tx) error {
		b := typeBucket(tx, e.EntityType())
		if b == nil {
			return nil
		}
		return b.Delete(encodeID(e.EntityID()))
	})
}

// List evaluates c over the records of its entity type.
func (s *Session) List(ctx context.Context, c *criteria.Criteria) ([]interface{}, error) {
	ctx, cancel := localexec.WithTimeout(ctx, s.timeout)
	defer cancel()

	var records []*shardkit.Record
	err := s.client.db.View(func(tx *bolt.Tx) error {
		b := typeBucket(tx, c.EntityType)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			r, err := shardkit.UnmarshalRecord(v)
			if err != nil {
				return err
			}
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return localexec.Execute(ctx, records, c)
}

func typeBucket(tx *bolt.Tx, entityType string) *bolt.Bucket {
	return tx.Bucket(recordsBucket).Bucket([]byte(entityType))
}
