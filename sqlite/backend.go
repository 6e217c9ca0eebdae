package sqlite

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/internal/localexec"
	"github.com/influxdata/shardkit/shard"
	"github.com/influxdata/shardkit/sqlite/migrations"
	"go.uber.org/zap"
)

var _ shard.Backend = (*Backend)(nil)

// Backend persists the records of one shard in a sqlite database. Records are
// kept as JSON documents; restrictions, orders, pagination and aggregates are
// evaluated by sqlite.
type Backend struct {
	store *SqlStore
	log   *zap.Logger
}

// Open opens the database at path and brings its schema up to date.
func Open(ctx context.Context, path string, log *zap.Logger) (*Backend, error) {
	store, err := NewSqlStore(path, log)
	if err != nil {
		return nil, err
	}
	if err := NewMigrator(store, log).Up(ctx, migrations.AllUp); err != nil {
		store.Close()
		return nil, err
	}
	return &Backend{store: store, log: log}, nil
}

// OpenSession implements shard.Backend.
func (b *Backend) OpenSession(ctx context.Context) (shard.Session, error) {
	if err := b.store.DB.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Session{store: b.store}, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.store.Close()
}

// Session is a local session against a sqlite shard.
type Session struct {
	store    *SqlStore
	readOnly bool
	timeout  time.Duration
}

func (s *Session) SetReadOnly(readOnly bool) { s.readOnly = readOnly }
func (s *Session) SetTimeout(d time.Duration) { s.timeout = d }
func (s *Session) Close() error               { return nil }

// Get retrieves the record of the given type and identifier.
func (s *Session) Get(ctx context.Context, entityType string, id shardkit.ID) (shardkit.Entity, error) {
	ctx, cancel := localexec.WithTimeout(ctx, s.timeout)
	defer cancel()

	query, args, err := sq.Select("body").From(recordsTable).
		Where(sq.Eq{"type": entityType, "id": int64(id)}).ToSql()
	if err != nil {
		return nil, err
	}

	var body string
	if err := s.store.DB.QueryRowxContext(ctx, query, args...).Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	r, err := shardkit.UnmarshalRecord([]byte(body))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Save inserts a new record.
func (s *Session) Save(ctx context.Context, e shardkit.Entity) error {
	const op = "sqlite/Save"
	if s.readOnly {
		return localexec.ErrReadOnly(op)
	}
	r, err := localexec.RecordOf(op, e)
	if err != nil {
		return err
	}
	body, err := shardkit.MarshalRecord(r)
	if err != nil {
		return err
	}

	query, args, err := sq.Insert(recordsTable).
		Columns("type", "id", "body").
		Values(r.Type, int64(r.ID), string(body)).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, query, args...); err != nil {
		if isConstraintViolation(err) {
			return localexec.ErrExists(op, r.Key())
		}
		return err
	}
	return nil
}

// Update replaces an existing record.
func (s *Session) Update(ctx context.Context, e shardkit.Entity) error {
	const op = "sqlite/Update"
	if s.readOnly {
		return localexec.ErrReadOnly(op)
	}
	r, err := localexec.RecordOf(op, e)
	if err != nil {
		return err
	}
	body, err := shardkit.MarshalRecord(r)
	if err != nil {
		return err
	}

	query, args, err := sq.Update(recordsTable).
		Set("body", string(body)).
		Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
		Where(sq.Eq{"type": r.Type, "id": int64(r.ID)}).ToSql()
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return localexec.ErrNotFound(op, r.Key())
	}
	return nil
}

// Delete removes a record.
func (s *Session) Delete(ctx context.Context, e shardkit.Entity) error {
	if s.readOnly {
		return localexec.ErrReadOnly("sqlite/Delete")
	}
	query, args, err := sq.Delete(recordsTable).
		Where(sq.Eq{"type": e.EntityType(), "id": int64(e.EntityID())}).ToSql()
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, query, args...)
	return err
}

func (s *Session) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := localexec.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.store.Mu.Lock()
	defer s.store.Mu.Unlock()
	return s.store.DB.ExecContext(ctx, query, args...)
}

// List evaluates c. Aggregate-only projections are computed by sqlite;
// projections mixing plain properties with aggregates are computed over the
// ordered matching records.
func (s *Session) List(ctx context.Context, c *criteria.Criteria) ([]interface{}, error) {
	ctx, cancel := localexec.WithTimeout(ctx, s.timeout)
	defer cancel()

	if c.Projection.HasAggregates() && pushdownAggregates(c.Projection) {
		return s.aggregate(ctx, c)
	}

	b, err := selectRecords(c, !c.Projection.HasAggregates())
	if err != nil {
		return nil, err
	}
	records, err := s.queryRecords(ctx, b)
	if err != nil {
		return nil, err
	}
	if len(c.Projection) == 0 {
		out := make([]interface{}, len(records))
		for i, r := range records {
			out[i] = r
		}
		return out, nil
	}
	// records are already filtered, ordered and paginated
	return localexec.Execute(ctx, records, &criteria.Criteria{
		EntityType: c.EntityType,
		Projection: c.Projection,
	})
}

func (s *Session) queryRecords(ctx context.Context, b sq.SelectBuilder) ([]*shardkit.Record, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.store.DB.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*shardkit.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		r, err := shardkit.UnmarshalRecord([]byte(body))
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Session) aggregate(ctx context.Context, c *criteria.Criteria) ([]interface{}, error) {
	b, err := selectAggregates(c)
	if err != nil {
		return nil, err
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	values, err := s.store.DB.QueryRowxContext(ctx, query, args...).SliceScan()
	if err != nil {
		return nil, err
	}
	for i := range values {
		values[i] = criteria.Normalize(values[i])
	}
	return []interface{}{&criteria.Row{Columns: c.Projection.Names(), Values: values}}, nil
}
