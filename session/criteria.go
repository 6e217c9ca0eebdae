package session

import (
	"context"
	"fmt"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/exit"
	"github.com/influxdata/shardkit/kit/platform/errors"
	"github.com/influxdata/shardkit/kit/tracing"
	"github.com/influxdata/shardkit/shard"
	"github.com/influxdata/shardkit/strategy"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// Criteria is a query bound to a session. It runs on every shard that may
// hold matching entities and merges the answers.
type Criteria struct {
	session *Session
	c       *criteria.Criteria
}

// CreateCriteria starts a query over entities of entityType.
func (s *Session) CreateCriteria(entityType string) *Criteria {
	return &Criteria{session: s, c: criteria.New(entityType)}
}

func (c *Criteria) Add(r criteria.Restriction) *Criteria {
	c.c.Add(r)
	return c
}

func (c *Criteria) Where(property string, op criteria.Op, value interface{}) *Criteria {
	c.c.Where(property, op, value)
	return c
}

func (c *Criteria) AddOrder(o criteria.Order) *Criteria {
	c.c.AddOrder(o)
	return c
}

func (c *Criteria) SetFirstResult(n int) *Criteria {
	c.c.FirstResult = n
	return c
}

func (c *Criteria) SetMaxResults(m int) *Criteria {
	c.c.MaxResults = m
	return c
}

func (c *Criteria) SetProjection(items ...criteria.ProjectionItem) *Criteria {
	c.c.Projection = items
	return c
}

// Criteria returns a copy of the underlying query.
func (c *Criteria) Criteria() *criteria.Criteria { return c.c.Clone() }

// List runs the query.
func (c *Criteria) List(ctx context.Context) ([]interface{}, error) {
	return c.session.List(ctx, c.c)
}

// UniqueResult runs the query and returns the first non-nil per-shard
// answer in shard order, or nil when no shard has one. A shard holding more
// than one match fails with EConflict. Aggregate queries are merged like List
// and return their single row.
func (c *Criteria) UniqueResult(ctx context.Context) (interface{}, error) {
	return c.session.UniqueResult(ctx, c.c)
}

// Cursor iterates over query results without materializing them.
type Cursor interface {
	Next(ctx context.Context) bool
	Value() interface{}
	Err() error
	Close() error
}

// Scroll is not supported: a server-side cursor cannot be merged across
// independent shards.
func (c *Criteria) Scroll(context.Context) (Cursor, error) {
	return nil, shardkit.ErrUnsupported("session/Scroll", "scrolling a query result")
}

// List runs c on every shard that may hold matching entities and merges the
// per-shard answers into ordered, aggregated and paginated results.
func (s *Session) List(ctx context.Context, c *criteria.Criteria) ([]interface{}, error) {
	span, ctx := tracing.StartSpanFromContext(ctx)
	defer span.Finish()

	const op = "session/List"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, &errors.Error{Code: errors.EInvalid, Op: op, Err: err}
	}

	projection, err := exit.ShardProjection(c.Projection, c.Orders)
	if err != nil {
		return nil, err
	}
	collector := exit.NewCollector(c)

	// Every shard returns the first FirstResult+MaxResults rows; the global
	// window is cut once all of them are merged.
	local := c.Clone()
	local.FirstResult = 0
	local.MaxResults = collector.ShardMaxResults()
	local.Projection = projection
	if c.Projection.HasAggregates() {
		local.MaxResults = 0
	}

	shards, err := s.queryShards(ctx, c)
	if err != nil {
		return nil, err
	}

	listOp := strategy.NewOperation("list", func(ctx context.Context, sh *shard.Shard) (interface{}, error) {
		results, err := sh.List(ctx, local)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			if e, ok := r.(shardkit.Entity); ok && e.EntityID().Valid() {
				s.remember(e, s.home(sh, e.EntityID()))
			}
		}
		return results, nil
	})

	out, err := s.access(shards).Apply(ctx, shards, listOp, &exit.ConcatenateListsExitStrategy{}, collector)
	if err != nil {
		return nil, tracing.LogError(span, err)
	}
	results, _ := out.([]interface{})
	s.logger.Debug("Listed entities",
		zap.String("entity_type", c.EntityType),
		zap.Int("shards", len(shards)),
		zap.Int("results", len(results)))
	return results, nil
}

// UniqueResult runs c on every shard that may hold matching entities and
// keeps the first non-nil answer in shard order.
func (s *Session) UniqueResult(ctx context.Context, c *criteria.Criteria) (interface{}, error) {
	const op = "session/UniqueResult"
	if c.Projection.HasAggregates() {
		results, err := s.List(ctx, c)
		if err != nil || len(results) == 0 {
			return nil, err
		}
		return results[0], nil
	}

	span, ctx := tracing.StartSpanFromContext(ctx)
	defer span.Finish()

	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, &errors.Error{Code: errors.EInvalid, Op: op, Err: err}
	}
	shards, err := s.queryShards(ctx, c)
	if err != nil {
		return nil, err
	}

	uniqueOp := strategy.NewOperation("unique_result", func(ctx context.Context, sh *shard.Shard) (interface{}, error) {
		results, err := sh.List(ctx, c)
		if err != nil {
			return nil, err
		}
		switch len(results) {
		case 0:
			return nil, nil
		case 1:
			if e, ok := results[0].(shardkit.Entity); ok && e.EntityID().Valid() {
				s.remember(e, s.home(sh, e.EntityID()))
			}
			return results[0], nil
		default:
			return nil, &errors.Error{
				Code: errors.EConflict,
				Op:   op,
				Msg:  fmt.Sprintf("query returned %d results on shard %d, expected at most one", len(results), sh.ID()),
			}
		}
	})
	result, err := s.access(shards).Apply(ctx, shards, uniqueOp, &exit.FirstNonNullExitStrategy{}, nil)
	if err != nil {
		return nil, tracing.LogError(span, err)
	}
	return result, nil
}

// queryShards returns the shards a query has to visit. An equality
// restriction on the identifier narrows them through resolution.
func (s *Session) queryShards(ctx context.Context, c *criteria.Criteria) ([]*shard.Shard, error) {
	id, ok := idRestriction(c)
	if !ok {
		return s.shards, nil
	}
	vids, err := s.factory.resolution.Resolve(ctx, shardkit.ResolutionRequest{EntityType: c.EntityType, ID: id})
	if err != nil {
		return nil, err
	}
	return s.shardsFor(vids), nil
}

// idRestriction returns the identifier an equality restriction on "id"
// pins the query to.
func idRestriction(c *criteria.Criteria) (shardkit.ID, bool) {
	for _, r := range c.Restrictions {
		if r.Property != "id" || r.Op != criteria.Eq {
			continue
		}
		v, err := cast.ToUint64E(criteria.Normalize(r.Value))
		if err != nil || v == 0 {
			return 0, false
		}
		return shardkit.ID(v), true
	}
	return 0, false
}
