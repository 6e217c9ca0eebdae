// Package guard keeps object graphs on a single shard.
package guard

import (
	"context"
	"sort"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/snowflake"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Locator reports the virtual shard an entity already lives on. ok is false
// for entities that are not resident anywhere yet.
type Locator interface {
	Locate(ctx context.Context, e shardkit.Entity) (vid shardkit.VirtualShardID, ok bool)
}

// LocatorFunc adapts a function to a Locator.
type LocatorFunc func(ctx context.Context, e shardkit.Entity) (shardkit.VirtualShardID, bool)

func (f LocatorFunc) Locate(ctx context.Context, e shardkit.Entity) (shardkit.VirtualShardID, bool) {
	return f(ctx, e)
}

// Chain asks each locator in turn.
func Chain(locators ...Locator) Locator {
	return LocatorFunc(func(ctx context.Context, e shardkit.Entity) (shardkit.VirtualShardID, bool) {
		for _, l := range locators {
			if vid, ok := l.Locate(ctx, e); ok {
				return vid, true
			}
		}
		return 0, false
	})
}

// DecoderLocator locates saved entities by decoding their identifier.
func DecoderLocator(d snowflake.ShardDecoder) Locator {
	return LocatorFunc(func(_ context.Context, e shardkit.Entity) (shardkit.VirtualShardID, bool) {
		return d.ShardOf(e.EntityID())
	})
}

// Guard finds the shard an entity is pinned to by its associations and
// rejects object graphs spanning shards.
type Guard struct {
	locator  Locator
	checkAll bool
	logger   *zap.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithCheckAllAssociations makes Shard inspect every association instead of
// returning at the first resident related object.
func WithCheckAllAssociations(v bool) Option {
	return func(g *Guard) {
		g.checkAll = v
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(g *Guard) {
		g.logger = log
	}
}

// New returns a guard locating related objects with locator.
func New(locator Locator, opts ...Option) *Guard {
	g := &Guard{
		locator: locator,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("service", "guard"))
	return g
}

// state is the shard established while walking one entity.
type state struct {
	vid   shardkit.VirtualShardID
	found bool
	by    shardkit.Entity
}

// observe folds the location of a related object into the state.
func (st *state) observe(op string, target shardkit.Entity, vid shardkit.VirtualShardID) error {
	if !st.found {
		st.vid, st.found, st.by = vid, true, target
		return nil
	}
	if vid != st.vid {
		return shardkit.ErrCrossShardRelationship(op, st.by, st.vid, target, vid)
	}
	return nil
}

// Shard returns the virtual shard that the resident related objects of e
// live on. ok is false when none of them is resident. Related objects that
// are not saved yet are walked through, nearest first, so an object linked
// through them also pins e. Unless every association is checked, the first
// resident related object decides.
func (g *Guard) Shard(ctx context.Context, e shardkit.Entity) (shardkit.VirtualShardID, bool, error) {
	var st state
	var errs error
	visited := map[shardkit.Entity]bool{e: true}
	level := []shardkit.Entity{e}
	for len(level) > 0 {
		var next []shardkit.Entity
		for _, from := range level {
			for _, a := range associations(from) {
				for _, target := range a.Targets {
					if visited[target] {
						continue
					}
					visited[target] = true

					vid, ok := g.locator.Locate(ctx, target)
					if !ok {
						if !target.EntityID().Valid() {
							next = append(next, target)
						}
						continue
					}
					if err := st.observe("guard/Shard", target, vid); err != nil {
						errs = multierr.Append(errs, err)
						continue
					}
					if !g.checkAll {
						return st.vid, true, nil
					}
				}
			}
		}
		level = next
	}
	if errs != nil {
		return 0, false, errs
	}
	if st.found {
		g.logger.Debug("Associations pin entity to shard",
			zap.String("entity_type", e.EntityType()), zap.Uint16("virtual_shard_id", uint16(st.vid)))
	}
	return st.vid, st.found, nil
}

// Check verifies that every resident related object of e lives on vid, the
// shard e itself lives on or is about to be written to. It stops at the
// first conflict unless every association is checked, in which case all
// conflicts are reported together.
func (g *Guard) Check(ctx context.Context, e shardkit.Entity, vid shardkit.VirtualShardID) error {
	st := state{vid: vid, found: true, by: e}
	var errs error
	for _, a := range associations(e) {
		for _, target := range a.Targets {
			tvid, ok := g.locator.Locate(ctx, target)
			if !ok {
				continue
			}
			if err := st.observe("guard/Check", target, tvid); err != nil {
				if !g.checkAll {
					return err
				}
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

// associations returns the associations of e with single-valued ones first.
func associations(e shardkit.Entity) []shardkit.Association {
	ae, ok := e.(shardkit.Associated)
	if !ok {
		return nil
	}
	as := append([]shardkit.Association(nil), ae.Associations()...)
	sort.SliceStable(as, func(i, j int) bool {
		return !as[i].Collection && as[j].Collection
	})
	return as
}
