package guard

import (
	"context"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/shard"
)

// Interceptor checks every loaded and saved entity against the shard that
// executes the operation. It is installed on shards when full cross-shard
// checking is enabled.
type Interceptor struct {
	locator Locator
}

// Interceptor returns a shard.Interceptor sharing the locator of g.
func (g *Guard) Interceptor() *Interceptor {
	return &Interceptor{locator: g.locator}
}

var _ shard.Interceptor = (*Interceptor)(nil)

func (i *Interceptor) OnLoad(ctx context.Context, e shardkit.Entity, s *shard.Shard) error {
	return i.check(ctx, "guard/OnLoad", e, s)
}

func (i *Interceptor) OnSave(ctx context.Context, e shardkit.Entity, s *shard.Shard) error {
	return i.check(ctx, "guard/OnSave", e, s)
}

func (i *Interceptor) check(ctx context.Context, op string, e shardkit.Entity, s *shard.Shard) error {
	home, ok := i.locator.Locate(ctx, e)
	if !ok || !s.Serves(home) {
		home = s.VirtualShardIDs()[0]
	}
	for _, a := range associations(e) {
		for _, target := range a.Targets {
			vid, ok := i.locator.Locate(ctx, target)
			if ok && !s.Serves(vid) {
				return shardkit.ErrCrossShardRelationship(op, e, home, target, vid)
			}
		}
	}
	return nil
}
