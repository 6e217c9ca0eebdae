package strategy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/kit/platform/errors"
)

// Selection picks the virtual shard of a new entity that has no associated
// object pinning it.
type Selection interface {
	Select(ctx context.Context, e shardkit.Entity) (shardkit.VirtualShardID, error)
}

func errNoShards(op string) error {
	return &errors.Error{Code: errors.EInvalid, Op: op, Msg: "no shards to select from"}
}

// RoundRobinSelection cycles over the virtual shards.
type RoundRobinSelection struct {
	ids  shardkit.VirtualShardIDs
	next uint64
}

// NewRoundRobinSelection returns a round robin over ids, in ascending order.
func NewRoundRobinSelection(ids shardkit.VirtualShardIDs) *RoundRobinSelection {
	return &RoundRobinSelection{ids: ids.Sorted()}
}

func (s *RoundRobinSelection) Select(context.Context, shardkit.Entity) (shardkit.VirtualShardID, error) {
	if len(s.ids) == 0 {
		return 0, errNoShards("strategy/RoundRobinSelection")
	}
	n := atomic.AddUint64(&s.next, 1) - 1
	return s.ids[n%uint64(len(s.ids))], nil
}

// HashSelection places an entity by hashing one of its properties. Entities
// without the property are hashed by type.
type HashSelection struct {
	ids      shardkit.VirtualShardIDs
	property string
}

// NewHashSelection returns a selection hashing property over ids.
func NewHashSelection(ids shardkit.VirtualShardIDs, property string) *HashSelection {
	return &HashSelection{ids: ids.Sorted(), property: property}
}

func (s *HashSelection) Select(_ context.Context, e shardkit.Entity) (shardkit.VirtualShardID, error) {
	if len(s.ids) == 0 {
		return 0, errNoShards("strategy/HashSelection")
	}

	key := e.EntityType()
	if v, ok := e.(shardkit.Valuer); ok && s.property != "" {
		if val, ok := v.Value(s.property); ok && val != nil {
			key += "/" + fmt.Sprint(val)
		}
	}
	return s.ids[xxhash.Sum64String(key)%uint64(len(s.ids))], nil
}

// LoadReporter reports how loaded a virtual shard is.
type LoadReporter interface {
	Load(vid shardkit.VirtualShardID) int64
}

// LoadBalancedSelection picks the least loaded virtual shard. Ties go to the
// lowest id.
type LoadBalancedSelection struct {
	ids      shardkit.VirtualShardIDs
	reporter LoadReporter
}

// NewLoadBalancedSelection returns a selection over ids. A nil reporter
// counts the entities this selection has assigned.
func NewLoadBalancedSelection(ids shardkit.VirtualShardIDs, reporter LoadReporter) *LoadBalancedSelection {
	if reporter == nil {
		reporter = NewAssignmentCounter()
	}
	return &LoadBalancedSelection{ids: ids.Sorted(), reporter: reporter}
}

func (s *LoadBalancedSelection) Select(context.Context, shardkit.Entity) (shardkit.VirtualShardID, error) {
	if len(s.ids) == 0 {
		return 0, errNoShards("strategy/LoadBalancedSelection")
	}

	best, bestLoad := s.ids[0], s.reporter.Load(s.ids[0])
	for _, vid := range s.ids[1:] {
		if load := s.reporter.Load(vid); load < bestLoad {
			best, bestLoad = vid, load
		}
	}
	if c, ok := s.reporter.(*AssignmentCounter); ok {
		c.Assigned(best)
	}
	return best, nil
}

// AssignmentCounter is a LoadReporter counting assignments per shard.
type AssignmentCounter struct {
	mu     sync.Mutex
	counts map[shardkit.VirtualShardID]int64
}

func NewAssignmentCounter() *AssignmentCounter {
	return &AssignmentCounter{counts: make(map[shardkit.VirtualShardID]int64)}
}

// Assigned records one more entity on vid.
func (c *AssignmentCounter) Assigned(vid shardkit.VirtualShardID) {
	c.mu.Lock()
	c.counts[vid]++
	c.mu.Unlock()
}

func (c *AssignmentCounter) Load(vid shardkit.VirtualShardID) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[vid]
}
