package exit

import (
	"github.com/influxdata/shardkit/shard"
)

// Strategy gathers the results of a fan-out. Access strategies feed it one
// result per shard in shard-list order, from a single goroutine.
type Strategy interface {
	// AddResult records the result of s. Returning true tells the access
	// strategy that no further results are needed.
	AddResult(result interface{}, s *shard.Shard) (stop bool)

	// CompileResults produces the final answer.
	CompileResults(c *Collector) (interface{}, error)
}

// ConcatenateListsExitStrategy flattens list results in shard order and runs
// the collector over them.
type ConcatenateListsExitStrategy struct {
	results []interface{}
}

func (s *ConcatenateListsExitStrategy) AddResult(result interface{}, _ *shard.Shard) bool {
	switch r := result.(type) {
	case nil:
	case []interface{}:
		s.results = append(s.results, r...)
	default:
		s.results = append(s.results, r)
	}
	return false
}

func (s *ConcatenateListsExitStrategy) CompileResults(c *Collector) (interface{}, error) {
	if c == nil {
		c = &Collector{}
	}
	return c.Apply(s.results)
}

// FirstNonNullExitStrategy keeps the first non-nil result in shard order.
// The collector is not applied.
type FirstNonNullExitStrategy struct {
	result interface{}
	shard  *shard.Shard
	found  bool
}

func (s *FirstNonNullExitStrategy) AddResult(result interface{}, sh *shard.Shard) bool {
	if isNil(result) {
		return false
	}
	if !s.found {
		s.result, s.shard, s.found = result, sh, true
	}
	return true
}

func (s *FirstNonNullExitStrategy) CompileResults(*Collector) (interface{}, error) {
	return s.result, nil
}

// Shard returns the shard that produced the kept result.
func (s *FirstNonNullExitStrategy) Shard() *shard.Shard { return s.shard }
