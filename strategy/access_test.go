package strategy_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/exit"
	"github.com/influxdata/shardkit/kit/prom/promtest"
	tracetesting "github.com/influxdata/shardkit/kit/tracing/testing"
	"github.com/influxdata/shardkit/shard"
	"github.com/influxdata/shardkit/strategy"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber/jaeger-client-go"
	"go.uber.org/zap/zaptest"
)

func newShards(n int) []*shard.Shard {
	shards := make([]*shard.Shard, n)
	for i := range shards {
		id := shardkit.ShardID(i + 1)
		shards[i] = shard.New(id, shardkit.VirtualShardIDs{shardkit.VirtualShardID(id)}, nil)
	}
	return shards
}

// data returns the per-shard rows of a list operation keyed by shard id.
func listOp(data map[shardkit.ShardID][]int64) strategy.Operation {
	return strategy.NewOperation("list", func(ctx context.Context, s *shard.Shard) (interface{}, error) {
		out := make([]interface{}, 0, len(data[s.ID()]))
		for _, n := range data[s.ID()] {
			out = append(out, shardkit.NewRecord("item", map[string]interface{}{"n": n}))
		}
		return out, nil
	})
}

func ns(t *testing.T, v interface{}) []int64 {
	t.Helper()
	results, ok := v.([]interface{})
	require.True(t, ok, "unexpected result type %T", v)
	out := make([]int64, len(results))
	for i, r := range results {
		n, _ := r.(*shardkit.Record).Value("n")
		out[i] = n.(int64)
	}
	return out
}

func accessStrategies(t *testing.T) map[string]strategy.Access {
	log := zaptest.NewLogger(t)
	return map[string]strategy.Access{
		"sequential": strategy.NewSequentialAccess(log),
		"parallel":   strategy.NewParallelAccess(0, strategy.WithAccessLogger(log), strategy.WithClock(clock.NewMock())),
		"bounded":    strategy.NewParallelAccess(1, strategy.WithAccessLogger(log)),
	}
}

func TestAccess_ResultsInShardOrder(t *testing.T) {
	data := map[shardkit.ShardID][]int64{1: {1, 3, 5}, 2: {2, 4}, 3: {6}}

	for name, a := range accessStrategies(t) {
		t.Run(name, func(t *testing.T) {
			got, err := a.Apply(context.Background(), newShards(3), listOp(data), &exit.ConcatenateListsExitStrategy{}, exit.NewCollector(nil))
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 3, 5, 2, 4, 6}, ns(t, got))
		})
	}
}

func TestAccess_OrderedPage(t *testing.T) {
	data := map[shardkit.ShardID][]int64{1: {1, 3, 5}, 2: {2, 4}, 3: {6}}
	c := criteria.New("item").AddOrder(criteria.Asc("n"))
	c.FirstResult, c.MaxResults = 2, 3

	for name, a := range accessStrategies(t) {
		t.Run(name, func(t *testing.T) {
			got, err := a.Apply(context.Background(), newShards(3), listOp(data), &exit.ConcatenateListsExitStrategy{}, exit.NewCollector(c))
			require.NoError(t, err)
			assert.Equal(t, []int64{3, 4, 5}, ns(t, got))
		})
	}
}

func TestAccess_SumPartials(t *testing.T) {
	p := criteria.Projection{{Func: criteria.Sum, Property: "amount"}}
	partials := map[shardkit.ShardID]interface{}{1: int64(10), 2: int64(0), 3: int64(7)}
	op := strategy.NewOperation("sum", func(ctx context.Context, s *shard.Shard) (interface{}, error) {
		return []interface{}{&criteria.Row{Columns: p.Names(), Values: []interface{}{partials[s.ID()]}}}, nil
	})

	for name, a := range accessStrategies(t) {
		t.Run(name, func(t *testing.T) {
			got, err := a.Apply(context.Background(), newShards(3), op, &exit.ConcatenateListsExitStrategy{}, exit.NewCollector(nil).SetProjection(p))
			require.NoError(t, err)
			rows := got.([]interface{})
			require.Len(t, rows, 1)
			assert.Equal(t, []interface{}{int64(17)}, rows[0].(*criteria.Row).Values)
		})
	}
}

func TestAccess_FirstNonNull(t *testing.T) {
	var calls int32
	op := strategy.NewOperation("get", func(ctx context.Context, s *shard.Shard) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		if s.ID() == 2 {
			return shardkit.NewRecord("item", map[string]interface{}{"n": int64(2)}), nil
		}
		return nil, nil
	})

	t.Run("sequential stops at first hit", func(t *testing.T) {
		atomic.StoreInt32(&calls, 0)
		es := &exit.FirstNonNullExitStrategy{}
		got, err := strategy.NewSequentialAccess(zaptest.NewLogger(t)).Apply(context.Background(), newShards(3), op, es, nil)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, shardkit.ShardID(2), es.Shard().ID())
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("parallel", func(t *testing.T) {
		es := &exit.FirstNonNullExitStrategy{}
		got, err := strategy.NewParallelAccess(0).Apply(context.Background(), newShards(3), op, es, nil)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, shardkit.ShardID(2), es.Shard().ID())
	})
}

func TestParallelAccess_FailureReportedOnce(t *testing.T) {
	errDown := errors.New("shard unavailable")
	errLater := errors.New("also down")
	release := make(chan struct{})

	// shard 2 fails only once shards 1 and 3 are running
	var running sync.WaitGroup
	running.Add(2)

	var started int32
	op := strategy.NewOperation("list", func(ctx context.Context, s *shard.Shard) (interface{}, error) {
		atomic.AddInt32(&started, 1)
		switch s.ID() {
		case 2:
			running.Wait()
			defer close(release)
			return nil, errDown
		case 3:
			running.Done()
			<-release
			time.Sleep(20 * time.Millisecond)
			return nil, errLater
		}
		running.Done()
		return []interface{}{}, nil
	})

	a := strategy.NewParallelAccess(0, strategy.WithAccessLogger(zaptest.NewLogger(t)))
	got, err := a.Apply(context.Background(), newShards(3), op, &exit.ConcatenateListsExitStrategy{}, nil)
	require.Error(t, err)
	assert.Nil(t, got)

	var se *shard.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, shardkit.ShardID(2), se.ID)
	assert.ErrorIs(t, err, errDown)
	assert.NotErrorIs(t, err, errLater)

	// every started task was waited for
	assert.Equal(t, int32(3), atomic.LoadInt32(&started))
}

func TestParallelAccess_NoTasksStartAfterFailure(t *testing.T) {
	var executed []shardkit.ShardID
	var mu sync.Mutex
	op := strategy.NewOperation("list", func(ctx context.Context, s *shard.Shard) (interface{}, error) {
		mu.Lock()
		executed = append(executed, s.ID())
		mu.Unlock()
		if s.ID() == 1 {
			return nil, errors.New("boom")
		}
		return []interface{}{}, nil
	})

	a := strategy.NewParallelAccess(1, strategy.WithAccessLogger(zaptest.NewLogger(t)))
	_, err := a.Apply(context.Background(), newShards(4), op, &exit.ConcatenateListsExitStrategy{}, nil)
	require.Error(t, err)
	assert.Equal(t, []shardkit.ShardID{1}, executed)
}

func TestParallelAccess_MaxConcurrency(t *testing.T) {
	var inflight, peak int32
	op := strategy.NewOperation("list", func(ctx context.Context, s *shard.Shard) (interface{}, error) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return []interface{}{}, nil
	})

	a := strategy.NewParallelAccess(2)
	_, err := a.Apply(context.Background(), newShards(8), op, &exit.ConcatenateListsExitStrategy{}, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestSequentialAccess_FirstErrorAborts(t *testing.T) {
	var executed []shardkit.ShardID
	op := strategy.NewOperation("list", func(ctx context.Context, s *shard.Shard) (interface{}, error) {
		executed = append(executed, s.ID())
		if s.ID() == 2 {
			return nil, errors.New("boom")
		}
		return []interface{}{}, nil
	})

	_, err := strategy.NewSequentialAccess(nil).Apply(context.Background(), newShards(3), op, &exit.ConcatenateListsExitStrategy{}, nil)
	require.Error(t, err)
	assert.EqualError(t, err, "[shard 2] boom")
	assert.Equal(t, []shardkit.ShardID{1, 2}, executed)
}

func TestAccess_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, a := range accessStrategies(t) {
		t.Run(name, func(t *testing.T) {
			_, err := a.Apply(ctx, newShards(2), listOp(nil), &exit.ConcatenateListsExitStrategy{}, nil)
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestParallelAccess_Metrics(t *testing.T) {
	a := strategy.NewParallelAccess(0, strategy.WithClock(clock.NewMock()))
	reg := prometheus.NewRegistry()
	reg.MustRegister(a.PrometheusCollectors()...)

	_, err := a.Apply(context.Background(), newShards(3), listOp(nil), &exit.ConcatenateListsExitStrategy{}, nil)
	require.NoError(t, err)

	mfs := promtest.MustGather(t, reg)
	m := promtest.MustFindMetric(t, mfs, "shardkit_access_tasks_total", map[string]string{
		"strategy":  "parallel",
		"operation": "list",
		"status":    "ok",
	})
	assert.Equal(t, 3.0, m.GetCounter().GetValue())

	h := promtest.MustFindMetric(t, mfs, "shardkit_access_schedule_latency_seconds", map[string]string{
		"strategy":  "parallel",
		"operation": "list",
	})
	assert.Equal(t, uint64(3), h.GetHistogram().GetSampleCount())
}

func TestAccess_ShardSpans(t *testing.T) {
	defer tracetesting.SetupInMemoryTracing("strategy")()

	for name, a := range accessStrategies(t) {
		t.Run(name, func(t *testing.T) {
			parent := opentracing.StartSpan("list")
			defer parent.Finish()
			ctx := opentracing.ContextWithSpan(context.Background(), parent)

			var mu sync.Mutex
			names := map[shardkit.ShardID]string{}
			op := strategy.NewOperation("list", func(ctx context.Context, s *shard.Shard) (interface{}, error) {
				span, ok := opentracing.SpanFromContext(ctx).(*jaeger.Span)
				if !ok {
					return nil, errors.New("no jaeger span in context")
				}
				assert.Equal(t, parent.Context().(jaeger.SpanContext).SpanID(), span.SpanContext().ParentID())
				mu.Lock()
				names[s.ID()] = span.OperationName()
				mu.Unlock()
				return []interface{}{}, nil
			})

			_, err := a.Apply(ctx, newShards(3), op, &exit.ConcatenateListsExitStrategy{}, nil)
			require.NoError(t, err)
			assert.Equal(t, map[shardkit.ShardID]string{1: "shard:list", 2: "shard:list", 3: "shard:list"}, names)
		})
	}
}
