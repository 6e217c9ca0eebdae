package strategy

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/influxdata/shardkit/exit"
	"github.com/influxdata/shardkit/kit/tracing"
	"github.com/influxdata/shardkit/logger"
	"github.com/influxdata/shardkit/shard"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Access runs an operation over a list of shards and hands the per-shard
// results, in list order, to an exit strategy.
type Access interface {
	Apply(ctx context.Context, shards []*shard.Shard, op Operation, es exit.Strategy, c *exit.Collector) (interface{}, error)
}

// SequentialAccess visits the shards one after the other on the calling
// goroutine. The first error aborts the remaining shards.
type SequentialAccess struct {
	logger *zap.Logger
}

func NewSequentialAccess(log *zap.Logger) *SequentialAccess {
	if log == nil {
		log = zap.NewNop()
	}
	return &SequentialAccess{logger: log.With(zap.String("service", "access"))}
}

func (a *SequentialAccess) Apply(ctx context.Context, shards []*shard.Shard, op Operation, es exit.Strategy, c *exit.Collector) (interface{}, error) {
	for _, sh := range shards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		span, sctx := tracing.StartShardSpan(ctx, op.Name(), uint16(sh.ID()))
		result, err := op.Execute(sctx, sh)
		tracing.LogError(span, err)
		span.Finish()
		if err != nil {
			return nil, shard.NewError(sh.ID(), err)
		}

		if es.AddResult(result, sh) {
			a.logger.Debug("Exit strategy satisfied, skipping remaining shards",
				logger.Operation(op.Name()), logger.ShardID(uint16(sh.ID())))
			break
		}
	}
	return es.CompileResults(c)
}

// ParallelAccess runs one task per shard on a pool created for each call.
// It waits for every started task. The first failure is returned and stops
// further tasks from starting; later failures are logged and dropped.
// Running tasks are not interrupted.
type ParallelAccess struct {
	maxConcurrency int

	clock   clock.Clock
	metrics *accessMetrics
	logger  *zap.Logger
}

// ParallelOption configures a ParallelAccess.
type ParallelOption func(*ParallelAccess)

// WithClock sets the clock used to measure scheduling latency.
func WithClock(c clock.Clock) ParallelOption {
	return func(a *ParallelAccess) {
		a.clock = c
	}
}

// WithAccessLogger sets the logger.
func WithAccessLogger(log *zap.Logger) ParallelOption {
	return func(a *ParallelAccess) {
		a.logger = log
	}
}

// NewParallelAccess returns a parallel access running at most maxConcurrency
// tasks at once. Zero or less means one goroutine per shard.
func NewParallelAccess(maxConcurrency int, opts ...ParallelOption) *ParallelAccess {
	a := &ParallelAccess{
		maxConcurrency: maxConcurrency,
		clock:          clock.New(),
		metrics:        newAccessMetrics("parallel"),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("service", "access"))
	return a
}

// PrometheusCollectors satisfies the prom.PrometheusCollector interface.
func (a *ParallelAccess) PrometheusCollectors() []prometheus.Collector {
	return a.metrics.PrometheusCollectors()
}

func (a *ParallelAccess) Apply(ctx context.Context, shards []*shard.Shard, op Operation, es exit.Strategy, c *exit.Collector) (interface{}, error) {
	results := make([]interface{}, len(shards))
	done := make([]bool, len(shards))

	var (
		mu       sync.Mutex
		firstErr error
	)

	// gctx only gates the start of tasks; operations run on ctx.
	g, gctx := errgroup.WithContext(ctx)
	if a.maxConcurrency > 0 {
		g.SetLimit(a.maxConcurrency)
	}

	for i, sh := range shards {
		i, sh := i, sh
		if gctx.Err() != nil {
			break
		}

		submitted := a.clock.Now()
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			latency := a.clock.Since(submitted)
			a.metrics.scheduleLatency.WithLabelValues(op.Name()).Observe(latency.Seconds())
			a.logger.Debug("Starting shard task",
				logger.Operation(op.Name()),
				logger.ShardID(uint16(sh.ID())),
				zap.Duration("schedule_latency", latency))

			span, sctx := tracing.StartShardSpan(ctx, op.Name(), uint16(sh.ID()))
			defer span.Finish()

			result, err := op.Execute(sctx, sh)
			if err != nil {
				tracing.LogError(span, err)
				a.metrics.tasks.WithLabelValues(op.Name(), "error").Inc()
				err = shard.NewError(sh.ID(), err)

				mu.Lock()
				if firstErr == nil {
					firstErr = err
				} else {
					a.logger.Debug("Dropping error from shard task after earlier failure",
						logger.Operation(op.Name()), logger.ShardID(uint16(sh.ID())), zap.Error(err))
				}
				mu.Unlock()
				return err
			}

			a.metrics.tasks.WithLabelValues(op.Name(), "ok").Inc()
			mu.Lock()
			results[i], done[i] = result, true
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, firstErr
	}

	for i, sh := range shards {
		if !done[i] {
			// only reachable when ctx was cancelled before every task started
			return nil, ctx.Err()
		}
		if es.AddResult(results[i], sh) {
			break
		}
	}
	return es.CompileResults(c)
}
