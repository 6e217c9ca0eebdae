package launcher

import (
	"context"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"os"
	"sync"
	"time"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/bolt"
	"github.com/influxdata/shardkit/http"
	"github.com/influxdata/shardkit/inmem"
	"github.com/influxdata/shardkit/kit/prom"
	"github.com/influxdata/shardkit/session"
	"github.com/influxdata/shardkit/shard"
	"github.com/influxdata/shardkit/snowflake"
	"github.com/influxdata/shardkit/sqlite"
	"github.com/influxdata/shardkit/strategy"
	opentracing "github.com/opentracing/opentracing-go"
	jaegerconfig "github.com/uber/jaeger-client-go/config"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Launcher represents the main program execution.
type Launcher struct {
	wg      sync.WaitGroup
	running bool

	cfg     Config
	factory *session.Factory

	httpPort   int
	httpServer *nethttp.Server

	jaegerTracerCloser io.Closer
	logger             *zap.Logger
	reg                *prom.Registry

	Stdout io.Writer
}

// NewLauncher returns a new instance of Launcher connected to standard out.
func NewLauncher() *Launcher {
	return &Launcher{
		Stdout: os.Stdout,
	}
}

// Running returns true if the Launcher has started running.
func (m *Launcher) Running() bool {
	return m.running
}

// Registry returns the prometheus metrics registry.
func (m *Launcher) Registry() *prom.Registry {
	return m.reg
}

// Logger returns the launchers logger.
func (m *Launcher) Logger() *zap.Logger {
	return m.logger
}

// Factory returns the session factory serving the shards.
func (m *Launcher) Factory() *session.Factory {
	return m.factory
}

// URL returns the URL to connect to the HTTP server.
func (m *Launcher) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", m.httpPort)
}

// Run opens the shards and starts serving the HTTP API. It returns once the
// server is listening.
func (m *Launcher) Run(ctx context.Context, cfg Config) (err error) {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.cfg = cfg

	m.logger, err = cfg.Logging.New(m.Stdout)
	if err != nil {
		return err
	}
	m.logger.Info("Welcome to shardd",
		zap.Int("shards", len(cfg.Shards)),
		zap.String("access", cfg.Session.Access),
		zap.String("selection", cfg.Session.Selection),
	)

	if cfg.TracingType == JaegerTracing {
		m.logger.Info("tracing via Jaeger")
		jcfg, err := jaegerconfig.FromEnv()
		if err != nil {
			m.logger.Error("failed to get Jaeger client config from environment variables", zap.Error(err))
		} else {
			if jcfg.ServiceName == "" {
				jcfg.ServiceName = "shardd"
			}
			tracer, closer, err := jcfg.NewTracer()
			if err != nil {
				m.logger.Error("failed to instantiate Jaeger tracer", zap.Error(err))
			} else {
				opentracing.SetGlobalTracer(tracer)
				m.jaegerTracerCloser = closer
			}
		}
	}

	m.reg = prom.NewRegistry(m.logger.With(zap.String("service", "prom_registry")))

	backends, err := m.openBackends(ctx)
	if err != nil {
		return err
	}

	opts, err := m.factoryOptions()
	if err != nil {
		closeBackends(backends)
		return err
	}
	m.factory, err = session.NewFactory(backends, opts...)
	if err != nil {
		closeBackends(backends)
		return err
	}
	m.reg.MustRegisterCollectors(m.factory)

	apiHandler := http.NewAPIHandler(&http.APIBackend{
		Logger:       m.logger.With(zap.String("service", "http")),
		Factory:      m.factory,
		Registry:     m.reg,
		QueryTimeout: time.Duration(cfg.Session.QueryTimeout),
	})
	m.reg.MustRegisterCollectors(apiHandler)

	m.httpServer = &nethttp.Server{
		Addr:    cfg.HTTPBindAddress,
		Handler: apiHandler,
	}

	httpLogger := m.logger.With(zap.String("service", "http"))
	ln, err := net.Listen("tcp", cfg.HTTPBindAddress)
	if err != nil {
		httpLogger.Error("failed http listener", zap.Error(err))
		m.factory.Close()
		return err
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		m.httpPort = addr.Port
	}

	m.wg.Add(1)
	go func(logger *zap.Logger) {
		defer m.wg.Done()
		logger.Info("Listening", zap.String("transport", "http"), zap.String("addr", cfg.HTTPBindAddress), zap.Int("port", m.httpPort))

		if err := m.httpServer.Serve(ln); err != nethttp.ErrServerClosed {
			logger.Error("failed http service", zap.Error(err))
		}
		logger.Info("Stopping")
	}(httpLogger)

	m.running = true
	return nil
}

// openBackends opens every configured shard. Already opened shards are
// closed when a later one fails.
func (m *Launcher) openBackends(ctx context.Context) (map[shardkit.ShardID]shard.Backend, error) {
	backends := make(map[shardkit.ShardID]shard.Backend, len(m.cfg.Shards))
	for _, sc := range m.cfg.Shards {
		log := m.logger.With(zap.String("service", "shard"), zap.Uint16("shard_id", sc.ID), zap.String("backend", sc.Type))

		var b shard.Backend
		switch sc.Type {
		case MemoryBackend:
			b = inmem.NewStore()
		case BoltBackend:
			c := bolt.NewClient(log)
			c.Path = sc.Path
			if err := c.Open(ctx); err != nil {
				log.Error("Failed opening bolt", zap.Error(err))
				closeBackends(backends)
				return nil, shard.NewError(shardkit.ShardID(sc.ID), err)
			}
			m.reg.MustRegisterCollectors(c)
			b = c
		case SqliteBackend:
			s, err := sqlite.Open(ctx, sc.Path, log)
			if err != nil {
				log.Error("Failed opening sqlite", zap.Error(err))
				closeBackends(backends)
				return nil, shard.NewError(shardkit.ShardID(sc.ID), err)
			}
			b = s
		}
		log.Info("Opened shard", zap.String("path", sc.Path))
		backends[shardkit.ShardID(sc.ID)] = b
	}
	return backends, nil
}

func (m *Launcher) factoryOptions() ([]session.Option, error) {
	sc := m.cfg.Session

	vmap, err := shard.NewVirtualMap(m.cfg.VirtualMap())
	if err != nil {
		return nil, err
	}
	vids := vmap.VirtualShardIDs()

	opts := []session.Option{
		session.WithLogger(m.logger),
		session.WithVirtualMap(vmap),
		session.WithLockedShard(sc.LockedShard),
		session.WithNoTopLevelSave(sc.NoTopLevelSave...),
		session.WithCheckAllAssociations(sc.CheckAllAssociations),
		session.WithCrossShardChecking(sc.CrossShardChecking),
	}

	switch sc.Access {
	case SequentialAccess:
		opts = append(opts, session.WithAccess(strategy.NewSequentialAccess(m.logger)))
	case ParallelAccess:
		opts = append(opts, session.WithAccess(strategy.NewParallelAccess(sc.MaxConcurrency, strategy.WithAccessLogger(m.logger))))
	}

	switch sc.Selection {
	case RoundRobinSelection:
		opts = append(opts, session.WithSelection(strategy.NewRoundRobinSelection(vids)))
	case HashSelection:
		opts = append(opts, session.WithSelection(strategy.NewHashSelection(vids, sc.HashProperty)))
	case LoadBalancedSelection:
		opts = append(opts, session.WithSelection(strategy.NewLoadBalancedSelection(vids, nil)))
	}

	if sc.IDs == OpaqueIDs {
		opts = append(opts, session.WithIDGenerator(snowflake.NewOpaqueGenerator()))
	}
	return opts, nil
}

// Shutdown shuts down the HTTP server and closes the shards.
func (m *Launcher) Shutdown(ctx context.Context) error {
	var err error
	if m.httpServer != nil {
		m.logger.Info("Stopping", zap.String("service", "http"))
		err = multierr.Append(err, m.httpServer.Shutdown(ctx))
	}
	m.wg.Wait()

	if m.factory != nil {
		m.logger.Info("Stopping", zap.String("service", "shards"))
		if cerr := m.factory.Close(); cerr != nil {
			m.logger.Error("Failed closing shards", zap.Error(cerr))
			err = multierr.Append(err, cerr)
		}
	}

	if m.jaegerTracerCloser != nil {
		if err := m.jaegerTracerCloser.Close(); err != nil {
			m.logger.Warn("failed to close Jaeger tracer", zap.Error(err))
		}
	}

	m.running = false
	m.logger.Sync()
	return err
}

func closeBackends(backends map[shardkit.ShardID]shard.Backend) {
	for _, b := range backends {
		b.Close()
	}
}
