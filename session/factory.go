// Package session exposes a set of shards as one logical store.
package session

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/guard"
	"github.com/influxdata/shardkit/kit/platform/errors"
	"github.com/influxdata/shardkit/logger"
	"github.com/influxdata/shardkit/shard"
	"github.com/influxdata/shardkit/snowflake"
	"github.com/influxdata/shardkit/strategy"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Factory owns the shard backends and the routing policy shared by every
// logical session it opens.
type Factory struct {
	backends map[shardkit.ShardID]shard.Backend
	vmap     *shard.VirtualMap

	resolution strategy.Resolution
	selection  strategy.Selection
	access     strategy.Access
	direct     strategy.Access
	idgen      snowflake.IDGenerator
	decoder    snowflake.ShardDecoder

	lockedShard          bool
	noTopLevelSave       map[string]bool
	checkAllAssociations bool
	crossShardChecking   bool

	logger *zap.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithVirtualMap maps virtual shards onto the physical shards. Without it
// every shard serves the virtual id equal to its own id.
func WithVirtualMap(m *shard.VirtualMap) Option {
	return func(f *Factory) {
		f.vmap = m
	}
}

func WithResolution(r strategy.Resolution) Option {
	return func(f *Factory) {
		f.resolution = r
	}
}

func WithSelection(s strategy.Selection) Option {
	return func(f *Factory) {
		f.selection = s
	}
}

func WithAccess(a strategy.Access) Option {
	return func(f *Factory) {
		f.access = a
	}
}

// WithIDGenerator sets the identifier generator. A generator that can also
// decode shards from its identifiers enables direct dispatch by id.
func WithIDGenerator(g snowflake.IDGenerator) Option {
	return func(f *Factory) {
		f.idgen = g
		f.decoder, _ = g.(snowflake.ShardDecoder)
	}
}

// WithLockedShard pins every session to the first shard it selects.
func WithLockedShard(v bool) Option {
	return func(f *Factory) {
		f.lockedShard = v
	}
}

// WithNoTopLevelSave lists entity types that may only be saved by cascade
// from an associated parent.
func WithNoTopLevelSave(types ...string) Option {
	return func(f *Factory) {
		for _, typ := range types {
			f.noTopLevelSave[typ] = true
		}
	}
}

// WithCheckAllAssociations makes shard selection inspect every association.
func WithCheckAllAssociations(v bool) Option {
	return func(f *Factory) {
		f.checkAllAssociations = v
	}
}

// WithCrossShardChecking checks the associations of every loaded and saved
// entity against the executing shard.
func WithCrossShardChecking(v bool) Option {
	return func(f *Factory) {
		f.crossShardChecking = v
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(f *Factory) {
		f.logger = log
	}
}

// NewFactory returns a factory over backends. The factory takes ownership of
// the backends and closes them in Close.
func NewFactory(backends map[shardkit.ShardID]shard.Backend, opts ...Option) (*Factory, error) {
	f := &Factory{
		backends:       backends,
		noTopLevelSave: make(map[string]bool),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(zap.String("service", "session"))

	if len(backends) == 0 {
		return nil, &errors.Error{Code: errors.EInvalid, Op: "session/NewFactory", Msg: "at least one shard is required"}
	}

	if f.vmap == nil {
		ids := make([]shardkit.ShardID, 0, len(backends))
		for id := range backends {
			ids = append(ids, id)
		}
		m, err := shard.IdentityMap(ids...)
		if err != nil {
			return nil, err
		}
		f.vmap = m
	}
	for _, id := range f.vmap.ShardIDs() {
		if _, ok := backends[id]; !ok {
			return nil, &errors.Error{
				Code: errors.EInvalid,
				Op:   "session/NewFactory",
				Msg:  fmt.Sprintf("virtual shard map names shard %d which has no backend", id),
			}
		}
	}
	for id := range backends {
		if len(f.vmap.Virtual(id)) == 0 {
			return nil, &errors.Error{
				Code: errors.EInvalid,
				Op:   "session/NewFactory",
				Msg:  fmt.Sprintf("shard %d serves no virtual shards", id),
			}
		}
	}

	vids := f.vmap.VirtualShardIDs()
	if f.idgen == nil {
		gen, err := snowflake.NewShardEncodingGenerator(vids)
		if err != nil {
			return nil, &errors.Error{Code: errors.EInvalid, Op: "session/NewFactory", Err: err}
		}
		f.idgen, f.decoder = gen, gen
	}
	if f.resolution == nil {
		f.resolution = strategy.NewAllShardsResolution(vids)
		if f.decoder != nil {
			f.resolution = &strategy.IDResolution{Decoder: f.decoder, Fallback: f.resolution}
		}
	}
	if f.selection == nil {
		f.selection = strategy.NewRoundRobinSelection(vids)
	}
	if f.access == nil {
		f.access = strategy.NewParallelAccess(0, strategy.WithAccessLogger(f.logger))
	}
	f.direct = strategy.NewSequentialAccess(f.logger)
	return f, nil
}

// OpenSession starts a logical session. Local sessions on the shards are
// opened on first use.
func (f *Factory) OpenSession() *Session {
	s := &Session{
		id:       uuid.New(),
		factory:  f,
		byID:     make(map[shardkit.ShardID]*shard.Shard, len(f.backends)),
		identity: make(map[shardkit.Key]shardkit.VirtualShardID),
	}
	s.logger = f.logger.With(logger.SessionID(s.id))

	locators := []guard.Locator{guard.LocatorFunc(s.locateIdentity)}
	if f.decoder != nil {
		locators = append(locators, guard.DecoderLocator(f.decoder))
	}
	s.locator = guard.Chain(locators...)
	s.guard = guard.New(s.locator,
		guard.WithCheckAllAssociations(f.checkAllAssociations),
		guard.WithLogger(s.logger))

	opts := []shard.Option{shard.WithLogger(s.logger)}
	if f.crossShardChecking {
		opts = append(opts, shard.WithInterceptor(s.guard.Interceptor()))
	}
	for _, id := range f.vmap.ShardIDs() {
		sh := shard.New(id, f.vmap.Virtual(id), f.backends[id], opts...)
		s.shards = append(s.shards, sh)
		s.byID[id] = sh
	}
	return s
}

// ShardInfo describes one physical shard.
type ShardInfo struct {
	ID              shardkit.ShardID         `json:"id"`
	VirtualShardIDs shardkit.VirtualShardIDs `json:"virtualShardIDs"`
}

// Shards describes the virtual to physical mapping, ordered by shard id.
func (f *Factory) Shards() []ShardInfo {
	ids := f.vmap.ShardIDs()
	out := make([]ShardInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, ShardInfo{ID: id, VirtualShardIDs: f.vmap.Virtual(id)})
	}
	return out
}

// PrometheusCollectors satisfies the prom.PrometheusCollector interface.
func (f *Factory) PrometheusCollectors() []prometheus.Collector {
	if pc, ok := f.access.(interface {
		PrometheusCollectors() []prometheus.Collector
	}); ok {
		return pc.PrometheusCollectors()
	}
	return nil
}

// Close closes every backend.
func (f *Factory) Close() error {
	var err error
	for _, id := range f.vmap.ShardIDs() {
		if cerr := f.backends[id].Close(); cerr != nil {
			err = multierr.Append(err, shard.NewError(id, cerr))
		}
	}
	return err
}
