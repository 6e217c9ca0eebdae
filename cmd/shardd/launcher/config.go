package launcher

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/kit/platform/errors"
	"github.com/influxdata/shardkit/logger"
	itoml "github.com/influxdata/shardkit/toml"
)

const (
	// MemoryBackend keeps a shard in memory.
	MemoryBackend = "memory"
	// BoltBackend stores a shard in a bbolt file.
	BoltBackend = "bolt"
	// SqliteBackend stores a shard in a sqlite database.
	SqliteBackend = "sqlite"

	// ParallelAccess runs per-shard operations concurrently.
	ParallelAccess = "parallel"
	// SequentialAccess runs per-shard operations one shard at a time.
	SequentialAccess = "sequential"

	// RoundRobinSelection spreads new entities evenly across shards.
	RoundRobinSelection = "round-robin"
	// HashSelection places new entities by the hash of a property.
	HashSelection = "hash"
	// LoadBalancedSelection places new entities on the least loaded shard.
	LoadBalancedSelection = "load-balanced"

	// ShardEncodingIDs embeds the virtual shard in every identifier.
	ShardEncodingIDs = "shard-encoding"
	// OpaqueIDs carry no shard information.
	OpaqueIDs = "opaque"

	// JaegerTracing enables tracing via the Jaeger client library
	JaegerTracing = "jaeger"
)

const (
	DefaultHTTPBindAddress = ":8484"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxConcurrency  = 0
)

// Config is the configuration of the shardd process.
type Config struct {
	HTTPBindAddress string         `toml:"http-bind-address"`
	ShutdownTimeout itoml.Duration `toml:"shutdown-timeout"`
	TracingType     string         `toml:"tracing-type"`

	Logging logger.Config `toml:"logging"`
	Session SessionConfig `toml:"session"`
	Shards  []ShardConfig `toml:"shard"`
}

// SessionConfig holds the routing policy applied to every logical session.
type SessionConfig struct {
	Access         string `toml:"access"`
	MaxConcurrency int    `toml:"max-concurrency"`
	Selection      string `toml:"selection"`
	HashProperty   string `toml:"hash-property"`
	IDs            string `toml:"ids"`

	LockedShard          bool     `toml:"locked-shard"`
	NoTopLevelSave       []string `toml:"no-top-level-save"`
	CheckAllAssociations bool     `toml:"check-all-associations"`
	CrossShardChecking   bool     `toml:"cross-shard-checking"`

	QueryTimeout itoml.Duration `toml:"query-timeout"`
}

// ShardConfig describes one physical shard.
type ShardConfig struct {
	ID   uint16 `toml:"id"`
	Type string `toml:"type"`
	Path string `toml:"path"`

	// VirtualShards lists the virtual shards served by this shard. Empty
	// means the single virtual shard equal to ID.
	VirtualShards itoml.Group `toml:"virtual-shards"`
}

// NewConfig returns the default configuration: two in-memory shards.
func NewConfig() Config {
	return Config{
		HTTPBindAddress: DefaultHTTPBindAddress,
		ShutdownTimeout: itoml.Duration(DefaultShutdownTimeout),
		Logging:         logger.NewConfig(),
		Session: SessionConfig{
			Access:             ParallelAccess,
			MaxConcurrency:     DefaultMaxConcurrency,
			Selection:          RoundRobinSelection,
			IDs:                ShardEncodingIDs,
			CrossShardChecking: true,
		},
		Shards: []ShardConfig{
			{ID: 0, Type: MemoryBackend},
			{ID: 1, Type: MemoryBackend},
		},
	}
}

// LoadConfig reads the TOML file at path over the defaults.
func LoadConfig(path string) (Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, &errors.Error{Code: errors.EInvalid, Op: "launcher/LoadConfig", Err: err}
	}
	// An explicit shard list replaces the default one.
	defaults := c.Shards
	c.Shards = nil
	md, err := toml.Decode(string(b), &c)
	if err != nil {
		return c, &errors.Error{Code: errors.EInvalid, Op: "launcher/LoadConfig", Msg: "parse " + path, Err: err}
	}
	if !md.IsDefined("shard") {
		c.Shards = defaults
	}
	c.resolvePaths(filepath.Dir(path))
	return c, nil
}

// resolvePaths makes relative shard paths relative to dir.
func (c *Config) resolvePaths(dir string) {
	for i := range c.Shards {
		if p := c.Shards[i].Path; p != "" && !filepath.IsAbs(p) {
			c.Shards[i].Path = filepath.Join(dir, p)
		}
	}
}

// VirtualMap returns the virtual to physical assignment of the shards.
func (c Config) VirtualMap() map[shardkit.ShardID][]shardkit.VirtualShardID {
	m := make(map[shardkit.ShardID][]shardkit.VirtualShardID, len(c.Shards))
	for _, s := range c.Shards {
		vids := make([]shardkit.VirtualShardID, 0, len(s.VirtualShards))
		for _, v := range s.VirtualShards {
			vids = append(vids, shardkit.VirtualShardID(v))
		}
		if len(vids) == 0 {
			vids = append(vids, shardkit.VirtualShardID(s.ID))
		}
		m[shardkit.ShardID(s.ID)] = vids
	}
	return m
}

// Validate returns an error if the config is invalid.
func (c Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return &errors.Error{Code: errors.EInvalid, Op: "launcher/Validate", Msg: fmt.Sprintf(format, args...)}
	}

	if c.HTTPBindAddress == "" {
		return invalid("http-bind-address is required")
	}
	switch c.TracingType {
	case "", JaegerTracing:
	default:
		return invalid("unknown tracing type %q; expected %s", c.TracingType, JaegerTracing)
	}
	switch c.Logging.Format {
	case "", "auto", "json", "logfmt":
	default:
		return invalid("unknown log format %q", c.Logging.Format)
	}

	switch c.Session.Access {
	case ParallelAccess, SequentialAccess:
	default:
		return invalid("unknown access strategy %q; expected %s or %s", c.Session.Access, ParallelAccess, SequentialAccess)
	}
	if c.Session.MaxConcurrency < 0 {
		return invalid("max-concurrency must not be negative")
	}
	switch c.Session.Selection {
	case RoundRobinSelection, LoadBalancedSelection:
	case HashSelection:
		if c.Session.HashProperty == "" {
			return invalid("hash selection requires hash-property")
		}
	default:
		return invalid("unknown selection strategy %q", c.Session.Selection)
	}
	switch c.Session.IDs {
	case ShardEncodingIDs, OpaqueIDs:
	default:
		return invalid("unknown id generator %q; expected %s or %s", c.Session.IDs, ShardEncodingIDs, OpaqueIDs)
	}
	if c.Session.QueryTimeout < 0 {
		return invalid("query-timeout must not be negative")
	}

	if len(c.Shards) == 0 {
		return invalid("at least one shard is required")
	}
	ids := make(map[uint16]bool, len(c.Shards))
	for _, s := range c.Shards {
		if ids[s.ID] {
			return invalid("duplicate shard id %d", s.ID)
		}
		ids[s.ID] = true

		switch s.Type {
		case MemoryBackend:
		case BoltBackend, SqliteBackend:
			if s.Path == "" {
				return invalid("shard %d: %s backend requires a path", s.ID, s.Type)
			}
		default:
			return invalid("shard %d: unknown backend type %q", s.ID, s.Type)
		}
		for _, v := range s.VirtualShards {
			if v < 0 || v > int(^uint16(0)) {
				return invalid("shard %d: virtual shard %d out of range", s.ID, v)
			}
		}
	}
	return nil
}
