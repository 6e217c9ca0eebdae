package launcher

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/influxdata/shardkit/kit/cli"
	itoml "github.com/influxdata/shardkit/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// flagOpts holds the command line options. Options that are set on the
// command line or in the environment override the config file.
type flagOpts struct {
	configPath string

	httpBindAddress string
	logLevel        zapcore.Level
	logFormat       string
	tracingType     string

	access               string
	maxConcurrency       int
	selection            string
	hashProperty         string
	ids                  string
	lockedShard          bool
	noTopLevelSave       []string
	checkAllAssociations bool
	crossShardChecking   bool
	queryTimeout         time.Duration
}

func (o *flagOpts) opts() []cli.Opt {
	d := NewConfig()
	return []cli.Opt{
		cli.NewOpt(&o.configPath, "config", "", "path to the TOML configuration file"),
		cli.NewOpt(&o.httpBindAddress, "http-bind-address", d.HTTPBindAddress, "bind address for the REST HTTP API"),
		cli.NewOpt(&o.logLevel, "log-level", d.Logging.Level, "supported log levels are debug, info, warn and error"),
		cli.NewOpt(&o.logFormat, "log-format", d.Logging.Format, "log format: auto, json or logfmt"),
		cli.NewOpt(&o.tracingType, "tracing-type", d.TracingType, "supported tracing types are "+JaegerTracing),
		cli.NewOpt(&o.access, "access", d.Session.Access, "shard access strategy: parallel or sequential"),
		cli.NewOpt(&o.maxConcurrency, "max-concurrency", d.Session.MaxConcurrency, "maximum shards queried at once by parallel access; 0 means all"),
		cli.NewOpt(&o.selection, "selection", d.Session.Selection, "shard selection strategy: round-robin, hash or load-balanced"),
		cli.NewOpt(&o.hashProperty, "hash-property", d.Session.HashProperty, "property hashed by the hash selection strategy"),
		cli.NewOpt(&o.ids, "ids", d.Session.IDs, "identifier generator: shard-encoding or opaque"),
		cli.NewOpt(&o.lockedShard, "locked-shard", d.Session.LockedShard, "pin every session to the first shard it selects"),
		cli.NewOpt(&o.noTopLevelSave, "no-top-level-save", d.Session.NoTopLevelSave, "entity types that may only be saved through an association"),
		cli.NewOpt(&o.checkAllAssociations, "check-all-associations", d.Session.CheckAllAssociations, "report every cross shard association instead of the first one"),
		cli.NewOpt(&o.crossShardChecking, "cross-shard-checking", d.Session.CrossShardChecking, "check associations again before each local write"),
		cli.NewOpt(&o.queryTimeout, "query-timeout", time.Duration(d.Session.QueryTimeout), "timeout of each per-shard query; 0 disables it"),
	}
}

// apply overlays the options set by flag or environment onto c.
func (o *flagOpts) apply(v *viper.Viper, c *Config) {
	set := v.IsSet
	if set("http-bind-address") {
		c.HTTPBindAddress = o.httpBindAddress
	}
	if set("log-level") {
		c.Logging.Level = o.logLevel
	}
	if set("log-format") {
		c.Logging.Format = o.logFormat
	}
	if set("tracing-type") {
		c.TracingType = o.tracingType
	}
	if set("access") {
		c.Session.Access = o.access
	}
	if set("max-concurrency") {
		c.Session.MaxConcurrency = o.maxConcurrency
	}
	if set("selection") {
		c.Session.Selection = o.selection
	}
	if set("hash-property") {
		c.Session.HashProperty = o.hashProperty
	}
	if set("ids") {
		c.Session.IDs = o.ids
	}
	if set("locked-shard") {
		c.Session.LockedShard = o.lockedShard
	}
	if set("no-top-level-save") {
		c.Session.NoTopLevelSave = o.noTopLevelSave
	}
	if set("check-all-associations") {
		c.Session.CheckAllAssociations = o.checkAllAssociations
	}
	if set("cross-shard-checking") {
		c.Session.CrossShardChecking = o.crossShardChecking
	}
	if set("query-timeout") {
		c.Session.QueryTimeout = itoml.Duration(o.queryTimeout)
	}
}

// NewCommand returns the shardd command. It serves until it receives
// SIGINT or SIGTERM.
func NewCommand(v *viper.Viper) *cobra.Command {
	return newCommand(v, NewLauncher(), new(flagOpts))
}

func newCommand(v *viper.Viper, l *Launcher, o *flagOpts) *cobra.Command {
	prog := &cli.Program{
		Name:  "shardd",
		Short: "Serve a set of shards as one logical store",
		Opts:  o.opts(),
		Run: func() error {
			cfg, err := o.config(v)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := l.Run(ctx, cfg); err != nil {
				return err
			}
			<-ctx.Done()

			// Attempt clean shutdown.
			ctx, cancel = context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout))
			defer cancel()
			return l.Shutdown(ctx)
		},
	}
	return cli.NewCommand(v, prog)
}

// config loads the config file and applies the flag overrides.
func (o *flagOpts) config(v *viper.Viper) (Config, error) {
	cfg, err := LoadConfig(o.configPath)
	if err != nil {
		return cfg, err
	}
	o.apply(v, &cfg)
	return cfg, cfg.Validate()
}
