// Package connectorfx wires the connector, logger and metrics into an
// fx application. Add app-specific fx.Invoke(...) alongside Module.
package connectorfx

import (
	"context"
	"os"

	"github.com/jsonrpcsuite/jrs/pkg/connector"
	"github.com/jsonrpcsuite/jrs/pkg/logger"
	"github.com/jsonrpcsuite/jrs/pkg/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config selects per-service knobs without code duplication.
type Config struct {
	Service     string // for log file naming
	ManifestEnv string // e.g. "JRS_MANIFEST"
	Routes      connector.Routes
	Defaults    connector.Defaults
	Options     []connector.Option
}

// Option mutates the module config.
type Option func(*Config)

func WithService(s string) Option                  { return func(c *Config) { c.Service = s } }
func WithManifestEnv(k string) Option              { return func(c *Config) { c.ManifestEnv = k } }
func WithRoutes(r connector.Routes, d connector.Defaults) Option {
	return func(c *Config) { c.Routes, c.Defaults = r, d }
}
func WithConnectorOptions(opts ...connector.Option) Option {
	return func(c *Config) { c.Options = append(c.Options, opts...) }
}

func defaultConfig() Config {
	return Config{Service: "app", ManifestEnv: "JRS_MANIFEST"}
}

// Module returns the complete fx option set for one connector service.
func Module(opts ...Option) fx.Option {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return fx.Options(
		fx.Provide(func() Config { return cfg }),
		fx.Provide(provideSink),
		fx.Provide(provideLogger),
		fx.Provide(provideConnector),
		fx.Provide(provideMetricsService),
		fx.Invoke(registerHooks),
	)
}

func provideSink() *metrics.PromSink { return metrics.Default() }

func provideLogger(cfg Config, sink *metrics.PromSink) *zap.Logger {
	return logger.New(cfg.Service+".log", sink)
}

func provideConnector(cfg Config, sink *metrics.PromSink, log *zap.Logger) (*connector.Connector, error) {
	ccfg := connector.FromEnv()
	if path := os.Getenv(cfg.ManifestEnv); path != "" {
		loaded, err := connector.LoadManifest(path)
		if err != nil {
			return nil, err
		}
		ccfg = loaded
	}
	options := append([]connector.Option{
		connector.WithLogger(log),
		connector.WithSink(sink),
		connector.WithRoutes(cfg.Routes, cfg.Defaults),
	}, cfg.Options...)
	return connector.New(ccfg, options...), nil
}

func provideMetricsService(sink *metrics.PromSink, log *zap.Logger) *metrics.Service {
	return metrics.NewService(metrics.ConfigFromEnv(), sink, log)
}

type hookDeps struct {
	fx.In
	Conn    *connector.Connector
	Metrics *metrics.Service
	Log     *zap.Logger
}

func registerHooks(lc fx.Lifecycle, d hookDeps) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := d.Metrics.Start(ctx); err != nil {
				return err
			}
			return d.Conn.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			d.Log.Info("connector stopping")
			if err := d.Conn.Stop(ctx); err != nil {
				return err
			}
			return d.Metrics.Stop(ctx)
		},
	})
}
