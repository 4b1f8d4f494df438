package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jsonrpcsuite/jrs/pkg/metrics"
	"github.com/jsonrpcsuite/jrs/pkg/service"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// PingRetry controls how origin verification behaves on failure.
// Attempts <= 1 means a single probe; verification never fails
// AddService, it only logs.
type PingRetry struct {
	Attempts int
	Delay    time.Duration
}

// Connector is the core RPC component: a compiled route table, an
// outbound client registry, and (unless running as middleware) an HTTP
// listener.
type Connector struct {
	*service.Harness

	cfg  Config
	log  *zap.Logger
	sink metrics.Sink

	routes   Routes
	defaults Defaults
	compiled map[string]*compiledRoute

	clientsMu sync.RWMutex
	clients   map[string]*Client

	payloadHook func(ctx context.Context) error

	correctEmpty bool
	emptyValue   any

	pingRetry PingRetry

	middlewareOnly bool

	srv *listener
}

// Option configures a Connector.
type Option func(*Connector)

// WithLogger replaces the default no-op logger.
func WithLogger(log *zap.Logger) Option { return func(c *Connector) { c.log = log } }

// WithSink replaces the process-wide default metrics sink.
func WithSink(sink metrics.Sink) Option { return func(c *Connector) { c.sink = sink } }

// WithRoutes installs the route table and its defaults.
func WithRoutes(routes Routes, defaults Defaults) Option {
	return func(c *Connector) { c.routes, c.defaults = routes, defaults }
}

// WithPayloadHook registers a hook awaited before every dispatch; its
// error propagates as a handler error.
func WithPayloadHook(hook func(ctx context.Context) error) Option {
	return func(c *Connector) { c.payloadHook = hook }
}

// WithEmptyResponse replaces the default {status: "OK"} correction
// value.
func WithEmptyResponse(v any) Option { return func(c *Connector) { c.emptyValue = v } }

// WithoutEmptyCorrection disables empty-response correction.
func WithoutEmptyCorrection() Option { return func(c *Connector) { c.correctEmpty = false } }

// WithPingRetry enables the retrying origin-verification revision.
func WithPingRetry(r PingRetry) Option { return func(c *Connector) { c.pingRetry = r } }

// AsMiddleware skips the own listener; mount Handler() on a host
// framework instead.
func AsMiddleware() Option { return func(c *Connector) { c.middlewareOnly = true } }

// New builds a connector from config and options. Routes are compiled
// at Start, not here.
func New(cfg Config, opts ...Option) *Connector {
	if cfg.Alias == "" {
		cfg.Alias = DefaultAlias
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.BodySizeLimit == "" {
		cfg.BodySizeLimit = "20mb"
	}
	c := &Connector{
		cfg:          cfg,
		log:          zap.NewNop(),
		clients:      make(map[string]*Client),
		correctEmpty: true,
		emptyValue:   map[string]any{"status": "OK"},
		pingRetry:    PingRetry{Attempts: 1},
	}
	for _, o := range opts {
		o(c)
	}
	if c.sink == nil {
		c.sink = metrics.Default()
	}
	c.Harness = service.New("connector", c.log)
	return c
}

// Alias returns the connector's self-identifier.
func (c *Connector) Alias() string { return c.cfg.Alias }

// Start compiles the route table, binds the listener unless running as
// middleware, then materializes the configured outbound clients and
// probes the ones that require origin verification.
func (c *Connector) Start(ctx context.Context) error {
	compiled, err := compileRoutes(c.withInjectedRoutes(), c.defaults)
	if err != nil {
		return fmt.Errorf("connector: %w", err)
	}
	c.compiled = compiled

	if !c.middlewareOnly {
		if err := c.listen(); err != nil {
			return err
		}
	}

	for alias, cc := range c.cfg.Clients {
		if err := c.AddService(ctx, alias, cc); err != nil {
			return err
		}
	}
	return nil
}

// Stop closes the listener and drops the client registry. The metrics
// sink is process-wide and survives.
func (c *Connector) Stop(ctx context.Context) error {
	var err error
	if c.srv != nil {
		err = multierr.Append(err, c.srv.shutdown(ctx))
		c.srv = nil
	}
	c.clientsMu.Lock()
	c.clients = make(map[string]*Client)
	c.clientsMu.Unlock()
	c.Done()
	return err
}

// withInjectedRoutes returns the user table plus the reserved _ping
// route.
func (c *Connector) withInjectedRoutes() Routes {
	routes := make(Routes, len(c.routes)+1)
	for name, cfg := range c.routes {
		routes[name] = cfg
	}
	alias := c.cfg.Alias
	routes["_ping"] = HandlerFunc(func(context.Context, any) (any, error) {
		return map[string]any{"status": "OK", "alias": alias}, nil
	})
	return routes
}
