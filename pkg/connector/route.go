// Package connector implements the RPC connector: it compiles a routing
// table with schema inheritance and custom validation types, dispatches
// inbound JSON-RPC calls through a before/handler/after pipeline, keeps a
// registry of outbound client stubs verified via _ping, and records
// per-route counters and latency histograms.
package connector

import (
	"context"

	"github.com/jsonrpcsuite/jrs/pkg/schema"
)

// HandlerFunc is a pipeline stage or route handler. It receives the
// current pipeline data and returns the replacement value. A nil return
// from a before/after stage means "no replacement"; a nil return from
// the route's own handler is a real result (subject to empty-response
// correction).
type HandlerFunc func(ctx context.Context, data any) (any, error)

// Stage pairs a handler with its opaque receiver. A non-nil Scope is
// made available to the handler through Scope(ctx).
type Stage struct {
	Handler HandlerFunc
	Scope   any
}

// RouteConfig is the structured form of a route table entry.
type RouteConfig struct {
	Handler    HandlerFunc
	Scope      any
	Validation schema.Schema
	Before     []Stage
	After      []Stage
	Inherits   []string
}

// Routes maps a route name to either a bare HandlerFunc or a
// RouteConfig. A bare handler bypasses validation and the pipeline
// entirely.
type Routes map[string]any

// ParentConfig is a partial route config contributed to inheriting
// routes.
type ParentConfig struct {
	Before     []Stage
	After      []Stage
	Validation schema.Schema
}

// Defaults carries the parent configs and the custom validation types
// shared by the whole route table.
type Defaults struct {
	Parents         map[string]ParentConfig
	ValidationTypes schema.Types
}

type scopeKey struct{}

func withScope(ctx context.Context, scope any) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// Scope returns the receiver attached to the currently running stage,
// or nil.
func Scope(ctx context.Context) any {
	return ctx.Value(scopeKey{})
}
