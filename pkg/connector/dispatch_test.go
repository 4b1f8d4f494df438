package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"

	"github.com/jsonrpcsuite/jrs/pkg/metrics"
	"github.com/jsonrpcsuite/jrs/pkg/rpc"
	"github.com/jsonrpcsuite/jrs/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConnector(t *testing.T, routes Routes, defaults Defaults, opts ...Option) (*Connector, *metrics.PromSink) {
	t.Helper()
	sink := metrics.NewPromSink()
	opts = append([]Option{
		AsMiddleware(),
		WithSink(sink),
		WithRoutes(routes, defaults),
	}, opts...)
	c := New(Config{Alias: "test"}, opts...)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c, sink
}

func TestDispatchValidationFailure(t *testing.T) {
	t.Parallel()
	routes := Routes{
		"t": RouteConfig{
			Handler: func(ctx context.Context, data any) (any, error) { return data, nil },
			Validation: schema.Schema{
				"required": []any{"name"},
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
				},
			},
		},
	}
	c, sink := testConnector(t, routes, Defaults{})

	_, err := c.Dispatch(context.Background(), "t", map[string]any{})
	var rerr *rpc.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, rpc.CodeValidation, rerr.Code)
	assert.Contains(t, rerr.Message, "name")

	assert.Equal(t, 1.0, sink.CounterValue("handle_api_failure_count", metrics.Labels{"api": "t"}))
	assert.Equal(t, 0.0, sink.CounterValue("handle_api_success_count", metrics.Labels{"api": "t"}))
}

func TestDispatchStrictParamsByDefault(t *testing.T) {
	t.Parallel()
	routes := Routes{
		"t": RouteConfig{
			Handler: func(ctx context.Context, data any) (any, error) { return data, nil },
			Validation: schema.Schema{
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
				},
			},
		},
	}
	c, _ := testConnector(t, routes, Defaults{})

	_, err := c.Dispatch(context.Background(), "t", map[string]any{"name": "x", "extra": true})
	var rerr *rpc.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, rpc.CodeValidation, rerr.Code)

	// non-object params rejected by the implicit strict-object base
	_, err = c.Dispatch(context.Background(), "t", "a string")
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, rpc.CodeValidation, rerr.Code)
}

func TestDispatchEmptyResponseCorrection(t *testing.T) {
	t.Parallel()
	routes := Routes{
		"noop": HandlerFunc(func(ctx context.Context, data any) (any, error) { return "Ok", nil }),
	}
	c, _ := testConnector(t, routes, Defaults{})
	got, err := c.Dispatch(context.Background(), "noop", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "OK"}, got)

	c2, _ := testConnector(t, routes, Defaults{}, WithoutEmptyCorrection())
	got, err = c2.Dispatch(context.Background(), "noop", nil)
	require.NoError(t, err)
	assert.Equal(t, "Ok", got)
}

func TestDispatchCustomEmptyResponse(t *testing.T) {
	t.Parallel()
	routes := Routes{
		"noop": HandlerFunc(func(ctx context.Context, data any) (any, error) { return nil, nil }),
	}
	c, _ := testConnector(t, routes, Defaults{}, WithEmptyResponse(map[string]any{"ok": true}))
	got, err := c.Dispatch(context.Background(), "noop", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, got)
}

func TestDispatchPipelinePassThrough(t *testing.T) {
	t.Parallel()
	h1 := func(ctx context.Context, data any) (any, error) {
		data.(map[string]any)["n"] = data.(map[string]any)["n"].(int) + 1
		return nil, nil // pass-through
	}
	h2 := func(ctx context.Context, data any) (any, error) { return data, nil }
	routes := Routes{
		"p": RouteConfig{
			Handler: h2,
			Before:  []Stage{{Handler: h1}},
		},
	}
	c, _ := testConnector(t, routes, Defaults{})

	got, err := c.Dispatch(context.Background(), "p", map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 2}, got)
}

func TestDispatchHandlerNilIsReal(t *testing.T) {
	t.Parallel()
	var afterSaw any = "sentinel"
	routes := Routes{
		"r": RouteConfig{
			Handler: func(ctx context.Context, data any) (any, error) { return nil, nil },
			After: []Stage{{Handler: func(ctx context.Context, data any) (any, error) {
				afterSaw = data
				return nil, nil
			}}},
		},
	}
	c, _ := testConnector(t, routes, Defaults{}, WithoutEmptyCorrection())

	got, err := c.Dispatch(context.Background(), "r", map[string]any{"n": 1})
	require.NoError(t, err)
	// the original handler's nil replaces the data, unlike stage nils
	assert.Nil(t, afterSaw)
	assert.Nil(t, got)
}

func TestDispatchScope(t *testing.T) {
	t.Parallel()
	type receiver struct{ prefix string }
	routes := Routes{
		"greet": RouteConfig{
			Handler: func(ctx context.Context, data any) (any, error) {
				r := Scope(ctx).(*receiver)
				return r.prefix + data.(map[string]any)["name"].(string), nil
			},
			Scope: &receiver{prefix: "hello "},
		},
	}
	c, _ := testConnector(t, routes, Defaults{})

	got, err := c.Dispatch(context.Background(), "greet", map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "hello ada", got)
}

func TestDispatchInheritance(t *testing.T) {
	t.Parallel()
	var order []string
	mark := func(name string) HandlerFunc {
		return func(ctx context.Context, data any) (any, error) {
			order = append(order, name)
			return nil, nil
		}
	}
	defaults := Defaults{
		Parents: map[string]ParentConfig{
			"base": {
				Before: []Stage{{Handler: mark("parent-before")}},
				After:  []Stage{{Handler: mark("parent-after")}},
				Validation: schema.Schema{
					"required": []any{"id"},
					"properties": map[string]any{
						"id": map[string]any{"type": "string"},
					},
				},
			},
		},
	}
	routes := Routes{
		"r": RouteConfig{
			Handler:  mark("handler"),
			Before:   []Stage{{Handler: mark("route-before")}},
			After:    []Stage{{Handler: mark("route-after")}},
			Inherits: []string{"base"},
		},
	}
	c, _ := testConnector(t, routes, Defaults{Parents: defaults.Parents})

	// inherited validation applies
	_, err := c.Dispatch(context.Background(), "r", map[string]any{})
	var rerr *rpc.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, rpc.CodeValidation, rerr.Code)

	order = nil
	_, err = c.Dispatch(context.Background(), "r", map[string]any{"id": "1"})
	require.NoError(t, err)
	// accumulated parent stages are prepended on both sides
	assert.Equal(t, []string{
		"parent-before", "route-before", "handler", "parent-after", "route-after",
	}, order)
}

func TestDispatchErrorClassification(t *testing.T) {
	t.Parallel()
	routes := Routes{
		"panics": HandlerFunc(func(ctx context.Context, data any) (any, error) {
			var m map[string]int
			m["boom"] = 1 // nil map write: runtime error
			return nil, nil
		}),
		"refused": HandlerFunc(func(ctx context.Context, data any) (any, error) {
			return nil, fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
		}),
		"coded": HandlerFunc(func(ctx context.Context, data any) (any, error) {
			return nil, &rpc.Error{Code: 409, Message: "conflict"}
		}),
		"unknown": HandlerFunc(func(ctx context.Context, data any) (any, error) {
			return nil, errors.New("secret detail")
		}),
	}
	c, sink := testConnector(t, routes, Defaults{})
	ctx := context.Background()

	_, err := c.Dispatch(ctx, "panics", nil)
	require.Error(t, err)
	var pe *panicError
	assert.ErrorAs(t, err, &pe)

	_, err = c.Dispatch(ctx, "refused", nil)
	var rerr *rpc.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, rpc.CodeInternalServer, rerr.Code)
	assert.Equal(t, "Internal server error", rerr.Message)

	_, err = c.Dispatch(ctx, "coded", nil)
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 409, rerr.Code)
	assert.Equal(t, "conflict", rerr.Message)

	_, err = c.Dispatch(ctx, "unknown", nil)
	require.Error(t, err)
	var oe *opaqueError
	require.ErrorAs(t, err, &oe)
	raw, merr := oe.MarshalJSON()
	require.NoError(t, merr)
	assert.Equal(t, "{}", string(raw))
	assert.NotContains(t, string(raw), "secret")

	for _, api := range []string{"panics", "refused", "coded", "unknown"} {
		assert.Equal(t, 1.0, sink.CounterValue("handle_api_failure_count", metrics.Labels{"api": api}), api)
	}
}

func TestDispatchStopsPipelineOnError(t *testing.T) {
	t.Parallel()
	var afterRan bool
	routes := Routes{
		"r": RouteConfig{
			Handler: func(ctx context.Context, data any) (any, error) {
				return nil, &rpc.Error{Code: 400, Message: "no"}
			},
			After: []Stage{{Handler: func(ctx context.Context, data any) (any, error) {
				afterRan = true
				return nil, nil
			}}},
		},
	}
	c, _ := testConnector(t, routes, Defaults{})

	_, err := c.Dispatch(context.Background(), "r", map[string]any{})
	require.Error(t, err)
	assert.False(t, afterRan)
}

func TestDispatchPayloadHook(t *testing.T) {
	t.Parallel()
	var handlerRan bool
	routes := Routes{
		"r": HandlerFunc(func(ctx context.Context, data any) (any, error) {
			handlerRan = true
			return "x", nil
		}),
	}
	hookErr := errors.New("hook down")
	c, _ := testConnector(t, routes, Defaults{}, WithPayloadHook(func(ctx context.Context) error {
		return hookErr
	}))

	_, err := c.Dispatch(context.Background(), "r", nil)
	require.Error(t, err)
	assert.False(t, handlerRan)
}

func TestDispatchMethodNotFound(t *testing.T) {
	t.Parallel()
	c, sink := testConnector(t, Routes{}, Defaults{})
	_, err := c.Dispatch(context.Background(), "missing", nil)
	var rerr *rpc.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, -32601, rerr.Code)
	assert.Equal(t, 1.0, sink.CounterValue("handle_api_failure_count", metrics.Labels{"api": "missing"}))
}

func TestDispatchMetricInvariant(t *testing.T) {
	t.Parallel()
	routes := Routes{
		"r": HandlerFunc(func(ctx context.Context, data any) (any, error) {
			if data != nil {
				return nil, &rpc.Error{Code: 400, Message: "no"}
			}
			return "x", nil
		}),
	}
	c, sink := testConnector(t, routes, Defaults{})
	ctx := context.Background()

	const n = 10
	for i := 0; i < n; i++ {
		var params any
		if i%3 == 0 {
			params = map[string]any{}
		}
		_, _ = c.Dispatch(ctx, "r", params)
	}
	labels := metrics.Labels{"api": "r"}
	total := sink.CounterValue("handle_api_success_count", labels) +
		sink.CounterValue("handle_api_failure_count", labels)
	assert.Equal(t, float64(n), total)
}

func TestPingRoute(t *testing.T) {
	t.Parallel()
	sink := metrics.NewPromSink()
	c := New(Config{Alias: "billing"}, AsMiddleware(), WithSink(sink), WithRoutes(Routes{}, Defaults{}))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	got, err := c.Dispatch(context.Background(), "_ping", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "OK", "alias": "billing"}, got)
}

func TestPingRouteDefaultAlias(t *testing.T) {
	t.Parallel()
	c2 := New(Config{}, AsMiddleware(), WithSink(metrics.NewPromSink()))
	require.NoError(t, c2.Start(context.Background()))
	defer c2.Stop(context.Background())
	got, err := c2.Dispatch(context.Background(), "_ping", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultAlias, got.(map[string]any)["alias"])
}

func TestCompileIdempotence(t *testing.T) {
	t.Parallel()
	defaults := Defaults{
		ValidationTypes: schema.Types{
			"id": {"type": "string", "minLength": 1},
		},
	}
	routes := Routes{
		"r": RouteConfig{
			Handler: func(ctx context.Context, data any) (any, error) { return data, nil },
			Validation: schema.Schema{
				"required":   []any{"id"},
				"properties": map[string]any{"id": map[string]any{"type": "id"}},
			},
		},
	}

	once, err := compileRoutes(routes, defaults)
	require.NoError(t, err)
	twice, err := compileRoutes(routes, defaults)
	require.NoError(t, err)

	params := map[string]any{"id": "x"}
	assert.Empty(t, once["r"].validator.Validate(params))
	assert.Empty(t, twice["r"].validator.Validate(params))
	bad := map[string]any{"id": ""}
	assert.NotEmpty(t, once["r"].validator.Validate(bad))
	assert.NotEmpty(t, twice["r"].validator.Validate(bad))
}

func TestCompileUnknownParent(t *testing.T) {
	t.Parallel()
	routes := Routes{
		"r": RouteConfig{
			Handler:  func(ctx context.Context, data any) (any, error) { return data, nil },
			Inherits: []string{"ghost"},
		},
	}
	_, err := compileRoutes(routes, Defaults{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "ghost"))
}

func TestCompileUnresolvedTypeFailsStartup(t *testing.T) {
	t.Parallel()
	routes := Routes{
		"r": RouteConfig{
			Handler: func(ctx context.Context, data any) (any, error) { return data, nil },
			Validation: schema.Schema{
				"properties": map[string]any{"x": map[string]any{"type": "nosuch"}},
			},
		},
	}
	sink := metrics.NewPromSink()
	c := New(Config{Alias: "t"}, AsMiddleware(), WithSink(sink), WithRoutes(routes, Defaults{}))
	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nosuch")
}
