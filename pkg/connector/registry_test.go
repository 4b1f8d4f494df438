package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jsonrpcsuite/jrs/pkg/metrics"
	"github.com/jsonrpcsuite/jrs/pkg/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// rpcStub serves canned JSON-RPC responses keyed by method.
func rpcStub(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := struct {
			Method string `json:"method"`
			ID     any    `json:"id"`
		}{}
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, rpc.Decode(body, &req))
		res, ok := responses[req.Method]
		if !ok {
			res = `{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":null}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, res)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func observedConnector(t *testing.T, opts ...Option) (*Connector, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	opts = append([]Option{
		AsMiddleware(),
		WithSink(metrics.NewPromSink()),
		WithLogger(zap.New(core)),
	}, opts...)
	c := New(Config{Alias: "a"}, opts...)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c, logs
}

func TestAddServiceReplaces(t *testing.T) {
	t.Parallel()
	c, _ := observedConnector(t)
	ctx := context.Background()

	require.NoError(t, c.AddService(ctx, "peer", "http://first:3000"))
	require.NoError(t, c.AddService(ctx, "peer", "http://second:3000"))

	client, ok := c.Service("peer")
	require.True(t, ok)
	assert.Equal(t, "http://second:3000", client.URL())
}

func TestAddServiceRejectsBadConfig(t *testing.T) {
	t.Parallel()
	c, _ := observedConnector(t)
	ctx := context.Background()

	assert.Error(t, c.AddService(ctx, "peer", 42))
	assert.Error(t, c.AddService(ctx, "peer", ClientConfig{}))
}

func TestSendToUnknownService(t *testing.T) {
	t.Parallel()
	c, _ := observedConnector(t)
	_, err := c.SendTo(context.Background(), "ghost", "m", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestCallServiceRequiresObjectParams(t *testing.T) {
	t.Parallel()
	c, _ := observedConnector(t)
	ctx := context.Background()

	for _, params := range []any{"text", 5, []any{"a"}, nil} {
		_, err := c.CallService(ctx, "peer", "m", params)
		var rerr *rpc.Error
		require.ErrorAs(t, err, &rerr, "params %v", params)
		assert.Equal(t, rpc.CodeCriticalInternal, rerr.Code)
		assert.Equal(t, "Critical internal error", rerr.Message)
	}
}

func TestCallServiceSuccess(t *testing.T) {
	t.Parallel()
	srv := rpcStub(t, map[string]string{
		"sum": `{"jsonrpc":"2.0","result":{"total":3},"id":1}`,
	})
	c, _ := observedConnector(t)
	ctx := context.Background()
	require.NoError(t, c.AddService(ctx, "math", srv.URL))

	got, err := c.CallService(ctx, "math", "sum", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"total": float64(3)}, got)
}

func TestCallServiceErrorTriage(t *testing.T) {
	t.Parallel()
	srv := rpcStub(t, map[string]string{
		"plain":    `{"jsonrpc":"2.0","error":"exploded","id":1}`,
		"hinted":   `{"jsonrpc":"2.0","error":{"code":"weird","message":"hm"},"id":1}`,
		"rpcfault": `{"jsonrpc":"2.0","error":{"code":-32000,"message":"down"},"id":1}`,
		"safe":     `{"jsonrpc":"2.0","error":{"code":404,"message":"missing"},"id":1}`,
	})
	c, logs := observedConnector(t)
	ctx := context.Background()
	require.NoError(t, c.AddService(ctx, "peer", srv.URL))
	params := map[string]any{}

	_, err := c.CallService(ctx, "peer", "plain", params)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "exploded", remote.Value)
	assert.Equal(t, 1, logs.FilterMessageSnippet("non-standard plain error").Len())

	_, err = c.CallService(ctx, "peer", "hinted", params)
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 1, logs.FilterMessageSnippet("non-standard hinted error").Len())

	_, err = c.CallService(ctx, "peer", "rpcfault", params)
	var rerr *rpc.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, -32000, rerr.Code)
	assert.Equal(t, "down", rerr.Message)
	assert.Equal(t, 1, logs.FilterMessageSnippet("RPC-error").Len())

	_, err = c.CallService(ctx, "peer", "safe", params)
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 404, rerr.Code)
	assert.Equal(t, "missing", rerr.Message)
	assert.Equal(t, 1, logs.FilterMessageSnippet("safe provided error").Len())
}

func TestOutboundMetrics(t *testing.T) {
	t.Parallel()
	srv := rpcStub(t, map[string]string{
		"ok": `{"jsonrpc":"2.0","result":"fine","id":1}`,
	})
	sink := metrics.NewPromSink()
	c := New(Config{Alias: "a", ExternalCallsMetrics: true},
		AsMiddleware(), WithSink(sink))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())
	ctx := context.Background()
	require.NoError(t, c.AddService(ctx, "peer", srv.URL))

	_, err := c.SendTo(ctx, "peer", "ok", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, sink.CounterValue("call_api_success_count", metrics.Labels{"api": "peer.ok"}))
}

func TestPingIdentityMatch(t *testing.T) {
	t.Parallel()
	srv := rpcStub(t, map[string]string{
		"_ping": `{"jsonrpc":"2.0","result":{"status":"OK","alias":"b"},"id":1}`,
	})
	c, logs := observedConnector(t)

	err := c.AddService(context.Background(), "b",
		ClientConfig{Connect: srv.URL, OriginRemoteAlias: "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("origin verified").Len())
}

func TestPingIdentityMismatchIsNonFatal(t *testing.T) {
	t.Parallel()
	srv := rpcStub(t, map[string]string{
		"_ping": `{"jsonrpc":"2.0","result":{"status":"OK","alias":"c"},"id":1}`,
	})
	c, logs := observedConnector(t)

	// mismatch logs an error but does not fail the caller
	err := c.AddService(context.Background(), "b",
		ClientConfig{Connect: srv.URL, OriginRemoteAlias: "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("origin alias mismatch").Len())

	// the stub still works afterwards
	_, ok := c.Service("b")
	assert.True(t, ok)
}

func TestPingUnreachableIsNonFatal(t *testing.T) {
	t.Parallel()
	c, logs := observedConnector(t)
	err := c.AddService(context.Background(), "b",
		ClientConfig{Connect: "http://127.0.0.1:1", OriginRemoteAlias: "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("origin verification failed").Len())
}

func TestStopClearsRegistry(t *testing.T) {
	t.Parallel()
	c := New(Config{Alias: "a"}, AsMiddleware(), WithSink(metrics.NewPromSink()))
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.AddService(context.Background(), "peer", "http://x:1"))
	require.NoError(t, c.Stop(context.Background()))

	_, ok := c.Service("peer")
	assert.False(t, ok)
	assert.True(t, c.IsDone())
}
