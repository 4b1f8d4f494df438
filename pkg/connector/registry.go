package connector

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jsonrpcsuite/jrs/pkg/metrics"
	"github.com/jsonrpcsuite/jrs/pkg/rpc"
	"go.uber.org/zap"
)

// AddService registers an outbound peer under alias, replacing any
// existing stub. config is either a URL string or a ClientConfig. When
// the config pins an origin alias, the peer is probed over _ping; a
// mismatch or probe failure is logged but never fails the caller.
func (c *Connector) AddService(ctx context.Context, alias string, config any) error {
	var cc ClientConfig
	switch t := config.(type) {
	case string:
		cc = ClientConfig{Connect: t}
	case ClientConfig:
		cc = t
	case *ClientConfig:
		cc = *t
	default:
		return fmt.Errorf("add service %q: unsupported config type %T", alias, config)
	}
	if cc.Connect == "" {
		return fmt.Errorf("add service %q: connect is required", alias)
	}

	client := newClient(alias, cc)
	c.clientsMu.Lock()
	c.clients[alias] = client
	c.clientsMu.Unlock()

	if cc.OriginRemoteAlias != "" {
		c.verifyOrigin(ctx, client)
	}
	return nil
}

// Service returns the stub registered under alias.
func (c *Connector) Service(alias string) (*Client, bool) {
	c.clientsMu.RLock()
	defer c.clientsMu.RUnlock()
	client, ok := c.clients[alias]
	return client, ok
}

// verifyOrigin probes the peer's _ping route and compares the
// self-reported alias against the pinned one. The retry policy is
// configurable; the default is a single log-only probe.
func (c *Connector) verifyOrigin(ctx context.Context, client *Client) {
	attempts := c.pingRetry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		remote, err := c.ping(ctx, client)
		if err == nil && remote == client.origin {
			c.log.Info("origin verified",
				zap.String("service", client.alias),
				zap.String("alias", remote))
			return
		}
		if err == nil {
			c.log.Error("origin alias mismatch",
				zap.String("service", client.alias),
				zap.String("want", client.origin),
				zap.String("got", remote))
			return
		}
		if attempt >= attempts {
			c.log.Error("origin verification failed",
				zap.String("service", client.alias), zap.Error(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.pingRetry.Delay):
		}
	}
}

func (c *Connector) ping(ctx context.Context, client *Client) (alias string, err error) {
	pctx, cancel := client.withTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := client.Call(pctx, "_ping", map[string]any{})
	if err != nil {
		return "", err
	}
	if res.Error != nil {
		return "", fmt.Errorf("ping %s: remote error: %v", client.alias, res.Error)
	}
	result, ok := res.Result.(map[string]any)
	if !ok {
		return "", fmt.Errorf("ping %s: malformed result %v", client.alias, res.Result)
	}
	alias, _ = result["alias"].(string)
	return alias, nil
}

// SendTo issues a raw call on a registered stub and returns the decoded
// envelope without interpreting its error member.
func (c *Connector) SendTo(ctx context.Context, service, method string, data any) (rpc.Response, error) {
	client, ok := c.Service(service)
	if !ok {
		return rpc.Response{}, fmt.Errorf("unknown service %q", service)
	}

	start := time.Now()
	res, err := client.Call(ctx, method, data)
	if c.cfg.ExternalCallsMetrics {
		outcome := "success"
		if err != nil || res.Error != nil {
			outcome = "failure"
		}
		labels := metrics.Labels{"api": service + "." + method}
		c.sink.IncCounter("call_api_"+outcome+"_count", labels)
		metrics.ObserveDuration(c.sink, "call_api_"+outcome+"_time", labels, time.Since(start), c.cfg.TimeUnit)
	}
	return res, err
}

// CallService is the interpreting variant of SendTo: params must be an
// object, the result is unwrapped, and remote errors are triaged for
// log operability before being rethrown unchanged.
func (c *Connector) CallService(ctx context.Context, service, method string, params any) (any, error) {
	if !isParamsObject(params) {
		return nil, &rpc.Error{Code: rpc.CodeCriticalInternal, Message: "Critical internal error"}
	}

	res, err := c.SendTo(ctx, service, method, params)
	if err != nil {
		return nil, err
	}
	if res.Error == nil {
		return res.Result, nil
	}

	fields := []zap.Field{
		zap.String("service", service),
		zap.String("method", method),
		zap.Any("error", res.Error),
	}
	errObj, isObj := res.Error.(map[string]any)
	if !isObj {
		c.log.Warn("non-standard plain error from remote", fields...)
		return nil, &RemoteError{Value: res.Error}
	}
	code, isNum := errObj["code"].(float64)
	switch {
	case !isNum || math.IsInf(code, 0) || math.IsNaN(code):
		c.log.Warn("non-standard hinted error from remote", fields...)
		return nil, &RemoteError{Value: res.Error}
	case code < 0:
		c.log.Error("RPC-error from remote", fields...)
	default:
		c.log.Info("safe provided error from remote", fields...)
	}
	message, _ := errObj["message"].(string)
	return nil, &rpc.Error{Code: int(code), Message: message, Data: errObj["data"]}
}

// RemoteError carries a non-standard remote error shape through
// unchanged.
type RemoteError struct{ Value any }

func (e *RemoteError) Error() string { return fmt.Sprintf("remote error: %v", e.Value) }

func isParamsObject(params any) bool {
	_, ok := params.(map[string]any)
	return ok
}
