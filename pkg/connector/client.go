package connector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jsonrpcsuite/jrs/pkg/rpc"
)

// Client is an outbound JSON-RPC stub bound to one peer URL. Stubs are
// created by AddService, replaced on re-registration, and torn down only
// when the connector stops.
type Client struct {
	alias  string
	url    string
	origin string // required self-reported alias, "" when unchecked
	http   *http.Client
}

func newClient(alias string, cfg ClientConfig) *Client {
	url := cfg.Connect
	httpc := &http.Client{}
	if strings.HasPrefix(url, "unix://") {
		socket := strings.TrimPrefix(url, "unix://")
		httpc.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		}
		url = "http://unix"
	}
	return &Client{
		alias:  alias,
		url:    url,
		origin: cfg.OriginRemoteAlias,
		http:   httpc,
	}
}

// URL returns the stub's target.
func (c *Client) URL() string { return c.url }

// Call issues one JSON-RPC request and returns the decoded response
// envelope. Transport and decoding failures are returned as errors; an
// error member in the envelope is not.
func (c *Client) Call(ctx context.Context, method string, params any) (rpc.Response, error) {
	body, err := rpc.Encode(rpc.NewRequest(method, params, nil))
	if err != nil {
		return rpc.Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return rpc.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return rpc.Response{}, fmt.Errorf("call %s.%s: %w", c.alias, method, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return rpc.Response{}, fmt.Errorf("call %s.%s: read: %w", c.alias, method, err)
	}
	envelope, err := rpc.DecodeResponse(raw)
	if err != nil {
		return rpc.Response{}, fmt.Errorf("call %s.%s: %w", c.alias, method, err)
	}
	return envelope, nil
}

// withTimeout bounds the ping probe without affecting regular calls.
func (c *Client) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
