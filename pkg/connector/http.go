package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	chimd "github.com/go-chi/chi/v5/middleware"
	"github.com/jsonrpcsuite/jrs/pkg/logger"
	"github.com/jsonrpcsuite/jrs/pkg/rpc"
	"github.com/jsonrpcsuite/jrs/pkg/transport/httpx"
	"go.uber.org/zap"
)

// Handler returns the connector as a plain http.Handler: the middleware
// embedding mode. The handler accepts JSON and urlencoded bodies up to
// the configured size limit.
func (c *Connector) Handler() http.Handler {
	limit, err := bodySizeBytes(c.cfg.BodySizeLimit)
	if err != nil {
		limit = 20 << 20
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)

		req, err := readRequest(r)
		if err != nil {
			writeResponse(w, rpc.NewErrorResponse(nil,
				&rpc.Error{Code: -32700, Message: "Parse error"}), c.log)
			return
		}

		result, dispatchErr := c.Dispatch(r.Context(), req.Method, req.Params)
		if dispatchErr != nil {
			writeResponse(w, rpc.NewErrorResponse(req.ID, errorPayload(dispatchErr)), c.log)
			return
		}
		writeResponse(w, rpc.NewResult(req.ID, result), c.log)
	})
}

// readRequest parses either a JSON envelope or an urlencoded form with
// method/params/id fields (params itself JSON-encoded).
func readRequest(r *http.Request) (rpc.Request, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return rpc.Request{}, err
		}
		req := rpc.Request{
			JSONRPC: rpc.Version,
			Method:  r.PostForm.Get("method"),
			ID:      r.PostForm.Get("id"),
		}
		if req.Method == "" {
			return rpc.Request{}, fmt.Errorf("method is required")
		}
		if raw := r.PostForm.Get("params"); raw != "" {
			var params any
			if err := json.Unmarshal([]byte(raw), &params); err != nil {
				return rpc.Request{}, err
			}
			req.Params = params
		}
		return req, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return rpc.Request{}, err
	}
	return rpc.DecodeRequest(body)
}

// errorPayload converts a dispatch error into its wire shape: canonical
// coded errors and marshalable errors as themselves, anything else as
// an empty object.
func errorPayload(err error) any {
	switch t := err.(type) {
	case *rpc.Error:
		return t
	case json.Marshaler:
		return t
	default:
		return map[string]any{}
	}
}

func writeResponse(w http.ResponseWriter, res rpc.Response, log *zap.Logger) {
	body, err := rpc.Encode(res)
	if err != nil {
		log.Error("response encode failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// listener owns the connector's HTTP server in standalone mode.
type listener struct {
	srv    *http.Server
	ln     net.Listener
	socket string
}

// listen binds the unix socket when configured, the TCP host:port
// otherwise, and serves the connector router.
func (c *Connector) listen() error {
	var ln net.Listener
	var err error
	socket := ""
	if c.cfg.Socket != "" {
		socket = c.cfg.Socket
		_ = os.Remove(socket)
		ln, err = net.Listen("unix", socket)
	} else {
		ln, err = net.Listen("tcp", net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port)))
	}
	if err != nil {
		return fmt.Errorf("connector listen: %w", err)
	}

	srv := &http.Server{Handler: c.router()}
	c.srv = &listener{srv: srv, ln: ln, socket: socket}

	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			c.log.Error("connector server failed", zap.Error(serveErr))
		}
	}()
	c.log.Info("connector listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("alias", c.cfg.Alias))
	return nil
}

// Addr returns the bound listener address in standalone mode.
func (c *Connector) Addr() net.Addr {
	if c.srv == nil {
		return nil
	}
	return c.srv.ln.Addr()
}

// router assembles the standalone chi stack: request ids, panic
// recovery, access log, static files, and the RPC endpoint.
func (c *Connector) router() http.Handler {
	r := httpx.NewChi()
	r.Use(chimd.RequestID, chimd.Recoverer)
	r.Use(logger.NewMiddleware(c.log).Handler())

	path := c.cfg.Path
	if path == "" {
		path = "/"
	}
	r.Post(path, c.Handler())

	if c.cfg.StaticDir != "" {
		fs := http.FileServer(http.Dir(c.cfg.StaticDir))
		if path == "/" {
			r.Get("/*", fs)
		} else {
			r.Get("/static/*", http.StripPrefix("/static/", fs))
		}
	}
	return r.Mux()
}

// graceful close; best effort when the context expires first.
func (l *listener) shutdown(ctx context.Context) error {
	err := l.srv.Shutdown(ctx)
	if l.socket != "" {
		_ = os.Remove(l.socket)
	}
	return err
}
