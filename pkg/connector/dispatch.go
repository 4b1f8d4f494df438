package connector

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"syscall"
	"time"

	"github.com/jsonrpcsuite/jrs/pkg/metrics"
	"github.com/jsonrpcsuite/jrs/pkg/rpc"
	"github.com/jsonrpcsuite/jrs/pkg/schema"
	"go.uber.org/zap"
)

// ErrMethodNotFound is returned for a method absent from the compiled
// table.
var ErrMethodNotFound = &rpc.Error{Code: -32601, Message: "Method not found"}

// Dispatch runs one inbound call through validation, the
// before/handler/after pipeline, empty-response correction and error
// classification. Metrics are always recorded, success or failure.
func (c *Connector) Dispatch(ctx context.Context, method string, params any) (result any, err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		labels := metrics.Labels{"api": method}
		c.sink.IncCounter("handle_api_"+outcome+"_count", labels)
		metrics.ObserveDuration(c.sink, "handle_api_"+outcome+"_time", labels, time.Since(start), c.cfg.TimeUnit)
	}()

	route, ok := c.compiled[method]
	if !ok {
		return nil, ErrMethodNotFound
	}

	if c.payloadHook != nil {
		if hookErr := c.payloadHook(ctx); hookErr != nil {
			return nil, c.classify(method, hookErr)
		}
	}

	if route.bare != nil {
		out, callErr := safeCall(ctx, route.bare, params)
		if callErr != nil {
			return nil, c.classify(method, callErr)
		}
		return c.correct(out), nil
	}

	if route.validator != nil {
		if problems := route.validator.Validate(params); len(problems) > 0 {
			return nil, &rpc.Error{Code: rpc.CodeValidation, Message: schema.Error(problems)}
		}
	}

	current := params
	for i, stage := range route.stages {
		sctx := ctx
		if stage.Scope != nil {
			sctx = withScope(ctx, stage.Scope)
		}
		out, stageErr := safeCall(sctx, stage.Handler, current)
		if stageErr != nil {
			return nil, c.classify(method, stageErr)
		}
		// pre/post stages returning nil pass the data through; only
		// the original handler's nil is a real replacement
		if out != nil || i == route.handlerIdx {
			current = out
		}
	}

	return c.correct(current), nil
}

// correct applies empty-response correction: falsy-equivalent values and
// the literal "Ok" are replaced with the configured default.
func (c *Connector) correct(v any) any {
	if !c.correctEmpty {
		return v
	}
	if isEmptyResponse(v) {
		return schema.Clone(c.emptyValue)
	}
	return v
}

func isEmptyResponse(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == "" || t == "Ok"
	case bool:
		return !t
	case int:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	}
	return false
}

// safeCall invokes a stage, converting panics into errors so the
// classifier can treat them as internal bugs.
func safeCall(ctx context.Context, h HandlerFunc, data any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(error); ok {
				err = &panicError{cause: re}
				return
			}
			err = &panicError{cause: fmt.Errorf("%v", r)}
		}
	}()
	return h(ctx, data)
}

// panicError marks a recovered panic; classified as an internal bug.
type panicError struct{ cause error }

func (e *panicError) Error() string { return "handler panic: " + e.cause.Error() }
func (e *panicError) Unwrap() error { return e.cause }

// classify implements the inbound error taxonomy: runtime bugs are
// logged and delivered as-is, refused downstream connections map to
// 1001, canonical coded errors pass verbatim, everything else is logged
// and reduced to an opaque empty object.
func (c *Connector) classify(method string, err error) error {
	var rerr *rpc.Error
	switch {
	case isInternalBug(err):
		c.log.Error("internal error in handler",
			zap.String("api", method), zap.Error(err))
		return err
	case errors.Is(err, syscall.ECONNREFUSED):
		c.log.Warn("downstream connection refused", zap.String("api", method))
		return &rpc.Error{Code: rpc.CodeInternalServer, Message: "Internal server error"}
	case errors.As(err, &rerr):
		return rerr
	default:
		c.log.Warn("unclassified handler error",
			zap.String("api", method), zap.Error(err))
		return newOpaqueError(err)
	}
}

func isInternalBug(err error) bool {
	var re runtime.Error
	if errors.As(err, &re) {
		return true
	}
	var pe *panicError
	return errors.As(err, &pe)
}

// opaqueError hides an unclassified error from the wire: it serializes
// to an empty object so nothing internal leaks.
type opaqueError struct{ cause error }

func newOpaqueError(cause error) *opaqueError { return &opaqueError{cause: cause} }

func (e *opaqueError) Error() string                { return "internal error" }
func (e *opaqueError) Unwrap() error                { return e.cause }
func (e *opaqueError) MarshalJSON() ([]byte, error) { return []byte("{}"), nil }
