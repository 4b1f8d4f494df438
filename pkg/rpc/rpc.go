// Package rpc builds and parses JSON-RPC 2.0 envelopes.
package rpc

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Version is the protocol version stamped on every envelope.
const Version = "2.0"

// Reserved error codes produced by this layer.
const (
	CodeValidation       = 400  // params rejected by a compiled validator
	CodeCriticalInternal = 500  // structural misuse of the calling API
	CodeInternalServer   = 1001 // downstream connection refused
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      any    `json:"id"`
}

// Response is a JSON-RPC 2.0 response envelope. Error is deliberately
// untyped: remote peers forward non-standard error shapes and the caller
// must be able to triage them (see connector.CallService).
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   any    `json:"error,omitempty"`
	ID      any    `json:"id"`
}

// Error is the canonical caller-visible error shape.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a monotonic ULID suitable as a request id.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewRequest builds a request envelope. A nil id is replaced with a fresh
// ULID.
func NewRequest(method string, params any, id any) Request {
	if id == nil {
		id = NewID()
	}
	return Request{JSONRPC: Version, Method: method, Params: params, ID: id}
}

// NewResult builds a success response envelope.
func NewResult(id any, result any) Response {
	return Response{JSONRPC: Version, Result: result, ID: id}
}

// NewErrorResponse builds a failure response envelope. err may be any
// JSON-serializable value; *Error is the canonical shape.
func NewErrorResponse(id any, err any) Response {
	return Response{JSONRPC: Version, Error: err, ID: id}
}
