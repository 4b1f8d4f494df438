// Package service provides the lifecycle harness the framework runs on: a
// capability interface for startable/stoppable components, a Harness that
// owns an ordered list of nested children (forward start, reverse stop),
// an optional iteration loop, and a Runner that ties the top-level harness
// to process signals.
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Service is the minimal lifecycle capability. Components that can be
// retried or restored after a failure additionally implement Retryable or
// Restorable.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsDone() bool
}

// Retryable marks a service whose failed operation can be re-attempted.
type Retryable interface {
	Retry(ctx context.Context) error
}

// Restorable marks a service that can rebuild state after a restart.
type Restorable interface {
	Restore(ctx context.Context) error
}

// EventHandler observes harness events (started, stopped, iterationError).
type EventHandler func(event string, args ...any)

// Harness is the concrete Service that owns nested children and the
// iteration loop. The zero value is not usable; construct with New.
type Harness struct {
	name string
	log  *zap.Logger

	mu       sync.Mutex
	children []Service

	done atomic.Bool

	eventsMu sync.Mutex
	events   map[string][]EventHandler

	// Iterate is the body run by the loop started with StartLoop.
	Iterate func(ctx context.Context) error

	// AllowParallelIterations permits overlapping iterations; when false
	// an iteration scheduled while one is in flight is dropped.
	AllowParallelIterations bool

	// ThrowOnIterationError stops the loop on the first iteration error
	// and delivers it on LoopErrors; otherwise errors are logged and
	// swallowed.
	ThrowOnIterationError bool

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopBusy   atomic.Bool
	loopErrs   chan error
}

// New builds a harness. A nil logger falls back to a no-op logger.
func New(name string, log *zap.Logger) *Harness {
	if log == nil {
		log = zap.NewNop()
	}
	return &Harness{
		name:     name,
		log:      log,
		events:   make(map[string][]EventHandler),
		loopErrs: make(chan error, 1),
	}
}

// Name returns the harness name used in logs.
func (h *Harness) Name() string { return h.name }

// Add appends children; they start in the order given and stop in
// reverse.
func (h *Harness) Add(children ...Service) {
	h.mu.Lock()
	h.children = append(h.children, children...)
	h.mu.Unlock()
}

// Start starts nested children in registration order. The first failure
// aborts startup and propagates.
func (h *Harness) Start(ctx context.Context) error {
	h.mu.Lock()
	children := append([]Service(nil), h.children...)
	h.mu.Unlock()

	for i, c := range children {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("%s: child %d failed to start: %w", h.name, i, err)
		}
	}
	h.log.Info("service started", zap.String("service", h.name))
	h.Emit("started")
	return nil
}

// Stop stops children in reverse registration order, skipping any whose
// done flag is already set, then marks the harness itself done. Errors
// are aggregated; every child still gets its stop call.
func (h *Harness) Stop(ctx context.Context) error {
	h.mu.Lock()
	children := append([]Service(nil), h.children...)
	h.mu.Unlock()

	h.StopLoop()

	var err error
	for i := len(children) - 1; i >= 0; i-- {
		c := children[i]
		if c.IsDone() {
			continue
		}
		err = multierr.Append(err, c.Stop(ctx))
	}
	h.Done()
	h.log.Info("service stopped", zap.String("service", h.name))
	h.Emit("stopped")
	return err
}

// Done sets the one-way done flag; a done harness is skipped by its
// parent's teardown.
func (h *Harness) Done() { h.done.Store(true) }

// IsDone reports the done flag.
func (h *Harness) IsDone() bool { return h.done.Load() }

// OnEvent registers a handler for a named event.
func (h *Harness) OnEvent(event string, fn EventHandler) {
	h.eventsMu.Lock()
	h.events[event] = append(h.events[event], fn)
	h.eventsMu.Unlock()
}

// Emit calls every handler registered for event, in order.
func (h *Harness) Emit(event string, args ...any) {
	h.eventsMu.Lock()
	handlers := append([]EventHandler(nil), h.events[event]...)
	h.eventsMu.Unlock()
	for _, fn := range handlers {
		fn(event, args...)
	}
}
