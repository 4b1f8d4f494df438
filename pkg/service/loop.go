package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartLoop schedules the first iteration after firstDelay, then repeats
// every interval. Calling it again replaces the previous loop. The loop
// runs until StopLoop, Stop, or (with ThrowOnIterationError) the first
// iteration error; the iteration currently in flight is never cancelled.
func (h *Harness) StartLoop(firstDelay, interval time.Duration) {
	h.loopMu.Lock()
	defer h.loopMu.Unlock()

	if h.loopCancel != nil {
		h.loopCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.loopCancel = cancel

	go h.runLoop(ctx, firstDelay, interval)
}

// StopLoop prevents further iterations. It does not wait for an
// in-flight iteration.
func (h *Harness) StopLoop() {
	h.loopMu.Lock()
	defer h.loopMu.Unlock()
	if h.loopCancel != nil {
		h.loopCancel()
		h.loopCancel = nil
	}
}

// LoopErrors delivers the iteration error that stopped the loop when
// ThrowOnIterationError is set.
func (h *Harness) LoopErrors() <-chan error { return h.loopErrs }

func (h *Harness) runLoop(ctx context.Context, firstDelay, interval time.Duration) {
	timer := time.NewTimer(firstDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if !h.iterate(ctx) {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.iterate(ctx) {
				return
			}
		}
	}
}

// iterate runs one iteration; false stops the loop.
func (h *Harness) iterate(ctx context.Context) bool {
	if h.Iterate == nil {
		return true
	}
	if !h.AllowParallelIterations {
		if !h.loopBusy.CompareAndSwap(false, true) {
			// overlapping iteration dropped, not queued
			return true
		}
		defer h.loopBusy.Store(false)
		return h.runIteration(ctx)
	}
	go func() { _ = h.runIteration(ctx) }()
	return true
}

func (h *Harness) runIteration(ctx context.Context) bool {
	// StopLoop cancels ctx; the iteration itself keeps an uncancelled one
	err := h.Iterate(context.WithoutCancel(ctx))
	if err == nil {
		return true
	}
	if h.ThrowOnIterationError {
		select {
		case h.loopErrs <- err:
		default:
		}
		h.Emit("iterationError", err)
		return false
	}
	h.log.Warn("iteration failed", zap.String("service", h.name), zap.Error(err))
	h.Emit("iterationError", err)
	return true
}
