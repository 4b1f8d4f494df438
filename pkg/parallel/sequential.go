package parallel

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Sequential is the wrapper returned by Consequentially: every Call
// enqueues its arguments and the backing loop applies the callback to
// one argument set at a time, strictly FIFO.
type Sequential struct {
	fn      Handler
	onError func(error)

	mu      sync.Mutex
	queue   [][]any
	running bool

	cancelled atomic.Bool
}

// SeqOption configures a Sequential.
type SeqOption func(*Sequential)

// WithOnError delivers callback errors out-of-band; without it errors
// are dropped after stopping nothing (the queue keeps draining).
func WithOnError(fn func(error)) SeqOption {
	return func(s *Sequential) { s.onError = fn }
}

// Consequentially wraps fn into a strictly ordered single-consumer
// queue.
func Consequentially(fn Handler, opts ...SeqOption) *Sequential {
	s := &Sequential{fn: fn}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Call enqueues one invocation. Invocation i+1 begins only after every
// earlier invocation completed.
func (s *Sequential) Call(args ...any) {
	if s.cancelled.Load() {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, args)
	if !s.running {
		s.running = true
		go s.drain()
	}
	s.mu.Unlock()
}

// QueueLength reports the number of argument sets not yet completed.
func (s *Sequential) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if s.running {
		n++
	}
	return n
}

// Cancel drops pending work and ignores further calls. The invocation
// currently in flight finishes.
func (s *Sequential) Cancel() {
	s.cancelled.Store(true)
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
}

func (s *Sequential) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		args := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if _, err := s.fn(context.Background(), args...); err != nil && s.onError != nil {
			s.onError(err)
		}
	}
}
