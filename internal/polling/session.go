// Package polling implements the call, inspect, repeat-or-stop primitive used
// to wait on long-running remote operations.
package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultInterval    = time.Second
	DefaultMaxDuration = 10 * time.Minute
)

// ErrStopped is returned by Wait when the session was stopped from outside.
var ErrStopped = errors.New("polling session stopped")

// Options configures a Session.
type Options[T any] struct {
	// Name identifies what is being polled in timeout messages.
	Name string

	// Poll fetches the current remote state.
	Poll func(ctx context.Context) (T, error)

	// ShouldContinue decides whether another poll is needed after a result.
	ShouldContinue func(T) bool

	// Optional callbacks. They run on the polling goroutine and may call
	// Stop; the session stops itself before OnError and OnTimeout.
	OnResult  func(T)
	OnError   func(error)
	OnTimeout func()

	Interval    time.Duration
	MaxDuration time.Duration

	// Clock is used for timeout bookkeeping. Defaults to time.Now.
	Clock func() time.Time
}

// Session polls until ShouldContinue returns false, Poll fails, the maximum
// duration elapses or Stop is called.
type Session[T any] struct {
	opts Options[T]

	mu         sync.Mutex
	active     bool
	epoch      uint64
	startedAt  time.Time
	timer      *time.Timer
	cancel     context.CancelFunc
	done       chan struct{}
	last       T
	err        error
	delivering bool

	// deliverMu is held by the poll goroutine from its epoch check until it
	// has handed off its callbacks, so Stop can wait out a delivery that has
	// not started yet.
	deliverMu sync.Mutex
}

// New creates a session. It does nothing until Start is called.
func New[T any](opts Options[T]) *Session[T] {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.ShouldContinue == nil {
		opts.ShouldContinue = func(T) bool { return false }
	}
	done := make(chan struct{})
	close(done)
	return &Session[T]{opts: opts, done: done}
}

// Start records the start time and polls immediately. Starting an active
// session is a no-op.
func (s *Session[T]) Start(ctx context.Context) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.epoch++
	epoch := s.epoch
	s.startedAt = s.opts.Clock()
	s.done = make(chan struct{})
	s.err = nil
	var zero T
	s.last = zero
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.poll(runCtx, epoch)
}

// Stop halts polling. It is idempotent and synchronous: once it returns no
// further poll is issued, the context of a poll in flight is cancelled and
// no new callback starts. A callback already running, including the one
// calling Stop, is left to finish.
func (s *Session[T]) Stop() {
	s.mu.Lock()
	s.finishLocked(ErrStopped)
	delivering := s.delivering
	s.mu.Unlock()

	if delivering {
		return
	}
	// Wait out a delivery that was already past its epoch check.
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}

// IsActive reports whether the session is still polling.
func (s *Session[T]) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Done returns a channel closed when the current run ends for any reason.
func (s *Session[T]) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Wait blocks until the run ends and returns the last result. A successful
// end (ShouldContinue false) yields a nil error; Poll failures, timeouts and
// Stop yield the corresponding error. Cancelling ctx stops the session.
func (s *Session[T]) Wait(ctx context.Context) (T, error) {
	done := s.Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
		s.mu.Lock()
		last := s.last
		s.mu.Unlock()
		return last, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.err
}

func (s *Session[T]) poll(ctx context.Context, epoch uint64) {
	s.mu.Lock()
	current := s.active && s.epoch == epoch
	s.mu.Unlock()
	if !current {
		// A timer or the first poll raced with Stop.
		return
	}

	result, err := s.opts.Poll(ctx)

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if !s.active || s.epoch != epoch {
		// Stopped while the call was in flight; the result is stale.
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.finishLocked(err)
		s.delivering = true
		s.mu.Unlock()
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
		s.endDelivery()
		return
	}
	s.last = result
	s.delivering = true
	s.mu.Unlock()

	if s.opts.OnResult != nil {
		s.opts.OnResult(result)
	}
	cont := s.opts.ShouldContinue(result)

	s.mu.Lock()
	s.delivering = false
	if !s.active || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	if !cont {
		s.finishLocked(nil)
		s.mu.Unlock()
		return
	}
	if elapsed := s.opts.Clock().Sub(s.startedAt); elapsed > s.opts.MaxDuration {
		// Timeout takes precedence over continuing.
		s.finishLocked(s.timeoutError(elapsed))
		s.delivering = true
		s.mu.Unlock()
		if s.opts.OnTimeout != nil {
			s.opts.OnTimeout()
		}
		s.endDelivery()
		return
	}
	s.timer = time.AfterFunc(s.opts.Interval, func() { s.poll(ctx, epoch) })
	s.mu.Unlock()
}

func (s *Session[T]) endDelivery() {
	s.mu.Lock()
	s.delivering = false
	s.mu.Unlock()
}

// finishLocked ends the current run. The first reason wins.
func (s *Session[T]) finishLocked(reason error) {
	if !s.active {
		return
	}
	s.active = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.err = reason
	close(s.done)
}

func (s *Session[T]) timeoutError(elapsed time.Duration) error {
	what := s.opts.Name
	if what == "" {
		what = "remote operation"
	}
	return core.ErrTimeout(fmt.Sprintf("Timed out waiting for %s after %s (limit %s)",
		what, elapsed.Round(time.Millisecond), s.opts.MaxDuration))
}

// IsTimeout reports whether err is a polling timeout.
func IsTimeout(err error) bool {
	return core.IsCategory(err, core.ErrCatTimeout)
}
