// Package loop provides the single control thread that owns all session and
// screensaver state. Work arriving from timers, system signals, and player
// callbacks is posted onto the loop and runs there one task at a time.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrStopped is returned when work is submitted after the loop has exited.
var ErrStopped = errors.New("control loop stopped")

// Loop serializes tasks onto one goroutine. The queue is unbounded so tasks
// running on the loop can post without blocking.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
	clock   clockwork.Clock
	logger  *slog.Logger
}

// New creates a loop. A nil clock selects the real clock.
func New(clock clockwork.Clock, logger *slog.Logger) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		clock:  clock,
		logger: logger,
	}
}

// Clock returns the loop's clock.
func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

// Run drains tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
		for ctx.Err() == nil {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.run(fn)
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) run(fn func()) {
	defer func() {
		if err := recover(); err != nil {
			l.logger.Error("control loop task panic recovered", "error", err)
		}
	}()
	fn()
}

// Post schedules fn on the loop. It reports false if the loop has exited.
// Post never blocks and is safe to call from any goroutine, including tasks
// running on the loop.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for its result. It must not be called
// from the loop itself.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !l.Post(func() { result <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// The task may have run just before shutdown.
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	}
}

// Timer is a cancellable task scheduled on the loop. Its methods must be
// called from the loop.
type Timer struct {
	timer   clockwork.Timer
	stopped bool
}

// AfterFunc runs fn on the loop after d. A timer stopped before its task runs
// never runs fn, even if the clock already fired.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.timer = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.stopped = true
			fn()
		})
	})
	return t
}

// Stop cancels the timer. Stopping a nil or already-fired timer is a no-op.
func (t *Timer) Stop() {
	if t == nil || t.stopped {
		return
	}
	t.stopped = true
	t.timer.Stop()
}

// Active reports whether the timer is still pending.
func (t *Timer) Active() bool {
	return t != nil && !t.stopped
}

// Debouncer collapses bursts of triggers into one action that runs after the
// burst has been quiet for the configured delay. Methods must be called from
// the loop.
type Debouncer struct {
	loop    *Loop
	delay   time.Duration
	pending *Timer
}

// NewDebouncer creates a debouncer bound to the loop.
func NewDebouncer(l *Loop, delay time.Duration) *Debouncer {
	return &Debouncer{loop: l, delay: delay}
}

// Trigger cancels any pending action and schedules fn after the delay.
func (d *Debouncer) Trigger(fn func()) {
	d.pending.Stop()
	d.pending = d.loop.AfterFunc(d.delay, fn)
}

// Cancel drops the pending action, if any.
func (d *Debouncer) Cancel() {
	d.pending.Stop()
	d.pending = nil
}

// Pending reports whether an action is scheduled.
func (d *Debouncer) Pending() bool {
	return d.pending.Active()
}

// SetDelay changes the delay used by later triggers.
func (d *Debouncer) SetDelay(delay time.Duration) {
	d.delay = delay
}
