// Package poll runs cancellable periodic tasks with jitter and exponential
// backoff on failure.
package poll

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Klingon-tech/klingnet-tray/internal/log"
)

// ErrRunning is returned by Start on a task that is already running.
var ErrRunning = errors.New("task already running")

// DefaultJitter spreads steady-state runs by ±10%.
const DefaultJitter = 0.1

// Task calls fn every interval until stopped. After a failure the next run
// is scheduled by an exponential backoff instead; the first success resets
// it.
type Task struct {
	name     string
	interval time.Duration
	jitter   float64
	fn       func(ctx context.Context) error

	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	trigger chan struct{}
}

// Option configures a Task.
type Option func(*Task)

// WithJitter sets the steady-state jitter fraction (0 disables it).
func WithJitter(f float64) Option {
	return func(t *Task) { t.jitter = f }
}

// WithBackOff replaces the failure backoff policy.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(t *Task) { t.newBackOff = fn }
}

// New creates a stopped task.
func New(name string, interval time.Duration, fn func(ctx context.Context) error, opts ...Option) *Task {
	t := &Task{
		name:     name,
		interval: interval,
		jitter:   DefaultJitter,
		fn:       fn,
		trigger:  make(chan struct{}, 1),
	}
	t.newBackOff = func() backoff.BackOff { return DefaultBackOff(interval) }
	for _, o := range opts {
		o(t)
	}
	return t
}

// DefaultBackOff starts at a tenth of interval and caps at four intervals.
// It never gives up.
func DefaultBackOff(interval time.Duration) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     interval / 10,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         4 * interval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Start runs the task in the background until Stop or ctx is done. The
// first run happens immediately.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(ctx, t.done)
	return nil
}

// Stop cancels the task and waits for the current run to return.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the task is started.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Trigger asks for an immediate run. It never blocks; triggers arriving
// while one is pending are merged.
func (t *Task) Trigger() {
	select {
	case t.trigger <- struct{}{}:
	default:
	}
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	logger := log.Poll.With().Str("task", t.name).Logger()
	b := t.newBackOff()

	for {
		wait := t.jittered()
		if err := t.fn(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if next := b.NextBackOff(); next != backoff.Stop {
				wait = next
			}
			logger.Warn().Err(err).Dur("retry_in", wait).Msg("Task failed")
		} else {
			b.Reset()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.trigger:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (t *Task) jittered() time.Duration {
	if t.jitter <= 0 {
		return t.interval
	}
	delta := (rand.Float64()*2 - 1) * t.jitter * float64(t.interval)
	return t.interval + time.Duration(delta)
}
