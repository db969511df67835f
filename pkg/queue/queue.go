// Package queue implements the debounced, coalescing write queue used for
// every user-editable piece of remote state.
//
// A Queue guards one remote resource. It holds at most one unsent edit and
// at most one request in flight:
//
//   - Enqueue replaces the unsent edit (last write wins) and restarts the
//     debounce timer. A burst of edits produces one write per idle gap.
//   - When the timer fires the edit is sent. An edit enqueued while a write
//     is in flight is held, never sent concurrently, and the timer is
//     restarted once the write completes.
//   - Writes are never retried. The next edit, or the periodic status poll,
//     brings the two sides back together.
package queue

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviddao/skyclock/pkg/clock"
	"github.com/daviddao/skyclock/pkg/model"
)

// DefaultDelay is the debounce delay used when Config.Delay is zero.
const DefaultDelay = 500 * time.Millisecond

// Poster sends a form-encoded command. The returned error covers both
// transport failures and application-level rejections.
type Poster interface {
	Post(ctx context.Context, endpoint string, form url.Values) error
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(ctx context.Context, endpoint string, form url.Values) error

// Post implements Poster.
func (f PosterFunc) Post(ctx context.Context, endpoint string, form url.Values) error {
	return f(ctx, endpoint, form)
}

// Config holds the settings shared by all queues of a session.
type Config struct {
	Delay   time.Duration // debounce delay, DefaultDelay if zero
	Timeout time.Duration // per-request timeout, none if zero
	Clock   clock.Clock
	Logger  zerolog.Logger
	Metrics *Metrics
}

// Result reports the outcome of one write.
type Result[T model.Payload] struct {
	Edit   model.PendingEdit[T]
	SentAt time.Time
	Err    error
}

// Queue is a debounced single-flight writer for one endpoint. Safe for
// concurrent use.
type Queue[T model.Payload] struct {
	endpoint string
	poster   Poster
	delay    time.Duration
	timeout  time.Duration
	clk      clock.Clock
	log      zerolog.Logger
	metrics  *Metrics
	onDone   func(Result[T])

	mu       sync.Mutex
	pending  *model.PendingEdit[T]
	timer    clock.Timer
	gen      uint64 // invalidates timers that fire after being replaced
	inFlight bool
	landed   chan struct{} // closed when the write in flight completes
	queued   bool
	idle     chan struct{} // closed while !queued
	flushing int
	closed   bool
}

// New returns a queue writing to endpoint through poster. onDone, if not
// nil, is called after every write with its outcome.
func New[T model.Payload](endpoint string, poster Poster, cfg Config, onDone func(Result[T])) *Queue[T] {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue[T]{
		endpoint: endpoint,
		poster:   poster,
		delay:    cfg.Delay,
		timeout:  cfg.Timeout,
		clk:      cfg.Clock,
		log:      cfg.Logger.With().Str("endpoint", endpoint).Logger(),
		metrics:  cfg.Metrics,
		onDone:   onDone,
		idle:     idle,
	}
}

// Endpoint returns the endpoint the queue writes to.
func (q *Queue[T]) Endpoint() string { return q.endpoint }

// Enqueue makes payload the only pending edit and restarts the debounce
// timer. While a write is in flight the edit is held until it completes.
func (q *Queue[T]) Enqueue(payload T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.log.Debug().Msg("queue: enqueue after close dropped")
		return
	}
	if q.pending != nil {
		q.metrics.coalesce(q.endpoint)
	}
	q.pending = &model.PendingEdit[T]{
		Endpoint:   q.endpoint,
		Payload:    payload,
		EnqueuedAt: q.clk.Now(),
	}
	q.markQueuedLocked()
	if q.inFlight {
		return
	}
	q.startTimerLocked()
}

// Queued reports whether an edit is pending or in flight.
func (q *Queue[T]) Queued() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued
}

// InFlight reports whether a write is awaiting its response.
func (q *Queue[T]) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Pending returns the unsent edit, if any.
func (q *Queue[T]) Pending() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		var zero T
		return zero, false
	}
	return q.pending.Payload, true
}

// Wait blocks until the queue has nothing pending or in flight.
func (q *Queue[T]) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitSent blocks until no write is in flight. Unlike Wait it does not
// wait for a pending edit to be sent.
func (q *Queue[T]) WaitSent(ctx context.Context) error {
	q.mu.Lock()
	landed := q.landed
	q.mu.Unlock()
	if landed == nil {
		return nil
	}
	select {
	case <-landed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Discard drops the pending edit without sending it and reports whether
// there was one. A write in flight is not affected.
func (q *Queue[T]) Discard() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		return false
	}
	q.stopTimerLocked()
	q.pending = nil
	q.metrics.coalesce(q.endpoint)
	if !q.inFlight {
		q.markIdleLocked()
	}
	return true
}

// Flush sends the pending edit without waiting for the debounce delay and
// blocks until the queue is idle. Edits that arrive while Flush waits are
// sent as soon as the write before them completes.
func (q *Queue[T]) Flush(ctx context.Context) error {
	q.mu.Lock()
	q.flushing++
	edit, ok := q.takeLocked()
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.flushing--
		q.mu.Unlock()
	}()

	if ok {
		q.run(edit)
	}
	return q.Wait(ctx)
}

// Close stops the debounce timer and drops the pending edit. A write in
// flight still completes. Call Flush first to keep the pending edit.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.stopTimerLocked()
	q.pending = nil
	if !q.inFlight {
		q.markIdleLocked()
	}
}

func (q *Queue[T]) startTimerLocked() {
	q.stopTimerLocked()
	gen := q.gen
	q.timer = q.clk.AfterFunc(q.delay, func() { q.fire(gen) })
}

func (q *Queue[T]) stopTimerLocked() {
	q.gen++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue[T]) fire(gen uint64) {
	q.mu.Lock()
	if gen != q.gen {
		q.mu.Unlock()
		return
	}
	q.timer = nil
	edit, ok := q.takeLocked()
	q.mu.Unlock()
	if ok {
		q.run(edit)
	}
}

// takeLocked claims the pending edit for sending if no write is in flight.
func (q *Queue[T]) takeLocked() (model.PendingEdit[T], bool) {
	if q.pending == nil || q.inFlight || q.closed {
		return model.PendingEdit[T]{}, false
	}
	q.stopTimerLocked()
	edit := *q.pending
	q.pending = nil
	q.inFlight = true
	q.landed = make(chan struct{})
	q.metrics.setInFlight(q.endpoint, 1)
	return edit, true
}

// run sends edit and, while a Flush is waiting, any edit that arrived
// during the write.
func (q *Queue[T]) run(edit model.PendingEdit[T]) {
	for {
		res := q.send(edit)

		q.mu.Lock()
		q.inFlight = false
		close(q.landed)
		q.landed = nil
		q.metrics.setInFlight(q.endpoint, 0)
		var next model.PendingEdit[T]
		more := false
		switch {
		case q.pending == nil || q.closed:
			q.markIdleLocked()
		case q.flushing > 0:
			next, more = q.takeLocked()
		default:
			q.startTimerLocked()
		}
		q.mu.Unlock()

		if q.onDone != nil {
			q.onDone(res)
		}
		if !more {
			return
		}
		edit = next
	}
}

func (q *Queue[T]) send(edit model.PendingEdit[T]) Result[T] {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	sentAt := q.clk.Now()
	form := edit.Payload.Form()
	q.log.Debug().Str("form", form.Encode()).Msg("queue: sending")
	err := q.poster.Post(ctx, q.endpoint, form)
	q.metrics.write(q.endpoint, err)
	if err != nil {
		q.log.Warn().Err(err).Msg("queue: write failed")
	}
	return Result[T]{Edit: edit, SentAt: sentAt, Err: err}
}

func (q *Queue[T]) markQueuedLocked() {
	if q.queued {
		return
	}
	q.queued = true
	q.idle = make(chan struct{})
}

func (q *Queue[T]) markIdleLocked() {
	if !q.queued {
		return
	}
	q.queued = false
	close(q.idle)
}
