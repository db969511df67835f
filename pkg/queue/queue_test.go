package queue

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/skyclock/pkg/clock"
	"github.com/daviddao/skyclock/pkg/model"
)

const endpoint = "/api/main/time"

// fakePoster records every write. When gate is set, each Post announces
// itself on started and blocks until gate is closed.
type fakePoster struct {
	mu      sync.Mutex
	forms   []url.Values
	err     error
	gate    chan struct{}
	started chan url.Values

	active    atomic.Int32
	maxActive atomic.Int32
}

func (p *fakePoster) Post(ctx context.Context, ep string, form url.Values) error {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		cur := p.maxActive.Load()
		if n <= cur || p.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	p.mu.Lock()
	p.forms = append(p.forms, form)
	gate, started, err := p.gate, p.started, p.err
	p.mu.Unlock()

	if started != nil {
		started <- form
	}
	if gate != nil {
		<-gate
	}
	return err
}

func (p *fakePoster) calls() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.forms...)
}

func timeUpdate(jd float64) model.TimeUpdate {
	return model.TimeUpdate{Time: model.Float(jd)}
}

func newTestQueue(p Poster, onDone func(Result[model.TimeUpdate])) (*Queue[model.TimeUpdate], *clock.Manual) {
	m := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	q := New[model.TimeUpdate](endpoint, p, Config{Clock: m}, onDone)
	return q, m
}

func TestDebounceCoalescesToLastValue(t *testing.T) {
	p := &fakePoster{}
	q, m := newTestQueue(p, nil)

	q.Enqueue(timeUpdate(5))
	m.Advance(50 * time.Millisecond)
	q.Enqueue(timeUpdate(7))
	m.Advance(50 * time.Millisecond)
	q.Enqueue(timeUpdate(9))
	assert.True(t, q.Queued())
	assert.Empty(t, p.calls())

	m.Advance(DefaultDelay)
	calls := p.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "9", calls[0].Get("time"))
	assert.False(t, q.Queued())
}

func TestEnqueueRestartsTimer(t *testing.T) {
	p := &fakePoster{}
	q, m := newTestQueue(p, nil)

	q.Enqueue(timeUpdate(1))
	m.Advance(400 * time.Millisecond)
	q.Enqueue(timeUpdate(2))
	m.Advance(400 * time.Millisecond)
	assert.Empty(t, p.calls(), "debounce must restart on every edit")

	m.Advance(100 * time.Millisecond)
	require.Len(t, p.calls(), 1)
	assert.Equal(t, "2", p.calls()[0].Get("time"))
}

func TestSeparateIdleGapsSendSeparately(t *testing.T) {
	p := &fakePoster{}
	q, m := newTestQueue(p, nil)

	q.Enqueue(timeUpdate(1))
	m.Advance(time.Second)
	q.Enqueue(timeUpdate(2))
	m.Advance(time.Second)

	calls := p.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "1", calls[0].Get("time"))
	assert.Equal(t, "2", calls[1].Get("time"))
}

func TestSingleFlight(t *testing.T) {
	p := &fakePoster{gate: make(chan struct{}), started: make(chan url.Values, 4)}
	q, m := newTestQueue(p, nil)

	q.Enqueue(timeUpdate(1))
	advanced := make(chan struct{})
	go func() {
		m.Advance(DefaultDelay)
		close(advanced)
	}()
	<-p.started
	require.True(t, q.InFlight())

	// An edit during the write is held, not sent.
	q.Enqueue(timeUpdate(2))
	m.Advance(5 * time.Second)
	assert.Len(t, p.calls(), 1)
	pending, ok := q.Pending()
	require.True(t, ok)
	assert.Equal(t, 2.0, *pending.Time)

	close(p.gate)
	<-advanced
	assert.Len(t, p.calls(), 1, "held edit waits for a fresh debounce")
	assert.True(t, q.Queued())

	m.Advance(DefaultDelay)
	calls := p.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "2", calls[1].Get("time"))
	assert.EqualValues(t, 1, p.maxActive.Load(), "never more than one write in flight")
	assert.False(t, q.Queued())
}

func TestFailureIsReportedAndNotRetried(t *testing.T) {
	boom := errors.New("connection refused")
	p := &fakePoster{err: boom}
	var results []Result[model.TimeUpdate]
	q, m := newTestQueue(p, func(r Result[model.TimeUpdate]) { results = append(results, r) })

	q.Enqueue(timeUpdate(3))
	m.Advance(DefaultDelay)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, boom)
	assert.Equal(t, 3.0, *results[0].Edit.Payload.Time)
	assert.False(t, q.Queued(), "failure clears the queue too")

	m.Advance(time.Minute)
	assert.Len(t, p.calls(), 1)
}

func TestOnDoneSeesEnqueueTime(t *testing.T) {
	p := &fakePoster{}
	var got Result[model.TimeUpdate]
	q, m := newTestQueue(p, func(r Result[model.TimeUpdate]) { got = r })

	start := m.Now()
	q.Enqueue(timeUpdate(1))
	m.Advance(DefaultDelay)
	assert.True(t, got.Edit.EnqueuedAt.Equal(start))
	assert.True(t, got.SentAt.Equal(start.Add(DefaultDelay)))
	assert.Equal(t, endpoint, got.Edit.Endpoint)
	assert.NoError(t, got.Err)
}

func TestFlushSendsWithoutDelay(t *testing.T) {
	p := &fakePoster{}
	q, m := newTestQueue(p, nil)

	q.Enqueue(timeUpdate(4))
	require.NoError(t, q.Flush(context.Background()))
	require.Len(t, p.calls(), 1)
	assert.False(t, q.Queued())

	// The cancelled debounce timer must not send again.
	m.Advance(time.Second)
	assert.Len(t, p.calls(), 1)
}

func TestFlushWhileInFlightSendsHeldEdit(t *testing.T) {
	p := &fakePoster{gate: make(chan struct{}), started: make(chan url.Values, 4)}
	q, m := newTestQueue(p, nil)

	q.Enqueue(timeUpdate(1))
	go m.Advance(DefaultDelay)
	<-p.started
	q.Enqueue(timeUpdate(2))

	flushed := make(chan error, 1)
	go func() { flushed <- q.Flush(context.Background()) }()
	close(p.gate)

	select {
	case err := <-flushed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Flush did not return")
	}
	calls := p.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "2", calls[1].Get("time"))
	assert.EqualValues(t, 1, p.maxActive.Load())
}

func TestFlushEmptyQueueReturnsImmediately(t *testing.T) {
	q, _ := newTestQueue(&fakePoster{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, q.Flush(ctx))
}

func TestWaitHonoursContext(t *testing.T) {
	q, _ := newTestQueue(&fakePoster{}, nil)
	q.Enqueue(timeUpdate(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Wait(ctx), context.Canceled)
}

func TestDiscardDropsPendingEdit(t *testing.T) {
	p := &fakePoster{}
	q, m := newTestQueue(p, nil)

	assert.False(t, q.Discard(), "nothing pending")
	q.Enqueue(timeUpdate(1))
	assert.True(t, q.Discard())
	assert.False(t, q.Queued())
	m.Advance(time.Second)
	assert.Empty(t, p.calls())

	q.Enqueue(timeUpdate(2))
	m.Advance(DefaultDelay)
	require.Len(t, p.calls(), 1, "the queue keeps working after a discard")
}

func TestDiscardKeepsWriteInFlight(t *testing.T) {
	p := &fakePoster{gate: make(chan struct{}), started: make(chan url.Values, 4)}
	q, m := newTestQueue(p, nil)

	q.Enqueue(timeUpdate(1))
	go m.Advance(DefaultDelay)
	<-p.started
	q.Enqueue(timeUpdate(2))
	assert.True(t, q.Discard())
	assert.True(t, q.Queued(), "the write in flight is still outstanding")

	waited := make(chan error, 1)
	go func() { waited <- q.WaitSent(context.Background()) }()
	close(p.gate)
	select {
	case err := <-waited:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitSent did not return")
	}
	require.NoError(t, q.Wait(context.Background()))
	calls := p.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "1", calls[0].Get("time"))
}

func TestWaitSentIgnoresPendingEdit(t *testing.T) {
	q, _ := newTestQueue(&fakePoster{}, nil)
	q.Enqueue(timeUpdate(1))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, q.WaitSent(ctx))
	assert.True(t, q.Queued())
}

func TestCloseDropsPendingEdit(t *testing.T) {
	p := &fakePoster{}
	q, m := newTestQueue(p, nil)

	q.Enqueue(timeUpdate(1))
	q.Close()
	m.Advance(time.Second)
	assert.Empty(t, p.calls())
	assert.False(t, q.Queued())

	q.Enqueue(timeUpdate(2))
	m.Advance(time.Second)
	assert.Empty(t, p.calls())
}

func TestMetricsCountWritesAndCoalescing(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	p := &fakePoster{}
	m := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	q := New[model.TimeUpdate](endpoint, p, Config{Clock: m, Metrics: metrics}, nil)

	q.Enqueue(timeUpdate(1))
	q.Enqueue(timeUpdate(2))
	q.Enqueue(timeUpdate(3))
	m.Advance(DefaultDelay)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.coalesced.WithLabelValues(endpoint)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.writes.WithLabelValues(endpoint, "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.inFlight.WithLabelValues(endpoint)))
}

func TestCustomDelay(t *testing.T) {
	p := &fakePoster{}
	m := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	q := New[model.PropertyUpdate]("/api/stelproperty/set", p, Config{Clock: m, Delay: 2 * time.Second}, nil)

	q.Enqueue(model.PropertyUpdate{ID: "prop", Value: "1"})
	m.Advance(DefaultDelay)
	assert.Empty(t, p.calls())
	m.Advance(2 * time.Second)
	require.Len(t, p.calls(), 1)
	assert.Equal(t, "prop", p.calls()[0].Get("id"))
}

func TestPosterFunc(t *testing.T) {
	var gotEndpoint string
	f := PosterFunc(func(ctx context.Context, ep string, form url.Values) error {
		gotEndpoint = ep
		return nil
	})
	require.NoError(t, f.Post(context.Background(), endpoint, nil))
	assert.Equal(t, endpoint, gotEndpoint)
}
