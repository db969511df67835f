package clock

import (
	"math"
	"sync"
	"time"

	"github.com/daviddao/skyclock/pkg/calendar"
	"github.com/daviddao/skyclock/pkg/model"
)

// realTimeTolerance is how far a rate may stray from calendar.JDSecond and
// still count as real-time speed. Rates that went through the server come
// back slightly off.
const realTimeTolerance = 0.0000001

// Direction selects the way StepRate moves the rate.
type Direction int

const (
	Increase Direction = iota
	Decrease
)

// Buttons mirrors the state of the time control buttons of the planetarium
// GUI for the current rate.
type Buttons struct {
	Rewind  bool `json:"rewind"`
	Forward bool `json:"forward"`
	Now     bool `json:"now"`
	Playing bool `json:"playing"`
	Paused  bool `json:"paused"`
}

// Predictor owns the TimeState and extrapolates the current JD from it.
//
// It is either running (prediction follows the wall clock) or suspended
// (prediction frozen while the user edits the time). Safe for concurrent
// use.
type Predictor struct {
	clk Clock

	mu        sync.Mutex
	state     model.TimeState
	sync      model.WallClockSync
	suspended bool
}

// NewPredictor returns a running predictor at JD 0 with a stopped clock.
func NewPredictor(clk Clock) *Predictor {
	if clk == nil {
		clk = System{}
	}
	p := &Predictor{clk: clk}
	p.sync.SyncedAt = clk.Now()
	return p
}

// Update replaces the state wholesale with a server push and resyncs to
// its JD.
func (p *Predictor) Update(ts model.TimeState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = ts
	p.resyncLocked(ts.JD)
}

// UpdateConditions takes the offsets, flags and display strings of a push
// but leaves the JD and rate alone. Used while a local time edit is
// pending, so the push cannot undo it.
func (p *Predictor) UpdateConditions(ts model.TimeState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	jd, rate := p.state.JD, p.state.TimeRate
	p.state = ts
	p.state.JD, p.state.TimeRate = jd, rate
}

// Resync pins the prediction to jd at the current wall-clock instant.
func (p *Predictor) Resync(jd float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resyncLocked(jd)
}

// ResyncRate pins the prediction to jd and replaces the rate.
func (p *Predictor) ResyncRate(jd, rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resyncLocked(jd)
	p.state.TimeRate = rate
}

func (p *Predictor) resyncLocked(jd float64) {
	now := p.clk.Now()
	if now.Before(p.sync.SyncedAt) {
		now = p.sync.SyncedAt
	}
	p.sync = model.WallClockSync{SyncedJD: jd, SyncedAt: now}
	p.state.JD = jd
}

// Predict returns the JD the server is expected to show right now.
func (p *Predictor) Predict() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.predictLocked()
}

func (p *Predictor) predictLocked() float64 {
	if p.suspended {
		return p.sync.SyncedJD
	}
	elapsed := p.clk.Now().Sub(p.sync.SyncedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if p.isRealTimeLocked() {
		ms := float64(elapsed) / float64(time.Millisecond)
		return p.sync.SyncedJD + ms/calendar.MillisPerDay
	}
	return p.sync.SyncedJD + elapsed.Seconds()*p.state.TimeRate
}

// SetRate changes the rate without warping time already elapsed: the
// prediction is pinned at its current value first. It returns that value,
// which the caller sends to the server along with the rate.
func (p *Predictor) SetRate(rate float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setRateLocked(rate)
}

func (p *Predictor) setRateLocked(rate float64) float64 {
	jd := p.predictLocked()
	p.resyncLocked(jd)
	p.state.TimeRate = rate
	return jd
}

// NextRate applies the step table to rate. Multiplying or dividing by 10
// applies while moving at least at real-time speed in the step direction;
// otherwise the rate snaps to -1x, 0 or +1x real time, so stopped and real
// time are passed through rather than skipped.
func NextRate(rate float64, dir Direction) float64 {
	const s1 = calendar.JDSecond
	s := rate
	if dir == Increase {
		switch {
		case s >= s1:
			s *= 10
		case s < -s1:
			s /= 10
		case s >= 0 && s < s1:
			s = s1
		case s >= -s1 && s < 0:
			s = 0
		}
		return s
	}
	switch {
	case s > s1:
		s /= 10
	case s <= -s1:
		s *= 10
	case s > -s1 && s <= 0:
		s = -s1
	case s > 0 && s <= s1:
		s = 0
	}
	return s
}

// StepRate moves the rate one step in dir. It returns the new rate and the
// JD the prediction was pinned to.
func (p *Predictor) StepRate(dir Direction) (rate, jd float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rate = NextRate(p.state.TimeRate, dir)
	return rate, p.setRateLocked(rate)
}

// TogglePlayPause stops a real-time clock and starts any other at real-time
// speed.
func (p *Predictor) TogglePlayPause() (rate, jd float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rate = calendar.JDSecond
	if p.isRealTimeLocked() {
		rate = 0
	}
	return rate, p.setRateLocked(rate)
}

// Suspend freezes the prediction at its current value.
func (p *Predictor) Suspend() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.suspended {
		return
	}
	p.resyncLocked(p.predictLocked())
	p.suspended = true
}

// Resume restarts prediction from the frozen value.
func (p *Predictor) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.suspended {
		return
	}
	p.suspended = false
	p.resyncLocked(p.sync.SyncedJD)
}

// Suspended reports whether prediction is frozen.
func (p *Predictor) Suspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspended
}

// IsRealTime reports whether the rate is 1:1 with real time.
func (p *Predictor) IsRealTime() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isRealTimeLocked()
}

func (p *Predictor) isRealTimeLocked() bool {
	return IsRealTimeRate(p.state.TimeRate)
}

// IsRealTimeRate reports whether rate is within tolerance of real time.
func IsRealTimeRate(rate float64) bool {
	return math.Abs(rate-calendar.JDSecond) < realTimeTolerance
}

// State returns the current state with JD replaced by the prediction.
func (p *Predictor) State() model.TimeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	s.JD = p.predictLocked()
	return s
}

// Sync returns the current wall-clock sync point.
func (p *Predictor) Sync() model.WallClockSync {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sync
}

// Buttons reports the button state for the current rate, using the same
// thresholds as the planetarium GUI.
func (p *Predictor) Buttons() Buttons {
	p.mu.Lock()
	defer p.mu.Unlock()
	rate := p.state.TimeRate
	b := Buttons{
		Rewind:  rate < -0.99*calendar.JDSecond,
		Forward: rate > 1.01*calendar.JDSecond,
		Now:     p.state.IsTimeNow,
	}
	switch {
	case rate == 0:
		b.Paused = true
	case p.isRealTimeLocked():
		b.Playing = true
	}
	return b
}
