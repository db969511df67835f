package session

import (
	"context"
	"math"
	"time"

	"github.com/daviddao/skyclock/pkg/calendar"
	"github.com/daviddao/skyclock/pkg/clock"
	"github.com/daviddao/skyclock/pkg/model"
	"github.com/daviddao/skyclock/pkg/remote"
)

// Date and time fields accepted by SetDateTimeField.
var (
	Year   = model.EditRef{Kind: model.EditDate, Field: "year"}
	Month  = model.EditRef{Kind: model.EditDate, Field: "month"}
	Day    = model.EditRef{Kind: model.EditDate, Field: "day"}
	Hour   = model.EditRef{Kind: model.EditTime, Field: "hour"}
	Minute = model.EditRef{Kind: model.EditTime, Field: "minute"}
	Second = model.EditRef{Kind: model.EditTime, Field: "second"}
	JD     = model.EditRef{Kind: model.EditJD}
	MJD    = model.EditRef{Kind: model.EditMJD}
)

// fieldRange bounds each calendar field. Values one step outside the
// calendar range roll over into the neighbouring field.
var fieldRange = map[model.EditRef][2]float64{
	Year:   {-100000, 100000},
	Month:  {0, 13},
	Day:    {0, 32},
	Hour:   {-1, 24},
	Minute: {-1, 60},
	Second: {-1, 60},
}

// SetDateTimeField sets one calendar field of the displayed local time,
// normalizes overflow into the neighbouring fields, and makes the result
// the new clock value. value is clamped to the field's range and truncated
// to an integer. NaN, infinities and unknown refs are dropped. It reports
// whether the clock changed.
func (s *Session) SetDateTimeField(ref model.EditRef, value float64) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		s.log.Debug().Stringer("field", ref).Msg("session: prevented non-numeric value")
		return false
	}
	bounds, ok := fieldRange[ref]
	if !ok {
		return false
	}
	v := int(math.Trunc(math.Max(bounds[0], math.Min(bounds[1], value))))

	s.mu.Lock()
	if !s.timeEditingLocked() {
		s.civilValid = false
	}
	s.seedCivilLocked()
	c := s.civil
	switch ref {
	case Year:
		c.Year = v
	case Month:
		c.Month = v
	case Day:
		c.Day = v
	case Hour:
		c.Hour = v
	case Minute:
		c.Minute = v
	case Second:
		c.Second = v
	}
	if c == s.civil {
		s.mu.Unlock()
		return false
	}

	calendar.NormalizeRollover(&c)
	s.civil = c
	jd := calendar.CivilToJD(c) - s.shiftLocked()
	s.pred.Resync(jd)
	s.force = true
	s.mu.Unlock()

	s.timeQ.Enqueue(model.TimeUpdate{Time: model.Float(jd)})
	s.render()
	return true
}

// SetJD makes jd the new clock value. NaN and infinities are dropped.
func (s *Session) SetJD(jd float64) bool {
	if math.IsNaN(jd) || math.IsInf(jd, 0) {
		s.log.Debug().Msg("session: prevented non-numeric jd")
		return false
	}
	s.mu.Lock()
	if s.pred.Predict() == jd {
		s.mu.Unlock()
		return false
	}
	s.pred.Resync(jd)
	s.civilValid = false
	s.seedCivilLocked()
	s.force = true
	s.mu.Unlock()

	s.timeQ.Enqueue(model.TimeUpdate{Time: model.Float(jd)})
	s.render()
	return true
}

// SetMJD makes the modified Julian Day mjd the new clock value.
func (s *Session) SetMJD(mjd float64) bool {
	return s.SetJD(calendar.MJDToJD(mjd))
}

// SetNow jumps the clock to the current wall-clock instant and tells the
// server at once, bypassing the debounce.
func (s *Session) SetNow() float64 {
	jd := calendar.TimeToJD(s.clk.Now())
	s.mu.Lock()
	s.pred.Resync(jd)
	s.civilValid = false
	s.force = true
	s.mu.Unlock()

	s.postTime(model.TimeUpdate{Time: model.Float(jd)})
	s.render()
	return jd
}

// IncreaseRate moves the rate one step up the rate table.
func (s *Session) IncreaseRate() float64 {
	rate, jd := s.pred.StepRate(clock.Increase)
	s.postTime(model.TimeUpdate{Time: model.Float(jd), TimeRate: model.Float(rate)})
	return rate
}

// DecreaseRate moves the rate one step down the rate table.
func (s *Session) DecreaseRate() float64 {
	rate, jd := s.pred.StepRate(clock.Decrease)
	s.postTime(model.TimeUpdate{Time: model.Float(jd), TimeRate: model.Float(rate)})
	return rate
}

// TogglePlayPause stops a real-time clock or starts any other at real time.
func (s *Session) TogglePlayPause() float64 {
	rate, jd := s.pred.TogglePlayPause()
	s.postTime(model.TimeUpdate{Time: model.Float(jd), TimeRate: model.Float(rate)})
	return rate
}

// SetRate sets an arbitrary rate in JD per real second.
func (s *Session) SetRate(rate float64) bool {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return false
	}
	jd := s.pred.SetRate(rate)
	s.postTime(model.TimeUpdate{Time: model.Float(jd), TimeRate: model.Float(rate)})
	return true
}

// TimeState returns the predicted time state.
func (s *Session) TimeState() model.TimeState { return s.pred.State() }

// Buttons returns the time button state for the current rate.
func (s *Session) Buttons() clock.Buttons { return s.pred.Buttons() }

// seedCivilLocked derives the displayed calendar fields from the
// prediction unless they are already held by an edit.
func (s *Session) seedCivilLocked() {
	if s.civilValid {
		return
	}
	st := s.pred.State()
	s.civil = calendar.JDToCivil(st.JD + st.GMTShift)
	s.civilValid = true
}

// shiftLocked returns the timezone offset for converting local input: the
// snapshot taken when the time edit began, or the latest known one.
func (s *Session) shiftLocked() float64 {
	if s.editShift != nil {
		return *s.editShift
	}
	return s.pred.State().GMTShift
}

// postTime sends a time command outside the debounced queue. Direct posts
// are sent one at a time in call order. The command carries the predicted
// JD, so a time edit still waiting in the queue is dropped: sending it later
// would rewind the server.
func (s *Session) postTime(u model.TimeUpdate) {
	p := directPost{payload: u, enqueuedAt: s.clk.Now()}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.timePosts == 0 {
		s.directIdle = make(chan struct{})
	}
	s.timePosts++
	s.directQ = append(s.directQ, p)
	s.mu.Unlock()

	if s.timeQ.Discard() {
		s.log.Debug().Msg("session: queued time edit superseded by direct post")
	}
	select {
	case s.directWake <- struct{}{}:
	default:
	}
}

type directPost struct {
	payload    model.TimeUpdate
	enqueuedAt time.Time
}

func (s *Session) directLoop() {
	for {
		select {
		case <-s.directWake:
			for {
				p, ok := s.nextDirect()
				if !ok {
					break
				}
				s.sendDirect(p)
			}
		case <-s.directDone:
			return
		}
	}
}

func (s *Session) nextDirect() (directPost, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.directQ) == 0 {
		return directPost{}, false
	}
	p := s.directQ[0]
	s.directQ = s.directQ[1:]
	return p, true
}

func (s *Session) sendDirect(p directPost) {
	defer func() {
		s.mu.Lock()
		s.finishDirectLocked(1)
		s.mu.Unlock()
	}()
	ctx := context.Background()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	// A queued time write already on the wire lands first.
	if err := s.timeQ.WaitSent(ctx); err != nil {
		s.log.Debug().Err(err).Msg("session: time queue still busy")
	}
	sentAt := s.clk.Now()
	form := p.payload.Form()
	err := s.cfg.Poster.Post(ctx, remote.TimeEndpoint, form)
	s.complete(remote.TimeEndpoint, form, p.enqueuedAt, sentAt, err)
}

func (s *Session) finishDirectLocked(n int) {
	if n == 0 {
		return
	}
	s.timePosts -= n
	if s.timePosts == 0 && s.directIdle != nil {
		close(s.directIdle)
		s.directIdle = nil
	}
}
