package session

import (
	"context"
	"net/url"
	"time"

	"github.com/daviddao/skyclock/pkg/model"
	"github.com/daviddao/skyclock/pkg/queue"
	"github.com/daviddao/skyclock/pkg/remote"
)

// ApplyStatus takes a status push from the server. Fields being edited or
// with a write still queued keep their local value; the time keeps its JD
// and rate but takes the new offsets. Any push clears the connection-lost
// flag.
func (s *Session) ApplyStatus(st *model.Status) {
	if st == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timeEditingLocked() || s.timeQ.Queued() || s.timePosts > 0 {
		s.pred.UpdateConditions(st.Time)
	} else {
		s.pred.Update(st.Time)
		s.civilValid = false
	}

	s.applyLocationLocked(st.Location)

	if pc := st.PropertyChanges; pc != nil {
		for id, v := range pc.Changes {
			if s.propertyBusyLocked(id) {
				continue
			}
			s.props[id] = formatProperty(v)
		}
		s.propID = pc.ID
	}

	s.view = st.View
	s.selection = st.SelectionInfo
	s.haveStatus = true
	if s.lost {
		s.log.Info().Msg("session: connection restored")
	}
	s.lost = false
	s.lostErr = nil
	s.lastContact = s.clk.Now()
}

func (s *Session) applyLocationLocked(in model.Location) {
	loc := s.loc
	loc.Role, loc.State, loc.LandscapeKey = in.Role, in.State, in.LandscapeKey
	if !s.locationGroupBusyLocked(groupPosition) {
		loc.Latitude, loc.Longitude = in.Latitude, in.Longitude
	}
	if !s.locationGroupBusyLocked(groupAltitude) {
		loc.Altitude = in.Altitude
	}
	if !s.locationGroupBusyLocked(groupPlanet) {
		loc.Planet = in.Planet
	}
	if !s.locationGroupBusyLocked(groupPlace) {
		loc.Name, loc.Country = in.Name, in.Country
	}
	s.loc = loc
}

// Connection describes contact with the server.
type Connection struct {
	Lost        bool
	Err         error
	LastContact time.Time // zero before the first status
	Since       time.Duration
}

// MarkConnectionLost records a transport failure. The next successful
// status clears it.
func (s *Session) MarkConnectionLost(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lost {
		s.log.Warn().Err(err).Msg("session: connection lost")
	}
	s.lost = true
	s.lostErr = err
}

// Connection returns the connection state and the time since the last
// successful contact.
func (s *Session) Connection() Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Connection{Lost: s.lost, Err: s.lostErr, LastContact: s.lastContact}
	if !s.lastContact.IsZero() {
		c.Since = s.clk.Now().Sub(s.lastContact)
	}
	return c
}

// View returns the view part of the last status.
func (s *Session) View() model.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// SelectionInfo returns the selected object description of the last status.
func (s *Session) SelectionInfo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// completion adapts complete to a queue callback.
func completion[T model.Payload](s *Session) func(queue.Result[T]) {
	return func(r queue.Result[T]) {
		s.complete(r.Edit.Endpoint, r.Edit.Payload.Form(), r.Edit.EnqueuedAt, r.SentAt, r.Err)
	}
}

// complete classifies the outcome of a write. Transport failures mark the
// connection lost, rejections are shown to the user, aborts are ignored.
// Local state is never rolled back.
func (s *Session) complete(endpoint string, form url.Values, enqueuedAt, sentAt time.Time, err error) {
	outcome := Classify(err)
	switch outcome {
	case model.OutcomeTransport:
		s.MarkConnectionLost(err)
		s.notify(Notice{Outcome: outcome, Endpoint: endpoint, Message: err.Error()})
	case model.OutcomeRejected:
		rej, _ := remote.IsRejected(err)
		s.log.Warn().Str("endpoint", endpoint).Str("response", rej.Text).Msg("session: write rejected")
		s.notify(Notice{Outcome: outcome, Endpoint: endpoint, Message: rej.Text})
	}

	if s.cfg.Journal == nil {
		return
	}
	rec := model.EditRecord{
		Server:     s.cfg.Server,
		Endpoint:   endpoint,
		Payload:    form.Encode(),
		EnqueuedAt: enqueuedAt,
		SentAt:     sentAt,
		Outcome:    outcome,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := s.cfg.Journal.RecordEdit(context.Background(), rec); jerr != nil {
		s.log.Error().Err(jerr).Msg("session: journal write failed")
	}
}

// Classify maps a write error onto an outcome. Errors that are neither
// rejections nor aborts count as transport failures.
func Classify(err error) model.Outcome {
	switch {
	case err == nil:
		return model.OutcomeOK
	case remote.IsAborted(err):
		return model.OutcomeAborted
	default:
		if _, ok := remote.IsRejected(err); ok {
			return model.OutcomeRejected
		}
		return model.OutcomeTransport
	}
}

func (s *Session) notify(n Notice) {
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.Notify(n)
	}
}
