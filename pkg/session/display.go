package session

import (
	"sort"
	"strconv"

	"github.com/daviddao/skyclock/pkg/calendar"
	"github.com/daviddao/skyclock/pkg/model"
)

// FieldUpdate is a new display value for one field.
type FieldUpdate struct {
	Ref   model.EditRef
	Value string
}

// Refresh is one animation step. It returns the fields whose displayed
// value changed since the last step, skipping fields being edited. After an
// edit every unpaused field is returned once.
func (s *Session) Refresh() []FieldUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked()
}

// ForceRefresh returns every unpaused field regardless of change.
func (s *Session) ForceRefresh() []FieldUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.force = true
	return s.refreshLocked()
}

func (s *Session) refreshLocked() []FieldUpdate {
	if !s.haveStatus && !s.force {
		return nil
	}
	var out []FieldUpdate
	emit := func(ref model.EditRef, val string) {
		if s.paused[ref] {
			return
		}
		if prev, ok := s.shown[ref]; ok && prev == val && !s.force {
			return
		}
		s.shown[ref] = val
		out = append(out, FieldUpdate{Ref: ref, Value: val})
	}

	jd := s.pred.Predict()
	if !s.timeEditingLocked() {
		s.civilValid = false
		s.seedCivilLocked()
	}
	c := s.civil
	emit(Year, strconv.Itoa(c.Year))
	emit(Month, strconv.Itoa(c.Month))
	emit(Day, strconv.Itoa(c.Day))
	emit(Hour, strconv.Itoa(c.Hour))
	emit(Minute, strconv.Itoa(c.Minute))
	emit(Second, strconv.Itoa(c.Second))
	emit(JD, strconv.FormatFloat(jd, 'f', 5, 64))
	emit(MJD, strconv.FormatFloat(calendar.JDToMJD(jd), 'f', 5, 64))

	loc := s.loc
	emit(LocationField("latitude"), formatNumber(loc.Latitude))
	emit(LocationField("longitude"), formatNumber(loc.Longitude))
	emit(LocationField("altitude"), strconv.Itoa(loc.Altitude))
	emit(LocationField("planet"), loc.Planet)
	emit(LocationField("name"), loc.Name)
	emit(LocationField("country"), loc.Country)

	ids := make([]string, 0, len(s.props))
	for id := range s.props {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		emit(PropertyField(id), s.props[id])
	}

	s.force = false
	return out
}

// render pushes a forced refresh to the Render hook, if any.
func (s *Session) render() {
	if s.cfg.Render == nil {
		return
	}
	s.cfg.Render(s.ForceRefresh())
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
