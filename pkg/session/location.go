package session

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/daviddao/skyclock/pkg/model"
)

// Location field groups. Each group has its own queue; fields of a group
// are always sent together.
const (
	groupPosition = "position"
	groupAltitude = "altitude"
	groupPlanet   = "planet"
	groupPlace    = "place"
)

var locationGroups = []string{groupPosition, groupAltitude, groupPlanet, groupPlace}

var locationFieldGroup = map[string]string{
	"latitude":  groupPosition,
	"longitude": groupPosition,
	"altitude":  groupAltitude,
	"planet":    groupPlanet,
	"name":      groupPlace,
	"country":   groupPlace,
}

// LocationField returns the ref of a location field.
func LocationField(field string) model.EditRef {
	return model.EditRef{Kind: model.EditLocation, Field: field}
}

// SetLocationField parses value for one of the location fields latitude,
// longitude, altitude, planet, name or country, applies it locally and
// queues it. Unparseable or out-of-range values are dropped. It reports
// whether the location changed.
func (s *Session) SetLocationField(field, value string) bool {
	group, ok := locationFieldGroup[field]
	if !ok {
		return false
	}
	value = strings.TrimSpace(value)

	s.mu.Lock()
	loc := s.loc
	switch field {
	case "latitude":
		v, ok := parseCoord(value, 90)
		if !ok {
			s.mu.Unlock()
			return false
		}
		loc.Latitude = v
	case "longitude":
		v, ok := parseCoord(value, 180)
		if !ok {
			s.mu.Unlock()
			return false
		}
		loc.Longitude = v
	case "altitude":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			s.mu.Unlock()
			return false
		}
		loc.Altitude = int(math.Round(v))
	case "planet":
		if value == "" {
			s.mu.Unlock()
			return false
		}
		loc.Planet = value
	case "name":
		loc.Name = value
	case "country":
		loc.Country = value
	}
	if loc == s.loc {
		s.mu.Unlock()
		return false
	}
	s.loc = loc
	s.force = true
	s.mu.Unlock()

	s.locQ[group].Enqueue(locationPayload(group, loc))
	s.render()
	return true
}

func parseCoord(raw string, limit float64) (float64, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || v < -limit || v > limit {
		return 0, false
	}
	return v, true
}

func locationPayload(group string, loc model.Location) model.LocationUpdate {
	switch group {
	case groupPosition:
		return model.LocationUpdate{Latitude: model.Float(loc.Latitude), Longitude: model.Float(loc.Longitude)}
	case groupAltitude:
		return model.LocationUpdate{Altitude: model.Int(loc.Altitude)}
	case groupPlanet:
		return model.LocationUpdate{Planet: loc.Planet}
	default:
		return model.LocationUpdate{Name: loc.Name, Country: loc.Country}
	}
}

// Location returns the locally known observer location, including edits
// not yet confirmed.
func (s *Session) Location() model.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// SearchLocations looks up locations by name. A search still running is
// aborted first; its caller gets an error for which remote.IsAborted is
// true.
func (s *Session) SearchLocations(ctx context.Context, term string) ([]string, error) {
	if s.cfg.Searcher == nil {
		return nil, nil
	}
	ctx, done := s.lookups.search.Begin(ctx)
	defer done()
	return s.cfg.Searcher.SearchLocations(ctx, term)
}

// NearbyLocations lists locations within radius degrees of the current
// position, aborting a lookup still running.
func (s *Session) NearbyLocations(ctx context.Context, radius float64) ([]string, error) {
	if s.cfg.Searcher == nil {
		return nil, nil
	}
	loc := s.Location()
	ctx, done := s.lookups.nearby.Begin(ctx)
	defer done()
	return s.cfg.Searcher.NearbyLocations(ctx, loc.Planet, loc.Latitude, loc.Longitude, radius)
}

// locationGroupBusyLocked reports whether pushes must leave group alone.
func (s *Session) locationGroupBusyLocked(group string) bool {
	if s.locQ[group].Queued() {
		return true
	}
	for field, g := range locationFieldGroup {
		if g == group && s.paused[LocationField(field)] {
			return true
		}
	}
	return false
}
