// Package model defines the core domain types for skyclock.
//
// skyclock mirrors the clock of a remote planetarium program. Two ideas
// carry the whole design:
//
//   - Julian Day (JD): a continuous day count with a fractional part,
//     starting at noon. It is the only authoritative time representation;
//     civil calendar fields are always derived from it and never stored.
//
//   - Optimistic edits: the user edits a field locally, the local clock is
//     resynced to the edited value at once, and the server is told later
//     through a debounced write queue. The server round trip is
//     persistence, not the source of truth for the display.
package model

import (
	"net/url"
	"strconv"
	"time"
)

// TimeState is the time-relevant subset of a server status push.
//
// JD is the Julian Day at the moment of the push, TimeRate is expressed in
// JD per real second, GMTShift and DeltaT are in days.
type TimeState struct {
	JD        float64 `json:"jday"`
	TimeRate  float64 `json:"timerate"`
	GMTShift  float64 `json:"gmtShift"`
	DeltaT    float64 `json:"deltaT"`
	IsTimeNow bool    `json:"isTimeNow"`

	// Display-only strings sent by the server.
	TimeZone string `json:"timeZone,omitempty"`
	UTC      string `json:"utc,omitempty"`
	Local    string `json:"local,omitempty"`
}

// WallClockSync pairs a JD with the wall-clock instant it was valid at.
// SyncedAt never moves backwards.
type WallClockSync struct {
	SyncedJD float64   `json:"synced_jd"`
	SyncedAt time.Time `json:"synced_at"`
}

// CivilDateTime holds calendar fields derived from a JD. During editing the
// fields may leave their canonical ranges until rollover normalization.
type CivilDateTime struct {
	Year   int `json:"year"`
	Month  int `json:"month"`
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// Location is the observer location reported by the server.
type Location struct {
	Name         string  `json:"name"`
	Role         string  `json:"role,omitempty"`
	Planet       string  `json:"planet"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Altitude     int     `json:"altitude"`
	Country      string  `json:"country,omitempty"`
	State        string  `json:"state,omitempty"`
	LandscapeKey string  `json:"landscapeKey,omitempty"`
}

// View is the current view information of a status push.
type View struct {
	FOV float64 `json:"fov"`
}

// Changes lists catalog entries that changed since a client-supplied id.
// The server returns the new id to pass on the next poll.
type Changes struct {
	ID      int            `json:"id"`
	Changes map[string]any `json:"changes"`
}

// Status is the body of GET /api/main/status.
type Status struct {
	Location        Location  `json:"location"`
	Time            TimeState `json:"time"`
	SelectionInfo   string    `json:"selectioninfo,omitempty"`
	View            View      `json:"view"`
	ActionChanges   *Changes  `json:"actionChanges,omitempty"`
	PropertyChanges *Changes  `json:"propertyChanges,omitempty"`
}

// EditKind discriminates the field an edit targets.
type EditKind string

const (
	EditDate     EditKind = "date"
	EditTime     EditKind = "time"
	EditJD       EditKind = "jd"
	EditMJD      EditKind = "mjd"
	EditLocation EditKind = "location"
	EditProperty EditKind = "property"
)

// EditRef identifies an editable field: {Kind: date, Field: year},
// {Kind: location, Field: latitude}, {Kind: property, Field: "actionShowGrid"}.
type EditRef struct {
	Kind  EditKind `json:"kind"`
	Field string   `json:"field,omitempty"`
}

// String renders the ref as kind.field.
func (r EditRef) String() string {
	if r.Field == "" {
		return string(r.Kind)
	}
	return string(r.Kind) + "." + r.Field
}

// IsTime reports whether the ref edits the clock.
func (r EditRef) IsTime() bool {
	switch r.Kind {
	case EditDate, EditTime, EditJD, EditMJD:
		return true
	}
	return false
}

// Payload is anything a write queue can send as a form-encoded command.
type Payload interface {
	Form() url.Values
}

// PendingEdit is the single unsent edit a queue holds.
type PendingEdit[T Payload] struct {
	Endpoint   string    `json:"endpoint"`
	Payload    T         `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TimeUpdate is the body of POST /api/main/time. Nil fields are omitted.
type TimeUpdate struct {
	Time     *float64 `json:"time,omitempty"`
	TimeRate *float64 `json:"timerate,omitempty"`
}

// Form implements Payload.
func (u TimeUpdate) Form() url.Values {
	v := url.Values{}
	if u.Time != nil {
		v.Set("time", formatFloat(*u.Time))
	}
	if u.TimeRate != nil {
		v.Set("timerate", formatFloat(*u.TimeRate))
	}
	return v
}

// LocationUpdate is the body of POST /api/location/setlocationfields.
// Only the fields of one field group are set per update.
type LocationUpdate struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Altitude  *int     `json:"altitude,omitempty"`
	Planet    string   `json:"planet,omitempty"`
	Name      string   `json:"name,omitempty"`
	Country   string   `json:"country,omitempty"`
}

// Form implements Payload.
func (u LocationUpdate) Form() url.Values {
	v := url.Values{}
	if u.Latitude != nil {
		v.Set("latitude", formatFloat(*u.Latitude))
	}
	if u.Longitude != nil {
		v.Set("longitude", formatFloat(*u.Longitude))
	}
	if u.Altitude != nil {
		v.Set("altitude", strconv.Itoa(*u.Altitude))
	}
	if u.Planet != "" {
		v.Set("planet", u.Planet)
	}
	if u.Name != "" {
		v.Set("name", u.Name)
	}
	if u.Country != "" {
		v.Set("country", u.Country)
	}
	return v
}

// PropertyUpdate is the body of POST /api/stelproperty/set.
type PropertyUpdate struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Form implements Payload.
func (u PropertyUpdate) Form() url.Values {
	return url.Values{"id": {u.ID}, "value": {u.Value}}
}

// LocationSearchResult is one entry returned by a location search.
type LocationSearchResult struct {
	ID string `json:"id"`
}

// EditRecord is a completed write as kept in the local journal.
type EditRecord struct {
	ID         string    `json:"id"`
	Server     string    `json:"server"`
	Endpoint   string    `json:"endpoint"`
	Payload    string    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	SentAt     time.Time `json:"sent_at"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
}

// Outcome classifies how a write ended.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeRejected  Outcome = "rejected"
	OutcomeTransport Outcome = "transport"
	OutcomeAborted   Outcome = "aborted"
)

// Snapshot is the last status seen from a server, cached for offline use.
type Snapshot struct {
	Server   string    `json:"server"`
	Time     TimeState `json:"time"`
	Location Location  `json:"location"`
	SeenAt   time.Time `json:"seen_at"`
}

// Float returns a pointer to f, for optional payload fields.
func Float(f float64) *float64 { return &f }

// Int returns a pointer to i, for optional payload fields.
func Int(i int) *int { return &i }

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
