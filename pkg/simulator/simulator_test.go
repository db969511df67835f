package simulator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/skyclock/pkg/calendar"
	"github.com/daviddao/skyclock/pkg/clock"
	"github.com/daviddao/skyclock/pkg/model"
)

var t0 = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *clock.Manual, *httptest.Server) {
	t.Helper()
	m := clock.NewManual(t0)
	s := New(Options{Clock: m})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, m, ts
}

func post(t *testing.T, ts *httptest.Server, path string, form url.Values) (int, string) {
	t.Helper()
	resp, err := http.PostForm(ts.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	var sb bytes.Buffer
	_, err = sb.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, sb.String()
}

func getStatus(t *testing.T, ts *httptest.Server, query string) model.Status {
	t.Helper()
	resp, err := http.Get(ts.URL + "/api/main/status" + query)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st model.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func TestStatusAdvancesInRealTime(t *testing.T) {
	_, m, ts := newTestServer(t)

	st := getStatus(t, ts, "")
	assert.InDelta(t, calendar.TimeToJD(t0), st.Time.JD, 1e-9)
	assert.True(t, clock.IsRealTimeRate(st.Time.TimeRate))
	assert.Equal(t, "Vienna", st.Location.Name)

	m.Advance(time.Hour)
	st = getStatus(t, ts, "")
	assert.InDelta(t, calendar.TimeToJD(t0.Add(time.Hour)), st.Time.JD, 1e-8)
}

func TestSetTime(t *testing.T) {
	s, m, ts := newTestServer(t)

	code, body := post(t, ts, "/api/main/time", url.Values{"time": {"2451545"}, "timerate": {"0"}})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	m.Advance(time.Minute)
	assert.Equal(t, 2451545.0, s.Time().JD, "rate 0 holds the clock")
	assert.Len(t, s.TimePosts(), 1)
}

func TestSetTimeRejections(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
		want string
	}{
		{"nan", url.Values{"time": {"NaN"}}, "error: invalid time value"},
		{"inf", url.Values{"time": {"+Inf"}}, "error: invalid time value"},
		{"garbage", url.Values{"time": {"soon"}}, "error: invalid parameters, use time/timerate as double values"},
		{"empty", url.Values{}, "error: invalid parameters, use time/timerate as double values"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, ts := newTestServer(t)
			before := s.Time().JD
			code, body := post(t, ts, "/api/main/time", tt.form)
			assert.Equal(t, http.StatusOK, code)
			assert.Equal(t, tt.want, body)
			assert.Equal(t, before, s.Time().JD)
			assert.Empty(t, s.TimePosts())
		})
	}
}

func TestSetLocationFields(t *testing.T) {
	s, _, ts := newTestServer(t)

	_, body := post(t, ts, "/api/location/setlocationfields", url.Values{
		"latitude": {"-24.5"}, "longitude": {"-70.25"},
	})
	require.Equal(t, "ok", body)
	loc := s.Location()
	assert.Equal(t, -24.5, loc.Latitude)
	assert.Equal(t, -70.25, loc.Longitude)
	assert.Equal(t, 190, loc.Altitude, "fields not sent are kept")

	_, body = post(t, ts, "/api/location/setlocationfields", url.Values{"latitude": {"91"}})
	assert.Equal(t, "error: invalid latitude", body)
	assert.Equal(t, -24.5, s.Location().Latitude)

	_, body = post(t, ts, "/api/location/setlocationfields", url.Values{"planet": {"Mars"}, "altitude": {"-10"}})
	require.Equal(t, "ok", body)
	assert.Equal(t, "Mars", s.Location().Planet)
	assert.Equal(t, -10, s.Location().Altitude)
}

func TestSearchAndNearby(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/locationsearch/search?term=par")
	require.NoError(t, err)
	var ids []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ids))
	resp.Body.Close()
	assert.Equal(t, []string{"Paranal, Chile", "Paris, France"}, ids)

	resp, err = http.Get(ts.URL + "/api/locationsearch/nearby?planet=Earth&latitude=48&longitude=16&radius=2")
	require.NoError(t, err)
	ids = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ids))
	resp.Body.Close()
	assert.Equal(t, []string{"Graz, Austria", "Vienna, Austria"}, ids)
}

func TestPropertyChanges(t *testing.T) {
	s, _, ts := newTestServer(t)

	assert.Nil(t, getStatus(t, ts, "").PropertyChanges, "no id, no change list")

	st := getStatus(t, ts, "?propId=-2")
	require.NotNil(t, st.PropertyChanges)
	assert.Equal(t, -1, st.PropertyChanges.ID)
	assert.Empty(t, st.PropertyChanges.Changes)

	_, body := post(t, ts, "/api/stelproperty/set", url.Values{"id": {"MilkyWay.flagMilkyWayDisplayed"}, "value": {"true"}})
	require.Equal(t, "ok", body)
	v, ok := s.Property("MilkyWay.flagMilkyWayDisplayed")
	require.True(t, ok)
	assert.Equal(t, "true", v)
	_, body = post(t, ts, "/api/stelproperty/set", url.Values{"id": {"actionShowGrid"}, "value": {"true"}})
	require.Equal(t, "ok", body)

	tests := []struct {
		query  string
		wantID int
		want   []string
	}{
		{"?propId=-2", 2, []string{"MilkyWay.flagMilkyWayDisplayed", "actionShowGrid"}},
		{"?propId=-1", 2, []string{"MilkyWay.flagMilkyWayDisplayed", "actionShowGrid"}},
		{"?propId=0", 2, []string{"MilkyWay.flagMilkyWayDisplayed", "actionShowGrid"}},
		{"?propId=1", 2, []string{"actionShowGrid"}},
		{"?propId=2", 2, nil},
		{"?propId=9", 2, []string{"MilkyWay.flagMilkyWayDisplayed", "actionShowGrid"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			st := getStatus(t, ts, tt.query)
			require.NotNil(t, st.PropertyChanges)
			assert.Equal(t, tt.wantID, st.PropertyChanges.ID)
			var got []string
			for id := range st.PropertyChanges.Changes {
				got = append(got, id)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}

	code, _ := post(t, ts, "/api/stelproperty/set", url.Values{"id": {"x"}})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSetDown(t *testing.T) {
	s, _, ts := newTestServer(t)
	s.SetDown(true)
	resp, err := http.Get(ts.URL + "/api/main/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	s.SetDown(false)
	getStatus(t, ts, "")
	assert.Equal(t, 2, s.Requests())
}
