package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/daviddao/skyclock/pkg/model"
)

const testServer = "http://localhost:8090"

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func edit(endpoint string, sent time.Time, outcome model.Outcome) model.EditRecord {
	return model.EditRecord{
		Server:     testServer,
		Endpoint:   endpoint,
		Payload:    "time=2451545.25",
		EnqueuedAt: sent.Add(-500 * time.Millisecond),
		SentAt:     sent,
		Outcome:    outcome,
	}
}

// --- Edit tests ---

func TestRecordEdit_FillsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.RecordEdit(ctx, edit("/api/main/time", t0, model.OutcomeOK)); err != nil {
		t.Fatalf("RecordEdit: %v", err)
	}
	got, err := s.ListEdits(ctx, EditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d edits, want 1", len(got))
	}
	if got[0].ID == "" {
		t.Fatal("RecordEdit should assign an ID")
	}
	if !got[0].SentAt.Equal(t0) {
		t.Fatalf("SentAt: got %v, want %v", got[0].SentAt, t0)
	}
	if got[0].Payload != "time=2451545.25" {
		t.Fatalf("Payload: got %q", got[0].Payload)
	}
}

func TestRecordEdit_KeepsGivenID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := edit("/api/main/time", t0, model.OutcomeOK)
	rec.ID = "fixed-id"
	if err := s.RecordEdit(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordEdit(ctx, rec); err == nil {
		t.Fatal("duplicate ID should be rejected")
	}
}

func TestListEdits_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		rec := edit("/api/main/time", t0.Add(time.Duration(i)*time.Second), model.OutcomeOK)
		rec.Payload = fmt.Sprintf("time=%d", i)
		if err := s.RecordEdit(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.ListEdits(ctx, EditFilter{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d edits, want 3", len(got))
	}
	for i, want := range []string{"time=4", "time=3", "time=2"} {
		if got[i].Payload != want {
			t.Errorf("edit %d: got %q, want %q", i, got[i].Payload, want)
		}
	}
}

func TestListEdits_SubsecondOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	// 0.9s sorts before 0.10s as RFC3339Nano text; the fixed layout must not.
	early := edit("/api/main/time", t0.Add(100*time.Millisecond), model.OutcomeOK)
	early.Payload = "early"
	late := edit("/api/main/time", t0.Add(900*time.Millisecond), model.OutcomeOK)
	late.Payload = "late"
	for _, rec := range []model.EditRecord{late, early} {
		if err := s.RecordEdit(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.ListEdits(ctx, EditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Payload != "late" || got[1].Payload != "early" {
		t.Fatalf("order: got %q, %q", got[0].Payload, got[1].Payload)
	}
}

func TestListEdits_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	recs := []model.EditRecord{
		edit("/api/main/time", t0, model.OutcomeOK),
		edit("/api/main/time", t0.Add(time.Second), model.OutcomeRejected),
		edit("/api/location/setlocationfields", t0.Add(2*time.Second), model.OutcomeOK),
		edit("/api/stelproperty/set", t0.Add(3*time.Second), model.OutcomeTransport),
	}
	other := edit("/api/main/time", t0.Add(4*time.Second), model.OutcomeOK)
	other.Server = "http://elsewhere:8090"
	recs = append(recs, other)
	for _, rec := range recs {
		if err := s.RecordEdit(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter EditFilter
		want   int
	}{
		{"all", EditFilter{}, 5},
		{"server", EditFilter{Server: testServer}, 4},
		{"endpoint", EditFilter{Endpoint: "/api/main/time"}, 3},
		{"outcome", EditFilter{Outcome: model.OutcomeOK}, 3},
		{"since", EditFilter{Since: t0.Add(2 * time.Second)}, 3},
		{"combined", EditFilter{Server: testServer, Endpoint: "/api/main/time", Outcome: model.OutcomeRejected}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListEdits(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d edits, want %d", len(got), tt.want)
			}
		})
	}
}

func TestCountEdits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, o := range []model.Outcome{model.OutcomeOK, model.OutcomeOK, model.OutcomeAborted, model.OutcomeTransport} {
		if err := s.RecordEdit(ctx, edit("/api/main/time", t0.Add(time.Duration(i)*time.Second), o)); err != nil {
			t.Fatal(err)
		}
	}
	counts, err := s.CountEdits(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[model.Outcome]int64{model.OutcomeOK: 2, model.OutcomeAborted: 1, model.OutcomeTransport: 1}
	for o, n := range want {
		if counts[o] != n {
			t.Errorf("%s: got %d, want %d", o, counts[o], n)
		}
	}
	if counts[model.OutcomeRejected] != 0 {
		t.Errorf("rejected: got %d, want 0", counts[model.OutcomeRejected])
	}
}

func TestPruneEdits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := s.RecordEdit(ctx, edit("/api/main/time", t0.Add(time.Duration(i)*time.Hour), model.OutcomeOK)); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.PruneEdits(ctx, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("pruned %d, want 2", n)
	}
	left, err := s.ListEdits(ctx, EditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 2 {
		t.Fatalf("got %d edits left, want 2", len(left))
	}
}

func TestRecordEdit_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.RecordEdit(ctx, edit("/api/main/time", t0.Add(time.Duration(i)*time.Millisecond), model.OutcomeOK))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent RecordEdit: %v", err)
		}
	}
	counts, err := s.CountEdits(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[model.OutcomeOK] != 20 {
		t.Fatalf("got %d edits, want 20", counts[model.OutcomeOK])
	}
}

// --- Snapshot tests ---

func TestLatestSnapshot_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LatestSnapshot(context.Background(), testServer)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSaveSnapshot_Upsert(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return t0 }
	ctx := context.Background()

	st := &model.Status{
		Time: model.TimeState{JD: 2451545, TimeRate: 1.0 / 86400, GMTShift: 1.0 / 24, IsTimeNow: true, TimeZone: "Europe/Vienna"},
		Location: model.Location{
			Name: "Vienna", Country: "Austria", Planet: "Earth",
			Latitude: 48.2, Longitude: 16.37, Altitude: 170,
		},
	}
	if err := s.SaveSnapshot(ctx, testServer, st); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	s.now = func() time.Time { return t0.Add(time.Minute) }
	st.Time.JD = 2451546
	st.Time.IsTimeNow = false
	st.Location.Name = "Graz"
	if err := s.SaveSnapshot(ctx, testServer, st); err != nil {
		t.Fatalf("SaveSnapshot (update): %v", err)
	}

	snap, err := s.LatestSnapshot(ctx, testServer)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if snap.Time.JD != 2451546 {
		t.Errorf("JD: got %v, want 2451546", snap.Time.JD)
	}
	if snap.Time.IsTimeNow {
		t.Error("IsTimeNow should be false after update")
	}
	if snap.Time.TimeZone != "Europe/Vienna" {
		t.Errorf("TimeZone: got %q", snap.Time.TimeZone)
	}
	if snap.Location.Name != "Graz" || snap.Location.Altitude != 170 {
		t.Errorf("Location: got %+v", snap.Location)
	}
	if !snap.SeenAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("SeenAt: got %v, want %v", snap.SeenAt, t0.Add(time.Minute))
	}

	var rows int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Fatalf("got %d snapshot rows, want 1", rows)
	}
}

func TestSnapshotsPerServer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := &model.Status{Location: model.Location{Name: "Paris"}}
	b := &model.Status{Location: model.Location{Name: "Paranal"}}
	if err := s.SaveSnapshot(ctx, "http://a:8090", a); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSnapshot(ctx, "http://b:8090", b); err != nil {
		t.Fatal(err)
	}
	snap, err := s.LatestSnapshot(ctx, "http://a:8090")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Location.Name != "Paris" {
		t.Fatalf("got %q, want Paris", snap.Location.Name)
	}
}
