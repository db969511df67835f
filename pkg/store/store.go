// Package store keeps the local skyclock journal in SQLite.
//
// The journal is a client-side record only: every completed write with its
// outcome, and the last status seen per server so the CLI can show
// something while the server is unreachable. The server stays the only
// authority on time, location and properties.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daviddao/skyclock/pkg/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store is the SQLite journal, opened in WAL mode so the watch command and
// one-shot commands can share it.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the database at path and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS edits (
		id          TEXT PRIMARY KEY,
		server      TEXT NOT NULL,
		endpoint    TEXT NOT NULL,
		payload     TEXT NOT NULL,
		enqueued_at TEXT NOT NULL,
		sent_at     TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_edits_sent ON edits(sent_at);
	CREATE INDEX IF NOT EXISTS idx_edits_server ON edits(server, sent_at);

	CREATE TABLE IF NOT EXISTS snapshots (
		server   TEXT PRIMARY KEY,
		jday     REAL NOT NULL,
		timerate REAL NOT NULL,
		gmt_shift REAL NOT NULL,
		delta_t  REAL NOT NULL,
		is_now   INTEGER NOT NULL,
		time_zone TEXT NOT NULL DEFAULT '',
		loc_name TEXT NOT NULL,
		planet   TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		altitude INTEGER NOT NULL,
		country  TEXT NOT NULL DEFAULT '',
		seen_at  TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Edits
// ---------------------------------------------------------------------------

// RecordEdit appends a completed write. An empty ID is filled with a new
// UUID.
func (s *Store) RecordEdit(ctx context.Context, rec model.EditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return retryOnContention(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO edits (id, server, endpoint, payload, enqueued_at, sent_at, outcome, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Server, rec.Endpoint, rec.Payload,
			formatTime(rec.EnqueuedAt), formatTime(rec.SentAt),
			string(rec.Outcome), rec.Error,
		)
		return err
	})
}

// EditFilter narrows ListEdits. Zero fields match everything.
type EditFilter struct {
	Server   string
	Endpoint string
	Outcome  model.Outcome
	Since    time.Time
	Limit    int // most recent N; 0 means 100
}

// ListEdits returns matching edits, newest first.
func (s *Store) ListEdits(ctx context.Context, f EditFilter) ([]model.EditRecord, error) {
	var where []string
	var args []any
	if f.Server != "" {
		where = append(where, "server = ?")
		args = append(args, f.Server)
	}
	if f.Endpoint != "" {
		where = append(where, "endpoint = ?")
		args = append(args, f.Endpoint)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(f.Outcome))
	}
	if !f.Since.IsZero() {
		where = append(where, "sent_at >= ?")
		args = append(args, formatTime(f.Since))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT id, server, endpoint, payload, enqueued_at, sent_at, outcome, error FROM edits`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY sent_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EditRecord
	for rows.Next() {
		var rec model.EditRecord
		var enq, sent, outcome string
		if err := rows.Scan(&rec.ID, &rec.Server, &rec.Endpoint, &rec.Payload, &enq, &sent, &outcome, &rec.Error); err != nil {
			return nil, err
		}
		rec.EnqueuedAt = parseTime(enq)
		rec.SentAt = parseTime(sent)
		rec.Outcome = model.Outcome(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountEdits returns the number of edits per outcome.
func (s *Store) CountEdits(ctx context.Context) (map[model.Outcome]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM edits GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[model.Outcome]int64{}
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[model.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// PruneEdits deletes edits sent before cutoff and returns how many went.
func (s *Store) PruneEdits(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := retryOnContention(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM edits WHERE sent_at < ?`, formatTime(cutoff))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// SaveSnapshot stores the time and location of a status as the latest
// known state of server.
func (s *Store) SaveSnapshot(ctx context.Context, server string, st *model.Status) error {
	seen := s.now()
	return retryOnContention(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO snapshots (server, jday, timerate, gmt_shift, delta_t, is_now, time_zone,
			                        loc_name, planet, latitude, longitude, altitude, country, seen_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(server) DO UPDATE SET
			   jday = excluded.jday, timerate = excluded.timerate,
			   gmt_shift = excluded.gmt_shift, delta_t = excluded.delta_t,
			   is_now = excluded.is_now, time_zone = excluded.time_zone,
			   loc_name = excluded.loc_name, planet = excluded.planet,
			   latitude = excluded.latitude, longitude = excluded.longitude,
			   altitude = excluded.altitude, country = excluded.country,
			   seen_at = excluded.seen_at`,
			server, st.Time.JD, st.Time.TimeRate, st.Time.GMTShift, st.Time.DeltaT,
			boolToInt(st.Time.IsTimeNow), st.Time.TimeZone,
			st.Location.Name, st.Location.Planet, st.Location.Latitude, st.Location.Longitude,
			st.Location.Altitude, st.Location.Country, formatTime(seen),
		)
		return err
	})
}

// LatestSnapshot returns the last state saved for server, or ErrNotFound.
func (s *Store) LatestSnapshot(ctx context.Context, server string) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT server, jday, timerate, gmt_shift, delta_t, is_now, time_zone,
		        loc_name, planet, latitude, longitude, altitude, country, seen_at
		 FROM snapshots WHERE server = ?`, server)

	var snap model.Snapshot
	var isNow int
	var seen string
	err := row.Scan(&snap.Server, &snap.Time.JD, &snap.Time.TimeRate, &snap.Time.GMTShift,
		&snap.Time.DeltaT, &isNow, &snap.Time.TimeZone,
		&snap.Location.Name, &snap.Location.Planet, &snap.Location.Latitude,
		&snap.Location.Longitude, &snap.Location.Altitude, &snap.Location.Country, &seen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	snap.Time.IsTimeNow = isNow != 0
	snap.SeenAt = parseTime(seen)
	return &snap, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// timeLayout has fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
