// iface.go defines the StoreInterface for dependency injection and testing.
//
// Commands accept StoreInterface instead of *Store so tests can run them
// against a fake journal.
package store

import (
	"context"
	"time"

	"github.com/daviddao/skyclock/pkg/model"
)

// StoreInterface is the full set of journal operations.
type StoreInterface interface {
	// Close closes the database connection.
	Close() error

	// --- Edits ---

	// RecordEdit appends a completed write.
	RecordEdit(ctx context.Context, rec model.EditRecord) error

	// ListEdits returns matching edits, newest first.
	ListEdits(ctx context.Context, f EditFilter) ([]model.EditRecord, error)

	// CountEdits returns the number of edits per outcome.
	CountEdits(ctx context.Context) (map[model.Outcome]int64, error)

	// PruneEdits deletes edits sent before cutoff.
	PruneEdits(ctx context.Context, cutoff time.Time) (int64, error)

	// --- Snapshots ---

	// SaveSnapshot stores the latest known state of a server.
	SaveSnapshot(ctx context.Context, server string, st *model.Status) error

	// LatestSnapshot returns the last state saved for a server.
	LatestSnapshot(ctx context.Context, server string) (*model.Snapshot, error)
}

// Compile-time check that *Store implements StoreInterface.
var _ StoreInterface = (*Store)(nil)
