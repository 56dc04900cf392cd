// Package repository holds the per-event result snapshots and emits change
// events when a snapshot is replaced.
package repository

import (
	"context"
	"time"

	"github.com/okian/racefeed/internal/domain/model"
)

// Listener receives every change event emitted by a Store. A returned error
// or a panic is logged and counted; it never reaches the committer.
type Listener func(ctx context.Context, ev model.ChangeEvent) error

// Entry pairs a stored record with its content hash.
type Entry struct {
	ContentHash string
	Record      *model.RaceResultRecord
}

// Store provides reconciliation and read access to per-event snapshots.
type Store interface {
	// Commit replaces the snapshot of eventID with the trusted outcomes and
	// returns the emitted change events (deletes first, then adds).
	// Outcomes carrying parse errors are ignored.
	Commit(ctx context.Context, eventID string, outcomes []model.ParseOutcome) ([]model.ChangeEvent, error)

	// Read returns the records currently held for eventID.
	Read(ctx context.Context, eventID string) []model.RaceResultRecord

	// Entries is Read with content hashes.
	Entries(ctx context.Context, eventID string) []Entry

	// ReadAll returns every held record grouped by event id.
	ReadAll(ctx context.Context) map[string][]model.RaceResultRecord

	// Events returns the ids with a snapshot, sorted.
	Events(ctx context.Context) []string

	// Latest returns the newest record timestamp held for eventID.
	Latest(ctx context.Context, eventID string) (time.Time, bool)

	// Has reports whether a snapshot has been committed for eventID.
	Has(ctx context.Context, eventID string) bool

	// Count returns the number of records held for eventID.
	Count(ctx context.Context, eventID string) int

	// Remove drops eventID's snapshot, emitting a delete per held record.
	Remove(ctx context.Context, eventID string) []model.ChangeEvent

	// Clear drops every snapshot without emitting change events.
	Clear(ctx context.Context)

	// Listen registers l and returns a function that unregisters it.
	Listen(l Listener) (cancel func())
}
