// Package store defines the persistence contracts for passes, events
// and the student gate log, with a postgres implementation for
// production and a memory implementation backing the tests.
package store

import (
	"context"
	"errors"
	"time"

	"campusgate/gatepass/internal/model"
)

var (
	// ErrNotFound means no record exists for the given identifier.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID means a create hit the pass-id uniqueness
	// constraint; callers redraw the id and retry.
	ErrDuplicateID = errors.New("duplicate pass id")
	// ErrUnavailable is a transient infrastructure failure. Retryable.
	ErrUnavailable = errors.New("store unavailable")
)

// PassStore owns persisted Pass records. The Set* methods are guarded
// conditional updates: they return false without mutating anything
// when the precondition does not hold, and must be atomic per pass so
// racing gate scans cannot both win the same transition.
type PassStore interface {
	CreatePass(ctx context.Context, p model.Pass) error
	GetPass(ctx context.Context, passID string) (model.Pass, error)
	// ListActivePasses returns every non-deleted pass, newest first.
	ListActivePasses(ctx context.Context) ([]model.Pass, error)

	// SetEntry records the entry timestamp iff the pass is stored
	// active and has no entry yet.
	SetEntry(ctx context.Context, passID string, at time.Time) (bool, error)
	// SetExit records the exit timestamp iff entry is recorded and
	// exit is not.
	SetExit(ctx context.Context, passID string, at time.Time) (bool, error)
	// SetPassStatus moves an active pass into a terminal
	// administrative status (cancelled or deleted).
	SetPassStatus(ctx context.Context, passID, status string) (bool, error)

	// CountExpiredBetween counts active-stored passes whose window
	// closed inside (from, until]. Used by the expiry sweep job.
	CountExpiredBetween(ctx context.Context, from, until time.Time) (int64, error)

	Report(ctx context.Context, recentLimit int) (model.Report, error)
}

// EventStore is the directory of campus events that event-guest passes
// reference.
type EventStore interface {
	CreateEvent(ctx context.Context, e model.Event) error
	GetEvent(ctx context.Context, id string) (model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	UpdateEvent(ctx context.Context, e model.Event) error
	DeleteEvent(ctx context.Context, id string) error
}

// StudentEntryStore keeps the student gate log.
type StudentEntryStore interface {
	CreateStudentEntry(ctx context.Context, e model.StudentEntry) error
	GetStudentEntry(ctx context.Context, id string) (model.StudentEntry, error)
	// ListStudentEntries returns the log newest entry first.
	ListStudentEntries(ctx context.Context) ([]model.StudentEntry, error)
	// SetStudentExit records the exit timestamp iff none is recorded
	// yet. Guarded like PassStore.SetExit.
	SetStudentExit(ctx context.Context, id string, at time.Time) (bool, error)
}
