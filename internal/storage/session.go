// Package storage defines the StorageSession port the core consumes:
// read access to the active fleet/topology, and upsert access to
// persisted conflicts. Schema and migration details are an explicit
// Non-goal; this package only issues the queries the port needs.
package storage

import (
	"context"
	"time"

	"github.com/railtms/core/shared/railway"
)

// Session is one storage session, acquired for the duration of a single
// detection cycle and never shared across cycles.
type Session interface {
	ListActiveTrains(ctx context.Context) ([]railway.Train, error)
	ListActiveSections(ctx context.Context) ([]railway.Section, error)

	// LatestPosition returns the freshest sample for a train newer than
	// the given cutoff, or nil if none exists.
	LatestPosition(ctx context.Context, trainID int, newerThan time.Time) (*railway.Position, error)

	// LatestPositions is the bulk variant: one row per train with a
	// sample newer than the cutoff; the train's status is not checked.
	LatestPositions(ctx context.Context, newerThan time.Time) (map[int]railway.Position, error)

	ActiveSchedule(ctx context.Context, trainID int) (*railway.TrainSchedule, error)

	FindOpenConflict(ctx context.Context, key railway.ConflictKey) (*railway.PersistedConflict, error)
	InsertConflict(ctx context.Context, c railway.DetectedConflict) (int64, error)
	UpdateConflict(ctx context.Context, id int64, c railway.DetectedConflict) error

	Commit() error
	Rollback() error
	Close() error
}

// SessionFactory acquires a new Session; the cache and scheduler call
// this once per refresh/cycle and always release it on exit.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}
