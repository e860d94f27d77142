package storage

import (
	"context"
	"sync"
	"time"

	"github.com/railtms/core/shared/railway"
)

// MemoryFactory is an in-memory StorageSession implementation used by
// the prediction, cache, and scheduler test suites in place of a real
// Postgres connection. It holds no business logic beyond satisfying
// the port: the fleet/topology/position/schedule fixtures are set
// directly by the test, and conflicts upserted through it are kept in
// a slice exactly like the Postgres adapter keeps them in a table.
type MemoryFactory struct {
	mu        sync.Mutex
	Trains    []railway.Train
	Sections  []railway.Section
	Positions map[int]railway.Position
	Schedules map[int]railway.TrainSchedule
	conflicts []railway.PersistedConflict
	nextID    int64

	// FailNextSession, if true, makes the next NewSession call return
	// an error and resets itself — used to exercise transient-failure
	// handling in cache/scheduler tests.
	FailNextSession bool

	// FailSessionsRemaining, if positive, makes each NewSession call
	// fail and decrements until it reaches zero — used to drive a run
	// of N consecutive failures through the scheduler loop.
	FailSessionsRemaining int
}

// NewMemoryFactory builds an empty in-memory factory.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{
		Positions: make(map[int]railway.Position),
		Schedules: make(map[int]railway.TrainSchedule),
	}
}

func (f *MemoryFactory) NewSession(ctx context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNextSession {
		f.FailNextSession = false
		return nil, errTransient
	}
	if f.FailSessionsRemaining > 0 {
		f.FailSessionsRemaining--
		return nil, errTransient
	}
	return &memorySession{factory: f}, nil
}

// Conflicts returns a copy of the currently persisted conflicts.
func (f *MemoryFactory) Conflicts() []railway.PersistedConflict {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]railway.PersistedConflict, len(f.conflicts))
	copy(out, f.conflicts)
	return out
}

var errTransient = &memoryError{"memory storage: injected transient failure"}

type memoryError struct{ msg string }

func (e *memoryError) Error() string { return e.msg }

// memorySession is a MemoryFactory-scoped session; commit/rollback are
// no-ops since all writes land directly in the factory's slice (there
// is no journal to discard on rollback in this fake, matching the
// Postgres adapter's contract of "atomic or nothing" only at the port
// boundary, not the storage itself).
type memorySession struct {
	factory *MemoryFactory
}

func (s *memorySession) ListActiveTrains(ctx context.Context) ([]railway.Train, error) {
	var out []railway.Train
	for _, t := range s.factory.Trains {
		if t.IsActive() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memorySession) ListActiveSections(ctx context.Context) ([]railway.Section, error) {
	var out []railway.Section
	for _, sec := range s.factory.Sections {
		if sec.Active {
			out = append(out, sec)
		}
	}
	return out, nil
}

func (s *memorySession) LatestPosition(ctx context.Context, trainID int, newerThan time.Time) (*railway.Position, error) {
	pos, ok := s.factory.Positions[trainID]
	if !ok || pos.Timestamp.Before(newerThan) {
		return nil, nil
	}
	cp := pos
	return &cp, nil
}

func (s *memorySession) LatestPositions(ctx context.Context, newerThan time.Time) (map[int]railway.Position, error) {
	out := make(map[int]railway.Position)
	for id, pos := range s.factory.Positions {
		if !pos.Timestamp.Before(newerThan) {
			out[id] = pos
		}
	}
	return out, nil
}

func (s *memorySession) ActiveSchedule(ctx context.Context, trainID int) (*railway.TrainSchedule, error) {
	sched, ok := s.factory.Schedules[trainID]
	if !ok {
		return nil, nil
	}
	cp := sched
	return &cp, nil
}

func (s *memorySession) FindOpenConflict(ctx context.Context, key railway.ConflictKey) (*railway.PersistedConflict, error) {
	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()
	for i := range s.factory.conflicts {
		pc := &s.factory.conflicts[i]
		if pc.ResolutionTime != nil {
			continue
		}
		if railway.NewConflictKey(pc.TrainsInvolved, pc.SectionsInvolved, pc.ConflictType) == key {
			cp := *pc
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memorySession) InsertConflict(ctx context.Context, c railway.DetectedConflict) (int64, error) {
	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()
	s.factory.nextID++
	now := time.Now()
	s.factory.conflicts = append(s.factory.conflicts, railway.PersistedConflict{
		ID:               s.factory.nextID,
		ConflictType:     c.ConflictType,
		Severity:         railway.BucketForScore(c.SeverityScore),
		SeverityScore:    c.SeverityScore,
		TrainsInvolved:   c.TrainsInvolved,
		SectionsInvolved: c.SectionsInvolved,
		Description:      c.Description,
		DetectionTime:    now,
		UpdatedAt:        now,
	})
	return s.factory.nextID, nil
}

func (s *memorySession) UpdateConflict(ctx context.Context, id int64, c railway.DetectedConflict) error {
	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()
	for i := range s.factory.conflicts {
		if s.factory.conflicts[i].ID == id {
			s.factory.conflicts[i].Severity = railway.BucketForScore(c.SeverityScore)
			s.factory.conflicts[i].SeverityScore = c.SeverityScore
			s.factory.conflicts[i].Description = c.Description
			s.factory.conflicts[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (s *memorySession) Commit() error   { return nil }
func (s *memorySession) Rollback() error { return nil }
func (s *memorySession) Close() error    { return nil }
