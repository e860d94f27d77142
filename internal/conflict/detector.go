// Package conflict implements the four conflict-detection algorithms
// that run over one cycle's prediction set, plus severity scoring,
// deduplication, and persistence upsert.
package conflict

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/railtms/core/internal/cache"
	"github.com/railtms/core/internal/storage"
	"github.com/railtms/core/shared/railway"
)

const (
	// DefaultSafetyBuffer is safety_buffer_minutes.
	DefaultSafetyBuffer = 2 * time.Minute
)

// Config tunes the detector's thresholds.
type Config struct {
	SafetyBuffer time.Duration
}

// Detector is a stateless (per call) evaluator: it consumes the
// cycle's prediction set plus a topology snapshot and returns a
// deduplicated, severity-sorted conflict list. It holds no per-cycle
// state between calls.
type Detector struct {
	cache *cache.Cache
	cfg   Config

	conflictsDetected int64 // atomic
	predictionsMade   int64 // atomic
	detectionTimeMs   int64 // atomic, last cycle's wall time
}

// Metrics is the detector-local snapshot the original Python
// ConflictDetector.get_metrics() exposed alongside the scheduler's
// own stats (SPEC_FULL.md "Detector-local metrics").
type Metrics struct {
	ConflictsDetected int64
	PredictionsMade   int64
	DetectionTimeMs   int64
}

// New builds a Detector. A zero Config uses spec defaults.
func New(c *cache.Cache, cfg Config) *Detector {
	if cfg.SafetyBuffer <= 0 {
		cfg.SafetyBuffer = DefaultSafetyBuffer
	}
	return &Detector{cache: c, cfg: cfg}
}

// Metrics returns the detector's own running counters, independent of
// the scheduler's cycle-level stats.
func (d *Detector) Metrics() Metrics {
	return Metrics{
		ConflictsDetected: atomic.LoadInt64(&d.conflictsDetected),
		PredictionsMade:   atomic.LoadInt64(&d.predictionsMade),
		DetectionTimeMs:   atomic.LoadInt64(&d.detectionTimeMs),
	}
}

// DetectOnce runs all four detection kinds over the given predictions
// and returns the deduplicated, severity-descending result. It is the
// stateless entry point the scheduler drives each cycle, and tests
// and on-demand runs can also call it directly.
func (d *Detector) DetectOnce(predictions []railway.TrainPrediction) []railway.DetectedConflict {
	start := time.Now()
	bySection := groupBySection(predictions)

	var raw []railway.DetectedConflict
	raw = append(raw, d.spatialCollisions(bySection)...)
	raw = append(raw, d.temporalConflicts(bySection)...)
	raw = append(raw, d.priorityConflicts(bySection)...)
	raw = append(raw, d.junctionConflicts(bySection)...)

	for i := range raw {
		raw[i].SeverityScore = d.score(raw[i])
	}

	deduped := dedup(raw)
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].SeverityScore > deduped[j].SeverityScore
	})

	atomic.AddInt64(&d.predictionsMade, int64(len(predictions)))
	atomic.AddInt64(&d.conflictsDetected, int64(len(deduped)))
	atomic.StoreInt64(&d.detectionTimeMs, time.Since(start).Milliseconds())

	return deduped
}

// PersistResult is the outcome of upserting one cycle's conflicts.
type PersistResult struct {
	IDs       []int64
	Conflicts []railway.DetectedConflict
}

// Persist upserts each conflict (4.C.7): find an open conflict with
// the same key, update it, or insert a new row. All changes commit
// atomically; on any error the session rolls back and an empty result
// is returned.
func (d *Detector) Persist(ctx context.Context, sess storage.Session, conflicts []railway.DetectedConflict) (PersistResult, error) {
	var ids []int64
	for _, c := range conflicts {
		key := c.Key()
		existing, err := sess.FindOpenConflict(ctx, key)
		if err != nil {
			sess.Rollback()
			return PersistResult{}, fmt.Errorf("conflict: find open: %w", err)
		}
		if existing != nil {
			if err := sess.UpdateConflict(ctx, existing.ID, c); err != nil {
				sess.Rollback()
				return PersistResult{}, fmt.Errorf("conflict: update: %w", err)
			}
			ids = append(ids, existing.ID)
			continue
		}
		id, err := sess.InsertConflict(ctx, c)
		if err != nil {
			sess.Rollback()
			return PersistResult{}, fmt.Errorf("conflict: insert: %w", err)
		}
		ids = append(ids, id)
	}
	if err := sess.Commit(); err != nil {
		return PersistResult{}, fmt.Errorf("conflict: commit: %w", err)
	}
	return PersistResult{IDs: ids, Conflicts: conflicts}, nil
}

func groupBySection(predictions []railway.TrainPrediction) map[int][]railway.TrainPrediction {
	out := make(map[int][]railway.TrainPrediction)
	for _, p := range predictions {
		out[p.SectionID] = append(out[p.SectionID], p)
	}
	return out
}

func overlaps(a, b railway.TrainPrediction) bool {
	return a.ArrivalTime.Before(b.ExitTime) && b.ArrivalTime.Before(a.ExitTime)
}

func trainsOf(preds ...railway.TrainPrediction) []int {
	out := make([]int, len(preds))
	for i, p := range preds {
		out[i] = p.TrainID
	}
	return out
}
