// Package prediction computes, for every active train, the sequence of
// upcoming section occupancy windows along its scheduled route.
package prediction

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/railtms/core/internal/cache"
	"github.com/railtms/core/internal/storage"
	"github.com/railtms/core/shared/railway"
)

const (
	// DefaultHorizon is prediction_horizon_minutes.
	DefaultHorizon = 60 * time.Minute
	// DefaultMaxParallel is max_parallel_operations.
	DefaultMaxParallel = 50
	// staleAfter bounds how old a position sample may be before a
	// train is treated as having no recent position.
	staleAfter = 10 * time.Minute
	// minTraverse is the floor applied when effective speed rounds to
	// zero, avoiding a divide-by-zero and keeping tuples time-ordered.
	minTraverse = 6 * time.Second
	// restingSpeedFactor estimates a stopped train's effective speed
	// as a fraction of the section's max speed.
	restingSpeedFactor = 0.7
	initialConfidence  = 0.9
	confidenceStep     = 0.05
	minConfidence      = 0.5
)

// Engine computes per-train occupancy predictions for one detection
// cycle. It is stateless across cycles; all fleet/topology state comes
// from the cache.
type Engine struct {
	cache       *cache.Cache
	factory     storage.SessionFactory
	horizon     time.Duration
	maxParallel int64
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithHorizon overrides the prediction horizon.
func WithHorizon(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.horizon = d
		}
	}
}

// WithMaxParallel overrides max_parallel_operations.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = int64(n)
		}
	}
}

// New builds a prediction Engine over the given cache and storage
// factory (storage is used only to read the latest position sample
// and active schedule per train; topology comes from the cache).
func New(c *cache.Cache, factory storage.SessionFactory, opts ...Option) *Engine {
	e := &Engine{
		cache:       c,
		factory:     factory,
		horizon:     DefaultHorizon,
		maxParallel: DefaultMaxParallel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PredictAll computes predictions for every active train in the
// cache's current snapshot, bounding concurrency to maxParallel.
func (e *Engine) PredictAll(ctx context.Context) ([]railway.TrainPrediction, error) {
	trains := e.cache.ActiveTrains()

	sess, err := e.factory.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("prediction: open session: %w", err)
	}
	defer sess.Close()

	sem := semaphore.NewWeighted(e.maxParallel)
	type result struct {
		preds []railway.TrainPrediction
	}
	results := make(chan result, len(trains))

	for _, t := range trains {
		t := t
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("prediction: acquire semaphore: %w", err)
		}
		go func() {
			defer sem.Release(1)
			preds, err := e.predictTrain(ctx, sess, t)
			if err != nil {
				// One train's prediction failure never aborts the
				// cycle; it simply contributes no predictions.
				preds = nil
			}
			results <- result{preds: preds}
		}()
	}

	var out []railway.TrainPrediction
	for range trains {
		r := <-results
		out = append(out, r.preds...)
	}
	return out, nil
}

// predictTrain runs the per-train algorithm (4.B).
func (e *Engine) predictTrain(ctx context.Context, sess storage.Session, t railway.Train) ([]railway.TrainPrediction, error) {
	if !t.IsActive() {
		return nil, nil
	}

	pos, err := sess.LatestPosition(ctx, t.ID, time.Now().Add(-staleAfter))
	if err != nil {
		return nil, fmt.Errorf("latest position: %w", err)
	}
	if pos == nil {
		return nil, nil
	}

	curSection, ok := e.cache.Section(pos.SectionID)
	if !ok {
		return nil, nil
	}

	now := time.Now()
	horizonCutoff := now.Add(e.horizon)
	effSpeed := effectiveSpeed(pos.Speed, curSection.MaxSpeed)

	remaining := curSection.Length
	if pos.DistanceFromStart != nil {
		remaining = curSection.Length - *pos.DistanceFromStart
		if remaining < 0 {
			remaining = 0
		}
	}
	exitTime := now.Add(traverseTime(remaining, effSpeed))

	preds := []railway.TrainPrediction{{
		TrainID:     t.ID,
		SectionID:   curSection.ID,
		ArrivalTime: now,
		ExitTime:    exitTime,
		Speed:       effSpeed,
		Confidence:  initialConfidence,
	}}

	sched, err := sess.ActiveSchedule(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("active schedule: %w", err)
	}
	if sched == nil || len(sched.RouteSections) == 0 {
		// No route: emit only the current-section tuple.
		return preds, nil
	}
	start := indexOf(sched.RouteSections, curSection.ID)
	if start < 0 {
		// Current section isn't on the active route.
		return preds, nil
	}

	sim := exitTime
	confidence := initialConfidence
	for i := start + 1; i < len(sched.RouteSections); i++ {
		if sim.After(horizonCutoff) {
			break
		}
		sec, ok := e.cache.Section(sched.RouteSections[i])
		if !ok {
			break
		}
		secSpeed := effectiveSpeed(pos.Speed, sec.MaxSpeed)
		traverse := traverseTime(sec.Length, secSpeed)
		arrival := sim
		exit := arrival.Add(traverse)

		confidence -= confidenceStep
		if confidence < minConfidence {
			confidence = minConfidence
		}

		preds = append(preds, railway.TrainPrediction{
			TrainID:     t.ID,
			SectionID:   sec.ID,
			ArrivalTime: arrival,
			ExitTime:    exit,
			Speed:       secSpeed,
			Confidence:  confidence,
		})
		sim = exit
	}
	return preds, nil
}

// effectiveSpeed is min(current_speed, section_max_speed); a stopped
// train (current_speed == 0) is estimated at restingSpeedFactor of the
// section's max speed.
func effectiveSpeed(currentSpeed, sectionMaxSpeed float64) float64 {
	if currentSpeed == 0 {
		return restingSpeedFactor * sectionMaxSpeed
	}
	if currentSpeed < sectionMaxSpeed {
		return currentSpeed
	}
	return sectionMaxSpeed
}

func traverseTime(lengthMeters, speedKmh float64) time.Duration {
	if speedKmh <= 0 {
		return minTraverse
	}
	metersPerMinute := speedKmh * 1000 / 60
	minutes := lengthMeters / metersPerMinute
	d := time.Duration(minutes * float64(time.Minute))
	if d < minTraverse {
		return minTraverse
	}
	return d
}

func indexOf(route []int, sectionID int) int {
	for i, s := range route {
		if s == sectionID {
			return i
		}
	}
	return -1
}
