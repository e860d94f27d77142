// Package scheduler drives the detection pipeline on a fixed interval,
// survives transient failures, and exposes health.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/railtms/core/internal/cache"
	"github.com/railtms/core/internal/conflict"
	"github.com/railtms/core/internal/hub"
	"github.com/railtms/core/internal/prediction"
	"github.com/railtms/core/internal/pubsub"
	"github.com/railtms/core/internal/solver"
	"github.com/railtms/core/internal/storage"
	"github.com/railtms/core/pkg/circuit"
	"github.com/railtms/core/shared/railway"
)

const (
	// DefaultInterval is detection_interval_seconds.
	DefaultInterval = 30 * time.Second
	minInterval     = 10 * time.Second
	maxInterval     = 300 * time.Second

	// DefaultMaxConsecutiveFailures is max_consecutive_failures.
	DefaultMaxConsecutiveFailures = 5
	// DefaultAlertSeverityThreshold is alert_severity_threshold.
	DefaultAlertSeverityThreshold = 6.0
	// DefaultAlertTimeThreshold is alert_time_threshold_minutes.
	DefaultAlertTimeThreshold = 5 * time.Minute
)

// Stats is the scheduler's exposed health snapshot (4.D).
type Stats struct {
	IsRunning              bool
	RunsCompleted          int64
	RunsFailed             int64
	TotalConflictsDetected int64
	AlertsSent             int64
	AverageDetectionTime   time.Duration
	ConsecutiveFailures    int
	LastRunTime            time.Time
	Uptime                 time.Duration
}

// CycleResult is the structured outcome of one detection cycle,
// returned by RunOnce regardless of the running state machine. It
// carries the detected conflicts themselves, not just their count,
// mirroring the original manual-detection result envelope's
// per-conflict summaries (SPEC_FULL.md "SUPPLEMENTED FEATURES").
type CycleResult struct {
	Success         bool
	ConflictsFound  int
	ConflictsStored int
	AlertsSent      int
	Duration        time.Duration
	Err             error
	Conflicts       []railway.DetectedConflict
}

// Scheduler is the stopped/running state machine described in 4.D.
// It holds no business logic itself — it sequences the cache,
// prediction, conflict, hub, and pubsub collaborators each cycle.
type Scheduler struct {
	cache      *cache.Cache
	predictor  *prediction.Engine
	detector   *conflict.Detector
	factory    storage.SessionFactory
	hub        *hub.Hub
	bus        pubsub.PubSub
	solver     solver.Solver
	breakers   *circuit.BreakerGroup

	alertSeverityThreshold float64
	alertTimeThreshold     time.Duration
	maxConsecutiveFailures int

	mu                  sync.Mutex
	running             bool
	interval            time.Duration
	cancel              context.CancelFunc
	loopDone            chan struct{}
	consecutiveFailures int
	uptimeStart         time.Time
	stats               Stats
}

// New builds a Scheduler with spec defaults. Collaborators are
// required; tunables may be overridden with the With* options.
func New(c *cache.Cache, predictor *prediction.Engine, detector *conflict.Detector,
	factory storage.SessionFactory, h *hub.Hub, bus pubsub.PubSub) *Scheduler {
	return &Scheduler{
		cache:                  c,
		predictor:              predictor,
		detector:               detector,
		factory:                factory,
		hub:                    h,
		bus:                    bus,
		breakers:               circuit.NewSchedulerBreakers(),
		interval:               DefaultInterval,
		alertSeverityThreshold: DefaultAlertSeverityThreshold,
		alertTimeThreshold:     DefaultAlertTimeThreshold,
		maxConsecutiveFailures: DefaultMaxConsecutiveFailures,
	}
}

// WithSolver attaches the external AI solver collaborator. Without
// one, alerts ship with only the detector's own resolution heuristics.
func (s *Scheduler) WithSolver(sv solver.Solver) *Scheduler {
	s.solver = sv
	return s
}

// WithAlertThresholds overrides alert_severity_threshold and
// alert_time_threshold_minutes.
func (s *Scheduler) WithAlertThresholds(severity float64, timeToImpact time.Duration) *Scheduler {
	s.alertSeverityThreshold = severity
	s.alertTimeThreshold = timeToImpact
	return s
}

// WithMaxConsecutiveFailures overrides max_consecutive_failures.
func (s *Scheduler) WithMaxConsecutiveFailures(n int) *Scheduler {
	s.maxConsecutiveFailures = n
	return s
}

// Start transitions stopped -> running and launches the loop. A call
// while already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		log.Println("scheduler: already running")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.uptimeStart = time.Now()
	s.consecutiveFailures = 0
	s.loopDone = make(chan struct{})

	log.Printf("scheduler: starting, interval=%s", s.interval)
	go s.loop(loopCtx)
}

// Stop transitions running -> stopped and waits for the in-flight
// cycle, if any, to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.loopDone
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	log.Println("scheduler: stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)
	for {
		s.mu.Lock()
		interval := s.interval
		s.mu.Unlock()

		result := s.runCycle(ctx)
		s.recordResult(result)

		if result.Err != nil && s.shouldAutoStop() {
			log.Printf("scheduler: stopping after %d consecutive failures", s.consecutiveFailures)
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			return
		}
	}
}

func (s *Scheduler) shouldAutoStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures >= s.maxConsecutiveFailures
}

// RunOnce executes exactly one cycle outside the running-state
// machine and returns structured results; it never touches
// is_running/consecutive_failures.
func (s *Scheduler) RunOnce(ctx context.Context) CycleResult {
	return s.runCycle(ctx)
}

func (s *Scheduler) runCycle(ctx context.Context) CycleResult {
	start := time.Now()

	var sess storage.Session
	err := s.breakers.Execute(ctx, "storage", func() error {
		var openErr error
		sess, openErr = s.factory.NewSession(ctx)
		return openErr
	})
	if err != nil {
		return CycleResult{Success: false, Duration: time.Since(start), Err: fmt.Errorf("open session: %w", err)}
	}
	defer sess.Close()

	if err := s.cache.EnsureFresh(ctx); err != nil {
		log.Printf("scheduler: cache refresh warning: %v", err)
	}

	predictions, err := s.predictor.PredictAll(ctx)
	if err != nil {
		return CycleResult{Success: false, Duration: time.Since(start), Err: fmt.Errorf("predict: %w", err)}
	}

	conflicts := s.detector.DetectOnce(predictions)

	var storedCount int
	var persistResult conflict.PersistResult
	if len(conflicts) > 0 {
		persistResult, err = s.detector.Persist(ctx, sess, conflicts)
		if err != nil {
			// Persistence error: conflicts are lost for storage this
			// cycle, but already-detected conflicts may still alert.
			log.Printf("scheduler: persist error: %v", err)
		} else {
			storedCount = len(persistResult.IDs)
		}
	}

	alertsSent := s.dispatchAlerts(ctx, conflicts)
	s.broadcastStatus(ctx)

	return CycleResult{
		Success:         true,
		ConflictsFound:  len(conflicts),
		ConflictsStored: storedCount,
		AlertsSent:      alertsSent,
		Duration:        time.Since(start),
		Conflicts:       conflicts,
	}
}

func (s *Scheduler) dispatchAlerts(ctx context.Context, conflicts []railway.DetectedConflict) int {
	var sent int
	for _, c := range conflicts {
		if c.SeverityScore < s.alertSeverityThreshold {
			continue
		}
		if time.Duration(c.TimeToImpact*float64(time.Minute)) > s.alertTimeThreshold {
			continue
		}
		c = s.enrichWithSolver(ctx, c)
		alert := toAlert(c)
		s.hub.BroadcastConflictAlert(alert)
		if err := s.bus.Publish(ctx, railway.ChannelConflicts, alert); err != nil {
			log.Printf("scheduler: publish conflict alert: %v", err)
		}
		sent++
	}
	return sent
}

// enrichWithSolver asks the external AI solver to rank resolution
// suggestions for an imminent, high-severity conflict before it goes
// out as an alert. The solver call is wrapped in its own breaker so a
// flapping solver degrades only this enrichment step, never the
// scheduler's own consecutive_failures counter; a failed or absent
// solver leaves the detector's own heuristic suggestions untouched.
func (s *Scheduler) enrichWithSolver(ctx context.Context, c railway.DetectedConflict) railway.DetectedConflict {
	if s.solver == nil {
		return c
	}
	var resp solver.Response
	err := s.breakers.Execute(ctx, "solver", func() error {
		var solveErr error
		resp, solveErr = s.solver.Solve(ctx, solver.Request{
			ConflictType:     c.ConflictType,
			TrainsInvolved:   c.TrainsInvolved,
			SectionsInvolved: c.SectionsInvolved,
			SeverityScore:    c.SeverityScore,
			TimeToImpact:     c.TimeToImpact,
		})
		return solveErr
	})
	if err != nil {
		log.Printf("scheduler: solver enrichment skipped: %v", err)
		return c
	}
	if len(resp.RankedSuggestions) > 0 {
		c.ResolutionSuggestions = append(resp.RankedSuggestions, c.ResolutionSuggestions...)
	}
	return c
}

func toAlert(c railway.DetectedConflict) railway.ConflictAlert {
	return railway.ConflictAlert{
		Type:                  c.ConflictType,
		Severity:              c.SeverityScore,
		TrainsInvolved:        c.TrainsInvolved,
		SectionsInvolved:      c.SectionsInvolved,
		TimeToImpact:          c.TimeToImpact,
		Description:           c.Description,
		ResolutionSuggestions: c.ResolutionSuggestions,
	}
}

func (s *Scheduler) broadcastStatus(ctx context.Context) {
	status := s.Status()
	payload := railway.SystemStatus{
		"is_running":            status.IsRunning,
		"runs_completed":        status.RunsCompleted,
		"runs_failed":           status.RunsFailed,
		"total_conflicts":       status.TotalConflictsDetected,
		"alerts_sent":           status.AlertsSent,
		"average_detection_time_seconds": status.AverageDetectionTime.Seconds(),
		"consecutive_failures":  status.ConsecutiveFailures,
		"uptime_seconds":        status.Uptime.Seconds(),
	}
	s.hub.BroadcastSystemStatus(payload)
	if err := s.bus.Publish(ctx, railway.ChannelSystem, payload); err != nil {
		log.Printf("scheduler: publish system status: %v", err)
	}
}

func (s *Scheduler) recordResult(r CycleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.LastRunTime = time.Now()
	if r.Err == nil {
		s.stats.RunsCompleted++
		s.stats.TotalConflictsDetected += int64(r.ConflictsFound)
		s.stats.AlertsSent += int64(r.AlertsSent)

		totalRuns := s.stats.RunsCompleted
		currentAvg := s.stats.AverageDetectionTime
		s.stats.AverageDetectionTime = time.Duration(
			(int64(currentAvg)*(totalRuns-1) + int64(r.Duration)) / totalRuns,
		)
		s.consecutiveFailures = 0
	} else {
		s.stats.RunsFailed++
		s.consecutiveFailures++
	}
}

// SetInterval adjusts the cycle cadence with the [10,300]s guardrail.
func (s *Scheduler) SetInterval(seconds int) error {
	d := time.Duration(seconds) * time.Second
	if d < minInterval || d > maxInterval {
		return fmt.Errorf("scheduler: interval must be between %s and %s", minInterval, maxInterval)
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
	return nil
}

// Status returns the current health snapshot.
func (s *Scheduler) Status() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.IsRunning = s.running
	st.ConsecutiveFailures = s.consecutiveFailures
	if s.running {
		st.Uptime = time.Since(s.uptimeStart)
	}
	return st
}
