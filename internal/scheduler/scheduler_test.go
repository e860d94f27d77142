package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railtms/core/internal/cache"
	"github.com/railtms/core/internal/conflict"
	"github.com/railtms/core/internal/hub"
	"github.com/railtms/core/internal/prediction"
	"github.com/railtms/core/internal/pubsub"
	"github.com/railtms/core/internal/scheduler"
	"github.com/railtms/core/internal/storage"
	"github.com/railtms/core/shared/railway"
)

func buildScheduler(t *testing.T) (*scheduler.Scheduler, *storage.MemoryFactory) {
	t.Helper()
	factory := storage.NewMemoryFactory()
	factory.Trains = []railway.Train{
		{ID: 1, Kind: railway.TrainExpress, Priority: 5, Status: railway.TrainActive, Speed: 80},
	}
	factory.Sections = []railway.Section{
		{ID: 100, Length: 1000, MaxSpeed: 100, Capacity: 1, Active: true},
	}
	factory.Positions[1] = railway.Position{TrainID: 1, Timestamp: time.Now(), SectionID: 100, Speed: 80}

	c := cache.New(factory, time.Hour)
	require.NoError(t, c.EnsureFresh(context.Background()))

	predictor := prediction.New(c, factory)
	detector := conflict.New(c, conflict.Config{})
	h := hub.New(pubsub.NewMemory())
	bus := pubsub.NewMemory()

	return scheduler.New(c, predictor, detector, factory, h, bus), factory
}

func TestStartStopTransitionsRunningState(t *testing.T) {
	sched, _ := buildScheduler(t)

	assert.False(t, sched.Status().IsRunning)

	ctx := context.Background()
	sched.Start(ctx)
	assert.True(t, sched.Status().IsRunning)

	// A second Start while already running is a no-op.
	sched.Start(ctx)
	assert.True(t, sched.Status().IsRunning)

	sched.Stop()
	assert.False(t, sched.Status().IsRunning)

	// Stop while already stopped is a no-op.
	sched.Stop()
	assert.False(t, sched.Status().IsRunning)
}

func TestRunOnceIsIndependentOfRunningState(t *testing.T) {
	sched, _ := buildScheduler(t)

	result := sched.RunOnce(context.Background())
	assert.True(t, result.Success)
	assert.False(t, sched.Status().IsRunning, "RunOnce must not flip is_running")
	assert.Equal(t, int64(0), sched.Status().RunsCompleted, "RunOnce must not touch the cycle stats recorded by the loop")
	assert.NotNil(t, result.Conflicts, "the result should carry per-conflict detail, not just counts")
}

func TestSetIntervalEnforcesGuardrails(t *testing.T) {
	sched, _ := buildScheduler(t)

	assert.Error(t, sched.SetInterval(9))
	assert.Error(t, sched.SetInterval(301))
	assert.NoError(t, sched.SetInterval(10))
	assert.NoError(t, sched.SetInterval(300))
}

// Failed RunOnce cycles leave consecutive_failures at 0: RunOnce never
// touches consecutive_failures or is_running — only the loop driven by
// Start does (scenario 6 is covered by the two loop tests below).
func TestRunOnceNeverTouchesFailureCounters(t *testing.T) {
	sched, factory := buildScheduler(t)

	for i := 0; i < 4; i++ {
		factory.FailNextSession = true
		result := sched.RunOnce(context.Background())
		assert.False(t, result.Success)
		assert.Error(t, result.Err)
	}
	assert.Equal(t, 0, sched.Status().ConsecutiveFailures)

	result := sched.RunOnce(context.Background())
	assert.True(t, result.Success)
}

func TestLoopAutoStopsAfterMaxConsecutiveFailures(t *testing.T) {
	sched, factory := buildScheduler(t)
	// With the threshold at 1, the very first cycle's failure trips
	// auto-stop before the loop ever reaches its interval wait, so the
	// test doesn't need to wait out the 10s guardrail floor.
	sched.WithMaxConsecutiveFailures(1)
	require.NoError(t, sched.SetInterval(10))

	factory.FailSessionsRemaining = 1

	sched.Start(context.Background())

	require.Eventually(t, func() bool {
		return !sched.Status().IsRunning
	}, 2*time.Second, 10*time.Millisecond, "scheduler should auto-stop after the consecutive-failure threshold is hit")

	status := sched.Status()
	assert.Equal(t, 1, status.ConsecutiveFailures)
	assert.Equal(t, int64(1), status.RunsFailed)
}

func TestLoopRecoversConsecutiveFailureCountOnSuccess(t *testing.T) {
	sched, factory := buildScheduler(t)
	sched.WithMaxConsecutiveFailures(5)
	require.NoError(t, sched.SetInterval(10))

	factory.FailSessionsRemaining = 1

	sched.Start(context.Background())

	require.Eventually(t, func() bool {
		return sched.Status().RunsFailed == 1
	}, 2*time.Second, 10*time.Millisecond, "first cycle should fail and be recorded")
	assert.Equal(t, 1, sched.Status().ConsecutiveFailures)
	assert.True(t, sched.Status().IsRunning, "one failure below the threshold must not auto-stop")

	// The second cycle, one interval later, succeeds (the injected
	// failure was single-shot) and resets the streak.
	require.Eventually(t, func() bool {
		return sched.Status().RunsCompleted == 1
	}, 15*time.Second, 50*time.Millisecond, "second cycle should succeed after the interval elapses")
	assert.Equal(t, 0, sched.Status().ConsecutiveFailures)

	sched.Stop()
}
