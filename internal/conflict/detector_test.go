package conflict_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railtms/core/internal/cache"
	"github.com/railtms/core/internal/conflict"
	"github.com/railtms/core/internal/storage"
	"github.com/railtms/core/shared/railway"
)

func pred(trainID, sectionID int, arrival, exit time.Time, confidence float64) railway.TrainPrediction {
	return railway.TrainPrediction{
		TrainID:     trainID,
		SectionID:   sectionID,
		ArrivalTime: arrival,
		ExitTime:    exit,
		Speed:       80,
		Confidence:  confidence,
	}
}

func containsSuggestion(c railway.DetectedConflict, substrs ...string) bool {
	for _, s := range c.ResolutionSuggestions {
		for _, want := range substrs {
			if strings.Contains(strings.ToLower(s), want) {
				return true
			}
		}
	}
	return false
}

func findOne(t *testing.T, conflicts []railway.DetectedConflict, kind railway.ConflictType) railway.DetectedConflict {
	t.Helper()
	var matches []railway.DetectedConflict
	for _, c := range conflicts {
		if c.ConflictType == kind {
			matches = append(matches, c)
		}
	}
	require.Len(t, matches, 1, "expected exactly one %s", kind)
	return matches[0]
}

// Scenario 1: head-on single-track.
func TestSpatialCollision_HeadOnSingleTrack(t *testing.T) {
	trains := []railway.Train{
		{ID: 1, Kind: railway.TrainExpress, Priority: 10, Load: 300, Status: railway.TrainActive},
		{ID: 2, Kind: railway.TrainExpress, Priority: 10, Load: 300, Status: railway.TrainActive},
	}
	sections := []railway.Section{{ID: 100, Kind: railway.SectionTrack, Capacity: 1, Active: true}}
	c := cache.NewFromSnapshot(trains, sections)
	d := conflict.New(c, conflict.Config{})

	now := time.Now()
	predictions := []railway.TrainPrediction{
		pred(1, 100, now.Add(5*time.Minute), now.Add(8*time.Minute), 0.9),
		pred(2, 100, now.Add(6*time.Minute), now.Add(10*time.Minute), 0.9),
	}

	conflicts := d.DetectOnce(predictions)
	sc := findOne(t, conflicts, railway.SpatialCollision)

	assert.ElementsMatch(t, []int{1, 2}, sc.TrainsInvolved)
	assert.ElementsMatch(t, []int{100}, sc.SectionsInvolved)
	assert.GreaterOrEqual(t, sc.SeverityScore, 8.0)
	assert.True(t, containsSuggestion(sc, "delay", "speed"), "expected a suggestion mentioning delay or speed")
}

// Scenario 2: temporal buffer breach.
func TestTemporalConflict_BufferBreach(t *testing.T) {
	trains := []railway.Train{
		{ID: 1, Kind: railway.TrainLocal, Priority: 5, Status: railway.TrainActive},
		{ID: 2, Kind: railway.TrainLocal, Priority: 5, Status: railway.TrainActive},
	}
	sections := []railway.Section{{ID: 100, Kind: railway.SectionTrack, Capacity: 2, Active: true}}
	c := cache.NewFromSnapshot(trains, sections)
	d := conflict.New(c, conflict.Config{SafetyBuffer: 2 * time.Minute})

	now := time.Now()
	predictions := []railway.TrainPrediction{
		pred(1, 100, now.Add(2*time.Minute), now.Add(7*time.Minute), 0.9),
		pred(2, 100, now.Add(8*time.Minute), now.Add(12*time.Minute), 0.85),
	}

	conflicts := d.DetectOnce(predictions)
	tc := findOne(t, conflicts, railway.TemporalConflict)

	assert.ElementsMatch(t, []int{1, 2}, tc.TrainsInvolved)
	assert.True(t, containsSuggestion(tc, "1.5"), "expected the 1.5 minute recommended delay in suggestions")
}

// Scenario 3: freight blocking express.
func TestPriorityConflict_FreightBlocksExpress(t *testing.T) {
	trains := []railway.Train{
		{ID: 1, Kind: railway.TrainFreight, Priority: 3, MaxSpeed: 80, Status: railway.TrainActive},
		{ID: 2, Kind: railway.TrainExpress, Priority: 8, MaxSpeed: 160, Status: railway.TrainActive},
	}
	sections := []railway.Section{{ID: 102, Kind: railway.SectionTrack, Capacity: 2, Active: true}}
	c := cache.NewFromSnapshot(trains, sections)
	d := conflict.New(c, conflict.Config{})

	now := time.Now()
	predictions := []railway.TrainPrediction{
		pred(1, 102, now.Add(1*time.Minute), now.Add(8*time.Minute), 0.9),
		pred(2, 102, now.Add(6*time.Minute), now.Add(9*time.Minute), 0.85),
	}

	conflicts := d.DetectOnce(predictions)
	pc := findOne(t, conflicts, railway.PriorityConflict)

	assert.Equal(t, 3, pc.Metadata["freight_priority"])
	assert.Equal(t, 8, pc.Metadata["express_priority"])
	assert.True(t, containsSuggestion(pc, "hold", "bypass"), "expected a suggestion mentioning hold or bypass")
}

// Scenario 4: four-way junction overflow.
func TestJunctionConflict_FourWayOverflow(t *testing.T) {
	trains := []railway.Train{
		{ID: 1, Kind: railway.TrainLocal, Priority: 8, Load: 200, Status: railway.TrainActive},
		{ID: 2, Kind: railway.TrainLocal, Priority: 8, Load: 200, Status: railway.TrainActive},
		{ID: 3, Kind: railway.TrainLocal, Priority: 8, Load: 200, Status: railway.TrainActive},
		{ID: 4, Kind: railway.TrainLocal, Priority: 8, Load: 200, Status: railway.TrainActive},
	}
	sections := []railway.Section{{ID: 101, Kind: railway.SectionJunction, Capacity: 2, Active: true}}
	c := cache.NewFromSnapshot(trains, sections)
	d := conflict.New(c, conflict.Config{})

	now := time.Now()
	predictions := []railway.TrainPrediction{
		pred(1, 101, now, now.Add(20*time.Minute), 0.9),
		pred(2, 101, now.Add(2*time.Minute), now.Add(4*time.Minute), 0.85),
		pred(3, 101, now.Add(6*time.Minute), now.Add(8*time.Minute), 0.8),
		pred(4, 101, now.Add(10*time.Minute), now.Add(12*time.Minute), 0.75),
	}

	conflicts := d.DetectOnce(predictions)
	jc := findOne(t, conflicts, railway.JunctionConflict)

	assert.ElementsMatch(t, []int{1, 2, 3, 4}, jc.TrainsInvolved)
	assert.GreaterOrEqual(t, jc.SeverityScore, 6.0)
	assert.Equal(t, 2, jc.Metadata["overflow"])
}

// Scenario 5: dedup across cycles.
func TestPersistenceIdempotence_DedupAcrossCycles(t *testing.T) {
	trains := []railway.Train{
		{ID: 1, Kind: railway.TrainExpress, Priority: 9, Load: 100, Status: railway.TrainActive},
		{ID: 2, Kind: railway.TrainExpress, Priority: 9, Load: 100, Status: railway.TrainActive},
	}
	sections := []railway.Section{{ID: 100, Kind: railway.SectionTrack, Capacity: 1, Active: true}}
	c := cache.NewFromSnapshot(trains, sections)
	d := conflict.New(c, conflict.Config{})

	now := time.Now()
	predictions := []railway.TrainPrediction{
		pred(1, 100, now.Add(5*time.Minute), now.Add(8*time.Minute), 0.9),
		pred(2, 100, now.Add(6*time.Minute), now.Add(10*time.Minute), 0.9),
	}

	factory := storage.NewMemoryFactory()

	conflictsN := d.DetectOnce(predictions)
	require.Len(t, conflictsN, 1)
	sessN, err := factory.NewSession(context.Background())
	require.NoError(t, err)
	resultN, err := d.Persist(context.Background(), sessN, conflictsN)
	require.NoError(t, err)
	require.Len(t, resultN.IDs, 1)
	require.Len(t, factory.Conflicts(), 1)
	firstID := resultN.IDs[0]
	firstUpdatedAt := factory.Conflicts()[0].UpdatedAt

	time.Sleep(5 * time.Millisecond)

	conflictsN1 := d.DetectOnce(predictions)
	sessN1, err := factory.NewSession(context.Background())
	require.NoError(t, err)
	resultN1, err := d.Persist(context.Background(), sessN1, conflictsN1)
	require.NoError(t, err)
	require.Len(t, resultN1.IDs, 1)

	assert.Len(t, factory.Conflicts(), 1, "no duplicate row should be inserted")
	assert.Equal(t, firstID, resultN1.IDs[0], "the primary key must stay stable")
	assert.True(t, factory.Conflicts()[0].UpdatedAt.After(firstUpdatedAt), "updated_at must advance")
}

func TestTemporalConflict_ExitOrderDiffersFromArrival(t *testing.T) {
	// Sort order is by arrival; this case has prev arriving first but
	// exiting after next's arrival plus the buffer would suggest —
	// the spec's literal adjacent-pair-by-arrival behavior is retained
	// even though exit order disagrees with arrival order (spec.md §9
	// open question, retained as-is).
	trains := []railway.Train{
		{ID: 1, Kind: railway.TrainLocal, Priority: 5, Status: railway.TrainActive},
		{ID: 2, Kind: railway.TrainLocal, Priority: 5, Status: railway.TrainActive},
	}
	sections := []railway.Section{{ID: 100, Kind: railway.SectionTrack, Capacity: 2, Active: true}}
	c := cache.NewFromSnapshot(trains, sections)
	d := conflict.New(c, conflict.Config{SafetyBuffer: 2 * time.Minute})

	now := time.Now()
	// prev (train 1) arrives first but exits after train 2 arrives,
	// violating the "exit order follows arrival order" assumption.
	predictions := []railway.TrainPrediction{
		pred(1, 100, now, now.Add(9*time.Minute), 0.9),
		pred(2, 100, now.Add(1*time.Minute), now.Add(3*time.Minute), 0.85),
	}

	conflicts := d.DetectOnce(predictions)
	// prev.exit (t+9) after next.arrival (t+1) => gap is negative, not
	// in (0, buffer), so no temporal_conflict is emitted for this pair
	// under the spec's literal arrival-sorted adjacent-pair algorithm.
	for _, conf := range conflicts {
		assert.NotEqual(t, railway.TemporalConflict, conf.ConflictType)
	}
}

func TestDeduplicationAcrossConflictTypes(t *testing.T) {
	trains := []railway.Train{
		{ID: 1, Kind: railway.TrainExpress, Priority: 5, Status: railway.TrainActive},
		{ID: 2, Kind: railway.TrainExpress, Priority: 5, Status: railway.TrainActive},
	}
	sections := []railway.Section{{ID: 100, Kind: railway.SectionTrack, Capacity: 1, Active: true}}
	c := cache.NewFromSnapshot(trains, sections)
	d := conflict.New(c, conflict.Config{})

	now := time.Now()
	predictions := []railway.TrainPrediction{
		pred(1, 100, now.Add(5*time.Minute), now.Add(8*time.Minute), 0.9),
		pred(2, 100, now.Add(6*time.Minute), now.Add(10*time.Minute), 0.9),
	}

	conflicts := d.DetectOnce(predictions)
	seen := make(map[railway.ConflictKey]bool)
	for _, c := range conflicts {
		key := c.Key()
		assert.False(t, seen[key], "duplicate key found: %+v", key)
		seen[key] = true
	}
}

func TestSeverityScoreAlwaysInRange(t *testing.T) {
	trains := []railway.Train{
		{ID: 1, Kind: railway.TrainExpress, Priority: 1, Status: railway.TrainActive},
		{ID: 2, Kind: railway.TrainExpress, Priority: 1, Status: railway.TrainActive},
	}
	sections := []railway.Section{{ID: 100, Kind: railway.SectionTrack, Capacity: 1, Active: true}}
	c := cache.NewFromSnapshot(trains, sections)
	d := conflict.New(c, conflict.Config{})

	now := time.Now()
	predictions := []railway.TrainPrediction{
		pred(1, 100, now.Add(100*time.Minute), now.Add(101*time.Minute), 0.5),
		pred(2, 100, now.Add(100*time.Minute).Add(30*time.Second), now.Add(102*time.Minute), 0.5),
	}

	conflicts := d.DetectOnce(predictions)
	for _, c := range conflicts {
		assert.GreaterOrEqual(t, c.SeverityScore, 1.0)
		assert.LessOrEqual(t, c.SeverityScore, 10.0)
	}
}

func TestConflictsSortedBySeverityDescending(t *testing.T) {
	trains := []railway.Train{
		{ID: 1, Kind: railway.TrainExpress, Priority: 10, Load: 500, Status: railway.TrainActive},
		{ID: 2, Kind: railway.TrainExpress, Priority: 10, Load: 500, Status: railway.TrainActive},
		{ID: 3, Kind: railway.TrainLocal, Priority: 1, Status: railway.TrainActive},
		{ID: 4, Kind: railway.TrainLocal, Priority: 1, Status: railway.TrainActive},
	}
	sections := []railway.Section{
		{ID: 100, Kind: railway.SectionTrack, Capacity: 1, Active: true},
		{ID: 200, Kind: railway.SectionTrack, Capacity: 1, Active: true},
	}
	c := cache.NewFromSnapshot(trains, sections)
	d := conflict.New(c, conflict.Config{})

	now := time.Now()
	predictions := []railway.TrainPrediction{
		pred(1, 100, now.Add(1*time.Minute), now.Add(4*time.Minute), 0.9),
		pred(2, 100, now.Add(2*time.Minute), now.Add(6*time.Minute), 0.9),
		pred(3, 200, now.Add(100*time.Minute), now.Add(101*time.Minute), 0.5),
		pred(4, 200, now.Add(100*time.Minute).Add(30*time.Second), now.Add(102*time.Minute), 0.5),
	}

	conflicts := d.DetectOnce(predictions)
	require.GreaterOrEqual(t, len(conflicts), 2)
	for i := 0; i+1 < len(conflicts); i++ {
		assert.GreaterOrEqual(t, conflicts[i].SeverityScore, conflicts[i+1].SeverityScore)
	}
}

func TestDetectorMetricsTrackRunningTotals(t *testing.T) {
	trains := []railway.Train{
		{ID: 1, Kind: railway.TrainExpress, Priority: 5, Status: railway.TrainActive},
		{ID: 2, Kind: railway.TrainExpress, Priority: 5, Status: railway.TrainActive},
	}
	sections := []railway.Section{{ID: 100, Kind: railway.SectionTrack, Capacity: 1, Active: true}}
	c := cache.NewFromSnapshot(trains, sections)
	d := conflict.New(c, conflict.Config{})

	now := time.Now()
	predictions := []railway.TrainPrediction{
		pred(1, 100, now.Add(5*time.Minute), now.Add(8*time.Minute), 0.9),
		pred(2, 100, now.Add(6*time.Minute), now.Add(10*time.Minute), 0.9),
	}

	before := d.Metrics()
	d.DetectOnce(predictions)
	after := d.Metrics()

	assert.Greater(t, after.PredictionsMade, before.PredictionsMade)
	assert.Greater(t, after.ConflictsDetected, before.ConflictsDetected)
}
