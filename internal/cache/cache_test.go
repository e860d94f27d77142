package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railtms/core/internal/cache"
	"github.com/railtms/core/internal/storage"
	"github.com/railtms/core/shared/railway"
)

func trainFixture(id int) railway.Train {
	return railway.Train{ID: id, Number: "T1", Kind: railway.TrainExpress, Priority: 5, Status: railway.TrainActive}
}

func sectionFixture(id int) railway.Section {
	return railway.Section{ID: id, Code: "S1", Kind: railway.SectionTrack, Length: 1000, MaxSpeed: 100, Capacity: 1, Active: true}
}

func TestEnsureFreshLoadsOnFirstCall(t *testing.T) {
	factory := storage.NewMemoryFactory()
	factory.Trains = []railway.Train{trainFixture(1)}
	factory.Sections = []railway.Section{sectionFixture(100)}

	c := cache.New(factory, time.Minute)
	require.NoError(t, c.EnsureFresh(context.Background()))

	tr, ok := c.Train(1)
	assert.True(t, ok)
	assert.Equal(t, 1, tr.ID)

	sec, ok := c.Section(100)
	assert.True(t, ok)
	assert.Equal(t, 100, sec.ID)
}

func TestEnsureFreshSkipsWithinTTL(t *testing.T) {
	factory := storage.NewMemoryFactory()
	factory.Trains = []railway.Train{trainFixture(1)}
	factory.Sections = []railway.Section{sectionFixture(100)}

	c := cache.New(factory, time.Hour)
	require.NoError(t, c.EnsureFresh(context.Background()))
	loadedAt := c.LoadedAt()

	// Mutate the backing factory; since we're within TTL, EnsureFresh
	// must not pick up the change.
	factory.Trains = append(factory.Trains, trainFixture(2))
	require.NoError(t, c.EnsureFresh(context.Background()))

	assert.Equal(t, loadedAt, c.LoadedAt())
	_, ok := c.Train(2)
	assert.False(t, ok)
}

func TestForceRefreshAlwaysReloads(t *testing.T) {
	factory := storage.NewMemoryFactory()
	factory.Trains = []railway.Train{trainFixture(1)}
	factory.Sections = []railway.Section{sectionFixture(100)}

	c := cache.New(factory, time.Hour)
	require.NoError(t, c.EnsureFresh(context.Background()))

	factory.Trains = append(factory.Trains, trainFixture(2))
	require.NoError(t, c.ForceRefresh(context.Background()))

	_, ok := c.Train(2)
	assert.True(t, ok)
}

func TestRetainStaleSnapshotOnReloadError(t *testing.T) {
	factory := storage.NewMemoryFactory()
	factory.Trains = []railway.Train{trainFixture(1)}
	factory.Sections = []railway.Section{sectionFixture(100)}

	c := cache.New(factory, time.Millisecond)
	require.NoError(t, c.EnsureFresh(context.Background()))

	time.Sleep(5 * time.Millisecond)
	factory.FailNextSession = true
	err := c.EnsureFresh(context.Background())
	assert.Error(t, err)

	// The previous snapshot is retained: train 1 is still visible.
	_, ok := c.Train(1)
	assert.True(t, ok)
}

func TestConcurrentEnsureFreshCoalesces(t *testing.T) {
	factory := storage.NewMemoryFactory()
	factory.Trains = []railway.Train{trainFixture(1)}
	factory.Sections = []railway.Section{sectionFixture(100)}

	c := cache.New(factory, time.Nanosecond)
	require.NoError(t, c.EnsureFresh(context.Background()))

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			done <- c.EnsureFresh(context.Background())
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-done)
	}
}

func TestActiveTrainsReturnsSnapshotCopy(t *testing.T) {
	factory := storage.NewMemoryFactory()
	factory.Trains = []railway.Train{trainFixture(1), trainFixture(2)}
	factory.Sections = []railway.Section{sectionFixture(100)}

	c := cache.New(factory, time.Hour)
	require.NoError(t, c.EnsureFresh(context.Background()))

	trains := c.ActiveTrains()
	assert.Len(t, trains, 2)
}
