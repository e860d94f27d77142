package cache

import (
	"time"

	"github.com/railtms/core/shared/railway"
)

// NewFromSnapshot builds a Cache pre-populated with the given trains
// and sections and no backing factory, for use by other packages'
// tests (prediction, conflict, scheduler) that need a topology view
// without a storage round-trip. EnsureFresh is a no-op for the default
// TTL, since loadedAt is pinned to now; ForceRefresh always reloads and
// so needs a factory, which this constructor does not set.
func NewFromSnapshot(trains []railway.Train, sections []railway.Section) *Cache {
	c := &Cache{ttl: defaultTTL}
	snap := &snapshot{
		trains:   make(map[int]railway.Train, len(trains)),
		sections: make(map[int]railway.Section, len(sections)),
		loadedAt: time.Now(),
	}
	for _, t := range trains {
		snap.trains[t.ID] = t
	}
	for _, s := range sections {
		snap.sections[s.ID] = s
	}
	c.current.Store(snap)
	return c
}
