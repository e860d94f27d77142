// Package cache holds the topology and fleet cache: a TTL-bounded,
// copy-on-write snapshot of active trains and sections that the
// prediction engine and conflict detector read without touching
// storage on every call.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/railtms/core/internal/storage"
	"github.com/railtms/core/shared/railway"
)

const defaultTTL = 5 * time.Minute

// snapshot is one immutable view of the fleet and topology.
type snapshot struct {
	trains   map[int]railway.Train
	sections map[int]railway.Section
	loadedAt time.Time
}

// Cache is safe for concurrent use. Readers never block on a refresh
// in progress; at most one refresh runs at a time, and concurrent
// callers that arrive mid-refresh wait on the same in-flight call
// instead of issuing their own.
type Cache struct {
	factory storage.SessionFactory
	ttl     time.Duration

	current atomic.Pointer[snapshot]

	mu         sync.Mutex
	refreshing chan struct{} // non-nil while a refresh is in flight
}

// New constructs a Cache with the given TTL. A zero ttl uses the
// 5-minute default (4.A).
func New(factory storage.SessionFactory, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{factory: factory, ttl: ttl}
}

// EnsureFresh refreshes the snapshot if it is missing or older than
// the TTL. Concurrent callers coalesce onto a single refresh.
func (c *Cache) EnsureFresh(ctx context.Context) error {
	snap := c.current.Load()
	if snap != nil && time.Since(snap.loadedAt) < c.ttl {
		return nil
	}
	return c.refresh(ctx)
}

// ForceRefresh always issues a fresh storage read, regardless of TTL.
func (c *Cache) ForceRefresh(ctx context.Context) error {
	return c.refresh(ctx)
}

func (c *Cache) refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.refreshing != nil {
		wait := c.refreshing
		c.mu.Unlock()
		select {
		case <-wait:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	c.refreshing = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.refreshing = nil
		c.mu.Unlock()
		close(done)
	}()

	snap, err := c.load(ctx)
	if err != nil {
		// Retain-stale-on-error: a failed refresh never clears an
		// existing snapshot, only fails to replace it.
		return fmt.Errorf("cache: refresh: %w", err)
	}
	c.current.Store(snap)
	return nil
}

func (c *Cache) load(ctx context.Context) (*snapshot, error) {
	sess, err := c.factory.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	trains, err := sess.ListActiveTrains(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active trains: %w", err)
	}
	sections, err := sess.ListActiveSections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sections: %w", err)
	}

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
	return snap, nil
}

// Train returns the cached train by ID, or false if unknown or the
// cache has never been populated.
func (c *Cache) Train(id int) (railway.Train, bool) {
	snap := c.current.Load()
	if snap == nil {
		return railway.Train{}, false
	}
	t, ok := snap.trains[id]
	return t, ok
}

// Section returns the cached section by ID.
func (c *Cache) Section(id int) (railway.Section, bool) {
	snap := c.current.Load()
	if snap == nil {
		return railway.Section{}, false
	}
	s, ok := snap.sections[id]
	return s, ok
}

// ActiveTrains returns a stable-ordered slice copy of all cached
// trains. The caller owns the returned slice.
func (c *Cache) ActiveTrains() []railway.Train {
	snap := c.current.Load()
	if snap == nil {
		return nil
	}
	out := make([]railway.Train, 0, len(snap.trains))
	for _, t := range snap.trains {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadedAt reports when the current snapshot was populated. The zero
// value means the cache has never been populated.
func (c *Cache) LoadedAt() time.Time {
	snap := c.current.Load()
	if snap == nil {
		return time.Time{}
	}
	return snap.loadedAt
}
