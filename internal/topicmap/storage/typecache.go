package storage

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// typeCache maps type ids to loaded types for the life of the engine.
// Entries are replaced, never invalidated.
type typeCache struct {
	mu      sync.RWMutex
	entries map[string]*typeEntry
	loads   singleflight.Group
}

func newTypeCache() *typeCache {
	return &typeCache{entries: make(map[string]*typeEntry)}
}

func (c *typeCache) get(typeID string) (*typeEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[typeID]
	return e, ok
}

// getOrLoad returns the cached entry or runs load once for all concurrent
// callers asking for the same id.
func (c *typeCache) getOrLoad(typeID string, load func() (*typeEntry, error)) (*typeEntry, error) {
	if e, ok := c.get(typeID); ok {
		return e, nil
	}

	v, err, _ := c.loads.Do(typeID, func() (any, error) {
		// Double-check inside the flight
		if e, ok := c.get(typeID); ok {
			return e, nil
		}
		e, err := load()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		// A commit may have published the type while we were loading.
		if cur, ok := c.entries[typeID]; ok {
			return cur, nil
		}
		c.entries[typeID] = e
		return e, nil
	})
	if err != nil {
		return nil, err
	}

	e, ok := v.(*typeEntry)
	if !ok {
		return nil, fmt.Errorf("unexpected type cache value %T", v)
	}
	return e, nil
}

// publish replaces entries with those a committed transaction produced.
func (c *typeCache) publish(entries map[string]*typeEntry) {
	if len(entries) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range entries {
		c.entries[id] = e
	}
}

// ids returns the cached type ids, sorted.
func (c *typeCache) ids() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
