package storage

import "sync"

// IDCache tracks which natural ids are already persisted per table, so that
// repeat deliveries of the same record can be skipped before they reach the
// database. It is an explicit, inspectable object rather than hidden sink
// state, and is safe for concurrent use.
type IDCache struct {
	mu     sync.RWMutex
	tables map[string]map[string]struct{}
}

// NewIDCache creates an empty cache.
func NewIDCache() *IDCache {
	return &IDCache{
		tables: make(map[string]map[string]struct{}),
	}
}

// Seen reports whether the id is already cached for the table.
func (c *IDCache) Seen(table, id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tables[table][id]
	return ok
}

// Add records ids as persisted for the table.
func (c *IDCache) Add(table string, ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.tables[table]
	if !ok {
		set = make(map[string]struct{}, len(ids))
		c.tables[table] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// Len returns the number of cached ids for the table.
func (c *IDCache) Len(table string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables[table])
}

// Reset drops every cached id. Used when the cache may have drifted from the
// database, e.g. after a failed bulk insert.
func (c *IDCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = make(map[string]map[string]struct{})
}
