// Package toolcache keeps metadata for every tool invocation observed on the
// way out to a provider. Call identifiers are unique across conversations, so
// a single process-wide cache keyed by the (lowercased) call identifier is
// enough. Entries live for the lifetime of the process.
package toolcache

import (
	"sync"

	"github.com/contextgate/contextgate/internal/wire"
)

// Record holds what was known about a tool invocation when it was first seen.
type Record struct {
	// Name is the tool name.
	Name string
	// Args is the serialized JSON argument payload as it appeared on the
	// wire. It may be malformed; consumers must degrade per entry.
	Args string
}

// Cache is a concurrency-safe call-id to Record map.
type Cache struct {
	mu      sync.RWMutex
	records map[string]Record
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{records: make(map[string]Record)}
}

// Put records a tool invocation. The first write for a call id wins; tool
// metadata never changes once a call has been issued.
func (c *Cache) Put(callID, name, args string) {
	key := wire.NormalizeCallID(callID)
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[key]; ok {
		return
	}
	c.records[key] = Record{Name: name, Args: args}
}

// Get looks up the record for a call id.
func (c *Cache) Get(callID string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[wire.NormalizeCallID(callID)]
	return rec, ok
}

// Observe scans the tool calls of an outgoing body into the cache.
func (c *Cache) Observe(calls []wire.ToolCallRef) {
	for _, call := range calls {
		c.Put(call.CallID, call.Name, call.Args)
	}
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
