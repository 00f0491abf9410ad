// Package dedup tracks which finished calls have already been bridged so a
// recipient is bridged at most once across poll cycles.
package dedup

import (
	"sync"
	"time"
)

// Info describes the call attempt behind a registry entry.
type Info struct {
	Phone       string
	Status      string
	ProcessedAt time.Time
}

// Registry is the at-most-once claim store for bridged calls.
//
// The default implementation is process-local: entries are lost on restart,
// so a call finished just before a crash may be bridged twice after the
// process comes back. Deployments that need stronger guarantees can swap in
// an implementation backed by a table with a unique constraint.
type Registry interface {
	// MarkIfAbsent atomically claims the key. Returns true only for the
	// first caller; later calls for the same key are no-ops.
	MarkIfAbsent(key string, info Info) bool
	// Remove releases a claim whose downstream bridging failed so a future
	// poll cycle can retry.
	Remove(key string)
	// Sweep drops entries older than maxAge and reports how many were removed.
	Sweep(maxAge time.Duration) int
	// Len reports the current entry count.
	Len() int
}

// Memory is the in-memory Registry.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Info
	now     func() time.Time
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]Info),
		now:     time.Now,
	}
}

func (m *Memory) MarkIfAbsent(key string, info Info) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; ok {
		return false
	}
	if info.ProcessedAt.IsZero() {
		info.ProcessedAt = m.now()
	}
	m.entries[key] = info
	return true
}

func (m *Memory) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memory) Sweep(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for key, info := range m.entries {
		if info.ProcessedAt.Before(cutoff) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
