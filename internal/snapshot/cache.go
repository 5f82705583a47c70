// Package snapshot provides the session-scoped cache of UI state snapshots.
package snapshot

import (
	"sync"
	"time"

	"github.com/tinkerloft/deskpilot/internal/model"
)

// Cache stores sequential UI-state snapshots for one execution session.
// Sequence ids are strictly increasing, assigned atomically, starting at 1.
// The cache is discarded at session end.
type Cache struct {
	mu        sync.RWMutex
	snapshots []model.Snapshot
	nextSeq   int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{nextSeq: 1}
}

// Add stores a snapshot and returns its sequence id.
func (c *Cache) Add(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := model.Snapshot{
		SequenceID: c.nextSeq,
		Text:       text,
		CapturedAt: time.Now().UTC(),
	}
	c.snapshots = append(c.snapshots, snap)
	c.nextSeq++
	return snap.SequenceID
}

// Get returns the snapshot with the given sequence id.
func (c *Cache) Get(sequenceID int) (model.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := sequenceID - 1
	if idx < 0 || idx >= len(c.snapshots) {
		return model.Snapshot{}, false
	}
	return c.snapshots[idx], true
}

// Latest returns the most recently added snapshot.
func (c *Cache) Latest() (model.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.snapshots) == 0 {
		return model.Snapshot{}, false
	}
	return c.snapshots[len(c.snapshots)-1], true
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}
