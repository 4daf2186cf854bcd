package service

import (
	"context"
	"sync"

	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/ports"
)

// MemoryPresence is the single-instance presence registry.
// The gateway loop is its only writer; the mutex covers REST readers.
type MemoryPresence struct {
	mu      sync.RWMutex
	entries map[int64]tracking.PresenceEntry
}

var _ ports.PresenceRegistry = (*MemoryPresence)(nil)

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{entries: make(map[int64]tracking.PresenceEntry)}
}

func (p *MemoryPresence) Put(_ context.Context, entry tracking.PresenceEntry) (*tracking.PresenceEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var prev *tracking.PresenceEntry
	if old, ok := p.entries[entry.UserID]; ok {
		prev = &old
	}
	p.entries[entry.UserID] = entry
	return prev, nil
}

func (p *MemoryPresence) Remove(_ context.Context, userID int64, sessionID string) (*tracking.PresenceEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.entries[userID]
	if !ok || cur.SessionID != sessionID {
		return nil, nil
	}
	delete(p.entries, userID)
	return &cur, nil
}

// Touch only restores; in-process entries never lapse.
func (p *MemoryPresence) Touch(_ context.Context, entry tracking.PresenceEntry) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.entries[entry.UserID]
	if ok && cur.SessionID != entry.SessionID {
		return false, nil
	}
	p.entries[entry.UserID] = entry
	return true, nil
}

func (p *MemoryPresence) Get(_ context.Context, userID int64) (*tracking.PresenceEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cur, ok := p.entries[userID]
	if !ok {
		return nil, nil
	}
	return &cur, nil
}

func (p *MemoryPresence) List(_ context.Context) ([]tracking.PresenceEntry, error) {
	p.mu.RLock()
	out := make([]tracking.PresenceEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	p.mu.RUnlock()

	tracking.SortEntries(out)
	return out, nil
}
