package service

import (
	"sync"

	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/general/metrics"
	"fleet-tracking/internal/ports"
)

// Groups is a publish-to-group primitive over live sessions.
// Join and Leave are idempotent; Publish never blocks on a slow member.
type Groups struct {
	mu      sync.RWMutex
	members map[tracking.Group]map[string]ports.Session
}

func NewGroups() *Groups {
	return &Groups{members: make(map[tracking.Group]map[string]ports.Session)}
}

// Join reports whether s was added (false when already a member).
func (g *Groups) Join(group tracking.Group, s ports.Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.members[group]
	if !ok {
		set = make(map[string]ports.Session)
		g.members[group] = set
	}
	if _, dup := set[s.ID()]; dup {
		return false
	}
	set[s.ID()] = s
	metrics.GroupMembers.WithLabelValues(string(group)).Set(float64(len(set)))
	return true
}

// Leave reports whether s was removed (false when not a member).
func (g *Groups) Leave(group tracking.Group, s ports.Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	set := g.members[group]
	if _, ok := set[s.ID()]; !ok {
		return false
	}
	delete(set, s.ID())
	metrics.GroupMembers.WithLabelValues(string(group)).Set(float64(len(set)))
	return true
}

func (g *Groups) IsMember(group tracking.Group, s ports.Session) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.members[group][s.ID()]
	return ok
}

func (g *Groups) Size(group tracking.Group) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members[group])
}

// Publish sends frame to every member of group and returns how many accepted it.
func (g *Groups) Publish(group tracking.Group, frame []byte) (delivered, dropped int) {
	g.mu.RLock()
	targets := make([]ports.Session, 0, len(g.members[group]))
	for _, s := range g.members[group] {
		targets = append(targets, s)
	}
	g.mu.RUnlock()

	for _, s := range targets {
		if s.Send(frame) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
