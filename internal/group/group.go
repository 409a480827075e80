// Package group implements named group membership and group messaging:
// creator-only membership mutation, member-only messaging.
package group

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Group is one named membership set.
type Group struct {
	ID          string
	Name        string
	Creator     string
	Members     map[string]struct{}
	LastUpdated time.Time
}

// Manager owns all known groups.
type Manager struct {
	mu     sync.RWMutex
	groups map[string]*Group
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{groups: make(map[string]*Group)}
}

// Create seeds a local group record: an owner-gated membership set,
// generalized to an arbitrary member set instead of a single owner.
func (m *Manager) Create(id, name, creator string, members []string) *Group {
	set := make(map[string]struct{}, len(members)+1)
	set[creator] = struct{}{}
	for _, mem := range members {
		set[mem] = struct{}{}
	}
	g := &Group{ID: id, Name: name, Creator: creator, Members: set, LastUpdated: time.Now()}

	m.mu.Lock()
	m.groups[id] = g
	m.mu.Unlock()
	slog.Info("group created", "group_id", id, "name", name, "creator", creator, "members", len(set))
	return g
}

// Get returns the group for id, or nil.
func (m *Manager) Get(id string) *Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.groups[id]
}

// Update adds/removes members. Only the creator may call this
// successfully; any other caller gets an error and no mutation occurs.
func (m *Manager) Update(id, actor string, add, remove []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[id]
	if !ok {
		return fmt.Errorf("group: %s does not exist", id)
	}
	if actor != g.Creator {
		return fmt.Errorf("group: only the creator may update membership of %s", id)
	}

	for _, mem := range add {
		if mem != "" {
			g.Members[mem] = struct{}{}
		}
	}
	for _, mem := range remove {
		delete(g.Members, mem)
	}
	g.LastUpdated = time.Now()
	slog.Info("group updated", "group_id", id, "added", len(add), "removed", len(remove))
	return nil
}

// IsMember reports whether userID belongs to group id.
func (m *Manager) IsMember(id, userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return false
	}
	_, member := g.Members[userID]
	return member
}

// Members returns a snapshot of group id's member user_ids.
func (m *Manager) Members(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.Members))
	for mem := range g.Members {
		out = append(out, mem)
	}
	return out
}
