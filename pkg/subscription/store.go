// Package subscription tracks which responders the user is subscribed to.
package subscription

import (
	"errors"
	"sync"

	"github.com/zen-systems/enginegate/pkg/agent"
)

// ErrUnknownAgent is returned when toggling an agent outside the closed set.
var ErrUnknownAgent = errors.New("invalid agent")

// Store maps agents to their subscription status.
type Store interface {
	IsSubscribed(id agent.ID) bool
	Set(id agent.ID, subscribed bool) error
	Snapshot() map[agent.ID]bool
}

// Defaults returns the initial status: every agent subscribed.
func Defaults() map[agent.ID]bool {
	out := make(map[agent.ID]bool)
	for _, id := range agent.All() {
		out[id] = true
	}
	return out
}

// MemoryStore keeps subscription status in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	status map[agent.ID]bool
}

// NewMemoryStore creates a store with every agent subscribed.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{status: Defaults()}
}

// IsSubscribed reports the status of an agent. Unknown agents are never
// subscribed.
func (s *MemoryStore) IsSubscribed(id agent.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status[id]
}

// Set updates the status of an agent.
func (s *MemoryStore) Set(id agent.ID, subscribed bool) error {
	if !id.Valid() {
		return ErrUnknownAgent
	}
	s.mu.Lock()
	s.status[id] = subscribed
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of every agent's status.
func (s *MemoryStore) Snapshot() map[agent.ID]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[agent.ID]bool, len(s.status))
	for id, v := range s.status {
		out[id] = v
	}
	return out
}
