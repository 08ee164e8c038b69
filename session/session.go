// Package session tracks the one live agent.Agent per channel, creating it
// lazily on first use and tearing it down on backend-type change or
// explicit clear. Grounded in the original session/mod.rs SessionManager.
package session

import (
	"context"
	"fmt"
	"sync"

	"chatgateway/agent"
)

// Factory creates a new agent.Agent bound to channelID for the given
// backend variant. Supplied by the caller (the gateway package) so this package
// stays independent of any one adapter implementation.
type Factory func(ctx context.Context, channelID uint64, backendType agent.Type) (agent.Agent, error)

// Manager owns the live agent.Agent for every channel currently in use.
type Manager struct {
	factory Factory

	mu       sync.RWMutex
	sessions map[uint64]agent.Agent
}

// New creates a Manager that uses factory to build new agents.
func New(factory Factory) *Manager {
	return &Manager{
		factory:  factory,
		sessions: make(map[uint64]agent.Agent),
	}
}

// GetOrCreate returns the channel's existing agent if its backend type
// still matches, else builds and stores a fresh one via the Factory.
func (m *Manager) GetOrCreate(ctx context.Context, channelID uint64, backendType agent.Type) (agent.Agent, error) {
	m.mu.RLock()
	if a, ok := m.sessions[channelID]; ok && a.Type() == backendType {
		m.mu.RUnlock()
		return a, nil
	}
	m.mu.RUnlock()

	a, err := m.factory(ctx, channelID, backendType)
	if err != nil {
		return nil, fmt.Errorf("create session for channel %d: %w", channelID, err)
	}

	m.mu.Lock()
	m.sessions[channelID] = a
	m.mu.Unlock()

	return a, nil
}

// Remove drops the in-memory session for channelID without touching any
// backend-side or on-disk session state.
func (m *Manager) Remove(channelID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, channelID)
}

// Clear removes the in-memory session and asks the (now-detached) agent to
// clear its backend-side state: a channel's session is destroyed on
// explicit clear, not merely dropped from memory.
func (m *Manager) Clear(ctx context.Context, channelID uint64) error {
	m.mu.Lock()
	a, ok := m.sessions[channelID]
	delete(m.sessions, channelID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return a.Clear(ctx)
}

// Has reports whether channelID currently has a live session.
func (m *Manager) Has(channelID uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[channelID]
	return ok
}
