package flow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager tracks live wizard sessions. Idle sessions are torn down so their
// subscriptions and timers do not leak.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	factory  func() *Machine
	ttl      time.Duration
}

type session struct {
	machine  *Machine
	lastSeen time.Time
}

// NewManager builds a manager that creates machines via factory and expires
// sessions idle longer than ttl.
func NewManager(factory func() *Machine, ttl time.Duration) *Manager {
	m := &Manager{
		sessions: make(map[uuid.UUID]*session),
		factory:  factory,
		ttl:      ttl,
	}
	go m.cleanupLoop()
	return m
}

// Create starts a fresh session.
func (m *Manager) Create() (uuid.UUID, *Machine) {
	id := uuid.New()
	machine := m.factory()
	m.mu.Lock()
	m.sessions[id] = &session{machine: machine, lastSeen: time.Now()}
	m.mu.Unlock()
	return id, machine
}

// Get returns the session's machine and refreshes its idle clock.
func (m *Manager) Get(id uuid.UUID) (*Machine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	s.lastSeen = time.Now()
	return s.machine, true
}

// Remove tears down and forgets a session.
func (m *Manager) Remove(id uuid.UUID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.machine.Reset()
	}
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-m.ttl)
		var expired []*session
		m.mu.Lock()
		for id, s := range m.sessions {
			if s.lastSeen.Before(cutoff) {
				expired = append(expired, s)
				delete(m.sessions, id)
			}
		}
		m.mu.Unlock()
		for _, s := range expired {
			s.machine.Reset()
		}
	}
}
