package seance

import (
	"context"
	"sync"
	"time"

	"codeberg.org/grimoire/server/internal/logger"
)

// called with the outcome of each tick of an active arbiter
type TickFunc func(sessionID string, result TickResult)

// owns one arbiter per active seance session and drives them at a fixed
// 1-second cadence
type Manager struct {
	mu       sync.RWMutex
	arbiters map[string]*Arbiter
	onTick   TickFunc
	interval time.Duration
}

func NewManager(onTick TickFunc) *Manager {
	return &Manager{
		arbiters: make(map[string]*Arbiter),
		onTick:   onTick,
		interval: time.Second,
	}
}

// registers an arbiter for a session, replacing any existing one
func (m *Manager) Put(sessionID string, arbiter *Arbiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arbiters[sessionID] = arbiter
}

// returns the arbiter for a session, if one is registered
func (m *Manager) Get(sessionID string) (*Arbiter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	arbiter, ok := m.arbiters[sessionID]
	return arbiter, ok
}

// drops a session's arbiter (session completed or cancelled)
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.arbiters, sessionID)
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.arbiters)
}

// runs the tick loop until the context is cancelled
func (m *Manager) Run(ctx context.Context) {
	logger.Info("seance tick loop started", "interval", m.interval.String())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("seance tick loop stopped")
			return
		case now := <-ticker.C:
			m.tickAll(now)
		}
	}
}

func (m *Manager) tickAll(now time.Time) {
	m.mu.RLock()
	type entry struct {
		sessionID string
		arbiter   *Arbiter
	}

	entries := make([]entry, 0, len(m.arbiters))
	for sessionID, arbiter := range m.arbiters {
		entries = append(entries, entry{sessionID, arbiter})
	}
	m.mu.RUnlock()

	for _, e := range entries {
		result := e.arbiter.Tick(now)

		if !result.Active {
			continue
		}

		if result.TimedOut {
			// expected elimination, not an error to the session
			logger.Info("turn timed out",
				"session_id", e.sessionID,
				"lost_user_id", result.LostUserID,
			)
		}

		if m.onTick != nil {
			m.onTick(e.sessionID, result)
		}
	}
}
