package session

import (
	"context"
	"sync"
	"time"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
)

// Config tunes Manager limits (spec §4.M Limits).
type Config struct {
	MaxSessions       int
	InactivityTimeout time.Duration
	MaxRequestIDs     int
}

func (c Config) maxSessions() int {
	if c.MaxSessions <= 0 {
		return 1000
	}
	return c.MaxSessions
}

func (c Config) inactivityTimeout() time.Duration {
	if c.InactivityTimeout <= 0 {
		return 30 * time.Minute
	}
	return c.InactivityTimeout
}

func (c Config) maxRequestIDs() int {
	if c.MaxRequestIDs <= 0 {
		return 4096
	}
	return c.MaxRequestIDs
}

// Manager owns the full set of live sessions: one top-level RWMutex for
// insertion/eviction, matched by the teacher's internal/auth.Manager
// (single-map-plus-mutex session pool) generalized from HTTP-cookie
// sessions to transport-agnostic MCP client sessions, and from a single
// fixed TTL to the spec's Open->Initialized->{Active<->Idle}->Closed
// state machine with an idle-sweep reaper.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: map[string]*Session{},
		stop:     make(chan struct{}),
	}
}

// Open allocates a new session for an incoming connection. Returns a
// mcperr.KindConflict error once the configured MaxSessions is reached.
func (m *Manager) Open(transport string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.cfg.maxSessions() {
		return nil, mcperr.New(mcperr.KindConflict, "max concurrent sessions reached")
	}
	s := newSession(transport, m.cfg.maxRequestIDs())
	m.sessions[s.ID] = s
	return s, nil
}

// Get returns the session by id, or nil if not found.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Close removes a session from the pool and marks it Closed.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartReaper launches a background sweep that idles sessions quiet past
// half the inactivity timeout and closes/evicts ones quiet past the full
// timeout, until ctx is done or Stop is called.
func (m *Manager) StartReaper(ctx context.Context) {
	interval := m.cfg.inactivityTimeout() / 2
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Manager) sweep() {
	timeout := m.cfg.inactivityTimeout()
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		age := now.Sub(s.LastActivity())
		if age > timeout {
			expired = append(expired, id)
			continue
		}
		if age > timeout/2 {
			s.MarkIdle()
		}
	}
	for _, id := range expired {
		m.sessions[id].Close()
		delete(m.sessions, id)
	}
	m.mu.Unlock()
}

// Stop halts the reaper goroutine, if running, and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}
