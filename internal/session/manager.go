package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"promptcraft/internal/domain"
	"promptcraft/internal/infra"
)

// Manager owns the live sessions of the process.
type Manager struct {
	deps       Deps
	newPrompts func() PromptRefiner
	ttl        time.Duration
	now        func() time.Time
	logger     *infra.Logger

	mu       sync.RWMutex
	sessions map[string]*Orchestrator
}

// NewManager builds a manager. newPrompts returns a fresh refiner, so each
// session gets its own conversation. ttl <= 0 disables eviction.
func NewManager(deps Deps, newPrompts func() PromptRefiner, ttl time.Duration) *Manager {
	deps = deps.withDefaults()
	return &Manager{
		deps:       deps,
		newPrompts: newPrompts,
		ttl:        ttl,
		now:        time.Now,
		logger:     deps.Logger,
		sessions:   make(map[string]*Orchestrator),
	}
}

// Create starts a new idle session.
func (m *Manager) Create() *Orchestrator {
	o := New(uuid.NewString(), m.newPrompts(), m.deps)
	m.mu.Lock()
	m.sessions[o.ID()] = o
	m.mu.Unlock()
	m.logger.Debug().Str("session", o.ID()).Msg("session: created")
	return o
}

// Get looks up a session.
func (m *Manager) Get(id string) (*Orchestrator, error) {
	m.mu.RLock()
	o, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return o, nil
}

// List returns snapshots of all sessions, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, o := range m.sessions {
		out = append(out, o.Snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Timeouts returns the collaborator timeouts every session runs under.
func (m *Manager) Timeouts() Timeouts { return m.deps.Timeouts }

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close removes a session. A pending session cannot be closed; once closed,
// a handle obtained earlier refuses new operations.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	o, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	if !o.tryClose(time.Time{}) {
		m.mu.Unlock()
		return domain.ErrBusy
	}
	delete(m.sessions, id)
	m.mu.Unlock()
	o.close()
	m.logger.Debug().Str("session", id).Msg("session: closed")
	return nil
}

// Sweep evicts idle sessions inactive since before now-ttl and returns how
// many were removed.
func (m *Manager) Sweep(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-m.ttl)
	var evicted []*Orchestrator
	m.mu.Lock()
	for id, o := range m.sessions {
		if !o.tryClose(cutoff) {
			continue
		}
		delete(m.sessions, id)
		evicted = append(evicted, o)
	}
	m.mu.Unlock()
	for _, o := range evicted {
		o.close()
	}
	if len(evicted) > 0 {
		m.logger.Info().Int("evicted", len(evicted)).Msg("session: swept idle sessions")
	}
	return len(evicted)
}

// Run sweeps periodically until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if m.ttl <= 0 {
		<-ctx.Done()
		return nil
	}
	interval := m.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.Sweep(m.now())
		}
	}
}
