// Package session tracks live Trojan connections: when each one started,
// when it was last active, and which real destination it's bound to, so
// idle ones can be evicted. It keeps no per-datagram state for UDP
// associate.
package session

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trojanlite/internal/mixaddr"
)

// State is the bookkeeping kept for one authenticated Trojan connection.
type State struct {
	ID           uuid.UUID
	RemoteAddr   net.Addr
	Target       mixaddr.MixAddr
	ConnectedAt  time.Time
	LastActivity time.Time

	// TargetConn is the outbound connection to the real destination, or
	// nil for a UDP-associate session (which has no single target conn).
	TargetConn net.Conn
}

// Registry is a concurrency-safe map of live sessions, keyed by a
// randomly generated ID assigned when the session is created.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*State
	log      *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*State), log: log}
}

// Create registers a new session and returns its state.
func (r *Registry) Create(remote net.Addr, target mixaddr.MixAddr) *State {
	now := time.Now()
	s := &State{
		ID:           uuid.New(),
		RemoteAddr:   remote,
		Target:       target,
		ConnectedAt:  now,
		LastActivity: now,
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get looks up a session by ID.
func (r *Registry) Get(id uuid.UUID) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Touch refreshes a session's last-activity timestamp.
func (r *Registry) Touch(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.LastActivity = time.Now()
	}
}

// Remove closes a session's target connection (if any) and drops it from
// the registry.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		if s.TargetConn != nil {
			s.TargetConn.Close()
		}
		delete(r.sessions, id)
	}
}

// Len reports how many sessions are currently tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RunEviction blocks, periodically closing and dropping sessions that
// have been idle longer than maxIdle, until ctx-like stop channel closes.
// Callers typically run this in its own goroutine for the lifetime of the
// server.
func (r *Registry) RunEviction(interval, maxIdle time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.evictOlderThan(maxIdle)
		}
	}
}

func (r *Registry) evictOlderThan(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)
	var stale []uuid.UUID

	r.mu.RLock()
	for id, s := range r.sessions {
		if s.LastActivity.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.Remove(id)
	}
	if len(stale) > 0 && r.log != nil {
		r.log.Debug("evicted idle sessions", zap.Int("count", len(stale)))
	}
}
