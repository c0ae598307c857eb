package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/models"
)

type sessionEntry struct {
	dashboard *Dashboard
	lastUsed  time.Time
}

// Sessions keeps one Dashboard per signed-in session.
type Sessions struct {
	deps DashboardDeps
	log  zerolog.Logger
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

func NewSessions(deps DashboardDeps) *Sessions {
	return &Sessions{
		deps:    deps,
		log:     deps.Log.With().Str("component", "sessions").Logger(),
		now:     time.Now,
		entries: make(map[string]*sessionEntry),
	}
}

// Dashboard returns the session's dashboard, creating and loading it on first use.
func (s *Sessions) Dashboard(ctx context.Context, sessionID string, principal models.Principal) *Dashboard {
	s.mu.Lock()
	e, ok := s.entries[sessionID]
	if !ok {
		e = &sessionEntry{dashboard: NewDashboard(s.deps, principal)}
		s.entries[sessionID] = e
	}
	e.lastUsed = s.now()
	s.mu.Unlock()

	// The first load outlives the request that triggered it.
	e.dashboard.EnsureLoaded(context.WithoutCancel(ctx))
	return e.dashboard
}

// Touch marks the session as in use without loading anything. Long-lived
// streams call it so the sweeper leaves their dashboard alone.
func (s *Sessions) Touch(sessionID string) {
	s.mu.Lock()
	if e, ok := s.entries[sessionID]; ok {
		e.lastUsed = s.now()
	}
	s.mu.Unlock()
}

// End closes and forgets the session's dashboard.
func (s *Sessions) End(sessionID string) {
	s.mu.Lock()
	e, ok := s.entries[sessionID]
	delete(s.entries, sessionID)
	s.mu.Unlock()

	if ok {
		e.dashboard.Close()
	}
}

// Sweep closes dashboards idle for longer than maxIdle and reports how many.
func (s *Sessions) Sweep(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	var stale []*Dashboard
	for id, e := range s.entries {
		if e.lastUsed.Before(cutoff) {
			stale = append(stale, e.dashboard)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, d := range stale {
		d.Close()
	}
	if len(stale) > 0 {
		s.log.Debug().Int("closed", len(stale)).Msg("idle dashboards closed")
	}
	return len(stale)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Sessions) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(maxIdle)
		}
	}
}

// CloseAll ends every session.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*sessionEntry)
	s.mu.Unlock()

	for _, e := range entries {
		e.dashboard.Close()
	}
}
