// Package session provides the runtime-only per-session state.
package session

import (
	"sync"
	"time"

	"github.com/murphys7017/mk2/internal/observation"
)

// RecentLimit bounds the recent-observation ring.
const RecentLimit = 20

// State is the runtime state of one session. It is not persisted. The owning
// worker is the only writer; the mutex covers readers on other goroutines
// (GC sweep, metrics snapshots).
type State struct {
	SessionKey string
	CreatedAt  time.Time

	mu           sync.RWMutex
	lastActiveAt time.Time
	processed    int64
	errors       int64
	recent       []*observation.Observation
}

// NewState creates state for a session key.
func NewState(sessionKey string) *State {
	return &State{
		SessionKey: sessionKey,
		CreatedAt:  time.Now().UTC(),
	}
}

// Touch updates the last-active instant.
func (s *State) Touch() {
	s.mu.Lock()
	s.lastActiveAt = time.Now().UTC()
	s.mu.Unlock()
}

// Record notes one processed observation, evicting the oldest entry once the
// recent ring is full.
func (s *State) Record(obs *observation.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now().UTC()
	s.processed++
	s.recent = append(s.recent, obs)
	if len(s.recent) > RecentLimit {
		s.recent = s.recent[len(s.recent)-RecentLimit:]
	}
}

// RecordError notes one failed observation.
func (s *State) RecordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now().UTC()
	s.errors++
}

// Recent returns the retained observations, oldest first.
func (s *State) Recent() []*observation.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*observation.Observation, len(s.recent))
	copy(out, s.recent)
	return out
}

// Processed returns the processed-observation count.
func (s *State) Processed() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processed
}

// Errors returns the error count.
func (s *State) Errors() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errors
}

// LastActiveAt returns the last-active instant (zero if never active).
func (s *State) LastActiveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}

// IdleSeconds returns seconds since the session was last active, or -1 if it
// has never been active.
func (s *State) IdleSeconds() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastActiveAt.IsZero() {
		return -1
	}
	return time.Since(s.lastActiveAt).Seconds()
}
