// Package activity tracks operator intent — which (domain,key) entries
// are paused or draining — and, in profiles that enable it, runs a
// Supervisor loop reconciling that intent into the Lifecycle Manager and
// publishing a readiness snapshot.
package activity

import (
	"sync"

	"github.com/lesleslie/oneiric/pkg/types"
)

type stateKey struct {
	domain types.Domain
	key    string
}

// Store holds operator-declared ActivityState per (domain,key). It is a
// plain map guarded by one mutex; Snapshot returns a point-in-time copy
// so callers never observe a torn read.
type Store struct {
	mu     sync.RWMutex
	states map[stateKey]types.ActivityState
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{states: make(map[stateKey]types.ActivityState)}
}

// Pause marks (domain,key) as paused with the given note.
func (s *Store) Pause(domain types.Domain, key, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := stateKey{domain, key}
	st := s.states[k]
	st.Domain, st.Key = domain, key
	st.Paused = true
	st.Note = note
	s.states[k] = st
}

// Resume clears the paused flag for (domain,key).
func (s *Store) Resume(domain types.Domain, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := stateKey{domain, key}
	st, ok := s.states[k]
	if !ok {
		return
	}
	st.Paused = false
	s.states[k] = st
}

// Drain marks (domain,key) as draining with the given note.
func (s *Store) Drain(domain types.Domain, key, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := stateKey{domain, key}
	st := s.states[k]
	st.Domain, st.Key = domain, key
	st.Draining = true
	st.Note = note
	s.states[k] = st
}

// Snapshot returns every tracked ActivityState keyed by "domain/key".
func (s *Store) Snapshot() map[string]types.ActivityState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]types.ActivityState, len(s.states))
	for k, v := range s.states {
		out[string(k.domain)+"/"+k.key] = v
	}
	return out
}

// pauseDrainEntries returns the keys currently marked paused or
// draining, for the Supervisor to reconcile.
func (s *Store) pauseDrainEntries() []types.ActivityState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.ActivityState, 0)
	for _, v := range s.states {
		if v.Paused || v.Draining {
			out = append(out, v)
		}
	}
	return out
}
