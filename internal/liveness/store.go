// Package liveness tracks which versions of each process must have active
// listeners, combining the latest-deployment and live-subscription signals.
package liveness

import (
	"sync"

	"github.com/soochol/inflow/internal/inbound"
)

type processState struct {
	primary    inbound.VersionSet
	referenced inbound.VersionSet
}

func (s *processState) effective() inbound.VersionSet {
	return s.primary.Union(s.referenced)
}

// Store holds per-process primary and referenced version sets. The effective
// set of a process is always primary ∪ referenced and is never stored.
// Entries are never removed once created.
type Store struct {
	mu     sync.Mutex
	states map[inbound.ProcessIdentity]*processState
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{states: make(map[inbound.ProcessIdentity]*processState)}
}

// Reconcile replaces the stored set of obs.Kind for every process mentioned by
// obs and returns the processes whose effective set changed.
func (s *Store) Reconcile(obs inbound.LivenessObservation) inbound.ReconciliationResult {
	result := inbound.ReconciliationResult{
		AffectedProcesses: make(map[inbound.ProcessIdentity]inbound.VersionSet),
	}
	if len(obs.Affected) == 0 {
		return result
	}
	if obs.Kind != inbound.LivenessPrimary && obs.Kind != inbound.LivenessReferenced {
		return result
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, versions := range obs.Affected {
		state := s.stateLocked(id)
		before := state.effective()

		if obs.Kind == inbound.LivenessPrimary {
			state.primary = versions.Clone()
		} else {
			state.referenced = versions.Clone()
		}

		after := state.effective()
		if !after.Equal(before) {
			result.AffectedProcesses[id] = after
		}
	}
	return result
}

// Effective returns the current primary ∪ referenced set for id.
func (s *Store) Effective(id inbound.ProcessIdentity) inbound.VersionSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[id]; ok {
		return state.effective()
	}
	return inbound.NewVersionSet()
}

// Primary returns a copy of the primary set for id.
func (s *Store) Primary(id inbound.ProcessIdentity) inbound.VersionSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[id]; ok {
		return state.primary.Clone()
	}
	return inbound.NewVersionSet()
}

// Referenced returns a copy of the referenced set for id.
func (s *Store) Referenced(id inbound.ProcessIdentity) inbound.VersionSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[id]; ok {
		return state.referenced.Clone()
	}
	return inbound.NewVersionSet()
}

// Identities returns every process the store has seen.
func (s *Store) Identities() []inbound.ProcessIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inbound.ProcessIdentity, 0, len(s.states))
	for id := range s.states {
		out = append(out, id)
	}
	return out
}

func (s *Store) stateLocked(id inbound.ProcessIdentity) *processState {
	state, ok := s.states[id]
	if !ok {
		state = &processState{
			primary:    inbound.NewVersionSet(),
			referenced: inbound.NewVersionSet(),
		}
		s.states[id] = state
	}
	return state
}
