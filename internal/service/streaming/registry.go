// Package streaming runs generation turns: it owns the job registry, the
// per-turn session state machine and the manager that HTTP handlers talk to.
package streaming

import (
	"sync"

	"meander/internal/domain"
)

// job is one live generation registered under its track id. cancel tears the
// job's context down; the session notices at the next fragment boundary.
type job struct {
	threadID           string
	assistantMessageID string
	cancel             func()
	cancelled          bool
}

// Registry tracks at most one live generation job per track id.
//
// Lifecycle:
//  1. Manager.Start claims the track id before returning the turn
//  2. Cancel flips the job to cancelled and fires its cancel func
//  3. The session deregisters on the way out, whatever the outcome
type Registry struct {
	jobs map[string]*job
	mu   sync.RWMutex
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*job)}
}

// Register claims the track id for a new job. A second registration under a
// track id that is still live fails with a conflict; the caller must not start
// the duplicate turn.
func (r *Registry) Register(trackID, threadID string, cancel func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[trackID]; exists {
		return &domain.ConflictError{
			Message:      "a generation is already running for this turn",
			ResourceType: "stream",
			ResourceID:   trackID,
		}
	}

	r.jobs[trackID] = &job{
		threadID: threadID,
		cancel:   cancel,
	}
	return nil
}

// bind records the assistant placeholder backing the job. The placeholder row
// is created after the claim, so its id arrives in a second step.
func (r *Registry) bind(trackID, assistantMessageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if j, exists := r.jobs[trackID]; exists {
		j.assistantMessageID = assistantMessageID
	}
}

// Cancel requests cancellation of the job under trackID. The first call on a
// live job returns true and fires its cancel func; every other call, including
// on an already-cancelled or unknown track id, returns false. The job itself
// stays registered until the session deregisters it.
func (r *Registry) Cancel(trackID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, exists := r.jobs[trackID]
	if !exists || j.cancelled {
		return false
	}

	j.cancelled = true
	j.cancel()
	return true
}

// Deregister removes the job under trackID. Safe to call for unknown ids.
func (r *Registry) Deregister(trackID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.jobs, trackID)
}

// Running reports whether a live (not yet cancelled) job holds the track id.
func (r *Registry) Running(trackID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, exists := r.jobs[trackID]
	return exists && !j.cancelled
}

// Count returns the number of registered jobs. Useful for monitoring and
// testing.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.jobs)
}
