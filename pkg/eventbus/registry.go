// Package eventbus correlates inbound contact events with the runs
// waiting on them.
package eventbus

import (
	"sync"
)

// Registry maps correlation keys (contact, channel) to the runs waiting
// for an event on that key. Delivery is first-match-wins: an event
// resolves at most the earliest-registered waiting run, and events with
// no waiting run are discarded by the bus.
type Registry struct {
	mu      sync.Mutex
	waiting map[string][]string // correlation key -> run IDs in registration order
}

func NewRegistry() *Registry {
	return &Registry{
		waiting: make(map[string][]string),
	}
}

// Register records that runID is waiting for an event on key.
// Registering the same run twice on one key is a no-op.
func (r *Registry) Register(key, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.waiting[key] {
		if id == runID {
			return
		}
	}

	r.waiting[key] = append(r.waiting[key], runID)
}

// Requeue restores runID at the head of key's waiters, so a run whose
// delivery failed keeps its claim order. A run already registered stays
// where it is.
func (r *Registry) Requeue(key, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.waiting[key] {
		if id == runID {
			return
		}
	}

	r.waiting[key] = append([]string{runID}, r.waiting[key]...)
}

// Deregister removes runID from key's waiters. It is safe to call for a
// run that already lost the registration.
func (r *Registry) Deregister(key, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	waiters := r.waiting[key]

	for i, id := range waiters {
		if id == runID {
			r.waiting[key] = append(waiters[:i], waiters[i+1:]...)

			break
		}
	}

	if len(r.waiting[key]) == 0 {
		delete(r.waiting, key)
	}
}

// Claim atomically resolves and removes the first waiting run for key.
// It returns false when no run is waiting.
func (r *Registry) Claim(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	waiters := r.waiting[key]
	if len(waiters) == 0 {
		return "", false
	}

	runID := waiters[0]

	if len(waiters) == 1 {
		delete(r.waiting, key)
	} else {
		r.waiting[key] = waiters[1:]
	}

	return runID, true
}

// Waiting reports whether runID is registered on key.
func (r *Registry) Waiting(key, runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.waiting[key] {
		if id == runID {
			return true
		}
	}

	return false
}
