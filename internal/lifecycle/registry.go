package lifecycle

import "sync"

// Registry maps active project runs to their signals. Created at startup and
// passed explicitly to the scheduler and the request layer; there is no
// package-level instance.
type Registry struct {
	mu      sync.Mutex
	signals map[string]*Signal
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{signals: make(map[string]*Signal)}
}

// Attach registers a fresh Signal for projectID, replacing any stale entry
// from a previous run.
func (r *Registry) Attach(projectID string) *Signal {
	sig := NewSignal()
	r.mu.Lock()
	r.signals[projectID] = sig
	r.mu.Unlock()
	return sig
}

// Detach removes the signal once the run finalizes.
func (r *Registry) Detach(projectID string) {
	r.mu.Lock()
	delete(r.signals, projectID)
	r.mu.Unlock()
}

// Lookup returns the signal for an active run, or nil when the project has no
// run in flight.
func (r *Registry) Lookup(projectID string) *Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signals[projectID]
}
