package worker

import (
	"strings"
	"sync"

	"github.com/Iron-Ham/relay/internal/errors"
)

// Registry holds workers in registration order, keyed by exact identity.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	workers map[string]Worker
}

// NewRegistry creates a registry containing workers.
func NewRegistry(workers ...Worker) (*Registry, error) {
	r := &Registry{workers: make(map[string]Worker)}
	for _, w := range workers {
		if err := r.Register(w); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds w. Identities must be non-empty and unique.
func (r *Registry) Register(w Worker) error {
	id := w.ID()
	if strings.TrimSpace(id) == "" {
		return errors.NewValidationError("worker identity must not be empty").WithField("id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[id]; exists {
		return errors.NewAlreadyExistsError("worker", id).WithCause(errors.ErrDuplicateWorker)
	}
	r.workers[id] = w
	r.order = append(r.order, id)
	return nil
}

// Lookup resolves id by exact match.
func (r *Registry) Lookup(id string) (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return nil, errors.NewNotFoundError("worker", id).WithCause(errors.ErrUnknownWorker)
	}
	return w, nil
}

// Roster describes every worker in registration order.
func (r *Registry) Roster() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Info{ID: id, Description: r.workers[id].Description()})
	}
	return out
}

// IDs returns worker identities in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
