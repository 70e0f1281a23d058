package proxy

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shepsii/dbproxies/storage"
)

// Candidate is a backend the registry can bind.
type Candidate struct {
	Name string
	// Supported probes whether the backend can run here. Nil means always.
	Supported func() bool
	Factory   storage.Factory
}

// Registry resolves a backend from an ordered list of candidate names,
// binding the first one whose probe passes.
type Registry struct {
	mu         sync.RWMutex
	candidates map[string]Candidate
	order      []string
	logger     *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger means slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		candidates: make(map[string]Candidate),
		logger:     logger,
	}
}

// Register adds a candidate.
func (r *Registry) Register(c Candidate) error {
	if c.Name == "" || c.Factory == nil {
		return ErrInvalidCandidate
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.candidates[c.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCandidate, c.Name)
	}
	r.candidates[c.Name] = c
	r.order = append(r.order, c.Name)
	return nil
}

// Names returns the registered candidate names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Resolve binds schema to the first supported candidate in names, or in
// registration order when names is empty. Unknown names are logged and
// skipped. It returns the backend and the name it was resolved from.
func (r *Registry) Resolve(schema *storage.Schema, names ...string) (storage.Backend, string, error) {
	if len(names) == 0 {
		names = r.Names()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range names {
		c, ok := r.candidates[name]
		if !ok {
			r.logger.Warn("unknown backend candidate", "name", name)
			continue
		}
		if c.Supported != nil && !c.Supported() {
			r.logger.Debug("backend not supported", "name", name)
			continue
		}
		backend, err := c.Factory(schema)
		if err != nil {
			return nil, "", fmt.Errorf("bind %s backend: %w", name, err)
		}
		r.logger.Debug("bound backend", "name", name, "model", schema.Name)
		return backend, name, nil
	}
	return nil, "", fmt.Errorf("%w: tried %v", ErrNoSupportedBackend, names)
}
