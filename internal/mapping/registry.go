package mapping

import (
	"fmt"
	"log/slog"
)

// Registry maps Method values to their Backend implementations.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	backends map[Method]Backend
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		backends: make(map[Method]Backend),
		logger:   logger.With("component", "mapping-registry"),
	}
}

// Register adds a Backend to the registry, keyed by its Method().
func (r *Registry) Register(b Backend) {
	m := b.Method()
	r.backends[m] = b
	r.logger.Debug("mapping backend registered", "method", m)
}

// Get returns the Backend for the given method or an error if none is registered.
func (r *Registry) Get(m Method) (Backend, error) {
	b, ok := r.backends[m]
	if !ok {
		return nil, fmt.Errorf("no mapping backend registered for method %q", m)
	}
	return b, nil
}
