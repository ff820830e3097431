package check

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"qcflow/internal/models"
)

// Module is the user logic behind a check.
type Module interface {
	// Configure is called once with the check name and its parameters.
	Configure(name string, params map[string]string) error

	// Check assigns a quality to the selected objects, keyed by full name.
	Check(objects map[string]*models.MonitorObject) models.Quality

	// AcceptedType is the object type prefix the module understands, "" for any.
	AcceptedType() string

	// Beautify may annotate mo according to q.
	Beautify(mo *models.MonitorObject, q models.Quality)
}

// Factory builds a fresh, unconfigured module.
type Factory func() Module

var ErrUnknownModule = errors.New("unknown check module")

// Registry maps module ids to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for id.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// New instantiates the module registered under id.
func (r *Registry) New(id string) (Module, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownModule, id)
	}
	return f(), nil
}

// Modules lists the registered ids.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for id := range r.factories {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
