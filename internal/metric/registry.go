package metric

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrDefinitionNotFound is returned when no definition exists for (category, name).
	ErrDefinitionNotFound = errors.New("metric definition not found")
	ErrAlreadyRegistered  = errors.New("metric definition already registered")
)

type registryKey struct {
	Category string
	Name     string
}

// Registry is the static catalog of metric definitions keyed by (category, name).
// It is filled once at startup from the catalog loader and read-only afterwards,
// so lookups need no locking.
type Registry struct {
	byKey map[registryKey]*Definition
	order []*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[registryKey]*Definition)}
}

// Register adds a definition. Duplicate (category, name) fails: catalog
// collisions are a deployment error, not something to silently overwrite.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	key := registryKey{Category: def.Category, Name: def.Name}
	if _, exists := r.byKey[key]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, def.ID())
	}
	r.byKey[key] = def
	r.order = append(r.order, def)
	return nil
}

// Get returns the definition for (category, name).
func (r *Registry) Get(category, name string) (*Definition, error) {
	def, ok := r.byKey[registryKey{Category: category, Name: name}]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrDefinitionNotFound, category, name)
	}
	return def, nil
}

// ListAll returns definitions in stable registration order. Batch sweeps rely
// on this ordering being deterministic across runs.
func (r *Registry) ListAll() []*Definition {
	out := make([]*Definition, len(r.order))
	copy(out, r.order)
	return out
}

// ListCategory returns definitions in one category, in registration order.
func (r *Registry) ListCategory(category string) []*Definition {
	var out []*Definition
	for _, def := range r.order {
		if def.Category == category {
			out = append(out, def)
		}
	}
	return out
}

// Categories returns the distinct categories in first-seen order.
func (r *Registry) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, def := range r.order {
		if !seen[def.Category] {
			seen[def.Category] = true
			out = append(out, def.Category)
		}
	}
	return out
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	return len(r.order)
}
