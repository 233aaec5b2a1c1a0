package chain

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	ratingdomain "github.com/smallbiznis/cloudkitty/internal/rating/domain"
)

// Registry is the construction-time table of available modules. Registration
// order breaks priority ties when the chain is built.
type Registry struct {
	mu      sync.RWMutex
	modules []ratingdomain.Module
	byName  map[string]ratingdomain.Module
}

func NewRegistry(modules ...ratingdomain.Module) (*Registry, error) {
	r := &Registry{byName: make(map[string]ratingdomain.Module)}
	for _, m := range modules {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(m ratingdomain.Module) error {
	name := strings.TrimSpace(m.Info().Name)
	if name == "" {
		return errors.New("rating module name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", ratingdomain.ErrDuplicateModule, name)
	}
	r.modules = append(r.modules, m)
	r.byName[name] = m
	return nil
}

func (r *Registry) Get(name string) (ratingdomain.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// All returns modules in registration order.
func (r *Registry) All() []ratingdomain.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ratingdomain.Module(nil), r.modules...)
}
