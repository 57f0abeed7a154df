package protocol

import (
	"fmt"
	"strings"
)

// Registry maps normalised protocol names to adapters and preserves
// registration order.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(a Adapter) error {
	key := Normalize(a.Name())
	if key == "" {
		return fmt.Errorf("adapter name must not be empty")
	}
	if _, exists := r.adapters[key]; exists {
		return fmt.Errorf("adapter %q already registered", key)
	}
	r.adapters[key] = a
	r.order = append(r.order, key)
	return nil
}

// Get fails with ErrUnsupportedProtocol for unknown names.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[Normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, name)
	}
	return a, nil
}

func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.adapters[key])
	}
	return out
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
