package adapters

import (
	"fmt"
	"sort"
)

// Registry maps resource names to their adapter.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(list ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(list))}
	for _, a := range list {
		if _, dup := r.adapters[a.Resource()]; dup {
			return nil, fmt.Errorf("duplicate adapter for resource %q", a.Resource())
		}
		r.adapters[a.Resource()] = a
	}
	return r, nil
}

// ForResources builds a registry for the named resources, picking the
// dedicated adapter where one exists.
func ForResources(names []string) (*Registry, error) {
	list := make([]Adapter, 0, len(names))
	for _, name := range names {
		list = append(list, Default(name))
	}
	return NewRegistry(list...)
}

// Default returns the adapter used for a resource name.
func Default(name string) Adapter {
	switch name {
	case "trackers":
		return NewTrackerAdapter()
	case "items":
		return NewItemAdapter()
	case "fields":
		return NewDocumentAdapter(name, "tracker", "name")
	case "groups":
		return NewDocumentAdapter(name, "name")
	default:
		return NewDocumentAdapter(name)
	}
}

func (r *Registry) Get(resource string) (Adapter, bool) {
	a, ok := r.adapters[resource]
	return a, ok
}

// Names returns the registered resource names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
