package chains

import "fmt"

// Registry holds the configured adapter per network. Networks without an
// adapter (e.g. EVM chains when no API key is configured) stay monitorable
// in principle but report unavailable.
type Registry struct {
	adapters map[Network]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Network]Adapter)}
}

func (r *Registry) Register(n Network, a Adapter) {
	r.adapters[n] = a
}

// ForNetwork returns the adapter for a network or an error when monitoring
// is unavailable for it.
func (r *Registry) ForNetwork(n Network) (Adapter, error) {
	a, ok := r.adapters[n]
	if !ok {
		return nil, fmt.Errorf("no chain adapter available for network %q", n)
	}
	return a, nil
}

// Available reports whether transfers on the network can be monitored.
func (r *Registry) Available(n Network) bool {
	_, ok := r.adapters[n]
	return ok
}
