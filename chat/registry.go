package chat

import "sync"

// AdapterRegistry is a thread-safe table of adapters keyed by vendor kind.
// The vendor set is closed at build time, so registration happens once at
// startup and lookups are read-mostly.
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[VendorKind]Adapter
}

// NewAdapterRegistry creates an empty AdapterRegistry.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{adapters: make(map[VendorKind]Adapter)}
}

// Register adds an adapter under its own vendor kind, replacing any previous
// registration for that kind.
func (r *AdapterRegistry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Vendor()] = a
}

// Get retrieves the adapter for a vendor kind.
func (r *AdapterRegistry) Get(kind VendorKind) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	return a, ok
}

// Kinds lists the registered vendor kinds.
func (r *AdapterRegistry) Kinds() []VendorKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]VendorKind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	return kinds
}
