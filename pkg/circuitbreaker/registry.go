package circuitbreaker

import "sync"

// Registry manages breakers keyed by destination, created lazily.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewRegistry creates a registry; every breaker uses cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b = New(r.cfg)
	r.breakers[key] = b
	return b
}

// Stats summarizes the registry's breakers.
type Stats struct {
	Total int
	Open  int
}

// Stats returns the current breaker counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Total: len(r.breakers)}
	for _, b := range r.breakers {
		if b.State() == Open {
			s.Open++
		}
	}
	return s
}
