package throttle

import "sync"

// Registry holds one Throttler per API canonical (binance, bybit,
// bitget, kucoin, kraken, taapi, coinmarketcap, alternativeme).
type Registry struct {
	mu         sync.RWMutex
	throttlers map[string]*Throttler
}

func NewRegistry() *Registry {
	return &Registry{throttlers: make(map[string]*Throttler)}
}

func (r *Registry) Register(t *Throttler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throttlers[t.canonical.Name] = t
}

func (r *Registry) Get(canonical string) (*Throttler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.throttlers[canonical]
	return t, ok
}
