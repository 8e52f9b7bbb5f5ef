package gateway

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Registry maps gateway identifiers to configured descriptors and their
// strategy triples. Per-gateway packages register factories in init(); the
// application binds descriptors from configuration at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]StrategyFactory
	gateways  map[string]*Gateway
	bound     map[string]*Strategy
	validate  *validator.Validate
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]StrategyFactory),
		gateways:  make(map[string]*Gateway),
		bound:     make(map[string]*Strategy),
		validate:  validator.New(),
	}
}

// RegisterFactory adds a strategy factory for a gateway id.
func (r *Registry) RegisterFactory(id string, factory StrategyFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
}

// Configure binds a descriptor to its registered factory. Disabled gateways
// are stored so Resolve can distinguish "disabled" from "unknown".
func (r *Registry) Configure(gw Gateway) error {
	if err := r.validate.Struct(gw); err != nil {
		return fmt.Errorf("gateway %q: invalid descriptor: %w", gw.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[gw.ID]
	if !ok {
		return fmt.Errorf("gateway %q: %w", gw.ID, ErrGatewayNotFound)
	}

	strategy, err := factory(&gw)
	if err != nil {
		return fmt.Errorf("gateway %q: %w", gw.ID, err)
	}

	r.gateways[gw.ID] = &gw
	r.bound[gw.ID] = strategy
	return nil
}

// Resolve returns the descriptor and strategy for an id. Unknown ids and
// disabled gateways are terminal failures, never retried.
func (r *Registry) Resolve(id string) (*Gateway, *Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, ok := r.gateways[id]
	if !ok {
		return nil, nil, fmt.Errorf("gateway %q: %w", id, ErrGatewayNotFound)
	}
	if !gw.Enabled {
		return nil, nil, fmt.Errorf("gateway %q: %w", id, ErrGatewayDisabled)
	}
	return gw, r.bound[id], nil
}

// ListEnabled returns every enabled gateway carrying the capability. An
// empty capability matches all enabled gateways.
func (r *Registry) ListEnabled(cap Capability) []*Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Gateway
	for _, gw := range r.gateways {
		if !gw.Enabled {
			continue
		}
		if cap == "" || gw.Supports(cap) {
			out = append(out, gw)
		}
	}
	return out
}

// RegisteredIDs returns the ids of all registered factories.
func (r *Registry) RegisteredIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	return ids
}

// DefaultRegistry is the process-wide registry gateway packages register
// into from their init functions.
var DefaultRegistry = NewRegistry()

// Register registers a factory with the default registry.
func Register(id string, factory StrategyFactory) {
	DefaultRegistry.RegisterFactory(id, factory)
}
