package service

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// RESOLUTION CONFIG
// =============================================================================

// ResolutionConfig decides which service answers for an entity.
type ResolutionConfig struct {
	DefaultService string

	// Overrides maps "<type>" or "<type>:<bundle>" to a service id.
	Overrides map[string]string

	// AllowFirstRegisteredFallback picks the first registered service when
	// the default is unset or unknown. Off by default.
	AllowFirstRegisteredFallback bool
}

// OverrideKey builds the override map key for an entity type and bundle.
func OverrideKey(entityType stock.EntityType, bundle string) string {
	if bundle == "" {
		return string(entityType)
	}
	return string(entityType) + ":" + bundle
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry owns the registered services. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
	order    []string
	config   ResolutionConfig
	logger   zerolog.Logger
}

func NewRegistry(cfg ResolutionConfig, logger zerolog.Logger) *Registry {
	return &Registry{
		services: make(map[string]Service),
		config:   cfg,
		logger:   logger,
	}
}

// Register adds svc. Ids must be unique.
func (r *Registry) Register(svc Service) error {
	if svc == nil || svc.ID() == "" {
		return fmt.Errorf("%w: service id is required", stock.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[svc.ID()]; exists {
		return fmt.Errorf("%w: service %q already registered", stock.ErrInvalidInput, svc.ID())
	}
	r.services[svc.ID()] = svc
	r.order = append(r.order, svc.ID())
	return nil
}

// MustRegister is Register for wiring code that cannot recover.
func (r *Registry) MustRegister(svc Service) {
	if err := r.Register(svc); err != nil {
		panic(err)
	}
}

// SetConfig replaces the resolution config, e.g. after a reload.
func (r *Registry) SetConfig(cfg ResolutionConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = cfg
}

func (r *Registry) Config() ResolutionConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// Get returns a service by id.
func (r *Registry) Get(id string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", stock.ErrServiceNotFound, id)
	}
	return svc, nil
}

// List returns services in registration order.
func (r *Registry) List() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Service, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.services[id])
	}
	return out
}

// Infos is List for display, flagging the configured default.
func (r *Registry) Infos() []Info {
	def := r.Config().DefaultService
	services := r.List()
	out := make([]Info, len(services))
	for i, s := range services {
		out[i] = Info{ID: s.ID(), Label: s.Label(), Default: s.ID() == def}
	}
	return out
}

// Resolve picks the service responsible for entity.
func (r *Registry) Resolve(entity stock.Entity) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.services) == 0 {
		return nil, &stock.ConfigurationError{Entity: entity, Reason: "no stock services registered"}
	}

	// Overrides: bundle first, then type
	candidates := []string{OverrideKey(entity.Type, entity.Bundle)}
	if entity.Bundle != "" {
		candidates = append(candidates, OverrideKey(entity.Type, ""))
	}
	for _, k := range candidates {
		id, ok := r.config.Overrides[k]
		if !ok {
			continue
		}
		svc, ok := r.services[id]
		if !ok {
			return nil, &stock.ConfigurationError{
				Entity: entity,
				Reason: fmt.Sprintf("override %q names unknown service %q", k, id),
			}
		}
		return svc, nil
	}

	if id := r.config.DefaultService; id != "" {
		if svc, ok := r.services[id]; ok {
			return svc, nil
		}
		if !r.config.AllowFirstRegisteredFallback {
			return nil, &stock.ConfigurationError{
				Entity: entity,
				Reason: fmt.Sprintf("default service %q is not registered", id),
			}
		}
	} else if !r.config.AllowFirstRegisteredFallback {
		return nil, &stock.ConfigurationError{Entity: entity, Reason: "no default stock service configured"}
	}

	first := r.services[r.order[0]]
	r.logger.Warn().
		Str("entity", entity.String()).
		Str("default_service", r.config.DefaultService).
		Str("service", first.ID()).
		Msg("no usable default stock service, falling back to first registered")
	return first, nil
}
