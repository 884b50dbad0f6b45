package backend

import (
	"fmt"
	"sort"
	"sync"

	domain "conductor/internal/domain/backend"
	"conductor/internal/domain/usage"
	"conductor/internal/shared/logging"
)

// Registry resolves roles to backend handles, preferring under-used backends.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*handle
	order   []string
	ledger  *usage.Ledger
	logger  logging.Logger
}

// NewRegistry constructs an empty registry ranked by ledger.
func NewRegistry(ledger *usage.Ledger, logger logging.Logger) *Registry {
	if ledger == nil {
		ledger = usage.NewLedger()
	}
	return &Registry{
		handles: make(map[string]*handle),
		ledger:  ledger,
		logger:  logging.OrNop(logger),
	}
}

// NewRegistryFromConfig builds clients for every config.
func NewRegistryFromConfig(configs []Config, ledger *usage.Ledger, logger logging.Logger) (*Registry, error) {
	r := NewRegistry(ledger, logger)
	for _, cfg := range configs {
		client, err := NewClient(cfg)
		if err != nil {
			return nil, err
		}
		if err := r.Register(cfg, client); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a backend. Names must be unique.
func (r *Registry) Register(cfg Config, client Client) error {
	if cfg.Name == "" {
		return fmt.Errorf("backend name is required")
	}
	if client == nil {
		return fmt.Errorf("backend %s: nil client", cfg.Name)
	}
	cfg = cfg.withDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[cfg.Name]; exists {
		return fmt.Errorf("backend %s registered twice", cfg.Name)
	}
	r.handles[cfg.Name] = newHandle(cfg, client)
	r.order = append(r.order, cfg.Name)
	r.logger.Debug("registered backend %s (%s/%s)", cfg.Name, cfg.Provider, cfg.Model)
	return nil
}

// Resolve returns the preferred backend when named, otherwise the best-ranked
// backend eligible for role. Names in skip are excluded; if the preferred
// backend is skipped, ranking picks an alternative.
func (r *Registry) Resolve(role, preferred string, skip ...string) (domain.Handle, error) {
	skipped := make(map[string]bool, len(skip))
	for _, name := range skip {
		skipped[name] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if preferred != "" && !skipped[preferred] {
		h, ok := r.handles[preferred]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownBackend, preferred)
		}
		return h, nil
	}

	var candidates []usage.Candidate
	for _, name := range r.order {
		h := r.handles[name]
		if skipped[name] || !h.cfg.ServesRole(role) {
			continue
		}
		candidates = append(candidates, usage.Candidate{Backend: name, Model: h.cfg.Model})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w for role %q", domain.ErrNoEligibleBackend, role)
	}
	ranked := r.ledger.Rank(candidates)
	return r.handles[ranked[0].Backend], nil
}

// Eligible returns backend names serving role, in registration order.
func (r *Registry) Eligible(role string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, name := range r.order {
		if r.handles[name].cfg.ServesRole(role) {
			names = append(names, name)
		}
	}
	return names
}

// Roles returns every role named explicitly by some backend.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	var roles []string
	for _, name := range r.order {
		for _, role := range r.handles[name].cfg.Roles {
			if role != "*" && !seen[role] {
				seen[role] = true
				roles = append(roles, role)
			}
		}
	}
	sort.Strings(roles)
	return roles
}

// Names returns every registered backend name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Config returns the config of a registered backend.
func (r *Registry) Config(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	if !ok {
		return Config{}, false
	}
	return h.cfg, true
}
