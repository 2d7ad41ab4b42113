package action

import (
	"fmt"
	"log"
	"sync"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Action Policy Registry
//
// Catalogue of named enforcement policies. Boots pre-populated with the
// built-in set; configuration overrides parameters or adds new names.
// A policy that fails validation is logged and skipped, never fatal —
// the engine must come up even when one stanza in the config is wrong.
// ──────────────────────────────────────────────────────────────────────

// Registry is the process-wide policy catalogue.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]models.ActionPolicyConfig
	order    []string // registration order, for GetOrDefault's first-of-type
}

// NewRegistry creates a registry pre-populated with the built-in policies.
func NewRegistry() *Registry {
	r := &Registry{policies: make(map[string]models.ActionPolicyConfig)}
	for _, p := range builtinPolicies() {
		if err := r.Register(p); err != nil {
			// Builtins are static; a failure here is a programming error.
			log.Printf("[Actions] Builtin policy %s rejected: %v", p.Name, err)
		}
	}
	return r
}

// Register validates and installs a policy. Re-registering a name (as
// configuration overriding a builtin does) replaces it in place.
func (r *Registry) Register(p models.ActionPolicyConfig) error {
	if err := validate(p); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.policies[p.Name]; !seen {
		r.order = append(r.order, p.Name)
	}
	r.policies[p.Name] = p
	return nil
}

// Get returns the named policy.
func (r *Registry) Get(name string) (models.ActionPolicyConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	return p, ok
}

// GetOrDefault resolves name, falling back to the first registered policy
// of fallbackType, synthesising a bare default when none exists. It never
// fails: enforcement always has a policy to apply.
func (r *Registry) GetOrDefault(name string, fallbackType models.ActionType) models.ActionPolicyConfig {
	r.mu.RLock()
	if name != "" {
		if p, ok := r.policies[name]; ok {
			r.mu.RUnlock()
			return p
		}
	}
	for _, n := range r.order {
		if p := r.policies[n]; p.Type == fallbackType && p.Enabled {
			r.mu.RUnlock()
			return p
		}
	}
	r.mu.RUnlock()
	return synthesize(fallbackType)
}

// Names returns the registered policy names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// validate enforces the union's shape: the tag is required and the field
// group matching the tag must be present and sane.
func validate(p models.ActionPolicyConfig) error {
	if p.Name == "" {
		return fmt.Errorf("policy has no name")
	}
	switch p.Type {
	case models.ActionBlock:
		if p.Block == nil {
			return fmt.Errorf("policy %s: type Block requires a block section", p.Name)
		}
		if p.Block.StatusCode < 100 || p.Block.StatusCode > 599 {
			return fmt.Errorf("policy %s: block status %d out of range", p.Name, p.Block.StatusCode)
		}
	case models.ActionThrottle:
		t := p.Throttle
		if t == nil {
			return fmt.Errorf("policy %s: type Throttle requires a throttle section", p.Name)
		}
		if t.BaseDelayMs < 0 || t.MaxDelayMs < 0 || (t.MaxDelayMs > 0 && t.BaseDelayMs > t.MaxDelayMs) {
			return fmt.Errorf("policy %s: throttle delays inconsistent (base=%d max=%d)", p.Name, t.BaseDelayMs, t.MaxDelayMs)
		}
		if t.Jitter < 0 || t.Jitter > 1 {
			return fmt.Errorf("policy %s: jitter %v outside [0,1]", p.Name, t.Jitter)
		}
	case models.ActionChallenge:
		if p.Challenge == nil {
			return fmt.Errorf("policy %s: type Challenge requires a challenge section", p.Name)
		}
	case models.ActionRedirect:
		if p.Redirect == nil || p.Redirect.TargetURL == "" {
			return fmt.Errorf("policy %s: type Redirect requires a target URL", p.Name)
		}
	case models.ActionLogOnly:
		if p.LogOnly == nil {
			return fmt.Errorf("policy %s: type LogOnly requires a log_only section", p.Name)
		}
	case models.ActionResponseMutate:
		// Marker-driven mutation rides on the LogOnly context handoff.
		if p.LogOnly == nil {
			return fmt.Errorf("policy %s: type ResponseMutate requires a log_only section", p.Name)
		}
	default:
		return fmt.Errorf("policy %s: unknown action type %q", p.Name, p.Type)
	}
	return nil
}

// synthesize builds a minimal safe policy of the given type.
func synthesize(t models.ActionType) models.ActionPolicyConfig {
	switch t {
	case models.ActionBlock:
		return models.ActionPolicyConfig{
			Type: models.ActionBlock, Name: "block-default", Enabled: true,
			Block: &models.BlockConfig{StatusCode: 403, Message: "Access denied"},
		}
	case models.ActionThrottle:
		return models.ActionPolicyConfig{
			Type: models.ActionThrottle, Name: "throttle-default", Enabled: true,
			Throttle: &models.ThrottleConfig{BaseDelayMs: 1000, MinDelayMs: 100, MaxDelayMs: 10000},
		}
	case models.ActionRedirect:
		return models.ActionPolicyConfig{
			Type: models.ActionRedirect, Name: "redirect-default", Enabled: true,
			Redirect: &models.RedirectConfig{TargetURL: "/denied"},
		}
	case models.ActionChallenge:
		return models.ActionPolicyConfig{
			Type: models.ActionChallenge, Name: "challenge-default", Enabled: true,
			Challenge: &models.ChallengeConfig{ChallengeType: models.ChallengeRedirect, ChallengeURL: "/challenge"},
		}
	default:
		return models.ActionPolicyConfig{
			Type: models.ActionLogOnly, Name: "logonly-default", Enabled: true,
			LogOnly: &models.LogOnlyConfig{LogLevel: "info"},
		}
	}
}
