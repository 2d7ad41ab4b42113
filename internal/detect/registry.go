package detect

import (
	"log"
	"sort"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────
// Detector Registry
//
// Catalogue of installed detectors plus their per-deployment settings.
// Registration is idempotent by name. A detection policy selects a subset
// of detectors by name; EnabledFor returns that subset ordered by
// priority, ties broken by registration order.
// ──────────────────────────────────────────────────────────────────────

// Settings overrides a detector's registration-time defaults from
// configuration. Nil fields leave the default in place.
type Settings struct {
	Enabled   *bool
	Priority  *int
	TimeoutMs *int
}

// DetectionPolicy names a traffic class: the detectors active for it and
// the risk-band → action-policy mapping applied to its verdicts.
type DetectionPolicy struct {
	Name          string
	Enabled       bool
	Detectors     []string                      // Empty = all enabled detectors
	ActionMapping map[string]string             // risk band → action policy name
	Parameters    map[string]string
}

// Registry is the process-wide detector catalogue.
type Registry struct {
	mu        sync.RWMutex
	detectors map[string]*Detector
	order     map[string]int // registration order, for priority ties
	policies  map[string]DetectionPolicy
	nextOrder int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		detectors: make(map[string]*Detector),
		order:     make(map[string]int),
		policies:  make(map[string]DetectionPolicy),
	}
}

// Register installs a detector. Re-registering a name replaces the
// detector but keeps its original ordering slot.
func (r *Registry) Register(d *Detector) {
	if d == nil || d.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.order[d.Name]; !seen {
		r.order[d.Name] = r.nextOrder
		r.nextOrder++
	}
	r.detectors[d.Name] = d
}

// Configure applies per-detector settings from configuration.
// Unknown names are logged and skipped — a config typo must not take the
// registry down.
func (r *Registry) Configure(settings map[string]Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, s := range settings {
		d, ok := r.detectors[name]
		if !ok {
			log.Printf("[Registry] Warning: configuration names unknown detector %q, skipping", name)
			continue
		}
		if s.Enabled != nil {
			d.Enabled = *s.Enabled
		}
		if s.Priority != nil {
			d.Priority = *s.Priority
		}
		if s.TimeoutMs != nil {
			d.Timeout = time.Duration(*s.TimeoutMs) * time.Millisecond
		}
	}
}

// RegisterPolicy installs a detection policy.
func (r *Registry) RegisterPolicy(p DetectionPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Name] = p
}

// Policy returns the named detection policy.
func (r *Registry) Policy(name string) (DetectionPolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	return p, ok
}

// Get returns the named detector.
func (r *Registry) Get(name string) (*Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	return d, ok
}

// EnabledFor returns the detectors enabled under the named detection
// policy, ordered by priority (ascending; ties by registration order).
// An unknown or empty policy name selects every enabled detector.
func (r *Registry) EnabledFor(policyName string) []*Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allowed := func(string) bool { return true }
	if p, ok := r.policies[policyName]; ok && p.Enabled && len(p.Detectors) > 0 {
		set := make(map[string]bool, len(p.Detectors))
		for _, n := range p.Detectors {
			set[n] = true
		}
		allowed = func(name string) bool { return set[name] }
	}

	var out []*Detector
	for name, d := range r.detectors {
		if d.Enabled && allowed(name) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return r.order[out[i].Name] < r.order[out[j].Name]
	})
	return out
}
