package policy

import (
	"fmt"
	"sort"

	"permafrost-hq/permafrost/pkg/retention"
)

// Registry holds the retention policy for every known KB. It is built
// once at startup and read-only afterwards.
type Registry struct {
	policies map[string]retention.Policy
}

// NewRegistry builds a registry from the loaded policy set. Duplicate
// KB names and structurally invalid policies are rejected so that a
// misconfigured deployment fails at startup, not mid-run.
func NewRegistry(policies []retention.Policy) (*Registry, error) {
	byName := make(map[string]retention.Policy, len(policies))

	for _, p := range policies {
		if p.KBName == "" {
			return nil, fmt.Errorf("retention policy with empty kb name")
		}
		if p.RetentionDays < 0 {
			return nil, fmt.Errorf("retention policy for %q: retention_days must be >= 0, got %d",
				p.KBName, p.RetentionDays)
		}
		if _, exists := byName[p.KBName]; exists {
			return nil, fmt.Errorf("duplicate retention policy for kb %q", p.KBName)
		}

		// Immutable KBs never reach the deletion path, so the approval
		// and manual-purge flags are meaningless and normalized away.
		if p.Immutable {
			p.RequiresApproval = false
			p.ManualPurgeAllowed = false
		}

		byName[p.KBName] = p
	}

	return &Registry{policies: byName}, nil
}

// PolicyFor returns the policy governing the named KB, or
// retention.ErrPolicyNotFound wrapped with the KB name.
func (r *Registry) PolicyFor(kbName string) (retention.Policy, error) {
	p, ok := r.policies[kbName]
	if !ok {
		return retention.Policy{}, fmt.Errorf("kb %q: %w", kbName, retention.ErrPolicyNotFound)
	}
	return p, nil
}

// All returns every policy sorted by KB name.
func (r *Registry) All() []retention.Policy {
	out := make([]retention.Policy, 0, len(r.policies))
	for _, name := range r.KBNames() {
		out = append(out, r.policies[name])
	}
	return out
}

// KBNames returns the names of all governed KBs in sorted order.
func (r *Registry) KBNames() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of governed KBs.
func (r *Registry) Len() int {
	return len(r.policies)
}
