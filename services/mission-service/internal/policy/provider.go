package policy

import "context"

// Provider resolves the policy in force for a resource.
type Provider interface {
	PolicyFor(ctx context.Context, resourceID string) (Policy, error)
}

type staticProvider struct {
	policy Policy
}

func NewStaticProvider(p Policy) Provider {
	return &staticProvider{policy: p}
}

func (p *staticProvider) PolicyFor(_ context.Context, _ string) (Policy, error) {
	return p.policy, nil
}
