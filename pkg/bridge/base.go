// Package bridge exposes the five domain-facing entry points
// (AdapterBridge, ServiceBridge, TaskBridge, EventBridge, WorkflowBridge)
// callers actually use, each a thin wrapper over the shared
// resolver/lifecycle pair. Grounded on Warren's pkg/client.Client: a
// typed wrapper adding verbs over one shared gRPC stub, generalized here
// to five typed wrappers over one shared *resolver.Resolver/
// *lifecycle.Manager pair.
package bridge

import (
	"context"

	"github.com/lesleslie/oneiric/pkg/lifecycle"
	"github.com/lesleslie/oneiric/pkg/resolver"
	"github.com/lesleslie/oneiric/pkg/types"
)

// base implements the verbs common to every domain: Use resolves and
// activates, List/Shadowed inspect the registry, Explain replays the
// precedence pipeline. Each domain bridge embeds base and adds its own
// verb(s) on top.
type base struct {
	domain types.Domain
	res    *resolver.Resolver
	lm     *lifecycle.Manager
}

func newBase(domain types.Domain, res *resolver.Resolver, lm *lifecycle.Manager) base {
	return base{domain: domain, res: res, lm: lm}
}

// Use resolves the current winner for key and activates it, returning a
// live Handle.
func (b base) Use(ctx context.Context, key string) (types.Handle, error) {
	return b.lm.Activate(ctx, b.domain, key)
}

// List returns every registered candidate for key. includeShadowed is
// currently a no-op: registry.Registry has no precedence logic of its
// own, so List always returns the full registered set regardless of
// the flag — use Shadowed or Explain for the resolver's winner-filtered
// view.
func (b base) List(key string, includeShadowed bool) []types.Candidate {
	return b.res.Registry().List(b.domain, key, includeShadowed)
}

// Shadowed returns every registered candidate for key that the current
// resolution does not select. If key does not resolve, it returns every
// registered candidate.
func (b base) Shadowed(key string) []types.Candidate {
	all := b.res.Registry().List(b.domain, key, true)
	_, explanation, err := b.res.Resolve(b.domain, key)
	if err != nil || explanation.Winner == nil {
		return all
	}
	shadowed := make([]types.Candidate, 0, len(all))
	for _, c := range all {
		if c.Identity() != explanation.Winner.Identity() {
			shadowed = append(shadowed, c)
		}
	}
	return shadowed
}

// Explain replays the precedence pipeline for key without activating
// anything.
func (b base) Explain(key string) resolver.Explanation {
	return b.res.Explain(b.domain, key)
}

// Status returns the Lifecycle Manager's current record for key.
func (b base) Status(key string) (types.LifecycleEntry, bool) {
	return b.lm.Status(b.domain, key)
}

// Pause/Resume/Probe delegate straight to the Lifecycle Manager,
// scoped to this bridge's domain.
func (b base) Pause(ctx context.Context, key string) error {
	return b.lm.Pause(ctx, b.domain, key)
}

func (b base) Resume(ctx context.Context, key string) error {
	return b.lm.Resume(ctx, b.domain, key)
}

func (b base) Probe(ctx context.Context, key string) (bool, error) {
	return b.lm.Probe(ctx, b.domain, key)
}
