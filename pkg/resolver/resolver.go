// Package resolver implements the precedence engine: it picks exactly
// one candidate per (domain, key) from the Candidate Registry and
// produces an auditable Explanation trace.
package resolver

import (
	"sort"

	"github.com/lesleslie/oneiric/pkg/config"
	"github.com/lesleslie/oneiric/pkg/metrics"
	"github.com/lesleslie/oneiric/pkg/registry"
	"github.com/lesleslie/oneiric/pkg/types"
)

// TierName identifies one of the four precedence tiers.
type TierName string

const (
	TierOverride TierName = "override"
	TierPriority TierName = "priority"
	TierStackLvl TierName = "stack_level"
	TierRegOrder TierName = "registration_order"
)

// TierResult records one tier's effect on the candidate set: the
// survivors it left behind and a human-readable decision string used by
// list/status/why CLI surfaces.
type TierResult struct {
	Tier      TierName
	Survivors []types.Candidate
	Decision  string
}

// Explanation is the full ordered trace Explain produces.
type Explanation struct {
	Domain types.Domain
	Key    string
	Tiers  []TierResult
	Winner *types.Candidate // nil if unresolved
}

// Resolver applies the four precedence tiers over a Registry snapshot.
// It holds no mutable state of its own, which is what makes Resolve a
// pure function of (registry contents, config) — P2 Determinism.
type Resolver struct {
	reg        *registry.Registry
	selections config.AdapterSettings
	stackOrder []string
}

// New builds a Resolver over reg, using selections for tier-1 overrides
// and stackOrder for tier-2 package-inferred priority.
func New(reg *registry.Registry, selections config.AdapterSettings, stackOrder []string) *Resolver {
	return &Resolver{reg: reg, selections: selections, stackOrder: stackOrder}
}

// Registry returns the Candidate Registry this Resolver resolves over,
// for callers (e.g. pkg/bridge) that need to list or inspect candidates
// directly rather than through the precedence pipeline.
func (r *Resolver) Registry() *registry.Registry {
	return r.reg
}

// Resolve picks exactly one candidate for (domain,key). It fails with
// KindUnresolvedCandidate if no candidate survives all four tiers.
func (r *Resolver) Resolve(domain types.Domain, key string) (types.Candidate, Explanation, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ResolveLatency, string(domain))

	explanation := r.explain(domain, key)
	if explanation.Winner == nil {
		return types.Candidate{}, explanation, types.NewError(types.KindUnresolvedCandidate,
			"no candidate resolved").WithScope(domain, key)
	}
	return *explanation.Winner, explanation, nil
}

// Explain runs the same tier pipeline as Resolve but never errors: a
// soft lookup returns an Explanation with a nil Winner when nothing
// survives.
func (r *Resolver) Explain(domain types.Domain, key string) Explanation {
	return r.explain(domain, key)
}

func (r *Resolver) explain(domain types.Domain, key string) Explanation {
	candidates := r.reg.List(domain, key, true)

	explanation := Explanation{Domain: domain, Key: key}

	for _, stage := range r.pipeline(domain, key) {
		survivors, result := stage(candidates)
		explanation.Tiers = append(explanation.Tiers, result)
		if len(survivors) > 0 {
			candidates = survivors
		}
		// an empty tier is skipped: candidates is left unchanged from the prior tier.
	}

	if len(candidates) == 0 {
		return explanation
	}

	winner := candidates[0]
	explanation.Winner = &winner
	return explanation
}

type tierFunc func(candidates []types.Candidate) ([]types.Candidate, TierResult)

// pipeline returns the four tier stages in precedence order. Each stage
// receives the survivors of the prior stage; Explain records every
// stage's result so a replay produces the same winner (P3 Explain
// soundness).
func (r *Resolver) pipeline(domain types.Domain, key string) []tierFunc {
	return []tierFunc{
		r.tierOverride(domain, key),
		r.tierPriority(),
		r.tierStackLevel(),
		r.tierRegistrationOrder(),
	}
}

// tierOverride survives only candidates whose provider matches an
// explicit selections[domain][key] override (adapters.selections.<key>
// for the adapter domain). An empty override leaves every candidate as
// a survivor ("override:none").
func (r *Resolver) tierOverride(domain types.Domain, key string) tierFunc {
	return func(candidates []types.Candidate) ([]types.Candidate, TierResult) {
		provider := ""
		if domain == types.DomainAdapter {
			provider = r.selections.Selections[key]
		}
		if provider == "" {
			return candidates, TierResult{Tier: TierOverride, Survivors: candidates, Decision: "override:none"}
		}

		var survivors []types.Candidate
		for _, c := range candidates {
			if c.Provider == provider {
				survivors = append(survivors, c)
			}
		}
		return survivors, TierResult{Tier: TierOverride, Survivors: survivors, Decision: "override:" + provider}
	}
}

// tierPriority keeps the candidates that hold both the highest
// stack-order rank and the highest explicit Priority in the set.
// stack_order is an ordered list of package ids (highest rank = latest
// in the list); a candidate's rank is the index of its Metadata.Owner in
// stackOrder, or -1 if absent (lowest rank). Candidates tied on both
// survive to the next tier; if no candidate holds both maxima, every
// candidate survives.
func (r *Resolver) tierPriority() tierFunc {
	return func(candidates []types.Candidate) ([]types.Candidate, TierResult) {
		if len(candidates) <= 1 {
			return candidates, TierResult{Tier: TierPriority, Survivors: candidates, Decision: "priority:trivial"}
		}

		rank := func(c types.Candidate) int {
			for i, owner := range r.stackOrder {
				if owner == c.Metadata.Owner {
					return i
				}
			}
			return -1
		}

		bestRank := rank(candidates[0])
		bestPriority := candidates[0].Priority
		for _, c := range candidates[1:] {
			if rk := rank(c); rk > bestRank {
				bestRank = rk
			}
			if c.Priority > bestPriority {
				bestPriority = c.Priority
			}
		}

		var survivors []types.Candidate
		for _, c := range candidates {
			if rank(c) == bestRank && c.Priority == bestPriority {
				survivors = append(survivors, c)
			}
		}
		if len(survivors) == 0 {
			survivors = candidates
		}

		decision := "priority:tie"
		if len(survivors) == 1 {
			decision = "priority:win->" + survivors[0].Provider
		}
		return survivors, TierResult{Tier: TierPriority, Survivors: survivors, Decision: decision}
	}
}

// tierStackLevel keeps the candidates with the highest Metadata/
// Candidate.StackLevel ("z-index"); absence means 0.
func (r *Resolver) tierStackLevel() tierFunc {
	return func(candidates []types.Candidate) ([]types.Candidate, TierResult) {
		if len(candidates) <= 1 {
			return candidates, TierResult{Tier: TierStackLvl, Survivors: candidates, Decision: "stack_level:trivial"}
		}

		best := candidates[0].StackLevel
		for _, c := range candidates {
			if c.StackLevel > best {
				best = c.StackLevel
			}
		}

		var survivors []types.Candidate
		for _, c := range candidates {
			if c.StackLevel == best {
				survivors = append(survivors, c)
			}
		}

		decision := "stack_level:tie"
		if len(survivors) == 1 {
			decision = "stack_level:win->" + survivors[0].Provider
		} else if len(survivors) > 1 {
			decision = "stack_level:win->" + tiedProviders(survivors)
		}
		return survivors, TierResult{Tier: TierStackLvl, Survivors: survivors, Decision: decision}
	}
}

// tierRegistrationOrder keeps the most recently registered candidate
// (max SourceOrder). Remote candidates sharing a source_order bucket
// (possible when a manifest assigns the same bucket to several entries)
// are ordered by their ManifestIdx.
func (r *Resolver) tierRegistrationOrder() tierFunc {
	return func(candidates []types.Candidate) ([]types.Candidate, TierResult) {
		if len(candidates) == 0 {
			return candidates, TierResult{Tier: TierRegOrder, Survivors: candidates, Decision: "registration_order:none"}
		}

		sorted := append([]types.Candidate(nil), candidates...)
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].SourceOrder != sorted[j].SourceOrder {
				return sorted[i].SourceOrder > sorted[j].SourceOrder
			}
			return sorted[i].ManifestIdx > sorted[j].ManifestIdx
		})

		winner := sorted[0]
		return []types.Candidate{winner}, TierResult{
			Tier:      TierRegOrder,
			Survivors: []types.Candidate{winner},
			Decision:  "registration_order:" + string(winner.Source),
		}
	}
}

func tiedProviders(candidates []types.Candidate) string {
	out := ""
	for i, c := range candidates {
		if i > 0 {
			out += "/"
		}
		out += c.Provider
	}
	return out
}
