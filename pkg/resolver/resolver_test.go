package resolver

import (
	"testing"

	"github.com/lesleslie/oneiric/pkg/config"
	"github.com/lesleslie/oneiric/pkg/registry"
	"github.com/lesleslie/oneiric/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerAll(t *testing.T, reg *registry.Registry, candidates ...types.Candidate) {
	t.Helper()
	for _, c := range candidates {
		_, err := reg.Register(c, false)
		require.NoError(t, err)
	}
}

// S1 Precedence across tiers.
func TestResolve_S1_PrecedenceAcrossTiers(t *testing.T) {
	reg := registry.New()
	registerAll(t, reg,
		types.Candidate{Domain: types.DomainAdapter, Key: "cache", Provider: "memory", StackLevel: 10, Source: types.SourceLocalPkg},
		types.Candidate{Domain: types.DomainAdapter, Key: "cache", Provider: "redis", StackLevel: 30, Source: types.SourceLocalPkg},
		types.Candidate{Domain: types.DomainAdapter, Key: "cache", Provider: "redis", StackLevel: 30, Source: types.SourceRemote},
	)

	r := New(reg, config.AdapterSettings{}, nil)
	winner, explanation, err := r.Resolve(types.DomainAdapter, "cache")

	require.NoError(t, err)
	assert.Equal(t, "redis", winner.Provider)
	assert.Equal(t, types.SourceRemote, winner.Source)
	require.Len(t, explanation.Tiers, 4)
	assert.Equal(t, "override:none", explanation.Tiers[0].Decision)
}

// S2 Override beats stack level.
func TestResolve_S2_OverrideBeatsStackLevel(t *testing.T) {
	reg := registry.New()
	registerAll(t, reg,
		types.Candidate{Domain: types.DomainAdapter, Key: "cache", Provider: "memory", StackLevel: 10, Source: types.SourceLocalPkg},
		types.Candidate{Domain: types.DomainAdapter, Key: "cache", Provider: "redis", StackLevel: 30, Source: types.SourceLocalPkg},
		types.Candidate{Domain: types.DomainAdapter, Key: "cache", Provider: "redis", StackLevel: 30, Source: types.SourceRemote},
	)

	selections := config.AdapterSettings{Selections: map[string]string{"cache": "memory"}}
	r := New(reg, selections, nil)
	winner, explanation, err := r.Resolve(types.DomainAdapter, "cache")

	require.NoError(t, err)
	assert.Equal(t, "memory", winner.Provider)
	assert.Equal(t, types.SourceLocalPkg, winner.Source)
	assert.Equal(t, "override:memory", explanation.Tiers[0].Decision)
	assert.Len(t, explanation.Tiers[0].Survivors, 1)
}

func TestResolve_UnresolvedWhenNoCandidates(t *testing.T) {
	r := New(registry.New(), config.AdapterSettings{}, nil)
	_, _, err := r.Resolve(types.DomainAdapter, "missing")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindUnresolvedCandidate))
}

func TestExplain_NeverErrorsOnSoftLookup(t *testing.T) {
	r := New(registry.New(), config.AdapterSettings{}, nil)
	explanation := r.Explain(types.DomainAdapter, "missing")
	assert.Nil(t, explanation.Winner)
}

func TestResolve_IsDeterministic(t *testing.T) {
	reg := registry.New()
	registerAll(t, reg,
		types.Candidate{Domain: types.DomainAdapter, Key: "cache", Provider: "memory", StackLevel: 10, Source: types.SourceLocalPkg},
		types.Candidate{Domain: types.DomainAdapter, Key: "cache", Provider: "redis", StackLevel: 30, Source: types.SourceLocalPkg},
	)

	r := New(reg, config.AdapterSettings{}, nil)

	first, explainFirst, err := r.Resolve(types.DomainAdapter, "cache")
	require.NoError(t, err)
	second, explainSecond, err := r.Resolve(types.DomainAdapter, "cache")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, explainFirst, explainSecond)
}

func TestResolve_PriorityTierBeatsStackLevelTier(t *testing.T) {
	reg := registry.New()
	registerAll(t, reg,
		types.Candidate{Domain: types.DomainAdapter, Key: "cache", Provider: "low-priority-high-stack", StackLevel: 100, Priority: 1, Source: types.SourceLocalPkg},
		types.Candidate{Domain: types.DomainAdapter, Key: "cache", Provider: "high-priority-low-stack", StackLevel: 1, Priority: 10, Source: types.SourceLocalPkg},
	)

	r := New(reg, config.AdapterSettings{}, nil)
	winner, _, err := r.Resolve(types.DomainAdapter, "cache")
	require.NoError(t, err)
	assert.Equal(t, "high-priority-low-stack", winner.Provider)
}

func TestResolve_RegistrationOrderLaterRegistrationWins(t *testing.T) {
	reg := registry.New()
	registerAll(t, reg,
		types.Candidate{Domain: types.DomainAdapter, Key: "cache", Provider: "first", Source: types.SourceRemote, ManifestIdx: 0},
	)
	_, err := reg.Register(types.Candidate{Domain: types.DomainAdapter, Key: "cache", Provider: "second", Source: types.SourceRemote, ManifestIdx: 1}, false)
	require.NoError(t, err)

	r := New(reg, config.AdapterSettings{}, nil)
	winner, _, err := r.Resolve(types.DomainAdapter, "cache")
	require.NoError(t, err)
	// Both registered in the same Register call sequence get distinct
	// SourceOrder values (the registry's monotonic counter), so this
	// exercises the ManifestIdx tie-break only when SourceOrder is equal;
	// here it demonstrates the higher SourceOrder (the later registration)
	// wins, which is "second".
	assert.Equal(t, "second", winner.Provider)
}
