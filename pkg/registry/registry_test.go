package registry

import (
	"sync"
	"testing"

	"github.com/lesleslie/oneiric/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(domain types.Domain, key, provider string, source types.Source) types.Candidate {
	return types.Candidate{Domain: domain, Key: key, Provider: provider, Source: source}
}

func TestRegister_AssignsMonotonicSourceOrder(t *testing.T) {
	r := New()

	_, err := r.Register(candidate(types.DomainAdapter, "cache", "memory", types.SourceLocalPkg), false)
	require.NoError(t, err)
	_, err = r.Register(candidate(types.DomainAdapter, "cache", "redis", types.SourceLocalPkg), false)
	require.NoError(t, err)

	list := r.List(types.DomainAdapter, "cache", true)
	require.Len(t, list, 2)

	var orders []uint64
	for _, c := range list {
		orders = append(orders, c.SourceOrder)
	}
	assert.ElementsMatch(t, []uint64{1, 2}, orders)
}

func TestRegister_SameSourceReplacesAndPreservesOrder(t *testing.T) {
	r := New()

	_, err := r.Register(candidate(types.DomainAdapter, "cache", "redis", types.SourceLocalPkg), false)
	require.NoError(t, err)

	updated := candidate(types.DomainAdapter, "cache", "redis", types.SourceLocalPkg)
	updated.Priority = 5
	_, err = r.Register(updated, false)
	require.NoError(t, err)

	list := r.List(types.DomainAdapter, "cache", true)
	require.Len(t, list, 1)
	assert.EqualValues(t, 1, list[0].SourceOrder)
	assert.EqualValues(t, 5, list[0].Priority)
}

func TestRegister_StrictRejectsCrossSourceDuplicate(t *testing.T) {
	r := New()

	_, err := r.Register(candidate(types.DomainAdapter, "cache", "redis", types.SourceLocalPkg), true)
	require.NoError(t, err)

	_, err = r.Register(candidate(types.DomainAdapter, "cache", "redis", types.SourceRemote), true)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindDuplicateRegistration))
}

func TestRegister_NonStrictAllowsCrossSourceDuplicate(t *testing.T) {
	r := New()

	_, err := r.Register(candidate(types.DomainAdapter, "cache", "redis", types.SourceLocalPkg), false)
	require.NoError(t, err)

	_, err = r.Register(candidate(types.DomainAdapter, "cache", "redis", types.SourceRemote), false)
	require.NoError(t, err)

	assert.Len(t, r.List(types.DomainAdapter, "cache", true), 2)
}

func TestUnregister_RemovesByToken(t *testing.T) {
	r := New()
	tok, err := r.Register(candidate(types.DomainAdapter, "cache", "redis", types.SourceLocalPkg), false)
	require.NoError(t, err)

	c, ok := r.Unregister(tok)
	assert.True(t, ok)
	assert.Equal(t, "redis", c.Provider)
	assert.Empty(t, r.List(types.DomainAdapter, "cache", true))
}

func TestUnregisterSource_LeavesOtherSourcesUntouched(t *testing.T) {
	r := New()
	_, err := r.Register(candidate(types.DomainAdapter, "cache", "memory", types.SourceLocalPkg), false)
	require.NoError(t, err)
	_, err = r.Register(candidate(types.DomainAdapter, "cache", "redis", types.SourceRemote), false)
	require.NoError(t, err)

	removed := r.UnregisterSource(types.SourceRemote)
	require.Len(t, removed, 1)
	assert.Equal(t, "redis", removed[0].Provider)

	remaining := r.List(types.DomainAdapter, "cache", true)
	require.Len(t, remaining, 1)
	assert.Equal(t, "memory", remaining[0].Provider)
}

func TestList_FiltersByDomainAndKey(t *testing.T) {
	r := New()
	_, _ = r.Register(candidate(types.DomainAdapter, "cache", "redis", types.SourceLocalPkg), false)
	_, _ = r.Register(candidate(types.DomainAdapter, "queue", "sqs", types.SourceLocalPkg), false)
	_, _ = r.Register(candidate(types.DomainService, "cache", "noop", types.SourceLocalPkg), false)

	assert.Len(t, r.List(types.DomainAdapter, "", false), 2)
	assert.Len(t, r.List(types.DomainAdapter, "cache", false), 1)
	assert.Len(t, r.List(types.DomainService, "cache", false), 1)
}

func TestCountsByDomain(t *testing.T) {
	r := New()
	_, _ = r.Register(candidate(types.DomainAdapter, "cache", "redis", types.SourceLocalPkg), false)
	_, _ = r.Register(candidate(types.DomainAdapter, "queue", "sqs", types.SourceLocalPkg), false)
	_, _ = r.Register(candidate(types.DomainTask, "send-email", "cli", types.SourceLocalPkg), false)

	counts := r.CountsByDomain()
	assert.Equal(t, 2, counts[types.DomainAdapter])
	assert.Equal(t, 1, counts[types.DomainTask])
}

func TestSubscribe_ReceivesRegisterAndUnregisterEvents(t *testing.T) {
	r := New()
	ch, cancel := r.Subscribe()
	defer cancel()

	tok, err := r.Register(candidate(types.DomainAdapter, "cache", "redis", types.SourceLocalPkg), false)
	require.NoError(t, err)

	ev := <-ch
	assert.Equal(t, EventRegistered, ev.Kind)
	assert.Equal(t, "redis", ev.Candidate.Provider)

	r.Unregister(tok)
	ev = <-ch
	assert.Equal(t, EventUnregistered, ev.Kind)
}

func TestSubscribe_SlowSubscriberNeverBlocksRegister(t *testing.T) {
	r := New()
	_, cancel := r.Subscribe() // never drained
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = r.Register(candidate(types.DomainAdapter, "cache", "p", types.SourceLocalPkg), false)
		}(i)
	}
	wg.Wait()
}
