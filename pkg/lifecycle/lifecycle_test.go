package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lesleslie/oneiric/pkg/config"
	"github.com/lesleslie/oneiric/pkg/registry"
	"github.com/lesleslie/oneiric/pkg/resolver"
	"github.com/lesleslie/oneiric/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstance struct {
	name      string
	cleanedUp bool
}

func factoryFor(name string, healthy bool) types.Factory {
	return func(ctx context.Context, settings types.Settings) (types.Instance, error) {
		return &fakeInstance{name: name}, nil
	}
}

func healthHookAlways(ok bool) types.HealthFunc {
	return func(ctx context.Context, instance types.Instance) (bool, error) {
		return ok, nil
	}
}

func newManager(t *testing.T, candidates ...types.Candidate) (*Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	for _, c := range candidates {
		_, err := reg.Register(c, false)
		require.NoError(t, err)
	}
	res := resolver.New(reg, config.AdapterSettings{}, nil)
	return New(res), reg
}

func TestActivate_RunsFactoryInitHealth(t *testing.T) {
	var initCalled bool
	m, _ := newManager(t, types.Candidate{
		Domain: types.DomainAdapter, Key: "cache", Provider: "redis",
		Factory:    factoryFor("redis", true),
		HealthHook: healthHookAlways(true),
		Hooks: types.LifecycleHooks{
			Init: func(ctx context.Context, instance types.Instance) error {
				initCalled = true
				return nil
			},
		},
	})

	handle, err := m.Activate(context.Background(), types.DomainAdapter, "cache")
	require.NoError(t, err)
	assert.True(t, initCalled)
	assert.Equal(t, "redis", handle.Candidate.Provider)
	assert.Equal(t, types.StateReady, handle.State.State)
}

func TestActivate_InitFailureTransitionsToFailed(t *testing.T) {
	m, _ := newManager(t, types.Candidate{
		Domain: types.DomainAdapter, Key: "cache", Provider: "redis",
		Factory: factoryFor("redis", true),
		Hooks: types.LifecycleHooks{
			Init: func(ctx context.Context, instance types.Instance) error {
				return assert.AnError
			},
		},
	})

	_, err := m.Activate(context.Background(), types.DomainAdapter, "cache")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindLifecycleError))

	status, ok := m.Status(types.DomainAdapter, "cache")
	require.True(t, ok)
	assert.Equal(t, types.StateFailed, status.State)
}

// S3 Swap rollback: pending candidate's health fails, active is preserved.
func TestSwap_S3_RollbackPreservesActive(t *testing.T) {
	reg := registry.New()
	_, err := reg.Register(types.Candidate{
		Domain: types.DomainAdapter, Key: "cache", Provider: "redis_v1",
		Factory: factoryFor("redis_v1", true), HealthHook: healthHookAlways(true),
	}, false)
	require.NoError(t, err)

	res := resolver.New(reg, config.AdapterSettings{}, nil)
	m := New(res)

	handle, err := m.Activate(context.Background(), types.DomainAdapter, "cache")
	require.NoError(t, err)
	require.Equal(t, "redis_v1", handle.Candidate.Provider)

	_, err = reg.Register(types.Candidate{
		Domain: types.DomainAdapter, Key: "cache", Provider: "redis_v2", Source: types.SourceRemote, SourceOrder: 999,
		Factory: factoryFor("redis_v2", false), HealthHook: healthHookAlways(false),
	}, false)
	require.NoError(t, err)

	err = m.Swap(context.Background(), types.DomainAdapter, "cache", false)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindSwapRollback))

	status, ok := m.Status(types.DomainAdapter, "cache")
	require.True(t, ok)
	assert.Equal(t, "redis_v1", status.CurrentProvider)
	assert.Equal(t, types.StateReady, status.State)
}

func TestSwap_SucceedsAndSchedulesCleanupOnDisplaced(t *testing.T) {
	var cleanedUp sync.WaitGroup
	cleanedUp.Add(1)

	reg := registry.New()
	_, err := reg.Register(types.Candidate{
		Domain: types.DomainAdapter, Key: "cache", Provider: "memory", SourceOrder: 1,
		Factory: factoryFor("memory", true), HealthHook: healthHookAlways(true),
		Hooks: types.LifecycleHooks{
			Cleanup: func(ctx context.Context, instance types.Instance) error {
				cleanedUp.Done()
				return nil
			},
		},
	}, false)
	require.NoError(t, err)

	res := resolver.New(reg, config.AdapterSettings{}, nil)
	m := New(res)

	_, err = m.Activate(context.Background(), types.DomainAdapter, "cache")
	require.NoError(t, err)

	_, err = reg.Register(types.Candidate{
		Domain: types.DomainAdapter, Key: "cache", Provider: "redis", SourceOrder: 2,
		Factory: factoryFor("redis", true), HealthHook: healthHookAlways(true),
	}, false)
	require.NoError(t, err)

	require.NoError(t, m.Swap(context.Background(), types.DomainAdapter, "cache", false))

	status, ok := m.Status(types.DomainAdapter, "cache")
	require.True(t, ok)
	assert.Equal(t, "redis", status.CurrentProvider)

	done := make(chan struct{})
	go func() {
		cleanedUp.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("displaced instance was never cleaned up")
	}
}

func TestProbe_SecondConsecutiveFailureGoesFailed(t *testing.T) {
	healthy := true
	m, _ := newManager(t, types.Candidate{
		Domain: types.DomainAdapter, Key: "cache", Provider: "redis",
		Factory: factoryFor("redis", true),
		HealthHook: func(ctx context.Context, instance types.Instance) (bool, error) {
			return healthy, nil
		},
	})

	_, err := m.Activate(context.Background(), types.DomainAdapter, "cache")
	require.NoError(t, err)

	healthy = false
	ok, _ := m.Probe(context.Background(), types.DomainAdapter, "cache")
	assert.False(t, ok)
	status, _ := m.Status(types.DomainAdapter, "cache")
	assert.Equal(t, types.StateDegraded, status.State)

	ok, _ = m.Probe(context.Background(), types.DomainAdapter, "cache")
	assert.False(t, ok)
	status, _ = m.Status(types.DomainAdapter, "cache")
	assert.Equal(t, types.StateFailed, status.State)
}

func TestPause_IsIdempotent(t *testing.T) {
	m, _ := newManager(t, types.Candidate{
		Domain: types.DomainAdapter, Key: "cache", Provider: "redis",
		Factory: factoryFor("redis", true), HealthHook: healthHookAlways(true),
	})

	_, err := m.Activate(context.Background(), types.DomainAdapter, "cache")
	require.NoError(t, err)

	require.NoError(t, m.Pause(context.Background(), types.DomainAdapter, "cache"))
	require.NoError(t, m.Pause(context.Background(), types.DomainAdapter, "cache"))

	status, _ := m.Status(types.DomainAdapter, "cache")
	assert.True(t, status.Paused)
}

// P4 Swap atomicity: concurrent readers of Status never observe a
// window where the entry holds neither the old nor a valid new
// instance.
func TestSwap_ConcurrentReadsNeverObserveInconsistentState(t *testing.T) {
	reg := registry.New()
	_, err := reg.Register(types.Candidate{
		Domain: types.DomainAdapter, Key: "cache", Provider: "memory", SourceOrder: 1,
		Factory: factoryFor("memory", true), HealthHook: healthHookAlways(true),
	}, false)
	require.NoError(t, err)

	res := resolver.New(reg, config.AdapterSettings{}, nil)
	m := New(res)

	_, err = m.Activate(context.Background(), types.DomainAdapter, "cache")
	require.NoError(t, err)

	_, err = reg.Register(types.Candidate{
		Domain: types.DomainAdapter, Key: "cache", Provider: "redis", SourceOrder: 2,
		Factory: factoryFor("redis", true), HealthHook: healthHookAlways(true),
	}, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				status, ok := m.Status(types.DomainAdapter, "cache")
				if ok {
					assert.Contains(t, []string{"memory", "redis"}, status.CurrentProvider)
				}
			}
		}
	}()

	require.NoError(t, m.Swap(context.Background(), types.DomainAdapter, "cache", false))
	close(stop)
	wg.Wait()
}
