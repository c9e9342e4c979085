package activity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lesleslie/oneiric/pkg/config"
	"github.com/lesleslie/oneiric/pkg/lifecycle"
	"github.com/lesleslie/oneiric/pkg/registry"
	"github.com/lesleslie/oneiric/pkg/resolver"
	"github.com/lesleslie/oneiric/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PauseMarksState(t *testing.T) {
	s := NewStore()
	s.Pause(types.DomainAdapter, "cache", "maintenance window")

	snap := s.Snapshot()
	st, ok := snap["adapter/cache"]
	require.True(t, ok)
	assert.True(t, st.Paused)
	assert.Equal(t, "maintenance window", st.Note)
}

func TestStore_ResumeClearsPause(t *testing.T) {
	s := NewStore()
	s.Pause(types.DomainAdapter, "cache", "")
	s.Resume(types.DomainAdapter, "cache")

	snap := s.Snapshot()
	assert.False(t, snap["adapter/cache"].Paused)
}

func TestStore_DrainMarksState(t *testing.T) {
	s := NewStore()
	s.Drain(types.DomainService, "billing", "rolling upgrade")

	snap := s.Snapshot()
	st, ok := snap["service/billing"]
	require.True(t, ok)
	assert.True(t, st.Draining)
}

func TestStore_PauseDrainEntriesOnlyReturnsActiveIntent(t *testing.T) {
	s := NewStore()
	s.Pause(types.DomainAdapter, "cache", "")
	s.Drain(types.DomainService, "billing", "")
	s.Pause(types.DomainAdapter, "queue", "")
	s.Resume(types.DomainAdapter, "queue")

	entries := s.pauseDrainEntries()
	assert.Len(t, entries, 2)
}

func newTestLifecycle(t *testing.T) *lifecycle.Manager {
	t.Helper()
	reg := registry.New()
	_, err := reg.Register(types.Candidate{
		Domain: types.DomainAdapter, Key: "cache", Provider: "redis",
		Factory: func(ctx context.Context, settings types.Settings) (types.Instance, error) {
			return struct{}{}, nil
		},
		HealthHook: func(ctx context.Context, instance types.Instance) (bool, error) {
			return true, nil
		},
	}, false)
	require.NoError(t, err)

	res := resolver.New(reg, config.AdapterSettings{}, nil)
	lm := lifecycle.New(res)
	_, err = lm.Activate(context.Background(), types.DomainAdapter, "cache")
	require.NoError(t, err)
	return lm
}

// P12: after pausing (domain,key), a subsequent readiness snapshot lists
// that entry with paused=true.
func TestSupervisor_ReadinessSnapshotReflectsPausedIntent(t *testing.T) {
	lm := newTestLifecycle(t)
	store := NewStore()
	store.Pause(types.DomainAdapter, "cache", "operator requested")

	healthPath := filepath.Join(t.TempDir(), "runtime_health.json")
	sup := NewSupervisor(store, lm, config.ProfileServerless, healthPath)

	sup.reconcile(context.Background())

	_, err := os.Stat(healthPath)
	require.NoError(t, err)

	snap := store.Snapshot()
	st, ok := snap["adapter/cache"]
	require.True(t, ok)
	assert.True(t, st.Paused)

	status, ok := lm.Status(types.DomainAdapter, "cache")
	require.True(t, ok)
	assert.True(t, status.Paused)
}

func TestSupervisor_DisabledForDefaultProfile(t *testing.T) {
	lm := newTestLifecycle(t)
	store := NewStore()
	sup := NewSupervisor(store, lm, config.ProfileDefault, filepath.Join(t.TempDir(), "runtime_health.json"))

	assert.False(t, sup.Enabled())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sup.Run(ctx, 10*time.Millisecond) // returns immediately since disabled
}

func TestAtomicWriteJSON_WritesNoTempFileLeftBehind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	require.NoError(t, atomicWriteJSON(path, map[string]string{"ok": "true"}))

	_, err := os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
