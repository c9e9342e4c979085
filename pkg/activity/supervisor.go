package activity

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/lesleslie/oneiric/pkg/config"
	"github.com/lesleslie/oneiric/pkg/log"
	"github.com/lesleslie/oneiric/pkg/types"
)

// LifecycleDriver is the subset of *lifecycle.Manager the Supervisor
// drives. Declaring it here (rather than importing pkg/lifecycle
// directly) keeps activity free to be imported by lifecycle-adjacent
// packages without a cycle.
type LifecycleDriver interface {
	Pause(ctx context.Context, domain types.Domain, key string) error
	Drain(ctx context.Context, domain types.Domain, key string, timeout time.Duration) error
	Snapshot() []types.LifecycleEntry
}

// ReadinessDocument is the shape persisted to runtime_health.json, named
// in the Activity/Supervisor component design.
type ReadinessDocument struct {
	WatchersRunning bool                              `json:"watchers_running"`
	RemoteEnabled   bool                               `json:"remote_enabled"`
	ActivityState   map[string]types.ActivityState     `json:"activity_state"`
	LifecycleState  map[string]types.LifecycleSnapshot `json:"lifecycle_state"`
	Profile         config.Profile                     `json:"profile"`
	SecretsStatus   string                              `json:"secrets_status"`
	WrittenAt       time.Time                           `json:"written_at"`
}

// Supervisor periodically reconciles Store intent into the Lifecycle
// Manager and writes a readiness snapshot. Grounded on Warren's
// pkg/reconciler ticker-driven reconcile loop.
type Supervisor struct {
	store         *Store
	lifecycle     LifecycleDriver
	profile       config.Profile
	healthPath    string
	remoteEnabled bool
	drainTimeout  time.Duration
}

// NewSupervisor builds a Supervisor. healthPath is typically
// config.Settings.RuntimePaths.HealthJSON.
func NewSupervisor(store *Store, lifecycle LifecycleDriver, profile config.Profile, healthPath string) *Supervisor {
	return &Supervisor{
		store:        store,
		lifecycle:    lifecycle,
		profile:      profile,
		healthPath:   healthPath,
		drainTimeout: 30 * time.Second,
	}
}

// Enabled reports whether the Supervisor should run: the serverless
// profile enables it by default, mirroring Warren's per-profile boolean
// toggles (e.g. --external-containerd).
func (s *Supervisor) Enabled() bool {
	return s.profile == config.ProfileServerless
}

// SetRemoteEnabled records whether the Remote Manifest Loader is active,
// for the readiness document.
func (s *Supervisor) SetRemoteEnabled(enabled bool) {
	s.remoteEnabled = enabled
}

// Run ticks every interval until ctx is cancelled, reconciling paused/
// draining keys and writing the readiness document.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration) {
	if !s.Enabled() {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.reconcile(ctx)
	for {
		select {
		case <-ticker.C:
			s.reconcile(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) reconcile(ctx context.Context) {
	logger := log.WithComponent("supervisor")

	for _, st := range s.store.pauseDrainEntries() {
		if st.Draining {
			if err := s.lifecycle.Drain(ctx, st.Domain, st.Key, s.drainTimeout); err != nil {
				logger.Warn().Err(err).Str("domain", string(st.Domain)).Str("key", st.Key).Msg("drain reconcile failed")
			}
			continue
		}
		if st.Paused {
			if err := s.lifecycle.Pause(ctx, st.Domain, st.Key); err != nil {
				logger.Warn().Err(err).Str("domain", string(st.Domain)).Str("key", st.Key).Msg("pause reconcile failed")
			}
		}
	}

	if err := s.writeReadiness(); err != nil {
		logger.Warn().Err(err).Msg("failed to write readiness document")
	}
}

func (s *Supervisor) writeReadiness() error {
	if s.healthPath == "" {
		return nil
	}

	lifecycleState := make(map[string]types.LifecycleSnapshot)
	for _, e := range s.lifecycle.Snapshot() {
		lifecycleState[string(e.Domain)+"/"+e.Key] = e.Snapshot()
	}

	doc := ReadinessDocument{
		WatchersRunning: true,
		RemoteEnabled:   s.remoteEnabled,
		ActivityState:   s.store.Snapshot(),
		LifecycleState:  lifecycleState,
		Profile:         s.profile,
		SecretsStatus:   "unchecked", // no secret backend ships in this core
		WrittenAt:       time.Now(),
	}

	return atomicWriteJSON(s.healthPath, doc)
}

// atomicWriteJSON writes v as JSON to a temp file beside path, then
// renames over path, so readers never observe a partially written
// document. Grounded on Warren's BoltStore all-or-nothing transaction
// style, applied here to a plain file since runtime_health.json is not
// a bucketed store.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
