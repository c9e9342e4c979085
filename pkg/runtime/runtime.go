package runtime

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lesleslie/oneiric/pkg/activity"
	"github.com/lesleslie/oneiric/pkg/bridge"
	"github.com/lesleslie/oneiric/pkg/config"
	"github.com/lesleslie/oneiric/pkg/lifecycle"
	"github.com/lesleslie/oneiric/pkg/log"
	"github.com/lesleslie/oneiric/pkg/metrics"
	"github.com/lesleslie/oneiric/pkg/notify"
	"github.com/lesleslie/oneiric/pkg/plugins"
	"github.com/lesleslie/oneiric/pkg/registry"
	"github.com/lesleslie/oneiric/pkg/remote"
	"github.com/lesleslie/oneiric/pkg/resolver"
	"github.com/lesleslie/oneiric/pkg/telemetry"
	"github.com/lesleslie/oneiric/pkg/types"
	"github.com/lesleslie/oneiric/pkg/workflow"
)

// Runtime owns every long-lived component and the goroutines that drive
// them (remote watchers, the activity supervisor, the metrics
// collector). Nothing outside this package holds package-level state.
type Runtime struct {
	Settings *config.Settings

	Registry  *registry.Registry
	Resolver  *resolver.Resolver
	Lifecycle *lifecycle.Manager
	Plugins   *plugins.Registry

	Adapters  *bridge.AdapterBridge
	Services  *bridge.ServiceBridge
	Tasks     *bridge.TaskBridge
	Events    *bridge.EventBridge
	Workflows *bridge.WorkflowBridge
	Notify    *notify.Router

	Telemetry   *telemetry.Writer
	HealthHTTP  *telemetry.HealthServer
	Activity    *activity.Store
	Supervisor  *activity.Supervisor
	Metrics     *metrics.Collector

	checkpoints *workflow.CheckpointStore
	executions  *workflow.ExecutionStore
	remoteSrcs  []remote.Source
	loader      *remote.Loader

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a Runtime from settings in dependency order: registry ->
// resolver -> lifecycle -> bridges -> remote loader -> activity/
// telemetry/metrics. It does not start any background goroutine; call
// Start for that once the caller is ready to run.
func New(settings *config.Settings) (*Runtime, error) {
	reg := registry.New()
	res := resolver.New(reg, settings.Adapters, settings.StackOrder)
	lm := lifecycle.New(res)

	pluginReg := plugins.New()
	if settings.Plugins.AutoLoad {
		pluginDir := filepath.Join(settings.RuntimePaths.CacheRoot, "plugins")
		if err := plugins.LoadDynamic(pluginDir, pluginReg); err != nil {
			return nil, types.WrapError(types.KindConfigError, "load plugins", err)
		}
	}

	if err := os.MkdirAll(settings.RuntimePaths.CacheRoot, 0o755); err != nil {
		return nil, types.WrapError(types.KindConfigError, "create cache root", err)
	}

	checkpoints, err := workflow.NewCheckpointStore(settings.RuntimePaths.CacheRoot)
	if err != nil {
		return nil, types.WrapError(types.KindConfigError, "open checkpoint store", err)
	}
	executions, err := workflow.NewExecutionStore(settings.RuntimePaths.CacheRoot)
	if err != nil {
		checkpoints.Close()
		return nil, types.WrapError(types.KindConfigError, "open execution store", err)
	}

	adapterBridge := bridge.NewAdapterBridge(res, lm)
	serviceBridge := bridge.NewServiceBridge(res, lm)
	taskBridge := bridge.NewTaskBridge(res, lm)
	eventBridge := bridge.NewEventBridge(res, lm)
	workflowBridge := bridge.NewWorkflowBridge(res, lm, taskBridge, adapterBridge, checkpoints, executions, settings.Workflows.Options.QueueCategory)

	tel := telemetry.NewWriter(settings.RuntimePaths)

	remoteSources, err := buildRemoteSources(settings.Remote)
	if err != nil {
		checkpoints.Close()
		executions.Close()
		return nil, err
	}

	cacheRoot := settings.RuntimePaths.CacheRoot
	loader := remote.NewLoader(reg, lm, res, tel, eventBridge.Dispatcher(), pluginReg.Lookup, cacheRoot)

	store := activity.NewStore()
	supervisor := activity.NewSupervisor(store, lm, settings.Profile, settings.RuntimePaths.HealthJSON)
	supervisor.SetRemoteEnabled(len(remoteSources) > 0)

	collector := metrics.NewCollector(reg, lm)

	return &Runtime{
		Settings:    settings,
		Registry:    reg,
		Resolver:    res,
		Lifecycle:   lm,
		Plugins:     pluginReg,
		Adapters:    adapterBridge,
		Services:    serviceBridge,
		Tasks:       taskBridge,
		Events:      eventBridge,
		Workflows:   workflowBridge,
		Notify:      notify.NewRouter(adapterBridge),
		Telemetry:   tel,
		HealthHTTP:  telemetry.NewHealthServer(lm),
		Activity:    store,
		Supervisor:  supervisor,
		Metrics:     collector,
		checkpoints: checkpoints,
		executions:  executions,
		remoteSrcs:  remoteSources,
		loader:      loader,
	}, nil
}

// buildRemoteSources decodes each configured manifest source's base64
// Ed25519 public keys into the form pkg/remote needs.
func buildRemoteSources(settings config.RemoteSettings) ([]remote.Source, error) {
	sources := make([]remote.Source, 0, len(settings.Manifests))
	for _, m := range settings.Manifests {
		keys := make([]ed25519.PublicKey, 0, len(m.PublicKeys))
		for _, encoded := range m.PublicKeys {
			raw, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, types.WrapError(types.KindConfigError, "decode public key for "+m.URI, err)
			}
			if len(raw) != ed25519.PublicKeySize {
				return nil, types.NewError(types.KindConfigError,
					fmt.Sprintf("public key for %s is %d bytes, want %d", m.URI, len(raw), ed25519.PublicKeySize))
			}
			keys = append(keys, ed25519.PublicKey(raw))
		}
		sources = append(sources, remote.Source{
			URI:             m.URI,
			PublicKeys:      keys,
			RefreshInterval: m.RefreshInterval,
			MaxRetries:      m.MaxRetries,
		})
	}
	return sources, nil
}

// Start launches every background goroutine: one remote watcher per
// configured manifest source (skipped entirely with --no-remote, which
// callers express by clearing Settings.Remote.Manifests before New),
// the activity supervisor's reconcile loop (a no-op outside the
// serverless profile), the health HTTP server (only when http.addr is
// set), and the metrics collector.
func (rt *Runtime) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel

	for _, src := range rt.remoteSrcs {
		src := src
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			rt.loader.Watch(ctx, src)
		}()
	}

	if rt.Supervisor.Enabled() {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			rt.Supervisor.Run(ctx, defaultSupervisorInterval)
		}()
	}

	if rt.Settings.HTTP.Addr != "" {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			if err := rt.HealthHTTP.Start(ctx, rt.Settings.HTTP.Addr); err != nil {
				log.WithComponent("runtime").Error().Err(err).Msg("health server stopped")
			}
		}()
	}

	rt.Metrics.Start()
	log.WithComponent("runtime").Info().
		Int("remote_sources", len(rt.remoteSrcs)).
		Bool("supervisor_enabled", rt.Supervisor.Enabled()).
		Msg("runtime started")
}

const defaultSupervisorInterval = 10 * time.Second

// Shutdown stops every background goroutine started by Start, then
// closes the bbolt-backed checkpoint and execution stores. It is safe
// to call Shutdown without a prior Start (e.g. a one-shot CLI verb that
// never launches background work).
func (rt *Runtime) Shutdown() error {
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.Metrics.Stop()
	rt.wg.Wait()

	var firstErr error
	if err := rt.checkpoints.Close(); err != nil {
		firstErr = err
	}
	if err := rt.executions.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
