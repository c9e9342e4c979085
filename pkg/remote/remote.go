// Package remote implements the Remote Manifest Loader: it periodically
// fetches a signed manifest from an HTTP(S) or file:// source, verifies
// its signature and digest, downloads any declared artifacts, and
// reconciles the result into the Candidate Registry and Lifecycle
// Manager. Grounded on Warren's pkg/ingress ACME client (a periodic
// fetch-verify-renew loop wrapped in retry) generalized from certificate
// renewal to manifest resync.
package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lesleslie/oneiric/pkg/event"
	"github.com/lesleslie/oneiric/pkg/lifecycle"
	"github.com/lesleslie/oneiric/pkg/log"
	"github.com/lesleslie/oneiric/pkg/metrics"
	"github.com/lesleslie/oneiric/pkg/registry"
	"github.com/lesleslie/oneiric/pkg/resolver"
	"github.com/lesleslie/oneiric/pkg/telemetry"
	"github.com/lesleslie/oneiric/pkg/types"
	"github.com/sony/gobreaker"
	"gopkg.in/yaml.v3"
)

// remoteSyncCompleteTopic is the event topic emitted once per
// completed sync attempt (changed or not), per the Remote Manifest
// Loader's digest-compare and ingest steps.
const remoteSyncCompleteTopic = "remote-sync-complete"

// Source describes one remote manifest feed.
type Source struct {
	URI             string
	PublicKeys      []ed25519.PublicKey
	RefreshInterval time.Duration
	MaxRetries      int
}

// FactoryLookup resolves a manifest entry's declared provider name to
// the built-in constructor that implements it. A remote manifest can
// only activate providers the binary already ships; it cannot ship
// arbitrary code.
type FactoryLookup func(domain types.Domain, provider string) (types.Factory, bool)

// SyncResult is the outcome of one syncOnce call.
type SyncResult struct {
	SourceURI      string
	Changed        bool
	EntriesApplied int
	Swapped        []types.Identity
}

// Loader periodically syncs one or more Sources into reg and lm.
type Loader struct {
	reg       *registry.Registry
	lm        *lifecycle.Manager
	res       *resolver.Resolver
	tel       *telemetry.Writer
	events    *event.Dispatcher
	factories FactoryLookup
	cacheDir  string
	client    *http.Client

	mu             sync.Mutex
	breakers       map[string]*gobreaker.CircuitBreaker
	lastDigest     map[string][32]byte
	lastIdentities map[string][]types.Identity
}

// NewLoader builds a Loader. events may be nil (e.g. in tests that
// don't care about event fanout); a nil dispatcher is simply skipped.
func NewLoader(reg *registry.Registry, lm *lifecycle.Manager, res *resolver.Resolver, tel *telemetry.Writer, events *event.Dispatcher, factories FactoryLookup, cacheDir string) *Loader {
	return &Loader{
		reg:            reg,
		lm:             lm,
		res:            res,
		tel:            tel,
		events:         events,
		factories:      factories,
		cacheDir:       cacheDir,
		client:         &http.Client{Timeout: 10 * time.Second},
		breakers:       make(map[string]*gobreaker.CircuitBreaker),
		lastDigest:     make(map[string][32]byte),
		lastIdentities: make(map[string][]types.Identity),
	}
}

// emitSyncComplete fires remoteSyncCompleteTopic for handlers watching
// manifest sync outcomes. Dispatch errors are logged, not propagated —
// a failing event handler must never fail the sync itself.
func (l *Loader) emitSyncComplete(ctx context.Context, sourceURI string, changed bool, entriesApplied int) {
	if l.events == nil {
		return
	}
	payload := map[string]any{
		"source_uri":      sourceURI,
		"changed":         changed,
		"entries_applied": entriesApplied,
	}
	if _, err := l.events.Dispatch(ctx, remoteSyncCompleteTopic, payload, nil); err != nil {
		log.WithComponent("remote").Warn().Err(err).Str("source", sourceURI).Msg("remote-sync-complete dispatch failed")
	}
}

func (l *Loader) breakerFor(src Source) *gobreaker.CircuitBreaker {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.breakers[src.URI]; ok {
		return b
	}
	maxRetries := src.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	logger := log.WithComponent("remote")
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        src.URI,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= maxRetries
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				logger.Warn().Str("source", name).Msg("remote-refresh-circuit-open")
				if l.tel != nil {
					l.tel.EmitTransition(telemetry.LifecycleTransitionEvent{
						Key: name, To: types.StateFailed, Reason: "remote-refresh-circuit-open", At: time.Now(),
					})
				}
			}
		},
	})
	l.breakers[src.URI] = b
	return b
}

// Watch ticks syncOnce on RefreshInterval, backing off exponentially
// (1s-30s) between attempts after a failure instead of waiting the full
// interval, and resetting to RefreshInterval on the next success. It
// runs single-flight per source: a slow syncOnce is never started again
// concurrently by its own ticker.
func (l *Loader) Watch(ctx context.Context, src Source) {
	interval := src.RefreshInterval
	if interval <= 0 {
		interval = time.Minute
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	logger := log.WithComponent("remote")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		result, err := l.syncOnce(ctx, src)
		if err != nil {
			logger.Warn().Err(err).Str("source", src.URI).Msg("manifest sync failed")
			timer.Reset(bo.NextBackOff())
			continue
		}
		bo.Reset()
		if result.Changed {
			logger.Info().Str("source", src.URI).Int("entries", result.EntriesApplied).Msg("manifest synced")
		}
		timer.Reset(interval)
	}
}

// syncOnce implements the fetch -> verify -> digest -> validate ->
// download -> register -> swap -> telemetry pipeline. Any failure
// before the register step leaves the registry untouched (P7).
func (l *Loader) syncOnce(ctx context.Context, src Source) (SyncResult, error) {
	timer := metrics.NewTimer()
	defer func() { metrics.ManifestSyncDuration.Observe(timer.Duration().Seconds()) }()

	breaker := l.breakerFor(src)
	raw, err := breaker.Execute(func() (any, error) {
		return l.fetchVerified(ctx, src)
	})
	if err != nil {
		outcome := "rejected"
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			outcome = "circuit_open"
		}
		metrics.ManifestSyncsTotal.WithLabelValues(outcome).Inc()
		if l.tel != nil {
			l.tel.WriteSync(telemetry.SyncResult{SourceURI: src.URI, LastError: telemetry.NewSyncError(err), At: time.Now()})
		}
		return SyncResult{}, err
	}
	data := raw.([]byte)

	digest := sha256.Sum256(data)
	l.mu.Lock()
	unchanged := l.lastDigest[src.URI] == digest
	l.mu.Unlock()
	if unchanged {
		l.emitSyncComplete(ctx, src.URI, false, 0)
		return SyncResult{SourceURI: src.URI, Changed: false}, nil
	}

	manifest, err := parseManifest(data)
	if err != nil {
		metrics.ManifestSyncsTotal.WithLabelValues("rejected").Inc()
		return SyncResult{}, err
	}

	if err := l.downloadArtifacts(ctx, manifest); err != nil {
		metrics.ManifestSyncsTotal.WithLabelValues("rejected").Inc()
		return SyncResult{}, err
	}

	swapped, applied, err := l.reconcile(ctx, src, manifest)
	if err != nil {
		metrics.ManifestSyncsTotal.WithLabelValues("rejected").Inc()
		return SyncResult{}, err
	}

	l.mu.Lock()
	l.lastDigest[src.URI] = digest
	l.mu.Unlock()

	metrics.ManifestSyncsTotal.WithLabelValues("applied").Inc()
	result := SyncResult{SourceURI: src.URI, Changed: true, EntriesApplied: applied, Swapped: swapped}
	if l.tel != nil {
		l.tel.WriteSync(telemetry.SyncResult{SourceURI: src.URI, Changed: true, EntriesApplied: applied, At: time.Now()})
	}
	l.emitSyncComplete(ctx, src.URI, true, applied)
	return result, nil
}

// fetchVerified fetches the manifest body and its detached signature,
// verifying the signature against every trusted key (any one match
// accepts) before returning the body bytes.
func (l *Loader) fetchVerified(ctx context.Context, src Source) ([]byte, error) {
	body, err := l.fetch(ctx, src.URI)
	if err != nil {
		return nil, err
	}
	sig, err := l.fetch(ctx, src.URI+".sig")
	if err != nil {
		return nil, err
	}

	if len(src.PublicKeys) == 0 {
		return nil, types.NewError(types.KindSignatureInvalid, "no trusted public keys configured for "+src.URI)
	}
	for _, key := range src.PublicKeys {
		if ed25519.Verify(key, body, sig) {
			return body, nil
		}
	}
	return nil, types.NewError(types.KindSignatureInvalid, "signature verification failed for "+src.URI)
}

func (l *Loader) fetch(ctx context.Context, uri string) ([]byte, error) {
	if strings.HasPrefix(uri, "file://") {
		return os.ReadFile(strings.TrimPrefix(uri, "file://"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", uri, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func parseManifest(data []byte) (types.RemoteManifest, error) {
	var manifest types.RemoteManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return types.RemoteManifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	for i, e := range manifest.Entries {
		if e.Domain == "" || e.Key == "" || e.Provider == "" {
			return types.RemoteManifest{}, types.NewError(types.KindConfigError,
				fmt.Sprintf("manifest entry %d missing required domain/key/provider", i))
		}
	}
	return manifest, nil
}

// downloadArtifacts fetches every declared artifact into
// <cacheDir>/artifacts/<sha256>, verifying the digest and rejecting any
// path that would escape cacheDir.
func (l *Loader) downloadArtifacts(ctx context.Context, manifest types.RemoteManifest) error {
	if l.cacheDir == "" {
		return nil
	}
	artifactDir := filepath.Join(l.cacheDir, "artifacts")
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return err
	}

	for _, entry := range manifest.Entries {
		if entry.Artifact == nil {
			continue
		}
		if strings.ContainsAny(entry.Artifact.SHA256, "/\\") {
			return types.NewError(types.KindPathTraversal, "artifact digest contains path separators")
		}

		dest := filepath.Join(artifactDir, entry.Artifact.SHA256)
		if !strings.HasPrefix(filepath.Clean(dest), filepath.Clean(artifactDir)+string(filepath.Separator)) {
			return types.NewError(types.KindPathTraversal, "artifact path escapes cache directory")
		}

		if _, err := os.Stat(dest); err == nil {
			continue // already cached
		}

		data, err := l.fetch(ctx, entry.Artifact.URI)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		if fmt.Sprintf("%x", sum) != entry.Artifact.SHA256 {
			return types.NewError(types.KindDigestMismatch, "artifact digest mismatch for "+entry.Artifact.URI)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// reconcile registers every manifest entry under Source: SourceRemote,
// unregisters this source's prior entries absent from the new manifest
// (P6), and Swaps the Lifecycle Manager for any (domain,key) whose
// resolved winner changed as a result.
func (l *Loader) reconcile(ctx context.Context, src Source, manifest types.RemoteManifest) ([]types.Identity, int, error) {
	priorWinners := l.currentWinners(manifest)

	newIdentities := make([]types.Identity, 0, len(manifest.Entries))
	for idx, entry := range manifest.Entries {
		factory, ok := l.factories(entry.Domain, entry.Provider)
		if !ok {
			return nil, 0, types.NewError(types.KindConfigError,
				fmt.Sprintf("no built-in factory for provider %q (domain %s)", entry.Provider, entry.Domain))
		}

		candidate := types.Candidate{
			Domain:      entry.Domain,
			Key:         entry.Key,
			Provider:    entry.Provider,
			Priority:    entry.Priority,
			StackLevel:  entry.Metadata.StackLevel,
			Source:      types.SourceRemote,
			ManifestIdx: idx,
			Factory:     factory,
			Metadata:    manifestMetaToMetadata(entry),
		}
		if _, err := l.reg.Register(candidate, false); err != nil {
			return nil, 0, err
		}
		newIdentities = append(newIdentities, candidate.Identity())
	}

	l.mu.Lock()
	prior := l.lastIdentities[src.URI]
	l.lastIdentities[src.URI] = newIdentities
	l.mu.Unlock()

	newSet := make(map[types.Identity]struct{}, len(newIdentities))
	for _, id := range newIdentities {
		newSet[id] = struct{}{}
	}
	for _, id := range prior {
		if _, stillPresent := newSet[id]; !stillPresent {
			l.reg.UnregisterIdentity(id)
		}
	}

	swapped := l.swapChangedWinners(ctx, manifest, priorWinners)
	return swapped, len(newIdentities), nil
}

func (l *Loader) currentWinners(manifest types.RemoteManifest) map[types.Identity]string {
	winners := make(map[types.Identity]string)
	seen := make(map[string]struct{})
	for _, entry := range manifest.Entries {
		key := string(entry.Domain) + "/" + entry.Key
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if c, _, err := l.res.Resolve(entry.Domain, entry.Key); err == nil {
			winners[c.Identity()] = c.Provider
		}
	}
	return winners
}

func (l *Loader) swapChangedWinners(ctx context.Context, manifest types.RemoteManifest, priorWinners map[types.Identity]string) []types.Identity {
	var swapped []types.Identity
	seen := make(map[string]struct{})
	for _, entry := range manifest.Entries {
		key := string(entry.Domain) + "/" + entry.Key
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		c, _, err := l.res.Resolve(entry.Domain, entry.Key)
		if err != nil {
			continue
		}
		if _, wasWinner := priorWinners[c.Identity()]; wasWinner {
			continue
		}
		if err := l.lm.Swap(ctx, entry.Domain, entry.Key, false); err == nil {
			swapped = append(swapped, c.Identity())
		}
	}
	return swapped
}

func manifestMetaToMetadata(entry types.ManifestEntry) types.Metadata {
	meta := entry.Metadata
	capabilities := make(map[string]struct{}, len(meta.Capabilities))
	for _, c := range meta.Capabilities {
		capabilities[c] = struct{}{}
	}
	return types.Metadata{
		Capabilities:      capabilities,
		Version:           meta.Version,
		Owner:             meta.Owner,
		RequiresSecrets:   meta.RequiresSecrets,
		SettingsModel:     meta.SettingsModel,
		EventTopics:       meta.EventTopics,
		EventPriority:     meta.EventPriority,
		EventFanoutPolicy: meta.EventFanoutPolicy,
		Extras:            mergeExtras(meta.Extras, entry.Extra),
	}
}

func mergeExtras(a, b map[string]any) map[string]any {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

