// Package lifecycle drives each resolved (domain,key) through its state
// machine: activation, health probing, hot-swap with rollback, pause/
// resume/drain, and cleanup.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/lesleslie/oneiric/pkg/log"
	"github.com/lesleslie/oneiric/pkg/metrics"
	"github.com/lesleslie/oneiric/pkg/resolver"
	"github.com/lesleslie/oneiric/pkg/types"
)

const defaultHealthTimeout = 5 * time.Second

type key struct {
	domain types.Domain
	key    string
}

// entry is the mutable per-(domain,key) record. Every field access goes
// through the entry's own mutex; the Manager's top-level lock only
// guards the entries map itself.
type entry struct {
	mu sync.Mutex

	state            types.LifecycleState
	currentProvider  string
	currentCandidate types.Candidate
	currentInstance  types.Instance
	pendingInstance  types.Instance
	lastHealth       bool
	healthFailures   int
	paused           bool
	draining         bool
	note             string
	lastError        string
	attempts         int
	updatedAt        time.Time

	probing bool
}

func (e *entry) snapshot(k key) types.LifecycleEntry {
	return types.LifecycleEntry{
		Domain:          k.domain,
		Key:             k.key,
		State:           e.state,
		CurrentProvider: e.currentProvider,
		CurrentInstance: e.currentInstance,
		PendingInstance: e.pendingInstance,
		LastHealth:      e.lastHealth,
		HealthFailures:  e.healthFailures,
		Paused:          e.paused,
		Draining:        e.draining,
		Note:            e.note,
		LastError:       e.lastError,
		Attempts:        e.attempts,
		UpdatedAt:       e.updatedAt,
	}
}

// Manager owns every instance's lifetime. It never inspects a Resolver's
// internal registry snapshot directly — it asks for a fresh Resolve on
// every Activate/Swap so precedence changes are picked up without an
// explicit invalidation step.
type Manager struct {
	res           *resolver.Resolver
	healthTimeout time.Duration

	mu      sync.RWMutex
	entries map[key]*entry
}

// New builds a Manager over res.
func New(res *resolver.Resolver) *Manager {
	return &Manager{
		res:           res,
		healthTimeout: defaultHealthTimeout,
		entries:       make(map[key]*entry),
	}
}

func (m *Manager) entryFor(k key) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[k]
	if !ok {
		e = &entry{state: types.StateUninitialized}
		m.entries[k] = e
	}
	return e
}

// Activate resolves (domain,key), constructs the winning candidate if
// not already current, runs its init and health hooks, and returns a
// Handle. If the winner is already current and Ready, Activate returns
// the cached Handle without reconstructing anything.
func (m *Manager) Activate(ctx context.Context, domain types.Domain, key string) (types.Handle, error) {
	k := keyOf(domain, key)
	e := m.entryFor(k)

	e.mu.Lock()
	defer e.mu.Unlock()

	winner, _, err := m.res.Resolve(domain, key)
	if err != nil {
		return types.Handle{}, err
	}

	if e.state == types.StateReady && e.currentProvider == winner.Provider {
		return types.Handle{Candidate: e.currentCandidate, Instance: e.currentInstance, State: e.snapshot(k).Snapshot()}, nil
	}

	e.state = types.StateActivating
	timer := metrics.NewTimer()
	instance, err := m.construct(ctx, winner)
	timer.ObserveDurationVec(metrics.ActivateDuration, string(domain))
	if err != nil {
		e.state = types.StateFailed
		e.lastError = err.Error()
		e.updatedAt = time.Now()
		return types.Handle{}, types.WrapError(types.KindLifecycleError, "activation failed", err).
			WithScope(domain, key)
	}

	e.state = types.StateReady
	e.currentProvider = winner.Provider
	e.currentCandidate = winner
	e.currentInstance = instance
	e.lastHealth = true
	e.healthFailures = 0
	e.lastError = ""
	e.updatedAt = time.Now()

	log.WithDomainKey(string(domain), key).Info().Str("provider", winner.Provider).Msg("activated")

	return types.Handle{Candidate: winner, Instance: instance, State: e.snapshot(k).Snapshot()}, nil
}

// construct runs factory → init() (if declared) → health() (if
// declared, must return true within m.healthTimeout), converting a
// panic in any hook into a LifecycleError instead of crashing the
// caller.
func (m *Manager) construct(ctx context.Context, c types.Candidate) (instance types.Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewError(types.KindLifecycleError, "hook panicked").WithScope(c.Domain, c.Key)
		}
	}()

	instance, err = c.Factory(ctx, c.Settings)
	if err != nil {
		return nil, err
	}

	if c.Hooks.Init != nil {
		if err := c.Hooks.Init(ctx, instance); err != nil {
			return nil, err
		}
	}

	if c.HealthHook != nil {
		healthCtx, cancel := context.WithTimeout(ctx, m.healthTimeout)
		ok, err := c.HealthHook(healthCtx, instance)
		cancel()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, types.NewError(types.KindLifecycleError, "initial health probe failed")
		}
	}

	return instance, nil
}

// Swap re-resolves (domain,key); if the winner differs from current, it
// constructs the winner as pending, and only on success atomically
// replaces current and schedules cleanup on the displaced instance. On
// pending failure, current is preserved and last_error recorded, unless
// force is set, in which case current is evicted and the entry moves to
// Failed (P5 Rollback preservation covers the non-force path).
func (m *Manager) Swap(ctx context.Context, domain types.Domain, key string, force bool) error {
	k := keyOf(domain, key)
	e := m.entryFor(k)

	e.mu.Lock()
	defer e.mu.Unlock()

	winner, _, err := m.res.Resolve(domain, key)
	if err != nil {
		return err
	}

	if e.state == types.StateReady && e.currentProvider == winner.Provider {
		return nil
	}

	pending, err := m.construct(ctx, winner)
	if err != nil {
		e.lastError = err.Error()
		e.updatedAt = time.Now()

		if !force {
			metrics.SwapsTotal.WithLabelValues(string(domain), "rolled_back").Inc()
			return types.WrapError(types.KindSwapRollback, "pending candidate failed health/init, active preserved", err).
				WithScope(domain, key)
		}

		if e.currentInstance != nil {
			m.cleanup(ctx, e.currentCandidate, e.currentInstance)
		}
		e.state = types.StateFailed
		e.currentInstance = nil
		e.currentProvider = ""
		e.updatedAt = time.Now()
		metrics.SwapsTotal.WithLabelValues(string(domain), "rolled_back").Inc()
		return types.WrapError(types.KindLifecycleError, "forced swap evicted active after pending failure", err).
			WithScope(domain, key)
	}

	displacedCandidate, displacedInstance := e.currentCandidate, e.currentInstance

	e.state = types.StateReady
	e.currentCandidate = winner
	e.currentProvider = winner.Provider
	e.currentInstance = pending
	e.pendingInstance = nil
	e.lastHealth = true
	e.healthFailures = 0
	e.lastError = ""
	e.updatedAt = time.Now()

	if displacedInstance != nil {
		go m.cleanup(context.Background(), displacedCandidate, displacedInstance)
	}

	metrics.SwapsTotal.WithLabelValues(string(domain), "succeeded").Inc()
	log.WithDomainKey(string(domain), key).Info().Str("provider", winner.Provider).Msg("swapped")
	return nil
}

func (m *Manager) cleanup(ctx context.Context, c types.Candidate, instance types.Instance) {
	if c.Hooks.Cleanup == nil {
		return
	}
	if err := c.Hooks.Cleanup(ctx, instance); err != nil {
		log.WithDomainKey(string(c.Domain), c.Key).Warn().Err(err).Msg("cleanup failed, swap unaffected")
	}
}

// Pause is cooperative and idempotent: it marks the entry paused so
// bridges stop dispatching new work; it does not itself stop in-flight
// work.
func (m *Manager) Pause(ctx context.Context, domain types.Domain, key string) error {
	e := m.entryFor(keyOf(domain, key))
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return nil
	}
	e.paused = true
	e.state = types.StatePaused
	e.updatedAt = time.Now()

	if e.currentInstance != nil && e.currentCandidate.Hooks.Pause != nil {
		if err := e.currentCandidate.Hooks.Pause(ctx, e.currentInstance); err != nil {
			return types.WrapError(types.KindLifecycleError, "pause hook failed", err).
				WithScope(domain, key)
		}
	}
	return nil
}

// Resume reverses Pause.
func (m *Manager) Resume(ctx context.Context, domain types.Domain, key string) error {
	e := m.entryFor(keyOf(domain, key))
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.paused {
		return nil
	}
	e.paused = false
	if !e.draining {
		e.state = types.StateReady
	}
	e.updatedAt = time.Now()

	if e.currentInstance != nil && e.currentCandidate.Hooks.Resume != nil {
		if err := e.currentCandidate.Hooks.Resume(ctx, e.currentInstance); err != nil {
			return types.WrapError(types.KindLifecycleError, "resume hook failed", err).
				WithScope(domain, key)
		}
	}
	return nil
}

// Drain behaves like Pause but waits (bounded by timeout) for
// e.attempts to reach zero before calling cleanup and moving to Failed.
// A caller that never calls back into the manager to decrement attempts
// (e.g. a bridge completing outstanding work) will simply let Drain time
// out.
func (m *Manager) Drain(ctx context.Context, domain types.Domain, key string, timeout time.Duration) error {
	k := keyOf(domain, key)
	e := m.entryFor(k)

	e.mu.Lock()
	e.draining = true
	e.state = types.StateDraining
	e.updatedAt = time.Now()
	e.mu.Unlock()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		e.mu.Lock()
		attempts := e.attempts
		e.mu.Unlock()

		if attempts == 0 {
			break
		}
		if time.Now().After(deadline) {
			e.mu.Lock()
			e.state = types.StateFailed
			candidate, instance := e.currentCandidate, e.currentInstance
			e.currentInstance = nil
			e.updatedAt = time.Now()
			e.mu.Unlock()

			if instance != nil {
				m.cleanup(ctx, candidate, instance)
			}
			return types.NewError(types.KindLifecycleError, "drain timed out with outstanding work").
				WithScope(domain, key)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	candidate, instance := e.currentCandidate, e.currentInstance
	e.currentInstance = nil
	e.state = types.StateFailed
	e.updatedAt = time.Now()
	e.mu.Unlock()

	if instance != nil {
		m.cleanup(ctx, candidate, instance)
	}
	return nil
}

// Probe calls health() if declared, guarded by a per-entry 1-inflight
// lock: a caller arriving while a probe is in progress observes the
// cached lastHealth value instead of re-entering health(). A first
// failing health transitions to Degraded (still serves reads); two
// consecutive failures transition to Failed.
func (m *Manager) Probe(ctx context.Context, domain types.Domain, key string) (bool, error) {
	e := m.entryFor(keyOf(domain, key))

	e.mu.Lock()
	if e.probing {
		cached := e.lastHealth
		e.mu.Unlock()
		return cached, nil
	}
	e.probing = true
	candidate, instance := e.currentCandidate, e.currentInstance
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.probing = false
		e.mu.Unlock()
	}()

	if candidate.HealthHook == nil || instance == nil {
		return true, nil
	}

	healthy, err := candidate.HealthHook(ctx, instance)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil || !healthy {
		metrics.HealthChecksTotal.WithLabelValues(string(domain), "fail").Inc()
		e.healthFailures++
		e.lastHealth = false
		if e.healthFailures >= 2 {
			e.state = types.StateFailed
		} else {
			e.state = types.StateDegraded
		}
		e.updatedAt = time.Now()
		return false, err
	}

	metrics.HealthChecksTotal.WithLabelValues(string(domain), "pass").Inc()
	e.lastHealth = true
	e.healthFailures = 0
	if e.state == types.StateDegraded {
		e.state = types.StateReady
	}
	e.updatedAt = time.Now()
	return true, nil
}

// Status returns the current LifecycleEntry for (domain,key) and
// whether one exists.
func (m *Manager) Status(domain types.Domain, key string) (types.LifecycleEntry, bool) {
	k := keyOf(domain, key)

	m.mu.RLock()
	e, ok := m.entries[k]
	m.mu.RUnlock()
	if !ok {
		return types.LifecycleEntry{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(k), true
}

// Snapshot returns every known entry.
func (m *Manager) Snapshot() []types.LifecycleEntry {
	m.mu.RLock()
	keys := make([]key, 0, len(m.entries))
	entries := make([]*entry, 0, len(m.entries))
	for k, e := range m.entries {
		keys = append(keys, k)
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]types.LifecycleEntry, 0, len(entries))
	for i, e := range entries {
		e.mu.Lock()
		out = append(out, e.snapshot(keys[i]))
		e.mu.Unlock()
	}
	return out
}

// CountsByState implements metrics.LifecycleSource.
func (m *Manager) CountsByState() map[types.LifecycleState]int {
	counts := make(map[types.LifecycleState]int)
	for _, e := range m.Snapshot() {
		counts[e.State]++
	}
	return counts
}

func keyOf(domain types.Domain, k string) key {
	return key{domain: domain, key: k}
}
