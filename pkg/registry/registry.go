// Package registry implements the Candidate Registry: the in-memory
// store of provider candidates keyed by (domain, key, provider, source).
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/lesleslie/oneiric/pkg/types"
)

// RegistrationToken identifies one registered candidate for later
// Unregister calls. Callers must treat it as opaque.
type RegistrationToken struct {
	identity types.Identity
}

// EventKind distinguishes a registry mutation's kind.
type EventKind string

const (
	EventRegistered   EventKind = "registered"
	EventUnregistered EventKind = "unregistered"
)

// RegistryEvent is published to Subscribe channels on every mutation.
type RegistryEvent struct {
	Kind      EventKind
	Candidate types.Candidate
}

// Registry is the single-writer, copy-on-write candidate store. Reads
// (List) take a snapshot slice under a read lock and never block a
// concurrent Register/Unregister for longer than the copy.
type Registry struct {
	mu          sync.RWMutex
	byIdentity  map[types.Identity]types.Candidate
	seq         uint64
	subscribers map[chan RegistryEvent]struct{}
	subMu       sync.RWMutex
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byIdentity:  make(map[types.Identity]types.Candidate),
		subscribers: make(map[chan RegistryEvent]struct{}),
	}
}

// Register inserts c. Re-registration of the same (domain,key,provider,
// source) identity replaces the entry in place and preserves its
// original SourceOrder. A new identity is assigned the next monotonic
// SourceOrder. When strict is true, a distinct source attempting to
// reuse an existing (domain,key,provider) under a *different* source
// fails with KindDuplicateRegistration.
func (r *Registry) Register(c types.Candidate, strict bool) (RegistrationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity := c.Identity()

	if strict {
		for existing := range r.byIdentity {
			if existing.Domain == identity.Domain && existing.Key == identity.Key &&
				existing.Provider == identity.Provider && existing.Source != identity.Source {
				return RegistrationToken{}, types.NewError(types.KindDuplicateRegistration,
					"provider "+identity.Provider+" already registered under a different source").
					WithScope(identity.Domain, identity.Key)
			}
		}
	}

	if prior, ok := r.byIdentity[identity]; ok {
		c.SourceOrder = prior.SourceOrder
	} else {
		c.SourceOrder = atomic.AddUint64(&r.seq, 1)
	}

	r.byIdentity[identity] = c
	r.publish(RegistryEvent{Kind: EventRegistered, Candidate: c})

	return RegistrationToken{identity: identity}, nil
}

// Unregister removes the candidate tok refers to, returning it and
// whether it was present.
func (r *Registry) Unregister(tok RegistrationToken) (types.Candidate, bool) {
	r.mu.Lock()
	c, ok := r.byIdentity[tok.identity]
	if ok {
		delete(r.byIdentity, tok.identity)
	}
	r.mu.Unlock()

	if ok {
		r.publish(RegistryEvent{Kind: EventUnregistered, Candidate: c})
	}
	return c, ok
}

// UnregisterIdentity removes the candidate stored under id directly,
// for callers (e.g. pkg/remote reconciling a manifest's own prior
// entries) that track identities rather than opaque tokens across a
// longer-lived session than one Register call.
func (r *Registry) UnregisterIdentity(id types.Identity) (types.Candidate, bool) {
	return r.Unregister(RegistrationToken{identity: id})
}

// UnregisterSource removes every candidate registered under source,
// leaving candidates from other sources untouched (P6 remote isolation).
func (r *Registry) UnregisterSource(source types.Source) []types.Candidate {
	r.mu.Lock()
	var removed []types.Candidate
	for identity, c := range r.byIdentity {
		if identity.Source == source {
			removed = append(removed, c)
			delete(r.byIdentity, identity)
		}
	}
	r.mu.Unlock()

	for _, c := range removed {
		r.publish(RegistryEvent{Kind: EventUnregistered, Candidate: c})
	}
	return removed
}

// List returns every registered candidate for (domain,key); an empty
// key returns every candidate in domain. The registry has no notion of
// precedence — it retains every distinct Identity it has ever seen —
// so includeShadowed cannot be honored here: deciding which candidates
// the resolver would actually pick requires replaying the stack-order
// pipeline, which lives in pkg/resolver. This parameter is accepted for
// interface symmetry with spec's list() but always behaves as if true;
// callers that need the resolver's winner-filtered view should use
// bridge.base.Shadowed or resolver.Resolver.Explain instead.
func (r *Registry) List(domain types.Domain, key string, includeShadowed bool) []types.Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Candidate, 0, len(r.byIdentity))
	for identity, c := range r.byIdentity {
		if identity.Domain != domain {
			continue
		}
		if key != "" && identity.Key != key {
			continue
		}
		out = append(out, c)
	}
	return out
}

// CountsByDomain implements metrics.RegistrySource.
func (r *Registry) CountsByDomain() map[types.Domain]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[types.Domain]int)
	for identity := range r.byIdentity {
		counts[identity.Domain]++
	}
	return counts
}

// Subscribe returns a channel that receives every future RegistryEvent,
// and a cancel func to unsubscribe. Grounded on Warren's pkg/events.Broker:
// a buffered per-subscriber channel with a non-blocking publish so one
// slow subscriber never stalls Register/Unregister.
func (r *Registry) Subscribe() (<-chan RegistryEvent, func()) {
	ch := make(chan RegistryEvent, 64)

	r.subMu.Lock()
	r.subscribers[ch] = struct{}{}
	r.subMu.Unlock()

	cancel := func() {
		r.subMu.Lock()
		if _, ok := r.subscribers[ch]; ok {
			delete(r.subscribers, ch)
			close(ch)
		}
		r.subMu.Unlock()
	}

	return ch, cancel
}

func (r *Registry) publish(ev RegistryEvent) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()

	for ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
