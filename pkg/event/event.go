// Package event implements the Event-domain dispatcher: it collects
// every candidate subscribed to a topic, filters and orders them, and
// fans a single dispatch out to one or more handlers under a retry
// policy. Grounded on Warren's pkg/events.Broker for the fan-out shape,
// generalized from a fire-and-forget broadcast into a synchronous,
// per-handler-retried dispatch that returns results to the caller.
package event

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lesleslie/oneiric/pkg/lifecycle"
	"github.com/lesleslie/oneiric/pkg/log"
	"github.com/lesleslie/oneiric/pkg/metrics"
	"github.com/lesleslie/oneiric/pkg/resolver"
	"github.com/lesleslie/oneiric/pkg/types"
	"github.com/tidwall/gjson"
)

// HandlerResult records one handler invocation's outcome.
type HandlerResult struct {
	Provider   string
	Attempts   int
	DurationMS int64
	Status     string // "ok" or "error"
	Error      string
}

// Dispatcher implements topic-based fan-out over the resolver/lifecycle
// pair the Event domain's candidates are registered against — the
// "really res+lm pair" a bridge.EventBridge wraps.
type Dispatcher struct {
	res            *resolver.Resolver
	lm             *lifecycle.Manager
	defaultTimeout time.Duration
}

func New(res *resolver.Resolver, lm *lifecycle.Manager) *Dispatcher {
	return &Dispatcher{res: res, lm: lm, defaultTimeout: 10 * time.Second}
}

// Dispatch collects every Event-domain candidate subscribed to topic,
// filters and orders them, and invokes survivors per FanoutPolicy.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, payload, headers map[string]any) ([]HandlerResult, error) {
	timer := metrics.NewTimer()
	defer func() { metrics.EventDispatchLatency.WithLabelValues(topic).Observe(timer.Duration().Seconds()) }()

	candidates := d.subscribedCandidates(topic)
	candidates = filterByEventFilters(candidates, payload, headers)
	sortByPriority(candidates)

	if len(candidates) == 0 {
		return nil, nil
	}

	survivors := candidates
	if len(candidates) > 0 && candidates[0].Metadata.EventFanoutPolicy == types.FanoutExclusive {
		survivors = candidates[:1]
	}

	if policy := survivors[0].Metadata.EventFanoutPolicy; policy == "" || policy == types.FanoutAll {
		if survivors[0].Metadata.EventConcurrent {
			return d.dispatchConcurrent(ctx, topic, payload, headers, survivors)
		}
		return d.dispatchSequential(ctx, topic, payload, headers, survivors)
	}

	// Exclusive: exactly one handler. A failure here is not swallowed —
	// there was nothing else to fall back to.
	results := d.dispatchSequential(ctx, topic, payload, headers, survivors)
	if results[0].Status == "error" {
		return results, types.NewError(types.KindHandlerError, results[0].Error)
	}
	return results, nil
}

func (d *Dispatcher) subscribedCandidates(topic string) []types.Candidate {
	all := d.res.Registry().List(types.DomainEvent, "", true)
	out := make([]types.Candidate, 0, len(all))
	for _, c := range all {
		for _, t := range c.Metadata.EventTopics {
			if t == topic {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func filterByEventFilters(candidates []types.Candidate, payload, headers map[string]any) []types.Candidate {
	doc, err := json.Marshal(map[string]any{"payload": payload, "headers": headers})
	if err != nil {
		return candidates
	}

	out := make([]types.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if matchesAllFilters(string(doc), c.Metadata.EventFilters) {
			out = append(out, c)
		}
	}
	return out
}

func matchesAllFilters(doc string, filters []types.EventFilter) bool {
	for _, f := range filters {
		if !matchesFilter(doc, f) {
			return false
		}
	}
	return true
}

func matchesFilter(doc string, f types.EventFilter) bool {
	result := gjson.Get(doc, f.Path)
	switch f.Operator {
	case types.OpExists:
		return result.Exists()
	case types.OpNot:
		return !valueEquals(result, f.Value)
	case types.OpIn:
		values, ok := f.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range values {
			if valueEquals(result, v) {
				return true
			}
		}
		return false
	case types.OpEquals:
		return valueEquals(result, f.Value)
	default:
		return false
	}
}

func valueEquals(result gjson.Result, want any) bool {
	if !result.Exists() {
		return false
	}
	switch w := want.(type) {
	case string:
		return result.String() == w
	case bool:
		return result.Bool() == w
	case float64:
		return result.Num == w
	case int:
		return result.Num == float64(w)
	default:
		return false
	}
}

func sortByPriority(candidates []types.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Metadata.EventPriority > candidates[j].Metadata.EventPriority
	})
}

func (d *Dispatcher) dispatchSequential(ctx context.Context, topic string, payload, headers map[string]any, candidates []types.Candidate) []HandlerResult {
	results := make([]HandlerResult, len(candidates))
	for i, c := range candidates {
		results[i] = d.invoke(ctx, topic, payload, headers, c)
	}
	return results
}

func (d *Dispatcher) dispatchConcurrent(ctx context.Context, topic string, payload, headers map[string]any, candidates []types.Candidate) ([]HandlerResult, error) {
	results := make([]HandlerResult, len(candidates))
	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c types.Candidate) {
			defer wg.Done()
			results[i] = d.invoke(ctx, topic, payload, headers, c)
		}(i, c)
	}
	wg.Wait()
	return results, nil
}

func (d *Dispatcher) invoke(ctx context.Context, topic string, payload, headers map[string]any, c types.Candidate) HandlerResult {
	logger := log.WithComponent("event")
	start := time.Now()

	timeout := d.defaultTimeout
	policy := c.Metadata.RetryPolicy
	if policy != nil && policy.Timeout > 0 {
		timeout = policy.Timeout
	}

	handle, err := d.lm.Activate(ctx, types.DomainEvent, c.Key)
	if err != nil {
		return HandlerResult{Provider: c.Provider, Status: "error", Error: err.Error(), DurationMS: time.Since(start).Milliseconds()}
	}
	handler, ok := handle.Instance.(types.EventHandler)
	if !ok {
		return HandlerResult{Provider: c.Provider, Status: "error", Error: "candidate does not implement EventHandler", DurationMS: time.Since(start).Milliseconds()}
	}

	attempts := 0
	operation := func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return safeHandle(callCtx, handler, topic, payload, headers)
	}

	bo := retryPolicyToBackoff(policy)
	err = backoff.Retry(operation, bo)

	result := HandlerResult{
		Provider:   c.Provider,
		Attempts:   attempts,
		DurationMS: time.Since(start).Milliseconds(),
		Status:     "ok",
	}
	if err != nil {
		result.Status = "error"
		result.Error = err.Error()
		metrics.EventHandlerFailuresTotal.WithLabelValues(topic, c.Key).Inc()
		logger.Warn().Err(err).Str("topic", topic).Str("provider", c.Provider).Msg("event handler failed")
	}
	return result
}

func safeHandle(ctx context.Context, handler types.EventHandler, topic string, payload, headers map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.WrapError(types.KindHandlerError, "handler panicked", nil)
		}
	}()
	return handler.Handle(ctx, topic, payload, headers)
}

func retryPolicyToBackoff(policy *types.RetryPolicy) backoff.BackOff {
	if policy == nil || policy.Attempts <= 1 {
		return &backoff.StopBackOff{}
	}

	b := backoff.NewExponentialBackOff()
	if policy.BaseDelay > 0 {
		b.InitialInterval = policy.BaseDelay
	}
	if policy.Multiplier > 0 {
		b.Multiplier = policy.Multiplier
	}
	b.RandomizationFactor = 0
	if policy.Jitter {
		b.RandomizationFactor = 0.5
	}
	return backoff.WithMaxRetries(b, uint64(policy.Attempts-1))
}
