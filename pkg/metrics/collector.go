package metrics

import (
	"time"

	"github.com/lesleslie/oneiric/pkg/types"
)

// RegistrySource is the subset of the Candidate Registry the collector
// samples. pkg/registry's Registry satisfies this without importing
// pkg/metrics.
type RegistrySource interface {
	CountsByDomain() map[types.Domain]int
}

// LifecycleSource is the subset of the Lifecycle Manager the collector
// samples. pkg/lifecycle's Manager satisfies this without importing
// pkg/metrics.
type LifecycleSource interface {
	CountsByState() map[types.LifecycleState]int
}

// Collector periodically samples the registry and lifecycle manager into
// the gauge metrics in metrics.go. Neither source depends on this
// package; Collector is wired in pkg/runtime.
type Collector struct {
	registry  RegistrySource
	lifecycle LifecycleSource
	interval  time.Duration
	stopCh    chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(registry RegistrySource, lifecycle LifecycleSource) *Collector {
	return &Collector{
		registry:  registry,
		lifecycle: lifecycle,
		interval:  15 * time.Second,
		stopCh:    make(chan struct{}),
	}
}

// Start begins collecting metrics on a ticker, sampling immediately first.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.registry != nil {
		for domain, count := range c.registry.CountsByDomain() {
			CandidatesTotal.WithLabelValues(string(domain)).Set(float64(count))
		}
	}
	if c.lifecycle != nil {
		for state, count := range c.lifecycle.CountsByState() {
			EntriesTotal.WithLabelValues(string(state)).Set(float64(count))
		}
	}
}
