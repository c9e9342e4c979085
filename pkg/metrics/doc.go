/*
Package metrics provides Prometheus metrics collection and exposition for
Oneiric.

The metrics package defines and registers all Oneiric metrics using the
Prometheus client library, providing observability into candidate
registration, lifecycle state, resolve/activate/swap latency, event
dispatch, workflow runs, and remote manifest sync outcomes. Metrics are
exposed via an HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                 │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                  │          │
	│  │                                              │          │
	│  │  Registry:  candidates by domain            │          │
	│  │  Lifecycle: entries by state, swaps, probes │          │
	│  │  Resolver:  resolve latency                 │          │
	│  │  Event:     dispatch latency, failures      │          │
	│  │  Workflow:  run outcomes, node latency       │          │
	│  │  Remote:    manifest sync outcome, duration │          │
	│  │  Notify:    notifications sent, outcome     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint                │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Collector: samples RegistrySource and LifecycleSource on a 15-second
ticker into the gauge metrics (CandidatesTotal, EntriesTotal). Neither
source imports this package — pkg/runtime wires the concrete
*registry.Registry and *lifecycle.Manager in, satisfying the small
interfaces collector.go declares.

Timer: a small helper that records elapsed wall time into a histogram
or histogram vec; used at call sites in pkg/resolver, pkg/lifecycle,
pkg/event, and pkg/workflow rather than threaded through every
function signature.

Process-level health and readiness (/health, /ready) are served by
pkg/telemetry's HealthServer, which asks the lifecycle Manager for its
live state directly rather than tracking a separately-updated component
registry.

# Usage

	timer := metrics.NewTimer()
	winner, _, err := res.Resolve(domain, key)
	timer.ObserveDurationVec(metrics.ResolveLatency, string(domain))

	metrics.SwapsTotal.WithLabelValues(string(domain), "succeeded").Inc()
*/
package metrics
