// Package telemetry persists point-in-time snapshots of runtime state to
// the plain JSON files named in the runtime_paths configuration block,
// and logs structured events for lifecycle transitions and resolver
// explain traces. Apart from HealthServer (httpserver.go), which reads
// lifecycle.Manager state counts, nothing in this package depends on
// pkg/remote, pkg/lifecycle, or pkg/bridge: callers convert their own result shapes
// into the types below, which keeps the dependency graph one-directional
// (everything writes into telemetry; telemetry writes into nothing).
package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lesleslie/oneiric/pkg/config"
	"github.com/lesleslie/oneiric/pkg/log"
	"github.com/lesleslie/oneiric/pkg/resolver"
	"github.com/lesleslie/oneiric/pkg/types"
)

// LifecycleTransitionEvent is logged whenever a (domain,key) entry
// changes lifecycle state.
type LifecycleTransitionEvent struct {
	Domain   types.Domain
	Key      string
	From     types.LifecycleState
	To       types.LifecycleState
	Provider string
	Reason   string
	At       time.Time
}

// ExplainEvent is logged whenever a caller asks the resolver to explain
// its precedence decision for (domain,key).
type ExplainEvent struct {
	Domain      types.Domain
	Key         string
	Explanation resolver.Explanation
	At          time.Time
}

// SyncError is the structured form of a failed sync's error, carrying
// the types.Error taxonomy Kind (e.g. "SignatureInvalid") alongside the
// message, so remote_status.json.last_error.kind can be read by tooling
// without parsing the free-text message.
type SyncError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SyncResult is the outcome of one pkg/remote manifest sync, written to
// remote_status.json. pkg/remote builds one of these from its own
// (richer) internal result rather than this package importing
// pkg/remote.
type SyncResult struct {
	SourceURI      string     `json:"source_uri"`
	Changed        bool       `json:"changed"`
	EntriesApplied int        `json:"entries_applied"`
	LastError      *SyncError `json:"last_error,omitempty"`
	At             time.Time  `json:"at"`
}

// NewSyncError builds a SyncError from err, pulling its Kind out if it
// is (or wraps) a *types.Error; unrecognized error types fall back to
// an empty Kind with the error's message preserved.
func NewSyncError(err error) *SyncError {
	if err == nil {
		return nil
	}
	se := &SyncError{Message: err.Error()}
	for e := err; e != nil; {
		if oe, ok := e.(*types.Error); ok {
			se.Kind = string(oe.Kind)
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return se
}

// TelemetrySnapshot is the periodic runtime-wide snapshot written to
// runtime_telemetry.json.
type TelemetrySnapshot struct {
	GeneratedAt       time.Time      `json:"generated_at"`
	CandidateCounts   map[string]int `json:"candidate_counts"`
	LifecycleCounts   map[string]int `json:"lifecycle_counts"`
	RecentTransitions []LifecycleTransitionEvent `json:"recent_transitions,omitempty"`
}

// Writer is the single point every other package funnels telemetry
// through. A mutex serializes writes to the same path set so concurrent
// callers never interleave a write-tmp/rename pair.
type Writer struct {
	paths config.RuntimePaths
	mu    sync.Mutex
}

func NewWriter(paths config.RuntimePaths) *Writer {
	return &Writer{paths: paths}
}

// EmitTransition logs a lifecycle transition at info level. It does not
// persist or retain the event: a WriteTelemetry snapshot holds only the
// transitions its caller passes in RecentTransitions.
func (w *Writer) EmitTransition(e LifecycleTransitionEvent) {
	log.WithDomainKey(string(e.Domain), e.Key).Info().
		Str("from", string(e.From)).
		Str("to", string(e.To)).
		Str("provider", e.Provider).
		Str("reason", e.Reason).
		Msg("lifecycle transition")
}

// EmitExplain logs an explain trace at debug level.
func (w *Writer) EmitExplain(e ExplainEvent) {
	logger := log.WithDomainKey(string(e.Domain), e.Key)
	event := logger.Debug()
	if e.Explanation.Winner != nil {
		event = event.Str("winner", e.Explanation.Winner.Provider)
	}
	event.Int("tiers", len(e.Explanation.Tiers)).Msg("resolve explain")
}

// WriteSync persists r to remote_status.json.
func (w *Writer) WriteSync(r SyncResult) error {
	return w.atomicWrite(w.paths.RemoteStatusJSON, r)
}

// WriteTelemetry persists snap to runtime_telemetry.json.
func (w *Writer) WriteTelemetry(snap TelemetrySnapshot) error {
	return w.atomicWrite(w.paths.TelemetryJSON, snap)
}

// atomicWrite writes v as JSON to <path>.tmp then renames over path, so
// a reader never observes a half-written document. Grounded on Warren's
// BoltStore all-or-nothing db.Update transaction style, applied here to
// plain files since these are not bucketed stores.
func (w *Writer) atomicWrite(path string, v any) error {
	if path == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

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
