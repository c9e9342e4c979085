// Package types defines Oneiric's core data model: candidates, handles,
// lifecycle entries, activity state, remote manifests, and workflow
// definitions/records. These are the plain structs every other package
// operates on; no package outside types should invent a parallel shape.
package types

import (
	"context"
	"time"
)

// Domain is one of the five semantics a candidate can be registered under.
type Domain string

const (
	DomainAdapter  Domain = "adapter"
	DomainService  Domain = "service"
	DomainTask     Domain = "task"
	DomainEvent    Domain = "event"
	DomainWorkflow Domain = "workflow"
)

// Source identifies where a candidate was discovered.
type Source string

const (
	SourceLocalPkg   Source = "local_pkg"
	SourceEntryPoint Source = "entry_point"
	SourceRemote     Source = "remote"
	SourceManual     Source = "manual"
)

// FanoutPolicy controls how many event handlers a dispatch invokes.
type FanoutPolicy string

const (
	FanoutAll       FanoutPolicy = "all"
	FanoutExclusive FanoutPolicy = "exclusive"
)

// Instance is the opaque value a Factory produces. Oneiric never inspects
// its shape directly; it type-asserts the small capability interfaces in
// capability.go and the domain-verb interfaces below.
type Instance interface{}

// Settings is the bound, typed configuration handed to a Factory. Callers
// populate it via pkg/config; the core treats it as opaque beyond that.
type Settings map[string]any

// Factory constructs a provider Instance from its bound settings.
type Factory func(ctx context.Context, settings Settings) (Instance, error)

// HealthFunc probes a live instance. Returning false does not mean the
// instance is destroyed — see the Lifecycle Manager's Degraded/Failed
// semantics.
type HealthFunc func(ctx context.Context, instance Instance) (bool, error)

// LifecycleHooks are the optional capability callables a candidate may
// declare. A nil field means the capability is not implemented; bridges
// and the lifecycle manager must never call a nil hook.
type LifecycleHooks struct {
	Init    func(ctx context.Context, instance Instance) error
	Cleanup func(ctx context.Context, instance Instance) error
	Pause   func(ctx context.Context, instance Instance) error
	Resume  func(ctx context.Context, instance Instance) error
}

// RetryPolicy governs handler/node retry behavior. BaseDelay is a
// time.Duration, so its unit travels with the value; a positive BaseDelay
// is the initial back-off interval.
type RetryPolicy struct {
	Attempts   int
	BaseDelay  time.Duration
	Multiplier float64
	Jitter     bool
	Timeout    time.Duration
}

// EventFilter is one matcher applied to a dotted path into the merged
// payload/headers document.
type EventFilter struct {
	Path     string
	Operator FilterOperator
	Value    any
}

// FilterOperator is one of the four operators spec.md §4.5 names.
type FilterOperator string

const (
	OpEquals FilterOperator = "equals"
	OpIn     FilterOperator = "in"
	OpExists FilterOperator = "exists"
	OpNot    FilterOperator = "not"
)

// SchedulerHint names the queue category/provider a workflow's Enqueue
// should prefer.
type SchedulerHint struct {
	QueueCategory string
	Provider      string
}

// NotificationSpec is the metadata block a workflow-notify action output
// is routed through.
type NotificationSpec struct {
	AdapterKey string
	Channel    string
	Title      string
}

// Metadata carries both the reserved, typed fields spec.md §3 enumerates
// and a documented untyped Extras bag for anything else a manifest or
// local registration declares.
type Metadata struct {
	Capabilities      map[string]struct{}
	Version           string
	Owner             string
	RequiresSecrets   []string
	SettingsModel     string
	EventTopics       []string
	EventFilters      []EventFilter
	EventPriority     int32
	EventFanoutPolicy FanoutPolicy
	EventConcurrent   bool
	RetryPolicy       *RetryPolicy
	DAG               *WorkflowDefinition
	Scheduler         *SchedulerHint
	Notifications     *NotificationSpec
	Extras            map[string]any
}

// HasCapability reports whether the candidate's metadata declares cap.
func (m Metadata) HasCapability(cap string) bool {
	if m.Capabilities == nil {
		return false
	}
	_, ok := m.Capabilities[cap]
	return ok
}

// Candidate is an offer to provide an implementation for (Domain, Key).
type Candidate struct {
	Domain      Domain
	Key         string
	Provider    string
	Priority    int32
	StackLevel  int32
	Source      Source
	SourceOrder uint64
	ManifestIdx int // index within a remote manifest, for same-bucket tie-break
	Factory     Factory
	Settings    Settings // bound from config.AdapterSettings.ProviderSettings[Provider] at registration time
	Metadata    Metadata
	HealthHook  HealthFunc
	Hooks       LifecycleHooks
}

// Identity is the (domain,key,provider,source) tuple uniqueness is keyed
// on per spec.md §4.1.
type Identity struct {
	Domain   Domain
	Key      string
	Provider string
	Source   Source
}

func (c Candidate) Identity() Identity {
	return Identity{Domain: c.Domain, Key: c.Key, Provider: c.Provider, Source: c.Source}
}

// LifecycleState is one node of the §4.3 state machine.
type LifecycleState string

const (
	StateUninitialized LifecycleState = "uninitialized"
	StateActivating    LifecycleState = "activating"
	StateReady         LifecycleState = "ready"
	StateDegraded      LifecycleState = "degraded"
	StateDraining      LifecycleState = "draining"
	StatePaused        LifecycleState = "paused"
	StateFailed        LifecycleState = "failed"
)

// LifecycleSnapshot is the read-only view a Handle carries.
type LifecycleSnapshot struct {
	State           LifecycleState
	CurrentProvider string
	Paused          bool
	Draining        bool
	LastHealth      bool
	LastError       string
	Attempts        int
	Note            string
	UpdatedAt       time.Time
}

// LifecycleEntry is the full per-(domain,key) record the Lifecycle
// Manager owns.
type LifecycleEntry struct {
	Domain          Domain
	Key             string
	State           LifecycleState
	CurrentProvider string
	CurrentInstance Instance
	PendingInstance Instance
	LastHealth      bool
	HealthFailures  int
	Paused          bool
	Draining        bool
	Note            string
	LastError       string
	Attempts        int
	UpdatedAt       time.Time
}

func (e LifecycleEntry) Snapshot() LifecycleSnapshot {
	return LifecycleSnapshot{
		State:           e.State,
		CurrentProvider: e.CurrentProvider,
		Paused:          e.Paused,
		Draining:        e.Draining,
		LastHealth:      e.LastHealth,
		LastError:       e.LastError,
		Attempts:        e.Attempts,
		Note:            e.Note,
		UpdatedAt:       e.UpdatedAt,
	}
}

// Handle is what a bridge returns to a caller.
type Handle struct {
	Candidate Candidate
	Instance  Instance
	State     LifecycleSnapshot
}

// ActivityState is the operator intent the Activity store tracks.
type ActivityState struct {
	Domain   Domain
	Key      string
	Paused   bool
	Draining bool
	Note     string
}

// ManifestEntry is a RemoteManifest's candidate-shaped entry, minus
// runtime fields (Factory is resolved from a registered built-in
// constructor keyed by Provider; see pkg/remote).
type ManifestEntry struct {
	Domain   Domain         `json:"domain" yaml:"domain"`
	Key      string         `json:"key" yaml:"key"`
	Provider string         `json:"provider" yaml:"provider"`
	Priority int32          `json:"priority,omitempty" yaml:"priority,omitempty"`
	Metadata ManifestMeta   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Artifact *ArtifactRef   `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Extra    map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// ManifestMeta is the JSON-serializable projection of Metadata carried on
// the wire inside a manifest entry.
type ManifestMeta struct {
	Version           string            `json:"version,omitempty" yaml:"version,omitempty"`
	Owner             string            `json:"owner,omitempty" yaml:"owner,omitempty"`
	Capabilities      []string          `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	RequiresSecrets   []string          `json:"requires_secrets,omitempty" yaml:"requires_secrets,omitempty"`
	SettingsModel     string            `json:"settings_model,omitempty" yaml:"settings_model,omitempty"`
	StackLevel        int32             `json:"stack_level,omitempty" yaml:"stack_level,omitempty"`
	EventTopics       []string          `json:"event_topics,omitempty" yaml:"event_topics,omitempty"`
	EventPriority     int32             `json:"event_priority,omitempty" yaml:"event_priority,omitempty"`
	EventFanoutPolicy FanoutPolicy      `json:"event_fanout_policy,omitempty" yaml:"event_fanout_policy,omitempty"`
	Extras            map[string]any    `json:"extras,omitempty" yaml:"extras,omitempty"`
	Settings          map[string]any    `json:"settings,omitempty" yaml:"settings,omitempty"`
	Labels            map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// ArtifactRef declares a downloadable artifact a manifest entry depends
// on (e.g. a plugin binary).
type ArtifactRef struct {
	URI    string `json:"uri" yaml:"uri"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

// RemoteManifest is the envelope signed and published for remote
// ingestion.
type RemoteManifest struct {
	Entries     []ManifestEntry `json:"entries" yaml:"entries"`
	PublishedAt time.Time       `json:"published_at" yaml:"published_at"`
	SignerID    string          `json:"signer_id" yaml:"signer_id"`
	Version     string          `json:"version,omitempty" yaml:"version,omitempty"`
	Digest      string          `json:"digest,omitempty" yaml:"digest,omitempty"`
}

// WorkflowNode is one node of a WorkflowDefinition's DAG.
type WorkflowNode struct {
	TaskKey     string
	DependsOn   []string
	RetryPolicy *RetryPolicy
	QueueHint   string
}

// WorkflowDefinition is the compiled-from shape of a workflow.
type WorkflowDefinition struct {
	Key           string
	Version       string
	Nodes         map[string]WorkflowNode
	Scheduler     *SchedulerHint
	Notifications *NotificationSpec
}

// RunStatus is a workflow run's lifecycle status.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunRecord is a workflow execution.
type RunRecord struct {
	RunID       string
	WorkflowKey string
	StartedAt   time.Time
	EndedAt     time.Time
	Status      RunStatus
	Error       string
}

// NodeStatus is a per-node run status.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeSucceeded NodeStatus = "succeeded"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// NodeRecord is a per-node checkpoint within a run.
type NodeRecord struct {
	RunID     string
	NodeKey   string
	Status    NodeStatus
	StartedAt time.Time
	EndedAt   time.Time
	Attempts  int
	Error     string
	Result    any
}
