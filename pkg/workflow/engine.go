package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/lesleslie/oneiric/pkg/log"
	"github.com/lesleslie/oneiric/pkg/metrics"
	"github.com/lesleslie/oneiric/pkg/types"
)

// TaskRunner is the subset of pkg/bridge.TaskBridge the engine drives.
// Declaring it here rather than importing pkg/bridge keeps pkg/workflow
// free of a dependency back on the package that embeds it.
type TaskRunner interface {
	Run(ctx context.Context, key string, payload any) (any, error)
}

// AdapterUser is the subset of pkg/bridge.AdapterBridge Enqueue needs to
// resolve the queue category's winning provider.
type AdapterUser interface {
	Use(ctx context.Context, key string) (types.Handle, error)
}

// DefinitionLookup resolves a workflow key to its compiled definition,
// typically backed by the Workflow domain's resolver winner's
// Metadata.DAG.
type DefinitionLookup func(workflowKey string) (types.WorkflowDefinition, bool)

// Engine runs workflow DAGs: Compile lays out dependency layers, Run
// executes them node by node with bbolt-backed checkpointing so a
// re-run of an existing run_id resumes rather than repeats completed
// nodes.
type Engine struct {
	tasks        TaskRunner
	queue        AdapterUser
	lookup       DefinitionLookup
	store        *CheckpointStore
	runs         *ExecutionStore
	defaultQueue string
}

// NewEngine builds an Engine. defaultQueueCategory is the
// `workflows.options.queue_category` fallback Enqueue falls back to
// when a workflow declares no `metadata.scheduler` hint of its own.
func NewEngine(tasks TaskRunner, queue AdapterUser, lookup DefinitionLookup, store *CheckpointStore, runs *ExecutionStore, defaultQueueCategory string) *Engine {
	return &Engine{tasks: tasks, queue: queue, lookup: lookup, store: store, runs: runs, defaultQueue: defaultQueueCategory}
}

// EnqueueDecision records which of Enqueue's queue-category fallback
// tiers fired, for surfacing through explain-style tooling alongside
// resolver.Explanation.
type EnqueueDecision struct {
	Category string
	Reason   string
}

// Run executes workflowKey's DAG to completion (or failure), recording a
// RunRecord and per-node NodeRecord checkpoints. runCtx is carried as
// the payload passed to each node's task invocation, merged with the
// run_id under "_run_id".
func (e *Engine) Run(ctx context.Context, workflowKey string, runCtx map[string]any) (types.RunRecord, error) {
	def, ok := e.lookup(workflowKey)
	if !ok {
		return types.RunRecord{}, types.NewError(types.KindUnresolvedCandidate, "no workflow definition for "+workflowKey).WithScope(types.DomainWorkflow, workflowKey)
	}

	plan, err := Compile(def)
	if err != nil {
		return types.RunRecord{}, err
	}

	runID := runIDFor(runCtx)
	record := types.RunRecord{RunID: runID, WorkflowKey: workflowKey, StartedAt: time.Now(), Status: types.RunRunning}
	if err := e.runs.Put(record); err != nil {
		return record, err
	}

	existing, err := e.store.All(runID)
	if err != nil {
		return record, err
	}

	logger := log.WithRun(runID)
	var runErr error

	// priorResults accumulates each completed node's result, keyed by
	// node_key, so later layers can read earlier layers' outputs out of
	// their payload's "_node_results" entry.
	priorResults := make(map[string]any)
	for nodeKey, rec := range existing {
		if rec.Status == types.NodeSucceeded {
			priorResults[nodeKey] = rec.Result
		}
	}

layers:
	for _, layer := range plan.Layers {
		var wg sync.WaitGroup
		errs := make([]error, len(layer))
		results := make([]any, len(layer))
		payload := mergePriorResults(runCtx, priorResults)
		payload["_run_id"] = runID

		for i, nodeKey := range layer {
			if rec, ok := existing[nodeKey]; ok && rec.Status == types.NodeSucceeded {
				logger.Debug().Str("node_key", nodeKey).Msg("checkpoint hit, skipping")
				continue
			}

			wg.Add(1)
			go func(i int, nodeKey string) {
				defer wg.Done()
				result, err := e.runNode(ctx, runID, workflowKey, nodeKey, def.Nodes[nodeKey], payload)
				results[i] = result
				errs[i] = err
			}(i, nodeKey)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				runErr = err
				break layers
			}
		}

		for i, nodeKey := range layer {
			if rec, ok := existing[nodeKey]; ok && rec.Status == types.NodeSucceeded {
				continue
			}
			priorResults[nodeKey] = results[i]
		}
	}

	record.EndedAt = time.Now()
	if runErr != nil {
		record.Status = types.RunFailed
		record.Error = runErr.Error()
	} else {
		record.Status = types.RunSucceeded
	}
	metrics.WorkflowRunsTotal.WithLabelValues(workflowKey, string(record.Status)).Inc()

	if err := e.runs.Put(record); err != nil {
		return record, err
	}
	return record, runErr
}

func (e *Engine) runNode(ctx context.Context, runID, workflowKey, nodeKey string, node types.WorkflowNode, payload map[string]any) (any, error) {
	timer := metrics.NewTimer()
	defer func() {
		metrics.WorkflowNodeLatency.WithLabelValues(workflowKey, nodeKey).Observe(timer.Duration().Seconds())
	}()

	rec := types.NodeRecord{RunID: runID, NodeKey: nodeKey, Status: types.NodeRunning, StartedAt: time.Now()}
	_ = e.store.Put(runID, rec)

	operation := func() error {
		rec.Attempts++
		result, err := e.tasks.Run(ctx, node.TaskKey, payload)
		rec.Result = result
		return err
	}

	err := backoff.Retry(operation, retryPolicyToBackoff(node.RetryPolicy))

	rec.EndedAt = time.Now()
	if err != nil {
		rec.Status = types.NodeFailed
		rec.Error = err.Error()
	} else {
		rec.Status = types.NodeSucceeded
	}
	if putErr := e.store.Put(runID, rec); putErr != nil {
		return rec.Result, putErr
	}
	return rec.Result, err
}

// mergePriorResults builds the payload passed to a layer's nodes: a
// shallow copy of runCtx plus "_node_results", the accumulated result
// of every node that has completed in an earlier layer (or on a
// resumed run, a prior checkpointed run) so far. runCtx itself is
// never mutated.
func mergePriorResults(runCtx map[string]any, priorResults map[string]any) map[string]any {
	payload := make(map[string]any, len(runCtx)+1)
	for k, v := range runCtx {
		payload[k] = v
	}
	nodeResults := make(map[string]any, len(priorResults))
	for k, v := range priorResults {
		nodeResults[k] = v
	}
	payload["_node_results"] = nodeResults
	return payload
}

// Enqueue resolves the workflow's scheduler hint's queue category
// through the Adapter bridge and hands off the run to it, returning the
// Handle the queue adapter resolved to. The adapter instance is expected
// to declare its own enqueue semantics via whatever capability it
// implements; Enqueue's job stops at resolving and activating it (P9).
func (e *Engine) Enqueue(ctx context.Context, workflowKey string, payload any) (types.Handle, error) {
	def, ok := e.lookup(workflowKey)
	if !ok {
		return types.Handle{}, types.NewError(types.KindUnresolvedCandidate, "no workflow definition for "+workflowKey).WithScope(types.DomainWorkflow, workflowKey)
	}

	decision := e.resolveQueueCategory(def)
	if decision.Category == "" {
		return types.Handle{}, types.NewError(types.KindNoQueueAdapter,
			"workflow "+workflowKey+" declares no scheduler hint and no default queue_category is configured")
	}

	log.WithDomainKey(string(types.DomainWorkflow), workflowKey).Debug().
		Str("queue_category", decision.Category).
		Str("reason", decision.Reason).
		Msg("enqueue queue-category resolved")

	return e.queue.Use(ctx, decision.Category)
}

// resolveQueueCategory implements the queue-category fallback chain:
// a workflow's own metadata.scheduler hint wins over the
// workflows.options.queue_category configured default.
func (e *Engine) resolveQueueCategory(def types.WorkflowDefinition) EnqueueDecision {
	if def.Scheduler != nil && def.Scheduler.QueueCategory != "" {
		return EnqueueDecision{Category: def.Scheduler.QueueCategory, Reason: "workflow metadata.scheduler"}
	}
	if e.defaultQueue != "" {
		return EnqueueDecision{Category: e.defaultQueue, Reason: "workflows.options.queue_category default"}
	}
	return EnqueueDecision{}
}

func runIDFor(runCtx map[string]any) string {
	if v, ok := runCtx["_run_id"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return uuid.NewString()
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
