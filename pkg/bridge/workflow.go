package bridge

import (
	"context"

	"github.com/lesleslie/oneiric/pkg/lifecycle"
	"github.com/lesleslie/oneiric/pkg/resolver"
	"github.com/lesleslie/oneiric/pkg/types"
	"github.com/lesleslie/oneiric/pkg/workflow"
)

// WorkflowBridge is the entry point for the Workflow domain. Enqueue and
// Run delegate to workflow.Engine, which depends only on the small
// TaskRunner/AdapterUser interfaces this bridge satisfies — not on this
// package — so there is no import cycle back from pkg/workflow.
type WorkflowBridge struct {
	base
	engine *workflow.Engine
}

// NewWorkflowBridge builds a WorkflowBridge. tasks and adapters are
// typically this runtime's *TaskBridge and *AdapterBridge.
// defaultQueueCategory is the `workflows.options.queue_category`
// fallback Enqueue uses when a workflow declares no scheduler hint.
func NewWorkflowBridge(res *resolver.Resolver, lm *lifecycle.Manager, tasks workflow.TaskRunner, adapters workflow.AdapterUser, store *workflow.CheckpointStore, runs *workflow.ExecutionStore, defaultQueueCategory string) *WorkflowBridge {
	b := newBase(types.DomainWorkflow, res, lm)
	lookup := func(workflowKey string) (types.WorkflowDefinition, bool) {
		c, _, err := res.Resolve(types.DomainWorkflow, workflowKey)
		if err != nil || c.Metadata.DAG == nil {
			return types.WorkflowDefinition{}, false
		}
		return *c.Metadata.DAG, true
	}
	return &WorkflowBridge{
		base:   b,
		engine: workflow.NewEngine(tasks, adapters, lookup, store, runs, defaultQueueCategory),
	}
}

func (w *WorkflowBridge) Run(ctx context.Context, workflowKey string, runCtx map[string]any) (types.RunRecord, error) {
	return w.engine.Run(ctx, workflowKey, runCtx)
}

func (w *WorkflowBridge) Enqueue(ctx context.Context, workflowKey string, payload any) (types.Handle, error) {
	return w.engine.Enqueue(ctx, workflowKey, payload)
}
