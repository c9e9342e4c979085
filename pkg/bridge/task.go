package bridge

import (
	"context"
	"fmt"

	"github.com/lesleslie/oneiric/pkg/lifecycle"
	"github.com/lesleslie/oneiric/pkg/resolver"
	"github.com/lesleslie/oneiric/pkg/types"
)

// TaskBridge is the entry point for the Task domain: one-shot unit-of-
// work invocations resolved and activated just like any other domain,
// then run through the types.Runner capability.
type TaskBridge struct {
	base
}

func NewTaskBridge(res *resolver.Resolver, lm *lifecycle.Manager) *TaskBridge {
	return &TaskBridge{base: newBase(types.DomainTask, res, lm)}
}

// Run resolves and activates key, then invokes its Runner capability
// with payload. Satisfies pkg/workflow's TaskRunner interface so the DAG
// engine can drive task nodes without importing this package.
func (t *TaskBridge) Run(ctx context.Context, key string, payload any) (any, error) {
	handle, err := t.Use(ctx, key)
	if err != nil {
		return nil, err
	}
	runner, ok := handle.Instance.(types.Runner)
	if !ok {
		return nil, types.NewError(types.KindUnsupportedCapability, fmt.Sprintf("task %q does not implement Runner", key)).WithScope(types.DomainTask, key)
	}
	return runner.Run(ctx, payload)
}
