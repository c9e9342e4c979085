// Package notify implements the Notification Router: pure routing from a
// workflow-notify action's output to a messaging adapter candidate. It
// carries no formatting logic and ships no concrete messaging provider —
// those are out of scope here, same as the teacher's core ships no
// concrete cloud-provider clients beyond its own runtime adapters.
package notify

import (
	"context"

	"github.com/lesleslie/oneiric/pkg/bridge"
	"github.com/lesleslie/oneiric/pkg/metrics"
	"github.com/lesleslie/oneiric/pkg/types"
)

// WorkflowNotifyOutput is the payload a workflow node's notify action
// produces: the router turns it into a NotificationMessage and fills in
// anything the node left blank from the declared NotificationSpec.
type WorkflowNotifyOutput struct {
	Target string
	Title  string
	Text   string
	Extra  map[string]any
}

// Router resolves a NotificationSpec's AdapterKey to a registered
// messaging candidate and invokes its Sender capability. It holds no
// state of its own beyond the adapter bridge it routes through.
type Router struct {
	bridge *bridge.AdapterBridge
}

func NewRouter(adapterBridge *bridge.AdapterBridge) *Router {
	return &Router{bridge: adapterBridge}
}

// Route activates spec.AdapterKey, asserts it implements Sender, and
// sends out as a NotificationMessage. The adapter key's Handle is not
// cached: each Route call resolves through the current winner, so a
// hot-swapped messaging adapter takes effect on the next notification
// with no router-side change.
func (r *Router) Route(ctx context.Context, out WorkflowNotifyOutput, spec types.NotificationSpec) error {
	handle, err := r.bridge.Use(ctx, spec.AdapterKey)
	if err != nil {
		metrics.NotificationsSentTotal.WithLabelValues(spec.AdapterKey, "failed").Inc()
		return err
	}

	sender, ok := handle.Instance.(types.Sender)
	if !ok {
		metrics.NotificationsSentTotal.WithLabelValues(spec.AdapterKey, "failed").Inc()
		return types.NewError(types.KindUnsupportedCapability,
			"adapter "+spec.AdapterKey+" does not implement Sender").WithScope(types.DomainAdapter, spec.AdapterKey)
	}

	msg := types.NotificationMessage{
		Target: out.Target,
		Title:  out.Title,
		Text:   out.Text,
		Extra:  out.Extra,
	}
	if msg.Target == "" {
		msg.Target = spec.Channel
	}
	if msg.Title == "" {
		msg.Title = spec.Title
	}

	if err := sender.SendNotification(ctx, msg); err != nil {
		metrics.NotificationsSentTotal.WithLabelValues(spec.AdapterKey, "failed").Inc()
		return err
	}

	metrics.NotificationsSentTotal.WithLabelValues(spec.AdapterKey, "sent").Inc()
	return nil
}
