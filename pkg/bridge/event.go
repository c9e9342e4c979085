package bridge

import (
	"context"

	"github.com/lesleslie/oneiric/pkg/event"
	"github.com/lesleslie/oneiric/pkg/lifecycle"
	"github.com/lesleslie/oneiric/pkg/resolver"
	"github.com/lesleslie/oneiric/pkg/types"
)

// EventBridge is the entry point for the Event domain. Dispatch is
// fully specified by pkg/event.Dispatcher and simply re-exported here;
// the dispatcher itself holds the resolver/lifecycle pair directly so
// pkg/event never needs to import this package.
type EventBridge struct {
	base
	dispatcher *event.Dispatcher
}

func NewEventBridge(res *resolver.Resolver, lm *lifecycle.Manager) *EventBridge {
	return &EventBridge{
		base:       newBase(types.DomainEvent, res, lm),
		dispatcher: event.New(res, lm),
	}
}

func (e *EventBridge) Dispatch(ctx context.Context, topic string, payload, headers map[string]any) ([]event.HandlerResult, error) {
	return e.dispatcher.Dispatch(ctx, topic, payload, headers)
}

// Dispatcher exposes the underlying *event.Dispatcher for callers
// outside the bridges (e.g. pkg/remote) that need to emit an event
// directly rather than going through another bridge method.
func (e *EventBridge) Dispatcher() *event.Dispatcher {
	return e.dispatcher
}
