package types

import "context"

// Initializer is implemented by instances that need a one-time init call
// after construction. Candidates declare this hook via LifecycleHooks.Init
// rather than requiring every Instance to satisfy this interface, since a
// remote-manifest-sourced instance has no compile-time type to assert
// against — the lifecycle manager calls the declared func, not a type
// assertion, for Init/Cleanup/Pause/Resume. Runner and Sender below are
// the two verb interfaces bridges DO type-assert, because the caller
// supplies the payload shape and needs a return value.
type Initializer interface {
	Init(ctx context.Context) error
}

// HealthChecker mirrors HealthHook for instances that prefer a method over
// a free function.
type HealthChecker interface {
	Health(ctx context.Context) (bool, error)
}

// Cleaner mirrors LifecycleHooks.Cleanup.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Runner is the Task-domain invocation contract: Handle.Instance.Run(payload).
type Runner interface {
	Run(ctx context.Context, payload any) (any, error)
}

// Sender is the messaging-provider contract the Notification Router
// invokes. No concrete Sender implementation ships in this core — see
// spec.md §1's Non-goals.
type Sender interface {
	SendNotification(ctx context.Context, msg NotificationMessage) error
}

// NotificationMessage is the argument to Sender.SendNotification.
type NotificationMessage struct {
	Target string
	Title  string
	Text   string
	Extra  map[string]any
}

// EventHandler is the Event-domain invocation contract.
type EventHandler interface {
	Handle(ctx context.Context, topic string, payload, headers map[string]any) error
}
