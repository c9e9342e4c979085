package types

import "fmt"

// Kind is one of the §7 error taxonomy entries. The CLI maps Kind to an
// exit code; nothing else should switch on error strings.
type Kind string

const (
	KindConfigError           Kind = "ConfigError"
	KindUnresolvedCandidate   Kind = "UnresolvedCandidate"
	KindDuplicateRegistration Kind = "DuplicateRegistration"
	KindLifecycleError        Kind = "LifecycleError"
	KindSwapRollback          Kind = "SwapRollback"
	KindSignatureInvalid      Kind = "SignatureInvalid"
	KindDigestMismatch        Kind = "DigestMismatch"
	KindPathTraversal         Kind = "PathTraversal"
	KindCircuitOpen           Kind = "CircuitOpen"
	KindCyclicWorkflow        Kind = "CyclicWorkflow"
	KindNoQueueAdapter        Kind = "NoQueueAdapter"
	KindHandlerError          Kind = "HandlerError"
	KindUnsupportedCapability Kind = "UnsupportedCapability"
	KindCancelled             Kind = "Cancelled"
)

// LifecyclePhase narrows a LifecycleError to the hook that failed.
type LifecyclePhase string

const (
	PhaseInit    LifecyclePhase = "init"
	PhaseHealth  LifecyclePhase = "health"
	PhaseCleanup LifecyclePhase = "cleanup"
)

// Error is Oneiric's single typed error. Domain/Key are set whenever the
// failure is scoped to one (domain,key); Phase is set only for
// KindLifecycleError.
type Error struct {
	Kind   Kind
	Domain Domain
	Key    string
	Phase  LifecyclePhase
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	base := string(e.Kind)
	if e.Domain != "" || e.Key != "" {
		base = fmt.Sprintf("%s(%s,%s)", base, e.Domain, e.Key)
	}
	if e.Phase != "" {
		base = fmt.Sprintf("%s[%s]", base, e.Phase)
	}
	if e.Msg != "" {
		base = fmt.Sprintf("%s: %s", base, e.Msg)
	}
	if e.Cause != nil {
		base = fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an *Error with the given kind and message.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError builds an *Error wrapping cause.
func WrapError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// WithScope returns a copy of e scoped to (domain,key).
func (e *Error) WithScope(domain Domain, key string) *Error {
	cp := *e
	cp.Domain = domain
	cp.Key = key
	return &cp
}

// IsKind reports whether err is an *Error (at any wrap depth) of kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if oe, ok := err.(*Error); ok {
			if oe.Kind == kind {
				return true
			}
			err = oe.Cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
