package bridge

import (
	"github.com/lesleslie/oneiric/pkg/lifecycle"
	"github.com/lesleslie/oneiric/pkg/resolver"
	"github.com/lesleslie/oneiric/pkg/types"
)

// ServiceBridge is the entry point for the Service domain: long-lived
// application services a candidate's factory constructs once and the
// Lifecycle Manager keeps alive.
type ServiceBridge struct {
	base
}

func NewServiceBridge(res *resolver.Resolver, lm *lifecycle.Manager) *ServiceBridge {
	return &ServiceBridge{base: newBase(types.DomainService, res, lm)}
}
