package bridge

import (
	"github.com/lesleslie/oneiric/pkg/lifecycle"
	"github.com/lesleslie/oneiric/pkg/resolver"
	"github.com/lesleslie/oneiric/pkg/types"
)

// AdapterBridge is the entry point for the Adapter domain: caching,
// queueing, storage, and similar infrastructure-facing providers.
type AdapterBridge struct {
	base
}

func NewAdapterBridge(res *resolver.Resolver, lm *lifecycle.Manager) *AdapterBridge {
	return &AdapterBridge{base: newBase(types.DomainAdapter, res, lm)}
}
