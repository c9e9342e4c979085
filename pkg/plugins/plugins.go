// Package plugins implements the two built-in discovery sources the
// Remote Manifest Loader and the Candidate Registry draw on besides a
// manual local Register call: a compiled-in factory lookup, and a
// narrow dynamic-library loader for process plugins. This replaces
// runtime reflection over installed packages with a manifest of
// factories the binary already ships, plus an opt-in *.so loader —
// a remote manifest or a local plugin can only activate a provider
// this binary knows how to build; neither can ship arbitrary code.
package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"sync"

	"github.com/lesleslie/oneiric/pkg/types"
)

type key struct {
	domain   types.Domain
	provider string
}

// Registry is the compiled-in factory lookup. It backs
// pkg/remote.FactoryLookup directly (same method signature) and is the
// target dynamic-library plugins register into.
type Registry struct {
	mu        sync.RWMutex
	factories map[key]types.Factory
}

func New() *Registry {
	return &Registry{factories: make(map[key]types.Factory)}
}

// Add registers a compiled-in factory for (domain, provider).
func (r *Registry) Add(domain types.Domain, provider string, factory types.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key{domain, provider}] = factory
}

// Lookup satisfies pkg/remote.FactoryLookup.
func (r *Registry) Lookup(domain types.Domain, provider string) (types.Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[key{domain, provider}]
	return f, ok
}

// LoadDynamic loads every *.so file in dir as a Go plugin (REDESIGN: "a
// narrow dynamic-library loader, only if the target platform supports
// it" — the stdlib plugin package only builds on linux/darwin, which is
// why this is opt-in via plugins.auto_load rather than always-on). Each
// plugin must export a `Register` symbol of type func(*Registry) so it
// can add its own factories; Oneiric never inspects plugin internals
// beyond that one call. A missing dir is not an error: "no plugins
// installed" is the expected default.
func LoadDynamic(dir string, reg *Registry) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read plugin directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".so") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		p, err := plugin.Open(path)
		if err != nil {
			return fmt.Errorf("open plugin %s: %w", entry.Name(), err)
		}
		sym, err := p.Lookup("Register")
		if err != nil {
			return fmt.Errorf("plugin %s has no Register symbol: %w", entry.Name(), err)
		}
		register, ok := sym.(func(*Registry))
		if !ok {
			return fmt.Errorf("plugin %s: Register has the wrong signature", entry.Name())
		}
		register(reg)
	}
	return nil
}
