// Package factors defines the pluggable factor-source contract. Each data
// domain (trend, momentum, order flow, derivatives, on-chain, sentiment,
// whale flow, ...) registers one Source; the engine iterates the registry
// polymorphically, so adding a domain means registering an implementation,
// not branching on type.
package factors

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gheezy/signalengine/internal/domain"
)

// Source evaluates one data domain for an asset. Implementations are
// supplied by external data adapters; a source that cannot produce a score
// returns an error, which the engine treats as missing coverage, not as a
// pipeline failure.
type Source interface {
	Name() string
	Evaluate(ctx context.Context, symbol string) (domain.FactorScore, error)
}

// Registry holds the named factor sources for an engine instance.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source. Registering the same name twice is a wiring bug.
func (r *Registry) Register(src Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := src.Name()
	if _, dup := r.sources[name]; dup {
		return fmt.Errorf("factor source %q already registered", name)
	}
	r.sources[name] = src
	return nil
}

// Names returns the registered source names in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the source for a name.
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// Func adapts a plain function into a Source.
type Func struct {
	SourceName string
	Fn         func(ctx context.Context, symbol string) (domain.FactorScore, error)
}

func (f Func) Name() string { return f.SourceName }

func (f Func) Evaluate(ctx context.Context, symbol string) (domain.FactorScore, error) {
	return f.Fn(ctx, symbol)
}
