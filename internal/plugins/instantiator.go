package plugins

import (
	"context"
	"fmt"
	"sync"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
)

// Instantiator turns an opened bundle into a live plugin object.
type Instantiator interface {
	Instantiate(ctx context.Context, b *Bundle) (pluginapi.Plugin, error)
}

// Runtimes selects an Instantiator by the manifest's runtime.
type Runtimes map[string]Instantiator

// Instantiate implements Instantiator.
func (r Runtimes) Instantiate(ctx context.Context, b *Bundle) (pluginapi.Plugin, error) {
	inst, ok := r[b.Manifest.Runtime]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRuntime, b.Manifest.Runtime)
	}

	return inst.Instantiate(ctx, b)
}

// Factory builds a compiled-in plugin for the identity declared in its bundle.
type Factory func(id pluginapi.ID, b *Bundle) (pluginapi.Plugin, error)

// Builtins instantiates plugins compiled into the host, keyed by manifest entry.
type Builtins struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewBuiltins returns an empty factory registry.
func NewBuiltins() *Builtins {
	return &Builtins{factories: make(map[string]Factory)}
}

// Register adds a factory for entry. A second registration for the same entry fails.
func (b *Builtins) Register(entry string, f Factory) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.factories[entry]; ok {
		return fmt.Errorf("builtin %q already registered", entry)
	}
	b.factories[entry] = f

	return nil
}

// Entries returns the registered entry names.
func (b *Builtins) Entries() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.factories))
	for e := range b.factories {
		out = append(out, e)
	}

	return out
}

// Instantiate implements Instantiator.
func (b *Builtins) Instantiate(_ context.Context, bundle *Bundle) (p pluginapi.Plugin, err error) {
	b.mu.RLock()
	f, ok := b.factories[bundle.Manifest.Entry]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no builtin registered for entry %q", bundle.Manifest.Entry)
	}

	err = guard(func() error {
		var ferr error
		p, ferr = f(bundle.Manifest.PluginID(), bundle)
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("construct %q: %w", bundle.Manifest.Entry, err)
	}
	if p == nil {
		return nil, fmt.Errorf("construct %q: factory returned nil", bundle.Manifest.Entry)
	}

	return p, nil
}
