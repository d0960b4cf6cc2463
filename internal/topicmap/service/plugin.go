package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/systemshift/topicgraph/internal/topicmap/model"
	"github.com/systemshift/topicgraph/internal/topicmap/storage"
)

// Plugin is the set of hooks the service invokes around its operations.
// Every hook runs inside the operation's transaction; returning an error
// aborts the operation and rolls it back. Hooks work through tx and must
// not call back into the Service.
type Plugin interface {
	Name() string

	// PostInstall runs once, when the plugin is installed.
	PostInstall(ctx context.Context, tx storage.Transaction) error

	// PreCreate sees the unpersisted topic and may change its properties.
	PreCreate(ctx context.Context, tx storage.Transaction, topic *model.Topic) error
	PostCreate(ctx context.Context, tx storage.Transaction, topic *model.Topic) error

	// PreUpdate sees the stored topic and the pending change, which it may amend.
	PreUpdate(ctx context.Context, tx storage.Transaction, topic *model.Topic, props map[string]any) error
	// PostUpdate sees the updated topic and its properties before the change.
	PostUpdate(ctx context.Context, tx storage.Transaction, topic *model.Topic, old map[string]any) error

	PreDelete(ctx context.Context, tx storage.Transaction, topic *model.Topic) error
	PostDelete(ctx context.Context, tx storage.Transaction, topic *model.Topic) error

	PostCreateRelation(ctx context.Context, tx storage.Transaction, rel *model.Relation) error
	PreDeleteRelation(ctx context.Context, tx storage.Transaction, rel *model.Relation) error
	PostDeleteRelation(ctx context.Context, tx storage.Transaction, rel *model.Relation) error

	// ProvideProperties may add computed properties to a topic being read.
	ProvideProperties(ctx context.Context, tx storage.Transaction, topic *model.Topic) error
}

// BasePlugin implements every hook as a no-op. Embed it and override the
// hooks you need.
type BasePlugin struct{}

func (BasePlugin) PostInstall(context.Context, storage.Transaction) error { return nil }

func (BasePlugin) PreCreate(context.Context, storage.Transaction, *model.Topic) error  { return nil }
func (BasePlugin) PostCreate(context.Context, storage.Transaction, *model.Topic) error { return nil }

func (BasePlugin) PreUpdate(context.Context, storage.Transaction, *model.Topic, map[string]any) error {
	return nil
}

func (BasePlugin) PostUpdate(context.Context, storage.Transaction, *model.Topic, map[string]any) error {
	return nil
}

func (BasePlugin) PreDelete(context.Context, storage.Transaction, *model.Topic) error  { return nil }
func (BasePlugin) PostDelete(context.Context, storage.Transaction, *model.Topic) error { return nil }

func (BasePlugin) PostCreateRelation(context.Context, storage.Transaction, *model.Relation) error {
	return nil
}

func (BasePlugin) PreDeleteRelation(context.Context, storage.Transaction, *model.Relation) error {
	return nil
}

func (BasePlugin) PostDeleteRelation(context.Context, storage.Transaction, *model.Relation) error {
	return nil
}

func (BasePlugin) ProvideProperties(context.Context, storage.Transaction, *model.Topic) error {
	return nil
}

// registry keeps plugins in installation order.
type registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	names   map[string]bool
}

func newRegistry() *registry {
	return &registry{names: make(map[string]bool)}
}

func (r *registry) add(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.names[p.Name()] {
		return fmt.Errorf("%w: plugin %q is already installed", model.ErrContractViolation, p.Name())
	}
	r.names[p.Name()] = true
	r.plugins = append(r.plugins, p)
	return nil
}

func (r *registry) remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.plugins {
		if p.Name() == name {
			r.plugins = append(r.plugins[:i:i], r.plugins[i+1:]...)
			delete(r.names, name)
			return true
		}
	}
	return false
}

// snapshot returns the plugins as of now; hooks run without the lock held.
func (r *registry) snapshot() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Plugin(nil), r.plugins...)
}

func (r *registry) list() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p.Name())
	}
	return out
}

// each runs fn for every plugin in order and stops at the first error.
func (r *registry) each(hook string, fn func(Plugin) error) error {
	for _, p := range r.snapshot() {
		if err := fn(p); err != nil {
			return fmt.Errorf("plugin %s: %s: %w", p.Name(), hook, err)
		}
	}
	return nil
}
