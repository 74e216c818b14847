// Package hooks keeps the global directory of named events and their subscribers.
package hooks

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/rs/zerolog"
)

// Resolver looks up the hook handler of a loaded plugin.
type Resolver interface {
	HookHandler(id pluginapi.ID) (pluginapi.HookHandler, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(id pluginapi.ID) (pluginapi.HookHandler, bool)

// HookHandler implements Resolver.
func (f ResolverFunc) HookHandler(id pluginapi.ID) (pluginapi.HookHandler, bool) {
	return f(id)
}

// Directory maps event names to subscribers in declaration order.
type Directory struct {
	mu       sync.RWMutex
	events   map[string][]pluginapi.ID
	resolver Resolver
	log      zerolog.Logger
}

// NewDirectory returns an empty directory.
func NewDirectory(logger zerolog.Logger) *Directory {
	return &Directory{
		events: make(map[string][]pluginapi.ID),
		log:    logger,
	}
}

// SetResolver sets the lookup used when publishing.
func (d *Directory) SetResolver(r Resolver) {
	d.mu.Lock()
	d.resolver = r
	d.mu.Unlock()
}

// Subscribe appends id to the subscribers of event. It returns false if id is
// already subscribed or the arguments are invalid.
func (d *Directory) Subscribe(id pluginapi.ID, event string) bool {
	event = strings.TrimSpace(event)
	if id == pluginapi.NoOwner || event == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.events[event]
	if slices.Contains(subs, id) {
		return false
	}
	d.events[event] = append(subs, id)

	return true
}

// Unsubscribe removes id from event. Empty events are dropped.
func (d *Directory) Unsubscribe(id pluginapi.ID, event string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.events[event]
	i := slices.Index(subs, id)
	if i < 0 {
		return false
	}
	subs = slices.Delete(subs, i, i+1)
	if len(subs) == 0 {
		delete(d.events, event)
	} else {
		d.events[event] = subs
	}

	return true
}

// RemoveOwner removes every subscription held by id and returns how many were removed.
func (d *Directory) RemoveOwner(id pluginapi.ID) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for event, subs := range d.events {
		i := slices.Index(subs, id)
		if i < 0 {
			continue
		}
		removed++
		subs = slices.Delete(subs, i, i+1)
		if len(subs) == 0 {
			delete(d.events, event)
		} else {
			d.events[event] = subs
		}
	}

	return removed
}

// Reset drops every subscription.
func (d *Directory) Reset() {
	d.mu.Lock()
	d.events = make(map[string][]pluginapi.ID)
	d.mu.Unlock()
}

// Subscribers returns a copy of the subscribers of event, never nil.
func (d *Directory) Subscribers(event string) []pluginapi.ID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return append([]pluginapi.ID{}, d.events[event]...)
}

// Events returns the names of all events with at least one subscriber.
func (d *Directory) Events() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.events))
	for e := range d.events {
		out = append(out, e)
	}
	slices.Sort(out)

	return out
}

// Scope returns a subscriber that registers under id.
func (d *Directory) Scope(id pluginapi.ID) pluginapi.HookSubscriber {
	return scoped{dir: d, id: id}
}

type scoped struct {
	dir *Directory
	id  pluginapi.ID
}

func (s scoped) Subscribe(event string) bool {
	return s.dir.Subscribe(s.id, event)
}

// Declare asks p to declare its subscriptions. Plugins without hooks succeed trivially.
func (d *Directory) Declare(p pluginapi.Plugin) (err error) {
	hd, ok := p.(pluginapi.HookDeclarer)
	if !ok {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook declaration panicked: %v", r)
		}
	}()

	return hd.DeclareHooks(d.Scope(p.ID()))
}

// RebuildAll clears the directory and asks every plugin, in order, to declare its
// subscriptions again. A failing plugin is logged and skipped; the result is false if
// any plugin failed.
func (d *Directory) RebuildAll(plugins []pluginapi.Plugin) bool {
	d.Reset()

	ok := true
	for _, p := range plugins {
		if err := d.Declare(p); err != nil {
			ok = false
			d.log.Warn().
				Err(err).
				Str("event", "hooks_rebuild_failed").
				Str("plugin_id", p.ID().String()).
				Str("title", p.Title()).
				Msg("plugin failed to declare hooks")
		}
	}

	return ok
}

// PublishFirst invokes subscribers in order until one handles the event.
func (d *Directory) PublishFirst(ctx context.Context, event string, args ...any) bool {
	for _, id := range d.Subscribers(event) {
		if d.invoke(ctx, id, event, args) {
			return true
		}
	}

	return false
}

// PublishAll invokes every subscriber in order, ignoring their results.
func (d *Directory) PublishAll(ctx context.Context, event string, args ...any) {
	for _, id := range d.Subscribers(event) {
		d.invoke(ctx, id, event, args)
	}
}

func (d *Directory) invoke(ctx context.Context, id pluginapi.ID, event string, args []any) (handled bool) {
	d.mu.RLock()
	r := d.resolver
	d.mu.RUnlock()
	if r == nil {
		return false
	}

	h, ok := r.HookHandler(id)
	if !ok {
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			handled = false
			d.log.Warn().
				Str("event", "hook_panic").
				Str("hook", event).
				Str("plugin_id", id.String()).
				Interface("panic", rec).
				Msg("hook handler panicked")
		}
	}()

	return h.HandleHook(ctx, event, args...)
}
