package plugins

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/andrei-cloud/go_pluginhost/internal/hooks"
	"github.com/andrei-cloud/go_pluginhost/internal/routing"
	"github.com/andrei-cloud/go_pluginhost/internal/templates"
	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/rs/zerolog"
)

// Conn is a pooled persistence connection that must be closed after use.
type Conn interface {
	pluginapi.Conn
	Close() error
}

// ConnProvider hands out persistence connections.
type ConnProvider interface {
	Acquire(ctx context.Context) (Conn, error)
}

// Releaser is implemented by plugins that hold runtime resources.
type Releaser interface {
	Release(ctx context.Context) error
}

// Meta carries bundle details that are not part of the plugin object.
type Meta struct {
	Path    string
	Version string
	System  bool
}

// Record is the registry's view of one loaded plugin.
type Record struct {
	ID       pluginapi.ID
	Title    string
	Path     string
	Version  string
	System   bool
	State    State
	LoadedAt time.Time
	Plugin   pluginapi.Plugin
}

// Options configure a Registry.
type Options struct {
	Hooks     *hooks.Directory
	Routes    *routing.Trie
	Templates *templates.Store
	States    StateStore
	Conns     ConnProvider
	// AutoInstall installs and enables plugins seen for the first time. Otherwise they
	// are recorded as NotInstalled until installed explicitly.
	AutoInstall bool
	Logger      zerolog.Logger
}

// Registry owns the set of loaded plugins and drives their lifecycle. Lifecycle
// operations are serialized; lookups run concurrently with them.
type Registry struct {
	hooks     *hooks.Directory
	routes    *routing.Trie
	templates *templates.Store
	states    StateStore
	conns     ConnProvider
	auto      bool
	log       zerolog.Logger

	opMu    sync.Mutex
	mu      sync.RWMutex
	records map[pluginapi.ID]*Record
	order   []pluginapi.ID
}

// NewRegistry returns an empty registry wired to the given stores.
func NewRegistry(opts Options) *Registry {
	states := opts.States
	if states == nil {
		states = NewMemoryStateStore()
	}

	r := &Registry{
		hooks:     opts.Hooks,
		routes:    opts.Routes,
		templates: opts.Templates,
		states:    states,
		conns:     opts.Conns,
		auto:      opts.AutoInstall,
		log:       opts.Logger,
		records:   make(map[pluginapi.ID]*Record),
	}
	r.hooks.SetResolver(r)

	return r
}

// Has reports whether id is loaded.
func (r *Registry) Has(id pluginapi.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.records[id]
	return ok
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id pluginapi.ID) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}

	return *rec, true
}

// List returns every record in load order.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.records[id])
	}

	return out
}

// Len returns the number of loaded plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}

func (r *Registry) enabled(id pluginapi.ID) (pluginapi.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok || rec.State != Enabled {
		return nil, false
	}

	return rec.Plugin, true
}

// HookHandler returns the hook handler of an enabled plugin.
func (r *Registry) HookHandler(id pluginapi.ID) (pluginapi.HookHandler, bool) {
	p, ok := r.enabled(id)
	if !ok {
		return nil, false
	}
	h, ok := p.(pluginapi.HookHandler)

	return h, ok
}

// RequestHandler returns the request handler of an enabled plugin.
func (r *Registry) RequestHandler(id pluginapi.ID) (pluginapi.RequestHandler, bool) {
	p, ok := r.enabled(id)
	if !ok {
		return nil, false
	}
	h, ok := p.(pluginapi.RequestHandler)

	return h, ok
}

func (r *Registry) enabledPlugins() []pluginapi.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]pluginapi.Plugin, 0, len(r.order))
	for _, id := range r.order {
		if rec := r.records[id]; rec.State == Enabled {
			out = append(out, rec.Plugin)
		}
	}

	return out
}

func (r *Registry) insert(rec *Record) {
	r.mu.Lock()
	r.records[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	r.mu.Unlock()
}

func (r *Registry) remove(id pluginapi.ID) {
	r.mu.Lock()
	delete(r.records, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	r.mu.Unlock()
}

func (r *Registry) setState(id pluginapi.ID, s State) {
	r.mu.Lock()
	if rec, ok := r.records[id]; ok {
		rec.State = s
	}
	r.mu.Unlock()
}

func (r *Registry) pluginLog(p pluginapi.Plugin) *zerolog.Logger {
	l := r.log.With().Str("plugin_id", p.ID().String()).Str("title", p.Title()).Logger()
	return &l
}

// Activate adds p to the registry. Its persisted state decides what happens: plugins
// not yet installed are installed when AutoInstall is set or they are system plugins,
// and otherwise recorded as NotInstalled. Enabled plugins run the activation sequence,
// disabled ones are recorded without registrations and uninstalled ones are rejected
// with ErrRejected. The registry owns p afterwards and releases it if activation fails.
func (r *Registry) Activate(ctx context.Context, p pluginapi.Plugin, meta Meta) (err error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	id := p.ID()
	defer func() {
		if err != nil {
			r.release(ctx, p)
		}
	}()

	if r.Has(id) {
		r.log.Error().
			Str("event", "plugin_duplicate").
			Str("plugin_id", id.String()).
			Str("path", meta.Path).
			Msg("plugin identity already loaded")
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	if sp, ok := p.(pluginapi.SystemPlugin); ok && sp.System() {
		meta.System = true
	}

	entry, found, err := r.states.GetState(ctx, id)
	if err != nil {
		r.pluginLog(p).Error().
			Err(err).
			Str("event", "plugin_state_failed").
			Msg("failed to read plugin state")
		return fmt.Errorf("read state: %w", err)
	}

	state := entry.State
	if !found {
		state = NotInstalled
	}
	if state == Uninstalled {
		r.pluginLog(p).Info().
			Str("event", "plugin_rejected").
			Str("path", meta.Path).
			Msg("plugin is uninstalled, not loading")
		return ErrRejected
	}
	if state == NotInstalled && (r.auto || meta.System) {
		if err := r.install(ctx, p); err != nil {
			return err
		}
		state = Enabled
		// Record the install before activating so a failed activation is retried
		// without installing again.
		installed := &Record{ID: id, Title: p.Title(), Version: meta.Version, System: meta.System, State: state}
		if err := r.persist(ctx, installed); err != nil {
			return err
		}
	}

	if state == Enabled {
		if err := r.activate(ctx, p); err != nil {
			return err
		}
	}

	rec := &Record{
		ID:       id,
		Title:    p.Title(),
		Path:     meta.Path,
		Version:  meta.Version,
		System:   meta.System,
		State:    state,
		LoadedAt: time.Now(),
		Plugin:   p,
	}
	if err := r.persist(ctx, rec); err != nil {
		r.purge(id)
		return err
	}
	r.insert(rec)

	r.log.Info().
		Str("event", "plugin_loaded").
		Str("plugin_id", id.String()).
		Str("title", rec.Title).
		Str("path", meta.Path).
		Str("version", meta.Version).
		Str("state", state.String()).
		Msg("loaded plugin")

	return nil
}

// activate runs hooks, templates, routes and OnLoad. Any failure purges whatever the
// plugin registered so far.
func (r *Registry) activate(ctx context.Context, p pluginapi.Plugin) error {
	id := p.ID()
	steps := []struct {
		name string
		run  func() error
	}{
		{StepHooks, func() error { return r.hooks.Declare(p) }},
		{StepTemplates, func() error {
			if td, ok := p.(pluginapi.TemplateDeclarer); ok {
				return td.DeclareTemplates(r.templates.Scope(id))
			}
			return nil
		}},
		{StepRoutes, func() error {
			if rd, ok := p.(pluginapi.RouteDeclarer); ok {
				return rd.DeclareRoutes(routeScope{reg: r, id: id})
			}
			return nil
		}},
		{StepLoad, func() error {
			if lh, ok := p.(pluginapi.LoadHandler); ok {
				return lh.OnLoad(ctx)
			}
			return nil
		}},
	}

	for _, step := range steps {
		if err := guard(step.run); err != nil {
			r.purge(id)
			r.pluginLog(p).Warn().
				Err(err).
				Str("event", "plugin_activation_failed").
				Str("step", step.name).
				Msg("plugin failed to activate")
			return &ActivationError{Step: step.name, ID: id, Title: p.Title(), Err: err}
		}
	}

	return nil
}

// purge removes everything id contributed to the shared stores.
func (r *Registry) purge(id pluginapi.ID) {
	r.hooks.RemoveOwner(id)
	r.templates.RemoveByOwner(id)
	r.routes.Purge(id)
}

func (r *Registry) release(ctx context.Context, p pluginapi.Plugin) {
	rel, ok := p.(Releaser)
	if !ok {
		return
	}
	if err := rel.Release(ctx); err != nil {
		r.pluginLog(p).Warn().Err(err).Str("event", "plugin_release_failed").Msg("failed to release plugin runtime")
	}
}

func (r *Registry) persist(ctx context.Context, rec *Record) error {
	err := r.states.PutState(ctx, StateEntry{
		ID:      rec.ID,
		Title:   rec.Title,
		Version: rec.Version,
		System:  rec.System,
		State:   rec.State,
	})
	if err != nil {
		r.log.Error().
			Err(err).
			Str("event", "plugin_state_failed").
			Str("plugin_id", rec.ID.String()).
			Msg("failed to persist plugin state")
		return fmt.Errorf("persist state: %w", err)
	}

	return nil
}

// withConn runs fn inside a transaction on a fresh connection. Without a connection
// provider fn receives a nil connection.
func (r *Registry) withConn(ctx context.Context, fn func(pluginapi.Conn) error) error {
	if r.conns == nil {
		return fn(nil)
	}

	conn, err := r.conns.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if err := conn.Begin(ctx); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(conn); err != nil {
		_ = conn.Rollback()
		return err
	}

	return conn.Commit()
}

func (r *Registry) install(ctx context.Context, p pluginapi.Plugin) error {
	ih, ok := p.(pluginapi.InstallHandler)
	if !ok {
		return nil
	}

	err := r.withConn(ctx, func(c pluginapi.Conn) error {
		return guard(func() error { return ih.OnInstall(ctx, c) })
	})
	if err != nil {
		r.pluginLog(p).Error().Err(err).Str("event", "plugin_install_failed").Msg("plugin failed to install")
		return &ActivationError{Step: StepInstall, ID: p.ID(), Title: p.Title(), Err: err}
	}

	return nil
}

// allowed offers action on target to every other enabled plugin.
func (r *Registry) allowed(ctx context.Context, action pluginapi.Action, target pluginapi.ID) error {
	for _, p := range r.enabledPlugins() {
		if p.ID() == target {
			continue
		}
		v, ok := p.(pluginapi.ActionVetoer)
		if !ok {
			continue
		}

		allow := false
		if err := guard(func() error {
			allow = v.AllowAction(ctx, action, target)
			return nil
		}); err != nil {
			r.pluginLog(p).Warn().Err(err).Str("event", "plugin_veto_panic").Msg("veto check panicked")
		}
		if !allow {
			r.log.Info().
				Str("event", "plugin_action_vetoed").
				Str("action", string(action)).
				Str("target", target.String()).
				Str("by", p.ID().String()).
				Msg("action vetoed")
			return &VetoError{Action: action, Target: target, By: p.ID()}
		}
	}

	return nil
}

func (r *Registry) lookup(id pluginapi.ID) (Record, error) {
	rec, ok := r.Get(id)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return rec, nil
}

func (r *Registry) transition(ctx context.Context, rec Record, to State) error {
	rec.State = to
	if err := r.persist(ctx, &rec); err != nil {
		return err
	}
	r.setState(rec.ID, to)

	r.log.Info().
		Str("event", "plugin_state_changed").
		Str("plugin_id", rec.ID.String()).
		Str("title", rec.Title).
		Str("state", to.String()).
		Msg("plugin state changed")

	return nil
}

// Install moves a NotInstalled plugin to Disabled.
func (r *Registry) Install(ctx context.Context, id pluginapi.ID) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	if rec.State != NotInstalled {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, rec.State)
	}
	if err := r.allowed(ctx, pluginapi.ActionInstall, id); err != nil {
		return err
	}
	if err := r.install(ctx, rec.Plugin); err != nil {
		return err
	}

	return r.transition(ctx, rec, Disabled)
}

// Enable activates a Disabled plugin.
func (r *Registry) Enable(ctx context.Context, id pluginapi.ID) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	if rec.State != Disabled {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, rec.State)
	}
	if err := r.allowed(ctx, pluginapi.ActionEnable, id); err != nil {
		return err
	}
	if err := r.activate(ctx, rec.Plugin); err != nil {
		return err
	}
	if err := r.transition(ctx, rec, Enabled); err != nil {
		r.deactivate(ctx, rec.Plugin)
		return err
	}

	return nil
}

// Disable withdraws an Enabled plugin's registrations and keeps it loaded.
func (r *Registry) Disable(ctx context.Context, id pluginapi.ID) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	if rec.System {
		return fmt.Errorf("%w: %s", ErrSystemPlugin, id)
	}
	if rec.State != Enabled {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, rec.State)
	}
	if err := r.allowed(ctx, pluginapi.ActionDisable, id); err != nil {
		return err
	}

	if err := r.transition(ctx, rec, Disabled); err != nil {
		return err
	}
	r.deactivate(ctx, rec.Plugin)

	return nil
}

// Uninstall runs the plugin's uninstall handler, unloads it and remembers it as
// Uninstalled so later loads reject the bundle. Enabled plugins are disabled first.
func (r *Registry) Uninstall(ctx context.Context, id pluginapi.ID) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	if rec.System {
		return fmt.Errorf("%w: %s", ErrSystemPlugin, id)
	}
	if rec.State == NotInstalled {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, rec.State)
	}
	if err := r.allowed(ctx, pluginapi.ActionUninstall, id); err != nil {
		return err
	}

	if uh, ok := rec.Plugin.(pluginapi.UninstallHandler); ok {
		err := r.withConn(ctx, func(c pluginapi.Conn) error {
			return guard(func() error { return uh.OnUninstall(ctx, c) })
		})
		if err != nil {
			r.pluginLog(rec.Plugin).Error().Err(err).Str("event", "plugin_uninstall_failed").Msg("plugin failed to uninstall")
			return &ActivationError{Step: StepUninstall, ID: id, Title: rec.Title, Err: err}
		}
	}

	uninstalled := rec
	uninstalled.State = Uninstalled
	if err := r.persist(ctx, &uninstalled); err != nil {
		return err
	}
	r.unload(ctx, rec)

	return nil
}

// deactivate calls OnUnload and purges the plugin's registrations.
func (r *Registry) deactivate(ctx context.Context, p pluginapi.Plugin) {
	if uh, ok := p.(pluginapi.UnloadHandler); ok {
		if err := guard(func() error { uh.OnUnload(ctx); return nil }); err != nil {
			r.pluginLog(p).Warn().Err(err).Str("event", "plugin_unload_panic").Msg("unload handler panicked")
		}
	}
	r.purge(p.ID())
}

func (r *Registry) unload(ctx context.Context, rec Record) {
	if current, ok := r.Get(rec.ID); ok && current.State == Enabled {
		r.deactivate(ctx, rec.Plugin)
	}
	r.purge(rec.ID)
	r.remove(rec.ID)
	r.release(ctx, rec.Plugin)

	r.log.Info().
		Str("event", "plugin_unloaded").
		Str("plugin_id", rec.ID.String()).
		Str("title", rec.Title).
		Msg("unloaded plugin")
}

// Unload removes a plugin from the runtime without touching its persisted state.
func (r *Registry) Unload(ctx context.Context, id pluginapi.ID) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	r.unload(ctx, rec)

	return nil
}

// UnloadAll unloads every plugin in reverse load order.
func (r *Registry) UnloadAll(ctx context.Context) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	recs := r.List()
	for i := len(recs) - 1; i >= 0; i-- {
		r.unload(ctx, recs[i])
	}
}

// RebuildHooks clears the hook directory and lets every enabled plugin declare its
// subscriptions again.
func (r *Registry) RebuildHooks() bool {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	return r.hooks.RebuildAll(r.enabledPlugins())
}

type routeScope struct {
	reg *Registry
	id  pluginapi.ID
}

func (s routeScope) RegisterRoute(path string) error {
	switch s.reg.routes.Register(s.id, path) {
	case routing.Success:
		return nil
	case routing.Malformed:
		return fmt.Errorf("%w: %q", ErrRouteMalformed, path)
	default:
		return fmt.Errorf("%w: %q", ErrRouteExists, path)
	}
}

// guard converts a panic in fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	return fn()
}

// IsRejected reports whether err means the bundle belongs to an uninstalled plugin.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}
