// Package core wires the plugin host together. A Node is the explicit context object
// owning every store, the registry, the runtimes and the network front ends.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/andrei-cloud/go_pluginhost/internal/config"
	"github.com/andrei-cloud/go_pluginhost/internal/dispatch"
	"github.com/andrei-cloud/go_pluginhost/internal/gateway"
	"github.com/andrei-cloud/go_pluginhost/internal/hooks"
	"github.com/andrei-cloud/go_pluginhost/internal/logging"
	"github.com/andrei-cloud/go_pluginhost/internal/metrics"
	"github.com/andrei-cloud/go_pluginhost/internal/plugins"
	"github.com/andrei-cloud/go_pluginhost/internal/routing"
	"github.com/andrei-cloud/go_pluginhost/internal/scheduler"
	"github.com/andrei-cloud/go_pluginhost/internal/server"
	"github.com/andrei-cloud/go_pluginhost/internal/storage"
	"github.com/andrei-cloud/go_pluginhost/internal/templates"
	"github.com/rs/zerolog"
)

// DriverMemory keeps sessions and plugin state in process memory.
const DriverMemory = "memory"

// Node is one running plugin host.
type Node struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	db       *storage.DB
	sessions interface {
		dispatch.SessionStore
		SessionPurger
	}

	hooks     *hooks.Directory
	routes    *routing.Trie
	templates *templates.Store
	renderer  *templates.Renderer

	registry   *plugins.Registry
	loader     *plugins.Loader
	builtins   *plugins.Builtins
	wasm       *plugins.WasmRuntime
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler

	reloadMu sync.Mutex
	stopOnce sync.Once

	server  *server.Server
	http    *http.Server
	limiter *gateway.RateLimiter
	done    chan struct{}
}

// New builds a node from cfg. Nothing is loaded or listening until Load and Start.
func New(ctx context.Context, cfg *config.Config) (_ *Node, err error) {
	n := &Node{
		cfg:       cfg,
		log:       logging.Component("core"),
		metrics:   metrics.New(),
		hooks:     hooks.NewDirectory(logging.Component("hooks")),
		routes:    routing.NewTrie(),
		templates: templates.NewStore(logging.Component("templates")),
		builtins:  plugins.NewBuiltins(),
		done:      make(chan struct{}),
	}
	n.renderer = templates.NewRenderer(n.templates)

	defer func() {
		if err != nil {
			_ = n.close(ctx)
		}
	}()

	var (
		states plugins.StateStore
		conns  plugins.ConnProvider
	)
	if cfg.Database.Driver == DriverMemory || cfg.Database.Driver == "" {
		n.sessions = dispatch.NewMemorySessions()
	} else {
		n.db, err = storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logging.Component("storage"))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		n.sessions = storage.NewSessionStore(n.db)
		states = storage.NewStateStore(n.db)
		conns = storage.Provider{DB: n.db}
	}

	n.registry = plugins.NewRegistry(plugins.Options{
		Hooks:       n.hooks,
		Routes:      n.routes,
		Templates:   n.templates,
		States:      states,
		Conns:       conns,
		AutoInstall: cfg.Plugin.AutoInstall,
		Logger:      logging.Component("registry"),
	})

	n.wasm, err = plugins.NewWasmRuntime(ctx, cfg.Plugin.WasmPoolSize, logging.Component("wasm"))
	if err != nil {
		return nil, fmt.Errorf("start wasm runtime: %w", err)
	}
	err = n.builtins.Register(SystemEntry, systemFactory(n.registry, n.sessions, DefaultSessionMaxAge, logging.Component("system")))
	if err != nil {
		return nil, err
	}
	n.loader = plugins.NewLoader(n.registry, plugins.Runtimes{
		plugins.RuntimeWasm:    n.wasm,
		plugins.RuntimeLua:     plugins.NewLuaRuntime(logging.Component("lua")),
		plugins.RuntimeBuiltin: n.builtins,
	}, logging.Component("loader"))

	n.dispatcher = dispatch.New(dispatch.Options{
		Hooks:    n.hooks,
		Routes:   n.routes,
		Handlers: n.registry,
		Renderer: n.renderer,
		Sessions: n.sessions,
		Conns:    conns,
		Metrics:  n.metrics,
		Node:     cfg.Address(),
		Logger:   logging.Component("dispatch"),
	})

	if cfg.Scheduler.Enabled {
		n.scheduler, err = scheduler.FromConfig(cfg.Scheduler.Wake, n.hooks, n.metrics, logging.Component("scheduler"))
		if err != nil {
			return nil, err
		}
	}

	return n, nil
}

// Builtins exposes the compiled-in plugin factories so embedders can add their own
// before Load.
func (n *Node) Builtins() *plugins.Builtins { return n.builtins }

// Registry returns the plugin registry.
func (n *Node) Registry() *plugins.Registry { return n.registry }

// Dispatcher returns the request dispatcher.
func (n *Node) Dispatcher() *dispatch.Dispatcher { return n.dispatcher }

// Hooks returns the event hook directory.
func (n *Node) Hooks() *hooks.Directory { return n.hooks }

// Metrics returns the node's collectors.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// Load registers the core templates, the system plugin and every bundle in the plugin
// directory.
func (n *Node) Load(ctx context.Context) (plugins.LoadSummary, error) {
	if err := templates.RegisterCore(n.templates); err != nil {
		return nil, fmt.Errorf("register core templates: %w", err)
	}

	summary := make(plugins.LoadSummary)
	res := n.loader.LoadFS(ctx, "core", SystemBundle())
	n.metrics.RecordLoad(res.String())
	if res != plugins.Loaded {
		return nil, fmt.Errorf("system plugin: %s", res)
	}
	summary[res]++

	if err := plugins.EnsureDir(n.cfg.Plugin.Path); err != nil {
		return nil, fmt.Errorf("create plugin directory: %w", err)
	}
	dir, err := n.loader.LoadDir(ctx, n.cfg.Plugin.Path)
	if err != nil {
		return nil, fmt.Errorf("load plugins: %w", err)
	}
	for r, c := range dir {
		summary[r] += c
		for range c {
			n.metrics.RecordLoad(r.String())
		}
	}
	n.metrics.SetLoaded(n.registry.Len())

	return summary, nil
}

// Reload unloads every plugin, clears the stores and loads again.
func (n *Node) Reload(ctx context.Context) (plugins.LoadSummary, error) {
	n.reloadMu.Lock()
	defer n.reloadMu.Unlock()

	n.log.Info().Str("event", "reload_start").Msg("reloading plugins")

	n.registry.UnloadAll(ctx)
	n.hooks.Reset()
	n.routes.Reset()
	n.templates.Reset()

	summary, err := n.Load(ctx)
	if err != nil {
		n.log.Error().Err(err).Str("event", "reload_failed").Msg("failed to reload plugins")
		return nil, err
	}

	n.log.Info().
		Str("event", "reload_done").
		Int("loaded", summary[plugins.Loaded]).
		Int("failed", summary[plugins.Failed]).
		Msg("plugins reloaded")

	return summary, nil
}

// Start opens the anet listener and the HTTP gateway and starts the scheduler.
func (n *Node) Start() error {
	srv, err := server.NewServer(n.cfg.Address(), n.dispatcher, logging.Component("server"))
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	n.server = srv

	n.limiter = gateway.NewRateLimiter(n.cfg.HTTP.RateLimit, n.cfg.HTTP.Burst, logging.Component("ratelimit"))
	n.limiter.StartCleanup(time.Minute, n.done)

	n.http = &http.Server{
		Addr: n.cfg.HTTP.Addr,
		Handler: gateway.New(gateway.Options{
			Dispatcher: n.dispatcher,
			Registry:   n.registry,
			Metrics:    n.metrics,
			Limiter:    n.limiter,
			AdminToken: n.cfg.Secrets.AdminToken,
			Logger:     logging.Component("gateway"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		n.log.Info().Str("event", "gateway_started").Str("address", n.http.Addr).Msg("http gateway started")
		if err := n.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error().Err(err).Str("event", "gateway_failed").Msg("http gateway stopped")
		}
	}()

	if n.scheduler != nil {
		n.scheduler.Start()
	}

	return nil
}

// Stop shuts the front ends down, unloads every plugin and releases storage. Only the
// first call has an effect.
func (n *Node) Stop(ctx context.Context) error {
	var err error
	n.stopOnce.Do(func() { err = n.stop(ctx) })

	return err
}

func (n *Node) stop(ctx context.Context) error {
	var errs []error

	if n.http != nil {
		if err := n.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if n.server != nil {
		if err := n.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if n.scheduler != nil {
		n.scheduler.Stop(ctx)
	}
	close(n.done)

	n.registry.UnloadAll(ctx)
	errs = append(errs, n.close(ctx))

	return errors.Join(errs...)
}

func (n *Node) close(ctx context.Context) error {
	var errs []error
	if n.wasm != nil {
		errs = append(errs, n.wasm.Close(ctx))
	}
	if n.db != nil {
		errs = append(errs, n.db.Close())
	}

	return errors.Join(errs...)
}
