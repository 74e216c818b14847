package core

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/andrei-cloud/go_pluginhost/internal/plugins"
	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/rs/zerolog"
)

// SystemEntry is the builtin entry of the core system plugin.
const SystemEntry = "core.system"

// EventCleanerWake asks plugins to drop stale data.
const EventCleanerWake = "core.cleaner.wake"

// DefaultSessionMaxAge is how long an untouched session survives the cleaner.
const DefaultSessionMaxAge = 24 * time.Hour

//go:embed all:system
var systemFiles embed.FS

// SystemBundle returns the embedded bundle of the core system plugin.
func SystemBundle() fs.FS {
	sub, err := fs.Sub(systemFiles, "system")
	if err != nil {
		panic(err)
	}

	return sub
}

// SessionPurger drops sessions older than maxAge.
type SessionPurger interface {
	Purge(ctx context.Context, maxAge time.Duration) (int64, error)
}

// PluginLister lists loaded plugins.
type PluginLister interface {
	List() []plugins.Record
}

// systemPlugin serves the node status page and runs periodic session cleanup.
type systemPlugin struct {
	bundle   *plugins.Bundle
	plugins  PluginLister
	sessions SessionPurger
	maxAge   time.Duration
	log      zerolog.Logger
}

type statusRow struct {
	Title   string
	Version string
	State   string
}

func systemFactory(list PluginLister, sessions SessionPurger, maxAge time.Duration, logger zerolog.Logger) plugins.Factory {
	return func(_ pluginapi.ID, b *plugins.Bundle) (pluginapi.Plugin, error) {
		if !b.Manifest.System {
			return nil, fmt.Errorf("%s must be declared as a system plugin", SystemEntry)
		}
		return &systemPlugin{
			bundle:   b,
			plugins:  list,
			sessions: sessions,
			maxAge:   maxAge,
			log:      logger,
		}, nil
	}
}

func (p *systemPlugin) ID() pluginapi.ID { return p.bundle.Manifest.PluginID() }
func (p *systemPlugin) Title() string    { return p.bundle.Manifest.Title }
func (p *systemPlugin) System() bool     { return true }

func (p *systemPlugin) DeclareHooks(s pluginapi.HookSubscriber) error {
	for _, ev := range p.bundle.Manifest.Hooks {
		if !s.Subscribe(ev) {
			return fmt.Errorf("subscribe %q: duplicate or invalid event", ev)
		}
	}

	return nil
}

func (p *systemPlugin) DeclareTemplates(r pluginapi.TemplateRegistrar) error {
	if err := r.LoadTemplates(p.bundle.Files, plugins.TemplatesDir); err != nil {
		return err
	}

	return r.RegisterFunction("plugin_count", func(...string) (string, error) {
		return strconv.Itoa(len(p.plugins.List())), nil
	})
}

func (p *systemPlugin) DeclareRoutes(r pluginapi.RouteRegistrar) error {
	for _, route := range p.bundle.Manifest.Routes {
		if err := r.RegisterRoute(route); err != nil {
			return err
		}
	}

	return nil
}

func (p *systemPlugin) HandleRequest(_ context.Context, req *pluginapi.Request) (bool, error) {
	records := p.plugins.List()
	rows := make([]statusRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, statusRow{Title: rec.Title, Version: rec.Version, State: rec.State.String()})
	}

	req.SetData("title", "Status")
	req.SetData("content", "status/index")
	req.SetData("plugins", rows)

	return true, nil
}

func (p *systemPlugin) HandleHook(ctx context.Context, event string, _ ...any) bool {
	if event != EventCleanerWake || p.sessions == nil {
		return false
	}

	n, err := p.sessions.Purge(ctx, p.maxAge)
	if err != nil {
		p.log.Error().Err(err).Str("event", "session_purge_failed").Msg("failed to purge sessions")
		return false
	}
	if n > 0 {
		p.log.Info().Str("event", "sessions_purged").Int64("count", n).Msg("purged stale sessions")
	}

	return true
}
