// Package server provides server-related CLI commands.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andrei-cloud/go_pluginhost/internal/config"
	"github.com/andrei-cloud/go_pluginhost/internal/core"
	"github.com/andrei-cloud/go_pluginhost/internal/logging"
	"github.com/andrei-cloud/go_pluginhost/internal/plugins"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the plugin host",
		Long: `Start the plugin host: load bundles, then serve web requests over HTTP and
the node transport. SIGHUP reloads every plugin.`,
		RunE: runServe,
	}

	// Add serve command specific flags that can override config.
	cmd.Flags().String("host", "localhost", "Node host")
	cmd.Flags().Int("port", 1600, "Node port")
	cmd.Flags().String("http", ":8080", "HTTP gateway address")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Bind serve command flags to viper.
	v := config.GetViper()
	for key, flag := range map[string]string{"node.host": "host", "node.port": "port", "http.addr": "http"} {
		if f := cmd.Flags().Lookup(flag); f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind %s: %w", flag, err)
			}
		}
	}
	if err := config.Refresh(); err != nil {
		return err
	}

	// Get configuration.
	cfg := config.Get()

	// Initialize logger using config values (with CLI flags overriding config via viper).
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	node, err := core.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize node: %w", err)
	}

	summary, err := node.Load(ctx)
	if err != nil {
		_ = node.Stop(ctx)
		return fmt.Errorf("failed to load plugins: %w", err)
	}
	logLoaded(node, summary)

	if err := node.Start(); err != nil {
		_ = node.Stop(ctx)
		return err
	}

	// Reload plugins on SIGHUP.
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(reloadChan, syscall.SIGHUP)
	defer signal.Stop(reloadChan)
	go func() {
		for range reloadChan {
			summary, err := node.Reload(ctx)
			if err != nil {
				continue
			}
			logLoaded(node, summary)
		}
	}()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stopChan)

	select {
	case <-stopChan:
	case <-ctx.Done():
	}
	log.Info().Str("event", "shutdown").Msg("shutting down server...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := node.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	return nil
}

func logLoaded(node *core.Node, summary plugins.LoadSummary) {
	log.Info().
		Int("loaded", summary[plugins.Loaded]).
		Int("failed", summary[plugins.Failed]).
		Int("rejected", summary[plugins.FailedRejected]).
		Msg("plugins loaded")

	log.Debug().Msg("Loaded plugins metadata:")
	for _, rec := range node.Registry().List() {
		log.Debug().
			Str("plugin_id", rec.ID.String()).
			Str("title", rec.Title).
			Str("version", rec.Version).
			Str("state", rec.State.String()).
			Bool("system", rec.System).
			Msg("plugin details")
	}
}
