// Package cli provides the CLI command structure for pluginhost.
package cli

import (
	"fmt"

	"github.com/andrei-cloud/go_pluginhost/internal/config"
	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCommand creates and returns the root command with all subcommands.
func NewRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:   "pluginhost",
		Short: "Extensible plugin host and utilities",
		Long: `A plugin host that loads sandboxed bundles, routes web requests to
the plugins that claim them and renders their pages.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Initialize configuration before running any command.
			if err := config.Initialize(cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			// Bind flags to viper.
			v := config.GetViper()
			flags := cmd.Flags()
			for key, flag := range map[string]string{
				"log.level":   "log-level",
				"log.format":  "log-format",
				"plugin.path": "plugin-path",
			} {
				if f := flags.Lookup(flag); f != nil && f.Changed {
					if err := v.BindPFlag(key, f); err != nil {
						return fmt.Errorf("bind %s: %w", flag, err)
					}
				}
			}

			return config.Refresh()
		},
	}

	// Add persistent flags that affect all commands.
	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pluginhost/config.yaml)")

	// Add global flags that can override config file settings.
	rootCmd.PersistentFlags().
		String("log-level", "info", "logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "logging format (human, json)")
	rootCmd.PersistentFlags().String("plugin-path", "plugins", "path to plugin directory")

	// Register all commands.
	if err := RegisterCommands(rootCmd); err != nil {
		return nil, fmt.Errorf("failed to register commands: %w", err)
	}

	return rootCmd, nil
}
