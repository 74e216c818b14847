// Package cli provides centralized command registration.
package cli

import (
	"github.com/andrei-cloud/go_pluginhost/internal/commands/cli/plugin"
	"github.com/andrei-cloud/go_pluginhost/internal/commands/cli/request"
	"github.com/andrei-cloud/go_pluginhost/internal/commands/cli/server"
	"github.com/spf13/cobra"
)

// RegisterCommands registers all root commands.
func RegisterCommands(root *cobra.Command) error {
	root.AddCommand(server.NewServeCommand())
	root.AddCommand(plugin.NewPluginCommand())
	root.AddCommand(request.NewRequestCommand())

	return nil
}
