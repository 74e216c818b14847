package plugin

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List plugin bundles",
		Long:  `List all plugin bundles in the plugin directory with their manifest details.`,
		RunE:  runListPlugins,
	}
}

func runListPlugins(cmd *cobra.Command, _ []string) error {
	// Disable logging for CLI commands.
	log.Logger = log.Logger.Level(zerolog.Disabled)

	bundles, err := scanBundles(pluginDir())
	if err != nil {
		return fmt.Errorf("failed to scan plugins: %w", err)
	}

	// Create tabwriter for aligned output.
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTitle\tVersion\tRuntime\tRoutes\tPath")
	_, _ = fmt.Fprintln(w, "--\t-----\t-------\t-------\t------\t----")

	for _, b := range bundles {
		if b.Err != nil {
			_, _ = fmt.Fprintf(w, "-\t(invalid: %v)\t-\t-\t-\t%s\n", b.Err, b.Path)
			continue
		}
		m := b.Manifest
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			m.PluginID(),
			m.Title,
			m.Version,
			m.Runtime,
			len(m.Routes),
			b.Path)
	}

	return w.Flush()
}
