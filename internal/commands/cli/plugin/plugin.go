// Package plugin provides plugin management commands.
package plugin

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andrei-cloud/go_pluginhost/internal/config"
	"github.com/andrei-cloud/go_pluginhost/internal/plugins"
	"github.com/spf13/cobra"
)

// NewPluginCommand creates the main plugin command group.
func NewPluginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Plugin management commands",
		Long:  `Commands for inspecting and packing plugin bundles.`,
	}

	// Add subcommands.
	cmd.AddCommand(NewListCommand())
	cmd.AddCommand(NewPackCommand())
	cmd.AddCommand(NewBrowseCommand())

	return cmd
}

// bundleInfo is one bundle found in the plugin directory.
type bundleInfo struct {
	Path     string
	Manifest plugins.Manifest
	Err      error
}

// pluginDir resolves the plugin directory: the configured path, then the directory
// next to the executable.
func pluginDir() string {
	dir := config.Get().Plugin.Path
	if dir == "" {
		dir = "plugins"
	}
	if _, err := os.Stat(dir); err == nil {
		return dir
	}

	exePath, err := os.Executable()
	if err != nil {
		return dir
	}

	return filepath.Join(filepath.Dir(exePath), "plugins")
}

// scanBundles opens every bundle under dir without instantiating it.
func scanBundles(dir string) ([]bundleInfo, error) {
	var out []bundleInfo
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), plugins.BundleExt) {
			return nil
		}

		info := bundleInfo{Path: p}
		b, err := plugins.OpenBundle(p)
		if err != nil {
			info.Err = err
		} else {
			info.Manifest = b.Manifest
		}
		out = append(out, info)

		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out, nil
}
