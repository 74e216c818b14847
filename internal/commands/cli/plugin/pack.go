package plugin

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/andrei-cloud/go_pluginhost/internal/plugins"
	"github.com/spf13/cobra"
)

var packOut string

// NewPackCommand creates the pack command.
func NewPackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack DIR",
		Short: "Pack a bundle directory",
		Long: `Pack a plugin source directory into a bundle archive. This will:
1. Validate the plugin.yaml manifest
2. Check that the entry file exists
3. Zip the directory into <dir>.plugin`,
		Args: cobra.ExactArgs(1),
		RunE: runPack,
	}

	cmd.Flags().StringVarP(&packOut, "out", "o", "", "output file (default is DIR.plugin)")

	return cmd
}

func runPack(cmd *cobra.Command, args []string) error {
	src := filepath.Clean(args[0])
	out := packOut
	if out == "" {
		out = src + plugins.BundleExt
	}

	m, err := packBundle(src, out)
	if err != nil {
		return err
	}

	cmd.Printf("Packed %s (%s) into %s\n", m.Title, m.PluginID(), out)

	return nil
}

// packBundle validates the bundle source in src and writes the archive to out.
func packBundle(src, out string) (plugins.Manifest, error) {
	b, err := plugins.NewBundle(src, os.DirFS(src))
	if err != nil {
		return plugins.Manifest{}, fmt.Errorf("invalid bundle: %w", err)
	}
	if _, err := b.ReadEntry(); err != nil {
		return plugins.Manifest{}, fmt.Errorf("invalid bundle: %w", err)
	}

	f, err := os.Create(out)
	if err != nil {
		return plugins.Manifest{}, fmt.Errorf("failed to create bundle: %w", err)
	}

	zw := zip.NewWriter(f)
	err = fs.WalkDir(b.Files, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		return copyInto(zw, b.Files, p)
	})
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out)
		return plugins.Manifest{}, fmt.Errorf("failed to write bundle: %w", err)
	}

	return b.Manifest, nil
}

func copyInto(zw *zip.Writer, fsys fs.FS, name string) error {
	r, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)

	return err
}
