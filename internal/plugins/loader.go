package plugins

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// LoadResult is the outcome of loading one bundle.
type LoadResult int

// Load outcomes.
const (
	Loaded LoadResult = iota
	// FailedIrrelevant means the file is not a plugin bundle.
	FailedIrrelevant
	// FailedRejected means the plugin was uninstalled and must not be loaded.
	FailedRejected
	Failed
)

func (r LoadResult) String() string {
	switch r {
	case Loaded:
		return "loaded"
	case FailedIrrelevant:
		return "irrelevant"
	case FailedRejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// LoadSummary counts the outcomes of a directory load.
type LoadSummary map[LoadResult]int

// Total returns the number of bundles attempted.
func (s LoadSummary) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}

	return n
}

// libDir is skipped when scanning for bundles; it holds shared dependencies.
const libDir = "lib"

// Loader opens bundles, instantiates their entry and hands them to the Registry.
type Loader struct {
	registry *Registry
	runtime  Instantiator
	log      zerolog.Logger
}

// NewLoader returns a loader feeding registry.
func NewLoader(registry *Registry, runtime Instantiator, logger zerolog.Logger) *Loader {
	return &Loader{registry: registry, runtime: runtime, log: logger}
}

// Load loads the bundle archive at path.
func (l *Loader) Load(ctx context.Context, path string) LoadResult {
	b, err := OpenBundle(path)
	if err != nil {
		return l.openFailed(path, err)
	}

	return l.LoadBundle(ctx, b)
}

// LoadFS loads a bundle from an already opened file system, such as an embedded one.
func (l *Loader) LoadFS(ctx context.Context, name string, fsys fs.FS) LoadResult {
	b, err := NewBundle(name, fsys)
	if err != nil {
		return l.openFailed(name, err)
	}

	return l.LoadBundle(ctx, b)
}

func (l *Loader) openFailed(path string, err error) LoadResult {
	if errors.Is(err, ErrNoManifest) {
		l.log.Debug().Err(err).Str("event", "bundle_irrelevant").Str("path", path).Msg("not a plugin bundle")
		return FailedIrrelevant
	}
	l.log.Error().Err(err).Str("event", "bundle_invalid").Str("path", path).Msg("failed to open plugin bundle")

	return Failed
}

// LoadBundle instantiates an opened bundle and activates it.
func (l *Loader) LoadBundle(ctx context.Context, b *Bundle) LoadResult {
	id := b.Manifest.PluginID()
	if l.registry.Has(id) {
		l.log.Error().
			Str("event", "plugin_duplicate").
			Str("plugin_id", id.String()).
			Str("path", b.Path).
			Msg("plugin identity already loaded")
		return Failed
	}

	p, err := l.runtime.Instantiate(ctx, b)
	if err != nil {
		l.log.Error().
			Err(err).
			Str("event", "plugin_instantiate_failed").
			Str("plugin_id", id.String()).
			Str("path", b.Path).
			Msg("failed to instantiate plugin")
		return Failed
	}
	if p.ID() != id {
		l.log.Error().
			Str("event", "plugin_identity_mismatch").
			Str("plugin_id", id.String()).
			Str("reported_id", p.ID().String()).
			Str("path", b.Path).
			Msg("plugin entry reports a different identity")
		l.registry.release(ctx, p)
		return Failed
	}

	meta := Meta{Path: b.Path, Version: b.Manifest.Version, System: b.Manifest.System}
	if err := l.registry.Activate(ctx, p, meta); err != nil {
		if IsRejected(err) {
			return FailedRejected
		}
		return Failed
	}

	return Loaded
}

// LoadDir loads every bundle under dir in lexical order, skipping lib directories.
func (l *Loader) LoadDir(ctx context.Context, dir string) (LoadSummary, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && d.Name() == libDir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(p), BundleExt) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	summary := make(LoadSummary)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary[l.Load(ctx, p)]++
	}

	l.log.Info().
		Str("event", "plugins_loaded").
		Str("dir", dir).
		Int("loaded", summary[Loaded]).
		Int("failed", summary[Failed]).
		Int("rejected", summary[FailedRejected]).
		Int("irrelevant", summary[FailedIrrelevant]).
		Msg("plugin directory scanned")

	return summary, nil
}

// EnsureDir creates the plugin directory if it does not exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
