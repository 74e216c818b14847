package plugins

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// BundleExt is the file extension of packed bundles.
const BundleExt = ".plugin"

// TemplatesDir holds a bundle's templates.
const TemplatesDir = "templates"

// Bundle is an opened plugin archive.
type Bundle struct {
	Path     string
	Manifest Manifest
	Files    fs.FS
}

// OpenBundle reads the archive at path into memory.
func OpenBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoManifest, err)
	}

	return NewBundle(path, zr)
}

// NewBundle builds a bundle over an already opened file system.
func NewBundle(path string, fsys fs.FS) (*Bundle, error) {
	raw, err := fs.ReadFile(fsys, ManifestName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoManifest, err)
	}

	m, err := ParseManifest(raw)
	if err != nil {
		return nil, err
	}

	return &Bundle{Path: path, Manifest: m, Files: fsys}, nil
}

// HasTemplates reports whether the bundle ships a templates directory.
func (b *Bundle) HasTemplates() bool {
	fi, err := fs.Stat(b.Files, TemplatesDir)
	return err == nil && fi.IsDir()
}

// ReadEntry returns the bytes of the manifest entry.
func (b *Bundle) ReadEntry() ([]byte, error) {
	data, err := fs.ReadFile(b.Files, b.Manifest.Entry)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("entry %q not found in bundle", b.Manifest.Entry)
	}

	return data, err
}
