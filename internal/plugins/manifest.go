package plugins

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"gopkg.in/yaml.v3"
)

// ManifestName is the manifest entry inside a bundle.
const ManifestName = "plugin.yaml"

// DefaultTitle is used when a manifest declares no title.
const DefaultTitle = "Untitled Plugin"

// Runtime names.
const (
	RuntimeWasm    = "wasm"
	RuntimeLua     = "lua"
	RuntimeBuiltin = "builtin"
)

// Manifest errors.
var (
	ErrNoManifest      = errors.New("bundle has no manifest")
	ErrInvalidManifest = errors.New("invalid manifest")
)

// Manifest describes a bundle.
type Manifest struct {
	ID      string   `yaml:"id"`
	Entry   string   `yaml:"entry"`
	Title   string   `yaml:"title"`
	Version string   `yaml:"version"`
	System  bool     `yaml:"system"`
	Runtime string   `yaml:"runtime"`
	Hooks   []string `yaml:"hooks"`
	Routes  []string `yaml:"routes"`

	id pluginapi.ID
}

// ParseManifest decodes a manifest. A document that is not YAML wraps ErrNoManifest;
// a document with missing or invalid fields wraps ErrInvalidManifest.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrNoManifest, err)
	}
	if err := m.normalize(); err != nil {
		return Manifest{}, err
	}

	return m, nil
}

func (m *Manifest) normalize() error {
	id, err := pluginapi.ParseID(m.ID)
	if err != nil {
		return fmt.Errorf("%w: id %q: %w", ErrInvalidManifest, m.ID, err)
	}
	m.id = id

	m.Entry = strings.TrimSpace(m.Entry)
	if m.Entry == "" {
		return fmt.Errorf("%w: missing entry", ErrInvalidManifest)
	}

	m.Title = strings.TrimSpace(m.Title)
	if m.Title == "" {
		m.Title = DefaultTitle
	}

	m.Runtime = strings.ToLower(strings.TrimSpace(m.Runtime))
	if m.Runtime == "" {
		switch path.Ext(m.Entry) {
		case ".wasm":
			m.Runtime = RuntimeWasm
		case ".lua":
			m.Runtime = RuntimeLua
		default:
			m.Runtime = RuntimeBuiltin
		}
	}

	return nil
}

// PluginID returns the parsed identity.
func (m Manifest) PluginID() pluginapi.ID {
	return m.id
}
