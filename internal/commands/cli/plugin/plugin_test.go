package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andrei-cloud/go_pluginhost/internal/plugins"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloManifest = `id: 77777777-7777-7777-7777-777777777777
entry: main.lua
title: Hello
version: 0.1.0
routes:
  - hello
`

func writeSource(t *testing.T, dir string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates", "hello"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, plugins.ManifestName), []byte(helloManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte("function handle_request(req) return true end\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates", "hello", "index.template"), []byte("<p>hi</p>"), 0o644))
}

func TestPackAndScan(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src", "hello")
	writeSource(t, src)

	out := filepath.Join(root, "plugins", "hello"+plugins.BundleExt)
	require.NoError(t, os.MkdirAll(filepath.Dir(out), 0o755))

	m, err := packBundle(src, out)
	require.NoError(t, err)
	assert.Equal(t, "Hello", m.Title)

	b, err := plugins.OpenBundle(out)
	require.NoError(t, err)
	assert.Equal(t, plugins.RuntimeLua, b.Manifest.Runtime)
	assert.True(t, b.HasTemplates())

	require.NoError(t, os.WriteFile(filepath.Join(root, "plugins", "broken"+plugins.BundleExt), []byte("junk"), 0o644))

	bundles, err := scanBundles(filepath.Join(root, "plugins"))
	require.NoError(t, err)
	require.Len(t, bundles, 2)
	require.Error(t, bundles[0].Err)
	assert.Equal(t, "Hello", bundles[1].Manifest.Title)
}

func TestPackRejectsInvalidSource(t *testing.T) {
	dir := t.TempDir()
	_, err := packBundle(dir, filepath.Join(t.TempDir(), "x.plugin"))
	require.ErrorIs(t, err, plugins.ErrNoManifest)

	writeSource(t, dir)
	require.NoError(t, os.Remove(filepath.Join(dir, "main.lua")))
	out := filepath.Join(t.TempDir(), "x.plugin")
	_, err = packBundle(dir, out)
	require.Error(t, err)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBrowseModel(t *testing.T) {
	m := newBrowseModel([]bundleInfo{
		{Path: "a.plugin", Err: errors.New("bad zip")},
		{Path: "b.plugin", Manifest: plugins.Manifest{Title: "Blog", Entry: "blog.wasm", Runtime: "wasm", Routes: []string{"blog"}}},
	})

	assert.Contains(t, m.View(), "(invalid bundle)")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(browseModel)
	assert.Equal(t, 1, m.cursor)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(browseModel)
	assert.Equal(t, 1, m.cursor)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(browseModel)
	assert.True(t, m.expanded)
	assert.Contains(t, m.View(), "Routes:  blog")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m = next.(browseModel)
	assert.True(t, m.quit)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}
