package plugins

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

const luaManifest = `id: 22222222-2222-2222-2222-222222222222
entry: main.lua
title: Lua Blog
hooks: [core.web.request_start]
routes: [blog]
`

const luaScript = `
local started = 0

function on_load()
  host.info("blog ready")
  return true
end

function handle_hook(event, ...)
  started = started + 1
  return event == "core.web.request_start"
end

function handle_request(req)
  if req.segments[2] == "skip" then
    return false
  end
  local session = { visits = "1" }
  if req.session.visits then
    session.visits = req.session.visits .. "+"
  end
  return true, {
    status = 201,
    page = "blog/post",
    data = { title = "Post " .. (req.segments[2] or "index"), tags = { "a", "b" } },
    session = session,
  }
end
`

func luaBundle(t *testing.T, manifest, script string) *Bundle {
	t.Helper()

	b, err := NewBundle("blog.plugin", fstest.MapFS{
		ManifestName: {Data: []byte(manifest)},
		"main.lua":   {Data: []byte(script)},
	})
	require.NoError(t, err)

	return b
}

func newLuaPlugin(t *testing.T, manifest, script string) *luaPlugin {
	t.Helper()

	p, err := NewLuaRuntime(zerolog.Nop()).Instantiate(context.Background(), luaBundle(t, manifest, script))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.(*luaPlugin).Release(context.Background()) })

	return p.(*luaPlugin)
}

func TestLuaRequest(t *testing.T) {
	t.Parallel()

	p := newLuaPlugin(t, luaManifest, luaScript)
	require.NoError(t, p.OnLoad(context.Background()))

	req := &pluginapi.Request{
		Path:     "blog/hello",
		Segments: []string{"blog", "hello"},
		Session:  pluginapi.NewSession("s1"),
		Response: &pluginapi.Response{},
	}
	claimed, err := p.HandleRequest(context.Background(), req)
	require.NoError(t, err)
	require.True(t, claimed)

	assert.Equal(t, 201, req.Response.Status)
	assert.Equal(t, "blog/post", req.Response.Page)
	assert.Equal(t, "Post hello", req.Response.Data["title"])
	assert.Equal(t, []any{"a", "b"}, req.Response.Data["tags"])
	v, _ := req.Session.Get("visits")
	assert.Equal(t, "1", v)
	assert.True(t, req.Session.Dirty())

	skip := &pluginapi.Request{Segments: []string{"blog", "skip"}, Response: &pluginapi.Response{}}
	claimed, err = p.HandleRequest(context.Background(), skip)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestLuaHook(t *testing.T) {
	t.Parallel()

	p := newLuaPlugin(t, luaManifest, luaScript)
	assert.True(t, p.HandleHook(context.Background(), "core.web.request_start", 1))
	assert.False(t, p.HandleHook(context.Background(), "other"))
}

func TestLuaErrors(t *testing.T) {
	t.Parallel()

	rt := NewLuaRuntime(zerolog.Nop())

	_, err := rt.Instantiate(context.Background(), luaBundle(t, luaManifest, "function handle_hook() end"))
	require.ErrorIs(t, err, ErrMissingExport)

	_, err = rt.Instantiate(context.Background(), luaBundle(t, luaManifest, "this is not lua"))
	require.Error(t, err)

	p := newLuaPlugin(t, luaManifest, luaScript+"\nfunction on_load() return false end\n")
	require.Error(t, p.OnLoad(context.Background()))

	p = newLuaPlugin(t, luaManifest, luaScript+"\nfunction handle_request(req) error('bad') end\n")
	_, err = p.HandleRequest(context.Background(), &pluginapi.Request{Response: &pluginapi.Response{}})
	require.Error(t, err)
}

func TestLuaSandbox(t *testing.T) {
	t.Parallel()

	p := newLuaPlugin(t, luaManifest, luaScript+"\nfunction on_load() return os == nil and io == nil end\n")
	require.NoError(t, p.OnLoad(context.Background()))
}

func TestLuaReleased(t *testing.T) {
	t.Parallel()

	p := newLuaPlugin(t, luaManifest, luaScript)
	require.NoError(t, p.Release(context.Background()))

	_, err := p.HandleRequest(context.Background(), &pluginapi.Request{Response: &pluginapi.Response{}})
	require.ErrorIs(t, err, errLuaClosed)
}

func TestLuaCyclicData(t *testing.T) {
	t.Parallel()

	script := luaScript + `
function handle_request(req)
  local d = { name = "loop" }
  d.self = d
  local deep = {}
  local cur = deep
  for i = 1, 100 do
    cur.next = {}
    cur = cur.next
  end
  d.deep = deep
  return true, { data = d }
end
`
	p := newLuaPlugin(t, luaManifest, script)

	req := &pluginapi.Request{Response: &pluginapi.Response{}}
	claimed, err := p.HandleRequest(context.Background(), req)
	require.NoError(t, err)
	require.True(t, claimed)

	assert.Equal(t, "loop", req.Response.Data["name"])
	assert.Nil(t, req.Response.Data["self"])

	depth := 0
	for cur, ok := req.Response.Data["deep"].(map[string]any); ok; cur, ok = cur["next"].(map[string]any) {
		depth++
	}
	assert.Less(t, depth, maxTableDepth)
}

func TestLuaToGoSharedTables(t *testing.T) {
	t.Parallel()

	L := lua.NewState()
	defer L.Close()

	shared := L.NewTable()
	shared.RawSetString("k", lua.LString("v"))
	root := L.NewTable()
	root.RawSetString("a", shared)
	root.RawSetString("b", shared)

	got, ok := luaToGo(root).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"k": "v"}, got["a"])
	assert.Equal(t, map[string]any{"k": "v"}, got["b"])
}
