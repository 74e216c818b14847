package plugins

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/andrei-cloud/go_pluginhost/pkg/guest"
	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// Global functions looked up in Lua scripts.
const (
	luaHandleRequest = "handle_request"
	luaHandleHook    = "handle_hook"
	luaOnLoad        = "on_load"
	luaOnUnload      = "on_unload"
)

var errLuaClosed = errors.New("lua state is closed")

// LuaRuntime instantiates Lua bundles, one sandboxed state per plugin.
type LuaRuntime struct {
	log zerolog.Logger
}

// NewLuaRuntime returns a Lua instantiator.
func NewLuaRuntime(logger zerolog.Logger) *LuaRuntime {
	return &LuaRuntime{log: logger}
}

// Instantiate implements Instantiator.
func (r *LuaRuntime) Instantiate(ctx context.Context, b *Bundle) (pluginapi.Plugin, error) {
	code, err := b.ReadEntry()
	if err != nil {
		return nil, err
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	p := &luaPlugin{
		declared: declared{bundle: b},
		L:        L,
		log:      r.log.With().Str("plugin_id", b.Manifest.ID).Logger(),
	}
	L.SetGlobal("host", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"debug": p.logFunc(zerolog.DebugLevel),
		"info":  p.logFunc(zerolog.InfoLevel),
		"error": p.logFunc(zerolog.ErrorLevel),
	}))

	err = p.do(ctx, func() error { return L.DoString(string(code)) })
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to run plugin script: %w", err)
	}

	required := []string{}
	if len(b.Manifest.Routes) > 0 {
		required = append(required, luaHandleRequest)
	}
	if len(b.Manifest.Hooks) > 0 {
		required = append(required, luaHandleHook)
	}
	for _, name := range required {
		if L.GetGlobal(name).Type() != lua.LTFunction {
			L.Close()
			return nil, fmt.Errorf("%w: %s", ErrMissingExport, name)
		}
	}

	return p, nil
}

// openSafeLibraries opens only the Lua libraries without file or process access.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// luaPlugin is a bundle backed by a Lua script. LState is not goroutine-safe, so
// every call holds mu.
type luaPlugin struct {
	declared

	mu     sync.Mutex
	L      *lua.LState
	closed bool
	log    zerolog.Logger
}

func (p *luaPlugin) logFunc(level zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		p.log.WithLevel(level).
			Str("event", "plugin_log").
			Str("source", "lua").
			Msg(L.CheckString(1))
		return 0
	}
}

// do runs fn with ctx attached to the state, converting panics into errors.
func (p *luaPlugin) do(ctx context.Context, fn func() error) (err error) {
	p.L.SetContext(ctx)
	defer p.L.RemoveContext()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	return fn()
}

// call invokes the global function name. A missing function yields no results and
// ok=false.
func (p *luaPlugin) call(ctx context.Context, name string, args ...lua.LValue) (results []lua.LValue, ok bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false, errLuaClosed
	}

	fn := p.L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return nil, false, nil
	}

	top := p.L.GetTop()
	err = p.do(ctx, func() error {
		p.L.Push(fn)
		for _, a := range args {
			p.L.Push(a)
		}
		return p.L.PCall(len(args), lua.MultRet, nil)
	})
	if err != nil {
		p.L.SetTop(top)
		return nil, true, err
	}

	n := p.L.GetTop() - top
	results = make([]lua.LValue, 0, n)
	for i := 1; i <= n; i++ {
		results = append(results, p.L.Get(top+i))
	}
	p.L.Pop(n)

	return results, true, nil
}

func (p *luaPlugin) OnLoad(ctx context.Context) error {
	results, _, err := p.call(ctx, luaOnLoad)
	if err != nil {
		return fmt.Errorf("%s: %w", luaOnLoad, err)
	}
	if len(results) > 0 && results[0] == lua.LFalse {
		return fmt.Errorf("%s returned false", luaOnLoad)
	}

	return nil
}

func (p *luaPlugin) OnUnload(ctx context.Context) {
	if _, _, err := p.call(ctx, luaOnUnload); err != nil {
		p.log.Warn().Err(err).Str("event", "plugin_unload_failed").Msg("on_unload failed")
	}
}

func (p *luaPlugin) HandleHook(ctx context.Context, event string, args ...any) bool {
	largs := make([]lua.LValue, 0, len(args)+1)
	largs = append(largs, lua.LString(event))
	for _, a := range hookArgs(args) {
		largs = append(largs, lua.LString(a))
	}

	results, _, err := p.call(ctx, luaHandleHook, largs...)
	if err != nil {
		p.log.Warn().Err(err).Str("event", "plugin_hook_failed").Str("hook", event).Msg("hook handler failed")
		return false
	}

	return len(results) > 0 && lua.LVAsBool(results[0])
}

func (p *luaPlugin) HandleRequest(ctx context.Context, req *pluginapi.Request) (bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false, errLuaClosed
	}
	tbl := p.requestTable(req)
	p.mu.Unlock()

	results, _, err := p.call(ctx, luaHandleRequest, tbl)
	if err != nil {
		return false, err
	}
	if len(results) == 0 || !lua.LVAsBool(results[0]) {
		return false, nil
	}

	var resp guest.Response
	if len(results) > 1 {
		if rt, ok := results[1].(*lua.LTable); ok {
			p.mu.Lock()
			resp = responseFromTable(rt)
			p.mu.Unlock()
		}
	}
	resp.Claimed = true
	applyResponse(req, resp)

	return true, nil
}

func (p *luaPlugin) requestTable(req *pluginapi.Request) *lua.LTable {
	L := p.L
	t := L.NewTable()
	t.RawSetString("path", lua.LString(req.Path))
	t.RawSetString("method", lua.LString(req.Method))
	t.RawSetString("remote_addr", lua.LString(req.RemoteAddr))

	segs := L.NewTable()
	for _, s := range req.Segments {
		segs.Append(lua.LString(s))
	}
	t.RawSetString("segments", segs)

	form := L.NewTable()
	for k, v := range req.Form {
		if len(v) > 0 {
			form.RawSetString(k, lua.LString(v[0]))
		}
	}
	t.RawSetString("form", form)

	sess := L.NewTable()
	if req.Session != nil {
		for k, v := range req.Session.Values {
			sess.RawSetString(k, lua.LString(v))
		}
	}
	t.RawSetString("session", sess)

	return t
}

func responseFromTable(t *lua.LTable) guest.Response {
	var resp guest.Response
	if v, ok := t.RawGetString("status").(lua.LNumber); ok {
		resp.Status = int(v)
	}
	resp.ContentType = stringField(t, "content_type")
	resp.Body = stringField(t, "body")
	resp.Page = stringField(t, "page")

	if dt, ok := t.RawGetString("data").(*lua.LTable); ok {
		if m, ok := luaToGo(dt).(map[string]any); ok {
			resp.Data = m
		}
	}
	if st, ok := t.RawGetString("session").(*lua.LTable); ok {
		resp.Session = make(map[string]string)
		st.ForEach(func(k, v lua.LValue) {
			resp.Session[k.String()] = v.String()
		})
	}

	return resp
}

func stringField(t *lua.LTable, key string) string {
	if v, ok := t.RawGetString(key).(lua.LString); ok {
		return string(v)
	}

	return ""
}

// maxTableDepth bounds the nesting of tables converted from Lua.
const maxTableDepth = 32

// luaToGo converts Lua values to Go values. Tables with a non-zero array length
// become slices, other tables become maps. A table that contains itself, directly or
// through its children, and tables nested deeper than maxTableDepth convert to nil.
func luaToGo(v lua.LValue) any {
	return toGo(v, make(map[*lua.LTable]struct{}), 0)
}

func toGo(v lua.LValue, seen map[*lua.LTable]struct{}, depth int) any {
	switch v := v.(type) {
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return float64(v)
	case lua.LBool:
		return bool(v)
	case *lua.LTable:
		if _, ok := seen[v]; ok || depth >= maxTableDepth {
			return nil
		}
		seen[v] = struct{}{}
		defer delete(seen, v)

		if n := v.Len(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, toGo(v.RawGetInt(i), seen, depth+1))
			}
			return out
		}
		out := make(map[string]any)
		v.ForEach(func(k, val lua.LValue) {
			out[k.String()] = toGo(val, seen, depth+1)
		})
		return out
	default:
		return nil
	}
}

// Release closes the Lua state.
func (p *luaPlugin) Release(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.L.Close()
		p.closed = true
	}

	return nil
}
