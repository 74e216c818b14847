package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/andrei-cloud/go_pluginhost/pkg/guest"
	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// ErrMissingExport is returned when a module lacks an export its manifest requires.
var ErrMissingExport = errors.New("module missing required export")

// WasmRuntime instantiates WebAssembly bundles in a shared wazero runtime.
type WasmRuntime struct {
	rt       wazero.Runtime
	poolSize int
	log      zerolog.Logger
	seq      atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// NewWasmRuntime creates the runtime with WASI and the host function module.
// poolSize bounds the instances created per plugin.
func NewWasmRuntime(ctx context.Context, poolSize int, logger zerolog.Logger) (*WasmRuntime, error) {
	rt := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	hf := &hostFunctions{log: logger}
	if err := hf.register(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	return &WasmRuntime{rt: rt, poolSize: poolSize, log: logger}, nil
}

// Instantiate implements Instantiator.
func (w *WasmRuntime) Instantiate(ctx context.Context, b *Bundle) (pluginapi.Plugin, error) {
	code, err := b.ReadEntry()
	if err != nil {
		return nil, err
	}

	compiled, err := w.rt.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile plugin module: %w", err)
	}

	if err := checkExports(compiled, b.Manifest); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	p := &wasmPlugin{
		declared: declared{bundle: b},
		compiled: compiled,
		log:      w.log.With().Str("plugin_id", b.Manifest.ID).Logger(),
	}
	p.pool = newInstancePool(w.poolSize, func(ctx context.Context) (*wasmInstance, error) {
		return w.instantiate(ctx, compiled, b.Manifest.PluginID())
	})

	// The first instance is created eagerly so broken modules fail at load time.
	inst, err := p.pool.Get(ctx)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}
	p.pool.Put(inst)

	return p, nil
}

func (w *WasmRuntime) instantiate(ctx context.Context, compiled wazero.CompiledModule, id pluginapi.ID) (*wasmInstance, error) {
	name := fmt.Sprintf("%s#%d", id, w.seq.Add(1))
	cfg := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions("_initialize")

	mod, err := w.rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate plugin module: %w", err)
	}

	return &wasmInstance{
		mod:   mod,
		alloc: mod.ExportedFunction(guest.ExportAlloc),
		free:  mod.ExportedFunction(guest.ExportFree),
	}, nil
}

// Close closes the runtime and every module instantiated in it.
func (w *WasmRuntime) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	return w.rt.Close(ctx)
}

func checkExports(compiled wazero.CompiledModule, m Manifest) error {
	exports := compiled.ExportedFunctions()
	required := []string{guest.ExportAlloc, guest.ExportFree}
	if len(m.Routes) > 0 {
		required = append(required, guest.ExportHandleRequest)
	}
	if len(m.Hooks) > 0 {
		required = append(required, guest.ExportHandleHook)
	}

	for _, name := range required {
		if _, ok := exports[name]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingExport, name)
		}
	}

	return nil
}

// wasmPlugin is a bundle backed by a WebAssembly module.
type wasmPlugin struct {
	declared

	compiled wazero.CompiledModule
	pool     *instancePool
	log      zerolog.Logger
}

// call runs fn on a pooled instance. Instances that trap are discarded.
func (p *wasmPlugin) call(ctx context.Context, fn func(inst *wasmInstance) error) error {
	inst, err := p.pool.Get(ctx)
	if err != nil {
		return err
	}

	if err := fn(inst); err != nil {
		p.pool.Discard(ctx, inst)
		return err
	}
	p.pool.Put(inst)

	return nil
}

func (p *wasmPlugin) OnLoad(ctx context.Context) error {
	return p.call(ctx, func(inst *wasmInstance) error {
		fn := inst.mod.ExportedFunction(guest.ExportOnLoad)
		if fn == nil {
			return nil
		}

		results, err := fn.Call(ctx)
		if err != nil {
			return fmt.Errorf("OnLoad: %w", err)
		}
		if len(results) > 0 && api.DecodeI32(results[0]) != 0 {
			return fmt.Errorf("OnLoad returned %d", api.DecodeI32(results[0]))
		}

		return nil
	})
}

func (p *wasmPlugin) OnUnload(ctx context.Context) {
	err := p.call(ctx, func(inst *wasmInstance) error {
		fn := inst.mod.ExportedFunction(guest.ExportOnUnload)
		if fn == nil {
			return nil
		}
		_, err := fn.Call(ctx)
		return err
	})
	if err != nil {
		p.log.Warn().Err(err).Str("event", "plugin_unload_failed").Msg("OnUnload failed")
	}
}

func (p *wasmPlugin) HandleHook(ctx context.Context, event string, args ...any) bool {
	call := guest.HookCall{Event: event, Args: hookArgs(args)}
	input, err := json.Marshal(call)
	if err != nil {
		return false
	}

	handled := false
	err = p.call(ctx, func(inst *wasmInstance) error {
		fn := inst.mod.ExportedFunction(guest.ExportHandleHook)
		if fn == nil {
			return nil
		}

		packed, err := callPacked(ctx, inst, fn, input)
		if err != nil {
			return err
		}
		handled = packed != 0

		return nil
	})
	if err != nil {
		p.log.Warn().Err(err).Str("event", "plugin_hook_failed").Str("hook", event).Msg("hook handler failed")
		return false
	}

	return handled
}

func (p *wasmPlugin) HandleRequest(ctx context.Context, req *pluginapi.Request) (bool, error) {
	wire := guest.Request{
		Path:       req.Path,
		Method:     req.Method,
		RemoteAddr: req.RemoteAddr,
		Headers:    req.Headers,
		Form:       req.Form,
		Body:       req.Body,
	}
	if req.Session != nil {
		wire.Session = req.Session.Values
	}

	input, err := json.Marshal(wire)
	if err != nil {
		return false, fmt.Errorf("encode request: %w", err)
	}

	var out []byte
	err = p.call(ctx, func(inst *wasmInstance) error {
		fn := inst.mod.ExportedFunction(guest.ExportHandleRequest)
		if fn == nil {
			return nil
		}

		packed, err := callPacked(ctx, inst, fn, input)
		if err != nil {
			return err
		}
		out, err = readResult(ctx, inst, packed)

		return err
	})
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, nil
	}

	var resp guest.Response
	if err := json.Unmarshal(out, &resp); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	if !resp.Claimed {
		return false, nil
	}
	applyResponse(req, resp)

	return true, nil
}

// applyResponse copies a guest response onto the request.
func applyResponse(req *pluginapi.Request, resp guest.Response) {
	if resp.Status != 0 {
		req.Response.Status = resp.Status
	}
	if resp.Page != "" {
		req.Response.Page = resp.Page
	}
	for k, v := range resp.Data {
		req.SetData(k, v)
	}
	if resp.Body != "" {
		req.Write(resp.ContentType, []byte(resp.Body))
	} else if resp.ContentType != "" {
		req.Response.ContentType = resp.ContentType
	}
	if req.Session != nil {
		for k, v := range resp.Session {
			if cur, ok := req.Session.Get(k); !ok || cur != v {
				req.Session.Set(k, v)
			}
		}
	}
}

// Release closes every instance and the compiled module.
func (p *wasmPlugin) Release(ctx context.Context) error {
	return errors.Join(p.pool.Close(ctx), p.compiled.Close(ctx))
}
