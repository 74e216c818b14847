package plugins

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// hostModule is the module name guests import host functions from.
const hostModule = "env"

// hostFunctions provides the functions WASM plugins import from the host.
type hostFunctions struct {
	log zerolog.Logger
}

// register instantiates the env module in rt.
func (h *hostFunctions) register(ctx context.Context, rt wazero.Runtime) error {
	builder := rt.NewHostModuleBuilder(hostModule)

	builder.NewFunctionBuilder().
		WithFunc(h.logger(zerolog.DebugLevel)).
		Export("log_debug")

	builder.NewFunctionBuilder().
		WithFunc(h.logger(zerolog.InfoLevel)).
		Export("log_info")

	builder.NewFunctionBuilder().
		WithFunc(h.logger(zerolog.ErrorLevel)).
		Export("log_error")

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("failed to instantiate host functions module: %w", err)
	}

	return nil
}

func (h *hostFunctions) logger(level zerolog.Level) func(context.Context, api.Module, uint32, uint32) {
	return func(_ context.Context, mod api.Module, ptr, size uint32) {
		data, err := readMemory(mod, ptr, size)
		if err != nil {
			h.log.Error().Err(err).Str("event", "plugin_log_failed").Msg("failed to read plugin log message")
			return
		}

		h.log.WithLevel(level).
			Str("event", "plugin_log").
			Str("source", "wasm").
			Str("module", mod.Name()).
			Msg(string(data))
	}
}

// readMemory safely reads bytes from WASM module memory.
func readMemory(mod api.Module, ptr, size uint32) ([]byte, error) {
	if mod == nil {
		return nil, fmt.Errorf("nil module")
	}

	memory := mod.Memory()
	if memory == nil {
		return nil, fmt.Errorf("no memory exported")
	}

	data, ok := memory.Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("failed to read memory at %d[%d]", ptr, size)
	}

	return data, nil
}

// writeMemory safely writes bytes to WASM module memory.
func writeMemory(mod api.Module, ptr uint32, data []byte) error {
	if mod == nil {
		return fmt.Errorf("nil module")
	}

	memory := mod.Memory()
	if memory == nil {
		return fmt.Errorf("no memory exported")
	}

	if !memory.Write(ptr, data) {
		return fmt.Errorf("failed to write memory at %d[%d]", ptr, len(data))
	}

	return nil
}
