package plugins

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrei-cloud/go_pluginhost/pkg/guest"
	"github.com/tetratelabs/wazero/api"
)

// allocBuffer allocates guest memory via the Alloc export and writes data into it,
// returning the guest address.
func allocBuffer(ctx context.Context, inst *wasmInstance, data []byte) (uint32, error) {
	length := uint32(len(data))
	if length == 0 {
		return 0, nil
	}

	results, err := inst.alloc.Call(ctx, uint64(length))
	if err != nil {
		return 0, fmt.Errorf("alloc failed: %w", err)
	}
	if len(results) < 1 {
		return 0, errors.New("alloc returned no results")
	}

	ptr := api.DecodeU32(results[0])
	if err := writeMemory(inst.mod, ptr, data); err != nil {
		return 0, err
	}

	return ptr, nil
}

// freeBuffer releases guest memory obtained from Alloc.
func freeBuffer(ctx context.Context, inst *wasmInstance, ptr uint32) {
	if ptr == 0 {
		return
	}
	_, _ = inst.free.Call(ctx, api.EncodeU32(ptr))
}

// callPacked writes input into guest memory, calls fn with the packed pointer and length
// and returns the guest's packed result.
func callPacked(ctx context.Context, inst *wasmInstance, fn api.Function, input []byte) (uint64, error) {
	ptr, err := allocBuffer(ctx, inst, input)
	if err != nil {
		return 0, err
	}
	defer freeBuffer(ctx, inst, ptr)

	results, err := fn.Call(ctx, guest.PackResult(ptr, uint32(len(input))))
	if err != nil {
		return 0, fmt.Errorf("execution failed: %w", err)
	}
	if len(results) < 1 {
		return 0, errors.New("invalid execution result")
	}

	return results[0], nil
}

// readResult copies a packed guest result out of linear memory and frees it.
func readResult(ctx context.Context, inst *wasmInstance, packed uint64) ([]byte, error) {
	ptr, length := guest.UnpackResult(packed)
	if length == 0 {
		return nil, nil
	}
	defer freeBuffer(ctx, inst, ptr)

	data, err := readMemory(inst.mod, ptr, length)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}
