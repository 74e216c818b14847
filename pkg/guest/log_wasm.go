//go:build wasip1 || tinygo.wasm

package guest

import "unsafe"

//go:wasmimport env log_debug
func logDebug(ptr, size uint32)

//go:wasmimport env log_info
func logInfo(ptr, size uint32)

//go:wasmimport env log_error
func logError(ptr, size uint32)

func send(fn func(ptr, size uint32), msg string) {
	if msg == "" {
		return
	}
	//nolint:gosec // linear memory addresses fit in 32 bits.
	fn(uint32(uintptr(unsafe.Pointer(unsafe.StringData(msg)))), uint32(len(msg)))
}

// LogDebug logs a message through the host logger.
func LogDebug(msg string) { send(logDebug, msg) }

// LogInfo logs a message through the host logger.
func LogInfo(msg string) { send(logInfo, msg) }

// LogError logs a message through the host logger.
func LogError(msg string) { send(logError, msg) }
