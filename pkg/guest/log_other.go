//go:build !(wasip1 || tinygo.wasm)

package guest

// LogDebug is a no-op outside WebAssembly.
func LogDebug(string) {}

// LogInfo is a no-op outside WebAssembly.
func LogInfo(string) {}

// LogError is a no-op outside WebAssembly.
func LogError(string) {}
