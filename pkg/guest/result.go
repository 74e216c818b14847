package guest

// PackResult combines a pointer and a length into a single uint64 result.
func PackResult(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// UnpackResult splits a packed result into pointer and length.
func UnpackResult(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}

// WriteResult copies data into freshly allocated memory and returns it packed.
// The host frees it after reading.
func WriteResult(data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	ptr := Alloc(uint32(len(data)))
	WriteBytes(ptr, data)

	return PackResult(ptr, uint32(len(data)))
}

// Input returns the bytes of a packed argument passed by the host.
func Input(packed uint64) []byte {
	ptr, length := UnpackResult(packed)
	if length == 0 {
		return nil
	}

	return ReadBytes(ptr, length)
}
