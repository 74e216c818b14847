package plugins

// testModule assembles a WebAssembly module speaking the guest protocol. Alloc is
// a bump allocator over one page of memory and Free does nothing. HandleRequest
// returns response from a data segment, HandleHook returns 1 and OnLoad returns onLoad.
func testModule(response string, onLoad int32) []byte {
	const (
		i32 = 0x7f
		i64 = 0x7e
		end = 0x0b

		responseOffset = 16
	)

	types := vec(
		[]byte{0x60, 1, i32, 1, i32}, // Alloc
		[]byte{0x60, 1, i32, 0},      // Free
		[]byte{0x60, 1, i64, 1, i64}, // HandleRequest, HandleHook
		[]byte{0x60, 0, 1, i32},      // OnLoad
	)
	funcs := vec([]byte{0}, []byte{1}, []byte{2}, []byte{2}, []byte{3})
	memory := vec([]byte{0x00, 1})
	globals := vec(append([]byte{i32, 0x01, 0x41}, append(sleb(1024), end)...))
	exports := vec(
		export("memory", 0x02, 0),
		export("Alloc", 0x00, 0),
		export("Free", 0x00, 1),
		export("HandleRequest", 0x00, 2),
		export("HandleHook", 0x00, 3),
		export("OnLoad", 0x00, 4),
	)

	var packed int64
	if response != "" {
		packed = responseOffset<<32 | int64(len(response))
	}
	code := vec(
		body(0x23, 0, 0x23, 0, 0x20, 0, 0x6a, 0x24, 0, end),
		body(end),
		body(append(append([]byte{0x42}, sleb(packed)...), end)...),
		body(0x42, 1, end),
		body(append(append([]byte{0x41}, sleb(int64(onLoad))...), end)...),
	)
	data := vec(append(
		[]byte{0x00, 0x41, responseOffset, end},
		append(uleb(uint64(len(response))), response...)...,
	))

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, types)...)
	out = append(out, section(3, funcs)...)
	out = append(out, section(5, memory)...)
	out = append(out, section(6, globals)...)
	out = append(out, section(7, exports)...)
	out = append(out, section(10, code)...)
	out = append(out, section(11, data)...)

	return out
}

func section(id byte, payload []byte) []byte {
	return append(append([]byte{id}, uleb(uint64(len(payload)))...), payload...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}

	return out
}

func export(name string, kind, index byte) []byte {
	out := append(uleb(uint64(len(name))), name...)
	return append(out, kind, index)
}

// body prefixes instructions with an empty locals vector and the body size.
func body(instrs ...byte) []byte {
	b := append([]byte{0}, instrs...)
	return append(uleb(uint64(len(b))), b...)
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, c|0x80)
			continue
		}

		return append(out, c)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(out, c)
		}
		out = append(out, c|0x80)
	}
}
