//go:build tinygo.wasm || wasip1

// Command hello is an example plugin. Build it with
//
//	tinygo build -o hello.wasm -target=wasi -no-debug ./plugins/hello
//
// and pack the directory with "pluginhost plugin pack".
package main

import (
	"encoding/json"
	"strconv"

	"github.com/andrei-cloud/go_pluginhost/pkg/guest"
)

func main() {}

//export Alloc
func Alloc(size uint32) uint32 {
	return guest.Alloc(size)
}

//export Free
func Free(ptr uint32) {
	guest.Free(ptr)
}

//export OnLoad
func OnLoad() int32 {
	guest.LogInfo("hello plugin loaded")
	return 0
}

//export HandleRequest
func HandleRequest(packed uint64) uint64 {
	var req guest.Request
	if err := json.Unmarshal(guest.Input(packed), &req); err != nil {
		guest.LogError("bad request: " + err.Error())
		return 0
	}

	name := "stranger"
	if v := req.Form["name"]; len(v) > 0 && v[0] != "" {
		name = v[0]
	}
	visits, _ := strconv.Atoi(req.Session["hello.visits"])
	visits++

	resp := guest.Response{
		Claimed: true,
		Data: map[string]any{
			"title":   "Hello",
			"content": "hello/index",
			"name":    name,
			"visits":  visits,
		},
		Session: map[string]string{"hello.visits": strconv.Itoa(visits)},
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return 0
	}

	return guest.WriteResult(out)
}

//export HandleHook
func HandleHook(packed uint64) uint64 {
	var call guest.HookCall
	if err := json.Unmarshal(guest.Input(packed), &call); err != nil {
		return 0
	}
	guest.LogDebug("hook " + call.Event)

	// Never consume the event; the core plugin owns cleanup.
	return 0
}
