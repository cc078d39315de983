// Command profileagent-ffi is the C-ABI shim from §6, built with
// `go build -buildmode=c-shared` (or c-archive) to link into a host
// runtime that cannot call Go directly. It exposes initialize_agent,
// drop_agent, and the four tag-mutation entry points; everything else
// (process introspection, the actual sampling backend choice) is fixed
// to backend.Void here since a real embedding would choose its backend
// at the call site in Go, not across the FFI boundary.
package main

import "C"

import (
	"github.com/wingprofile/agent/internal/ffi"
)

//export initialize_agent
func initialize_agent(applicationName, url *C.char, sampleRateHz C.int) C.int {
	err := ffi.Global().InitializeAgent(C.GoString(applicationName), C.GoString(url), nil, int(sampleRateHz))
	return boolToC(err == nil)
}

//export drop_agent
func drop_agent() C.int {
	return boolToC(ffi.Global().DropAgent() == nil)
}

//export add_global_tag
func add_global_tag(key, value *C.char) C.int {
	return boolToC(ffi.Global().AddGlobalTag(C.GoString(key), C.GoString(value)) == nil)
}

//export remove_global_tag
func remove_global_tag(key, value *C.char) C.int {
	return boolToC(ffi.Global().RemoveGlobalTag(C.GoString(key), C.GoString(value)) == nil)
}

//export add_thread_tag
func add_thread_tag(threadID, key, value *C.char) C.int {
	err := ffi.Global().AddThreadTag(C.GoString(threadID), C.GoString(key), C.GoString(value))
	return boolToC(err == nil)
}

//export remove_thread_tag
func remove_thread_tag(threadID, key, value *C.char) C.int {
	err := ffi.Global().RemoveThreadTag(C.GoString(threadID), C.GoString(key), C.GoString(value))
	return boolToC(err == nil)
}

func boolToC(ok bool) C.int {
	if ok {
		return 1
	}
	return 0
}

func main() {}
