// Command libdiplomacy builds the bridge as a C shared library:
//
//	go build -buildmode=c-shared -o libdiplomacy.so ./cmd/libdiplomacy
//
// Buffers returned by receive_envoy are allocated with malloc and must be
// handed back through release_envoy, never freed by the caller.
package main

/*
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"unsafe"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/api/native"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
)

var (
	lib = native.New(cAllocator{}, nil)

	// Static strings live for the life of the process.
	versionText = C.CString(envoy.Version)
	statusTexts = func() map[envoy.Status]*C.char {
		texts := make(map[envoy.Status]*C.char)
		for _, s := range envoy.Statuses() {
			texts[s] = C.CString(s.Description())
		}
		return texts
	}()
	unknownStatusText = C.CString("unknown status")
)

//export establish_relations
func establish_relations() C.int32_t {
	return C.int32_t(lib.Establish())
}

//export send_envoy
func send_envoy(id C.uint32_t, payload *C.char) C.int32_t {
	return C.int32_t(submit(uint32(id), unsafe.Pointer(payload)))
}

// submit reads a NUL-terminated payload at p, which may be nil.
func submit(id uint32, p unsafe.Pointer) (status envoy.Status) {
	defer func() {
		if recover() != nil {
			status = envoy.StatusInternalFault
		}
	}()

	var raw []byte
	if p != nil {
		// Reads past a missing terminator are outside what Go can contain.
		n := C.strlen((*C.char)(p))
		raw = unsafe.Slice((*byte)(p), int(n))
	}
	return lib.Submit(id, raw)
}

//export receive_envoy
func receive_envoy() *C.char {
	h, ok := lib.Retrieve()
	if !ok {
		return nil
	}
	return (*C.char)(unsafe.Pointer(uintptr(h)))
}

//export release_envoy
func release_envoy(p *C.char) {
	lib.Release(envoy.Handle(uintptr(unsafe.Pointer(p))))
}

//export diplomacy_version
func diplomacy_version() *C.char {
	return versionText
}

//export diplomacy_status_text
func diplomacy_status_text(code C.int32_t) *C.char {
	if text, ok := statusTexts[envoy.Status(code)]; ok {
		return text
	}
	return unknownStatusText
}

func main() {}
