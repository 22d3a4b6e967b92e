package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
)

// cBuffer is a NUL-terminated string on the C heap.
type cBuffer struct {
	p *C.char
	n int
}

func (b *cBuffer) Handle() envoy.Handle {
	return envoy.Handle(uintptr(unsafe.Pointer(b.p)))
}

func (b *cBuffer) Len() int {
	return b.n
}

func (b *cBuffer) String() string {
	return C.GoStringN(b.p, C.int(b.n))
}

// cAllocator hands out malloc'd buffers so callers outside Go can hold them
// without pinning Go memory.
type cAllocator struct{}

func (cAllocator) Allocate(text string) (envoy.Buffer, error) {
	// CString aborts the process if malloc fails.
	return &cBuffer{p: C.CString(text), n: len(text)}, nil
}

func (cAllocator) Free(b envoy.Buffer) {
	cb, ok := b.(*cBuffer)
	if !ok {
		panic(fmt.Sprintf("buffer %s was not allocated by the C allocator", b.Handle()))
	}
	C.free(unsafe.Pointer(cb.p))
	cb.p = nil
}
