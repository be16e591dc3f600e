// Package kmalloc implements the kernel heap: a first-fit free list grown a
// chunk at a time from virtual memory mapped and backed by the physical
// frame allocator, in the style of a classic malloc/free/realloc
// implementation.
package kmalloc

import (
	"unsafe"

	"fragaria/kernel"
	"fragaria/kernel/kfmt"
	"fragaria/kernel/mem"
	"fragaria/kernel/mem/vmm"
)

// chunkSize is the amount of additional heap space requested every time the
// heap needs to grow, mirroring MALLOC_CHUNK_SIZE.
const chunkSize = 1 << 16

// alignment is the byte boundary every allocation and header is rounded up
// to, mirroring MALLOC_ALIGNMENT.
const alignment = 16

// allocPagesFn reserves the heap's backing pages as demand mappings on top
// of the page-granular virtual heap; the physical frames backing them are
// supplied lazily by the page-fault handler on first touch. It is a
// variable so tests can redirect the heap into ordinary, already-backed
// process memory instead of going through vmm.
var allocPagesFn = vmm.AllocPages

// blockHeader precedes every block of heap memory, allocated or free,
// mirroring struct malloc_header.
type blockHeader struct {
	next, previous *blockHeader
	size           uintptr
	allocated      bool
	start          uintptr
}

// headerAlignedSize is sizeof(blockHeader) rounded up to alignment,
// mirroring HEADER_ALIGNED_SIZE.
var headerAlignedSize = alignUp(unsafe.Sizeof(blockHeader{}), alignment)

var (
	bottom, top uintptr
	head        *blockHeader
)

func alignUp(v, align uintptr) uintptr {
	if rem := v % align; rem != 0 {
		return v + align - rem
	}
	return v
}

var (
	errOutOfMemory = &kernel.Error{Module: "kmalloc", Message: "out of memory"}
	errInvalidFree = &kernel.Error{Module: "kmalloc", Message: "pointer does not belong to any allocated block"}
)

// growHeap reserves enough additional, page-aligned demand-paged virtual
// memory at the top of the heap to cover at least extraBytes. The pages
// are not backed by physical frames until kmalloc itself writes into them,
// at which point vmm's page-fault handler supplies a frame transparently.
func growHeap(extraBytes uintptr) *kernel.Error {
	pageCount := uint64(alignUp(extraBytes, uintptr(mem.PageSize)) / uintptr(mem.PageSize))

	addr, ok := allocPagesFn(pageCount)
	if !ok {
		return errOutOfMemory
	}
	if bottom == 0 {
		bottom = addr
	}

	top = addr + uintptr(pageCount)*uintptr(mem.PageSize)
	return nil
}

// initHeap lazily sets up the heap the first time kmalloc.Malloc,
// kmalloc.Calloc or kmalloc.Free is invoked, mirroring kmalloc_init().
func initHeap() *kernel.Error {
	bottom, top = 0, 0

	if err := growHeap(chunkSize); err != nil {
		bottom, top = 0, 0
		return err
	}

	head = (*blockHeader)(unsafe.Pointer(alignUp(bottom, alignment)))
	head.next = nil
	head.previous = nil
	head.allocated = false
	head.start = uintptr(unsafe.Pointer(head)) + headerAlignedSize
	head.size = top - head.start

	kfmt.Printf("[kmalloc] heap initialized: %d bytes at 0x%16x\n", head.size, bottom)
	return nil
}
