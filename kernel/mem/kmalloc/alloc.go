package kmalloc

import (
	"unsafe"

	"fragaria/kernel"
)

// getBlock returns the first free block that is at least size bytes,
// growing the heap if no existing block is large enough, mirroring
// get_block().
func getBlock(size uintptr) (*blockHeader, *kernel.Error) {
	current := head
	for ; current.next != nil; current = current.next {
		if !current.allocated && current.size >= size {
			return current, nil
		}
	}

	if !current.allocated && current.size >= size {
		return current, nil
	}

	if current.allocated {
		// The tail block is in use: the grown space becomes a new free
		// block linked in after it.
		if err := growHeap(headerAlignedSize + alignment + size + chunkSize); err != nil {
			return nil, errOutOfMemory
		}
		newHeader := (*blockHeader)(unsafe.Pointer(alignUp(current.start+current.size, alignment)))
		newHeader.next, newHeader.previous = nil, current
		newHeader.allocated = false
		newHeader.start = uintptr(unsafe.Pointer(newHeader)) + headerAlignedSize
		newHeader.size = size + chunkSize
		current.next = newHeader
		return newHeader, nil
	}

	if err := growHeap(size - current.size + chunkSize); err != nil {
		return nil, errOutOfMemory
	}
	current.size = size + chunkSize

	return current, nil
}

// Malloc reserves size bytes on the kernel heap and returns a pointer to the
// first byte, or an error if the heap could not grow far enough to satisfy
// the request.
func Malloc(size uintptr) (unsafe.Pointer, *kernel.Error) {
	if top == 0 {
		if err := initHeap(); err != nil {
			return nil, err
		}
	}

	current, err := getBlock(size)
	if err != nil {
		return nil, err
	}

	current.allocated = true

	// Split off a trailing free block if there is enough room left for one.
	if current.size-size >= headerAlignedSize+alignment {
		allocSize := alignUp(size, alignment)

		newHeader := (*blockHeader)(unsafe.Pointer(current.start + allocSize))
		newHeader.next = current.next
		current.next = newHeader
		newHeader.previous = current
		if newHeader.next != nil {
			newHeader.next.previous = newHeader
		}

		newHeader.allocated = false
		newHeader.size = current.size - headerAlignedSize - allocSize
		newHeader.start = uintptr(unsafe.Pointer(newHeader)) + headerAlignedSize

		current.size = allocSize
	}

	return unsafe.Pointer(current.start), nil
}

// Calloc reserves space for nmemb elements of size bytes each and zeroes the
// resulting block before returning it.
func Calloc(nmemb, size uintptr) (unsafe.Pointer, *kernel.Error) {
	total := nmemb * size

	ptr, err := Malloc(total)
	if err != nil {
		return nil, err
	}

	target := (*[1 << 30]byte)(ptr)[:total:total]
	for i := range target {
		target[i] = 0
	}

	return ptr, nil
}
