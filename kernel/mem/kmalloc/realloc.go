package kmalloc

import (
	"unsafe"

	"fragaria/kernel"
)

// Realloc resizes a block previously returned by Malloc, Calloc or Realloc
// to size bytes, preserving the contents up to the smaller of the old and
// new sizes. A nil ptr behaves like Malloc; a size of zero behaves like
// Free and returns nil.
func Realloc(ptr unsafe.Pointer, size uintptr) (unsafe.Pointer, *kernel.Error) {
	if size == 0 {
		return nil, Free(ptr)
	}

	if ptr == nil {
		return Malloc(size)
	}

	if top == 0 {
		return nil, errInvalidFree
	}

	current := findHeader(uintptr(ptr))
	if current == nil {
		return nil, errInvalidFree
	}

	if size == current.size {
		return unsafe.Pointer(current.start), nil
	}

	if size < current.size {
		shrinkInPlace(current, size)
		return unsafe.Pointer(current.start), nil
	}

	// size > current.size: try to expand into a free, adjoining next block.
	if current.next != nil && !current.next.allocated &&
		current.size+headerAlignedSize+current.next.size >= size {

		current.size += headerAlignedSize + current.next.size
		current.next = current.next.next
		if current.next != nil {
			current.next.previous = current
		}

		shrinkInPlace(current, size)
		return unsafe.Pointer(current.start), nil
	}

	newPtr, err := Malloc(size)
	if err != nil {
		return nil, err
	}

	copyBytes(newPtr, unsafe.Pointer(current.start), current.size)
	if err := Free(ptr); err != nil {
		return nil, err
	}

	return newPtr, nil
}

// shrinkInPlace splits a trailing free block off current once it has been
// resized down to newSize, provided enough room remains for a header and at
// least one alignment unit of data.
func shrinkInPlace(current *blockHeader, newSize uintptr) {
	allocSize := alignUp(newSize, alignment)

	if current.size-allocSize < headerAlignedSize+alignment {
		return
	}

	newHeader := (*blockHeader)(unsafe.Pointer(current.start + allocSize))
	newHeader.next = current.next
	current.next = newHeader
	newHeader.previous = current

	newHeader.allocated = false
	newHeader.size = current.size - headerAlignedSize - allocSize
	newHeader.start = uintptr(unsafe.Pointer(newHeader)) + headerAlignedSize

	if newHeader.next != nil {
		newHeader.next.previous = newHeader
	}

	current.size = allocSize

	if newHeader.next != nil && !newHeader.next.allocated {
		newHeader.size += headerAlignedSize + newHeader.next.size
		newHeader.next = newHeader.next.next
		if newHeader.next != nil {
			newHeader.next.previous = newHeader
		}
	}
}

func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	d := (*[1 << 30]byte)(dst)[:n:n]
	s := (*[1 << 30]byte)(src)[:n:n]
	copy(d, s)
}
