package kmalloc

import (
	"unsafe"

	"fragaria/kernel"
)

// Free releases a block previously returned by Malloc, Calloc or Realloc,
// merging it with an adjacent free neighbor on either side. Freeing a nil
// pointer is a no-op; freeing a pointer that does not belong to any known
// block, or whose block is already free, is reported as errInvalidFree
// rather than acted upon, mirroring kfree()'s guard against acting on an
// unmatched header.
func Free(ptr unsafe.Pointer) *kernel.Error {
	if ptr == nil {
		return nil
	}

	if top == 0 {
		if err := initHeap(); err != nil {
			return err
		}
	}

	current := findHeader(uintptr(ptr))
	if current == nil || !current.allocated {
		return errInvalidFree
	}

	current.allocated = false

	if current.next != nil && !current.next.allocated {
		current.size += current.next.size + headerAlignedSize
		current.next = current.next.next
		if current.next != nil {
			current.next.previous = current
		}
	}

	if current.previous != nil && !current.previous.allocated {
		current.previous.size += current.size + headerAlignedSize
		current.previous.next = current.next
		if current.next != nil {
			current.next.previous = current.previous
		}
		current = current.previous
	}

	return nil
}
