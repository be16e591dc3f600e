// Package pmm manages physical memory frame allocation: a flat free list of
// reserved ("Used") and reclaimed ("Freed") frames drawn from the RAM
// regions the bootloader reports.
package pmm

import "fragaria/kernel/mem"

// Frame describes a physical memory page index. Multiplying a Frame by
// mem.PageSize yields the physical address of the page it identifies.
type Frame uint64

// FrameEmpty is a deliberately non-canonical sentinel frame number used to
// mark free-list slots that do not hold a frame. It is never a valid frame
// index on real hardware.
const FrameEmpty = Frame(0xFF00000000000000)

// Valid returns true if this is not the empty-slot sentinel.
func (f Frame) Valid() bool {
	return f != FrameEmpty
}

// Address returns the physical memory address of the page described by this
// Frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << mem.PageShift
}

// FrameForAddress returns the Frame that contains the given physical
// address.
func FrameForAddress(addr uintptr) Frame {
	return Frame(addr >> mem.PageShift)
}
