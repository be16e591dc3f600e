// Package allocator implements the kernel's physical frame allocator: pages
// reported as free by the bootloader are handed out from a cursor that
// advances across each RAM region in turn, already-used pages (the kernel
// image and its allocated ELF sections) are marked up front, and freed
// pages are recycled from a free list before any new region is touched.
// The pages holding the multiboot info blob are not reserved.
package allocator

import (
	"fragaria/kernel"
	"fragaria/kernel/hal/multiboot"
	"fragaria/kernel/kfmt"
	"fragaria/kernel/mem"
	"fragaria/kernel/mem/pmm"
)

// chunkCapacity is the number of frame slots held by a single frameListChunk.
const chunkCapacity = 510

// maxChunks bounds how many frameListChunks the allocator can carve out of
// its static pool. Each chunk tracks chunkCapacity frames, so this many
// chunks can track more reservations than any of the memory sizes this
// kernel targets will ever need.
const maxChunks = 64

// maxRAMRegions mirrors the small, fixed number of RAM regions a multiboot2
// memory map is expected to report.
const maxRAMRegions = 5

var (
	errOutOfChunks = &kernel.Error{Module: "allocator", Message: "frame list chunk pool exhausted"}
	errOutOfMemory = &kernel.Error{Module: "allocator", Message: "out of memory"}
	errDoubleFree  = &kernel.Error{Module: "allocator", Message: "frame double-freed or never allocated"}
)

// frameListChunk holds up to chunkCapacity frame numbers and links to the
// next chunk in the list, mirroring the fixed-size linked chunks the
// original allocator carves directly out of physical pages.
type frameListChunk struct {
	next *frameListChunk
	num  int
	addr [chunkCapacity]pmm.Frame
}

// chunkPool is the static backing store for frameListChunks. The allocator
// cannot yet call into a general-purpose allocator when it needs bookkeeping
// space for itself, so chunks are carved out of this pool instead of freshly
// allocated physical frames.
var (
	chunkPool     [maxChunks]frameListChunk
	chunkPoolNext int
)

func newChunk() (*frameListChunk, *kernel.Error) {
	if chunkPoolNext >= maxChunks {
		return nil, errOutOfChunks
	}

	c := &chunkPool[chunkPoolNext]
	chunkPoolNext++

	c.next = nil
	c.num = 0
	for i := range c.addr {
		c.addr[i] = pmm.FrameEmpty
	}

	return c, nil
}

// frameList is a singly-linked chain of frameListChunks.
type frameList struct {
	head *frameListChunk
}

// contains reports whether f is present anywhere in the list.
func (l *frameList) contains(f pmm.Frame) bool {
	for c := l.head; c != nil; c = c.next {
		for i := 0; i < chunkCapacity; i++ {
			if c.addr[i] == f {
				return true
			}
		}
	}
	return false
}

// add records f in the list, allocating a new chunk if every existing one
// is full. Adding a frame that is already present is a no-op.
func (l *frameList) add(f pmm.Frame) *kernel.Error {
	if l.contains(f) {
		return nil
	}

	c := l.head
	if c == nil {
		newC, err := newChunk()
		if err != nil {
			return err
		}
		l.head = newC
		c = newC
	}

	for {
		if c.num < chunkCapacity {
			for i := 0; i < chunkCapacity; i++ {
				if c.addr[i] == pmm.FrameEmpty {
					c.addr[i] = f
					c.num++
					return nil
				}
			}
		}

		if c.next == nil {
			newC, err := newChunk()
			if err != nil {
				return err
			}
			c.next = newC
		}
		c = c.next
	}
}

// remove deletes f from the list if present and reports whether it was
// found.
func (l *frameList) remove(f pmm.Frame) bool {
	for c := l.head; c != nil; c = c.next {
		for i := 0; i < chunkCapacity; i++ {
			if c.addr[i] == f {
				c.addr[i] = pmm.FrameEmpty
				c.num--
				return true
			}
		}
	}
	return false
}

// popAny removes and returns an arbitrary frame from the list, if any.
func (l *frameList) popAny() (pmm.Frame, bool) {
	for c := l.head; c != nil; c = c.next {
		if c.num == 0 {
			continue
		}
		for i := 0; i < chunkCapacity; i++ {
			if c.addr[i] != pmm.FrameEmpty {
				f := c.addr[i]
				c.addr[i] = pmm.FrameEmpty
				c.num--
				return f, true
			}
		}
	}
	return pmm.FrameEmpty, false
}

// ramRegion tracks one bootloader-reported available RAM region as a range
// of frame numbers plus a cursor marking the next frame to consider handing
// out.
type ramRegion struct {
	start, end pmm.Frame // [start, end)
	current    pmm.Frame
}

var (
	used, freed frameList

	regions     [maxRAMRegions]ramRegion
	regionCount int
)

// Init prepares the allocator: it resets the used/freed lists, marks the
// pages that hold the kernel image and its allocated ELF sections as
// already in use, and records the available RAM regions reported by the
// bootloader. The pages holding the multiboot info blob are not marked.
// kernelStart and kernelEnd are the physical addresses bracketing the loaded
// kernel image, reserved up front in case no ELF section tag is present.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	used = frameList{}
	freed = frameList{}
	chunkPoolNext = 0
	regionCount = 0

	for f := pmm.FrameForAddress(kernelStart); f <= pmm.FrameForAddress(kernelEnd); f++ {
		if err := used.add(f); err != nil {
			return err
		}
	}

	haveElfSections := false
	multiboot.VisitElfSections(func(name string, flags multiboot.ElfSectionFlag, addr uintptr, size uint64) {
		haveElfSections = true
		if flags&multiboot.ElfSectionAllocated == 0 {
			return
		}
		for f := pmm.FrameForAddress(addr); f <= pmm.FrameForAddress(addr+uintptr(size)-1); f++ {
			used.add(f)
		}
	})
	_ = haveElfSections

	kfmt.Printf("[allocator] system memory map:\n")
	var totalFree mem.Size
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%16x - 0x%16x], size: %10d, type: %d\n",
			region.PhysAddress, region.PhysAddress+region.Length, region.Length, uint32(region.Type))

		if region.Type != multiboot.MemAvailable {
			return true
		}
		totalFree += mem.Size(region.Length)

		if regionCount >= maxRAMRegions {
			return true
		}

		pageSizeMinus1 := uint64(mem.PageSize - 1)
		startAddr := (region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1
		endAddr := (region.PhysAddress + region.Length) &^ pageSizeMinus1

		r := &regions[regionCount]
		r.start = pmm.FrameForAddress(uintptr(startAddr))
		r.end = pmm.FrameForAddress(uintptr(endAddr))
		r.current = r.start
		regionCount++

		return true
	})
	kfmt.Printf("[allocator] free memory: %dKb\n", uint64(totalFree/mem.Kb))

	return nil
}

// AllocFrame reserves and returns a physical frame. Previously freed frames
// are handed out first; once the free list is exhausted, the available RAM
// regions are scanned in order, skipping any frame already present in the
// used list. AllocFrame returns errOutOfMemory once every region has been
// exhausted.
func AllocFrame() (pmm.Frame, *kernel.Error) {
	if f, ok := freed.popAny(); ok {
		if err := used.add(f); err != nil {
			return pmm.FrameEmpty, err
		}
		return f, nil
	}

	for i := 0; i < regionCount; i++ {
		r := &regions[i]
		for f := r.current; f < r.end; f++ {
			if used.contains(f) {
				continue
			}

			if err := used.add(f); err != nil {
				return pmm.FrameEmpty, err
			}
			if r.current <= f {
				r.current = f + 1
			}
			return f, nil
		}
	}

	return pmm.FrameEmpty, errOutOfMemory
}

// FreeFrame returns a previously allocated frame to the free list. Freeing a
// frame that was not allocated (or was already freed) is reported as an
// error and otherwise ignored, matching the diagnostic the C allocator this
// is modeled on prints rather than corrupting state further.
func FreeFrame(f pmm.Frame) *kernel.Error {
	if !used.remove(f) {
		return errDoubleFree
	}

	return freed.add(f)
}
