// Package vmm manages the kernel's virtual address space: it walks and
// edits the amd64 4-level page table hierarchy directly through the
// identity mapping of low physical memory, and installs the page-fault and
// general-protection-fault handlers that back demand-paged mappings.
package vmm

import (
	"fragaria/kernel"
	"fragaria/kernel/cpu"
	"fragaria/kernel/irq"
	"fragaria/kernel/mem/pmm"
)

var (
	// frameAllocator supplies physical frames for new page table levels and
	// for faulting in demand-paged mappings. It must be registered with
	// SetFrameAllocator before Init is called.
	frameAllocator FrameAllocatorFn

	// frameReleaser reclaims a physical frame that Unmap no longer needs. A
	// nil releaser just drops the mapping without reclaiming the frame.
	frameReleaser FrameReleaserFn

	// the following are mocked by tests and are automatically inlined by the
	// compiler when left untouched.
	panicFn         = kernel.Panic
	flushTLBEntryFn = cpu.FlushTLBEntry
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// FrameReleaserFn is a function that can reclaim a physical frame.
type FrameReleaserFn func(pmm.Frame) *kernel.Error

// SetFrameAllocator registers the function the vmm code uses whenever it
// needs to allocate a physical frame, either for a new page table level or
// to satisfy a demand-paged mapping.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

// SetFrameReleaser registers the function Unmap uses to reclaim a physical
// frame that is no longer referenced by any mapping.
func SetFrameReleaser(releaseFn FrameReleaserFn) {
	frameReleaser = releaseFn
}

// Init installs the page-fault and general-protection-fault handlers. A
// frame allocator must already be registered via SetFrameAllocator.
func Init() *kernel.Error {
	irq.SetHandler(irq.PageFaultException, pageFaultHandler)
	irq.SetHandler(irq.GPFException, generalProtectionFaultHandler)
	return nil
}
