package vmm

import (
	"fragaria/kernel"
	"fragaria/kernel/mem/pmm"
)

// Map installs a present mapping from page to frame in the currently active
// address space, allocating any missing intermediate PDPT/PD/PT tables
// along the way. flags is OR-ed in verbatim in addition to FlagPresent; pass
// FlagRW to make the page writable.
func Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	pte, err := resolve(currentPML4(), page.Address(), true, frameAllocator)
	if err != nil {
		return err
	}

	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(FlagPresent | flags)

	flushTLBEntryFn(page.Address())
	return nil
}

// MapDemand reserves page without backing it with a physical frame. The
// first access traps into pageFaultHandler, which allocates and zeroes a
// frame for it on the fly. Use this for lazily-grown regions such as a heap
// or a stack that should not cost physical memory until it is actually
// touched.
func MapDemand(page Page, flags PageTableEntryFlag) *kernel.Error {
	pte, err := resolve(currentPML4(), page.Address(), true, frameAllocator)
	if err != nil {
		return err
	}

	*pte = 0
	pte.SetFlags(FlagDemand | FlagPCD | flags)

	flushTLBEntryFn(page.Address())
	return nil
}

// Unmap removes the mapping for page. If the page is backed by a physical
// frame (either because it was mapped with Map or because a demand mapping
// was already faulted in), the frame is returned to frameReleaser. Unmapping
// a page that is not currently mapped or reserved returns ErrInvalidMapping.
func Unmap(page Page) *kernel.Error {
	pte, err := resolve(currentPML4(), page.Address(), false, nil)
	if err != nil {
		return err
	}

	present := pte.HasFlags(FlagPresent)
	if !present && !pte.HasAnyFlag(FlagDemand) {
		return ErrInvalidMapping
	}

	frame := pte.Frame()
	*pte = 0
	flushTLBEntryFn(page.Address())

	if present && frameReleaser != nil {
		return frameReleaser(frame)
	}
	return nil
}

// Translate returns the physical frame backing page. It returns
// ErrInvalidMapping if the page is not present, including when it is a
// demand mapping that has not yet been faulted in.
func Translate(page Page) (pmm.Frame, *kernel.Error) {
	pte, err := resolve(currentPML4(), page.Address(), false, nil)
	if err != nil {
		return pmm.FrameEmpty, err
	}

	if !pte.HasFlags(FlagPresent) {
		return pmm.FrameEmpty, ErrInvalidMapping
	}

	return pte.Frame(), nil
}
