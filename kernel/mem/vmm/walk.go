package vmm

import (
	"unsafe"

	"fragaria/kernel"
	"fragaria/kernel/cpu"
	"fragaria/kernel/mem"
	"fragaria/kernel/mem/pmm"
)

// errNoHugePageSupport is returned when a walk encounters a huge-page entry;
// this kernel never creates one, so seeing one mid-walk means the caller
// asked about an address range this allocator does not manage.
var errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge page entries are not supported"}

// activePDTFn returns the physical address of the currently loaded PML4
// table. It is a variable so that tests can substitute a fake root table.
var activePDTFn = cpu.ActivePDT

// pageLevels is the number of levels in the amd64 paging hierarchy: PML4,
// PDPT, PD and PT.
const pageLevels = 4

// pageLevelShifts holds the bit offset of the 9-bit index consumed at each
// level, from PML4 down to PT.
var pageLevelShifts = [pageLevels]uint{39, 30, 21, 12}

const entriesPerTable = 512

// ErrInvalidMapping is returned when trying to look up a virtual address
// that is not currently mapped.
var ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

// errIdentitySlot is returned when a walk is asked to touch PML4 slot 0,
// which holds the boot-time identity map and must never be modified by the
// page-table walker.
var errIdentitySlot = &kernel.Error{Module: "vmm", Message: "refusing to walk or modify the identity-mapped PML4 slot"}

// tableEntryFn returns a pointer to the page-table-entry slot at the given
// index within the table stored at tableFrame. Page table frames are
// addressed directly through the identity mapping the bootstrap code
// establishes for low physical memory, so no temporary mapping is needed to
// read or write them. It is a variable so tests can substitute backing
// storage that isn't real identity-mapped physical memory.
var tableEntryFn = tableEntry

func tableEntry(tableFrame pmm.Frame, index uintptr) *pageTableEntry {
	return (*pageTableEntry)(unsafe.Pointer(tableFrame.Address() + index*unsafe.Sizeof(pageTableEntry(0))))
}

// levelIndex extracts the 9-bit index consumed at paging level from a
// virtual address.
func levelIndex(vaddr uintptr, level int) uintptr {
	return (vaddr >> pageLevelShifts[level]) & (entriesPerTable - 1)
}

// resolve walks the paging hierarchy rooted at pml4Frame for vaddr and
// returns the final, level-3 (PT) entry. When create is true, missing
// intermediate tables (PDPT/PD/PT) are allocated via allocFn and cleared;
// when false, resolve stops and returns ErrInvalidMapping as soon as it
// finds a not-present entry above the last level.
func resolve(pml4Frame pmm.Frame, vaddr uintptr, create bool, allocFn FrameAllocatorFn) (*pageTableEntry, *kernel.Error) {
	if levelIndex(vaddr, 0) == 0 {
		return nil, errIdentitySlot
	}

	tableFrame := pml4Frame

	for level := 0; level < pageLevels-1; level++ {
		entry := tableEntryFn(tableFrame, levelIndex(vaddr, level))

		if !entry.HasFlags(FlagPresent) {
			if !create {
				return nil, ErrInvalidMapping
			}

			newTableFrame, err := allocFn()
			if err != nil {
				return nil, err
			}

			mem.Memset(newTableFrame.Address(), 0, mem.PageSize)

			*entry = 0
			entry.SetFrame(newTableFrame)
			entry.SetFlags(FlagPresent | FlagRW | FlagPCD)
		}

		if entry.HasFlags(FlagHugePage) {
			return nil, errNoHugePageSupport
		}

		tableFrame = entry.Frame()
	}

	return tableEntryFn(tableFrame, levelIndex(vaddr, pageLevels-1)), nil
}

// currentPML4 returns the frame holding the currently loaded PML4 table.
func currentPML4() pmm.Frame {
	return pmm.Frame(activePDTFn() >> mem.PageShift)
}
