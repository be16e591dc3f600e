package vmm

import (
	"fragaria/kernel/kfmt"
	"fragaria/kernel/mem"
)

// heapBreak is the next virtual address AllocPages will hand out. It sits
// well above the identity-mapped low region and the loaded kernel image so
// that growing it can never collide with either.
var heapBreak uintptr = 0x0000_0080_0000_0000

// AllocPages reserves n pages forward from the current heap break as demand
// mappings -- present in the page tables but not backed by a physical frame
// until first touched -- and returns the address the reservation starts at.
// Pages already present or already reserved as Demand (from an earlier call
// that raced ahead of heapBreak) are left untouched and simply reused.
func AllocPages(n uint64) (uintptr, bool) {
	start := heapBreak

	for i := uint64(0); i < n; i++ {
		page := PageFromAddress(heapBreak + uintptr(i)*uintptr(mem.PageSize))
		pte, err := resolve(currentPML4(), page.Address(), true, frameAllocator)
		if err != nil {
			return 0, false
		}

		if pte.HasFlags(FlagPresent) || pte.HasAnyFlag(FlagDemand) {
			continue
		}

		*pte = 0
		pte.SetFlags(FlagRW | FlagPCD | FlagDemand)
	}

	heapBreak += uintptr(n) * uintptr(mem.PageSize)
	return start, true
}

// FreePages truncates the heap break back down to the page containing addr.
// It refuses the request if addr lies above the current break. This does
// not unmap or release any backing frames: the pages above the new break
// remain reserved in the page tables, a documented limitation carried over
// from the allocator this is grounded on.
func FreePages(addr uintptr) bool {
	if addr > heapBreak {
		kfmt.Printf("[vmm] FreePages: refusing to grow the heap via a free (addr=0x%16x > heapBreak=0x%16x)\n", addr, heapBreak)
		return false
	}

	heapBreak = addr &^ uintptr(mem.PageSize-1)
	return true
}
