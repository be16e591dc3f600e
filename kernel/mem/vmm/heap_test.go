package vmm

import (
	"testing"

	"fragaria/kernel"
	"fragaria/kernel/mem"
	"fragaria/kernel/mem/pmm"
)

// fakeTableEntry returns a tableEntryFn-compatible function backed by a map
// keyed on (tableFrame, index), so that distinct virtual addresses resolve
// to distinct, stable page table entries across many resolve calls -- as
// real physical memory would -- unlike the single fixed slot the walk_test
// mocks use for their single-address scenarios.
func fakeTableEntry() func(pmm.Frame, uintptr) *pageTableEntry {
	store := make(map[[2]uintptr]*pageTableEntry)
	return func(tableFrame pmm.Frame, index uintptr) *pageTableEntry {
		key := [2]uintptr{uintptr(tableFrame), index}
		if store[key] == nil {
			store[key] = new(pageTableEntry)
		}
		return store[key]
	}
}

func withMockedHeap(t *testing.T, fn func()) {
	t.Helper()

	origTableEntryFn, origActivePDTFn, origFrameAllocator, origHeapBreak := tableEntryFn, activePDTFn, frameAllocator, heapBreak
	defer func() {
		tableEntryFn, activePDTFn, frameAllocator, heapBreak = origTableEntryFn, origActivePDTFn, origFrameAllocator, origHeapBreak
	}()

	activePDTFn = func() uintptr { return 0 }
	tableEntryFn = fakeTableEntry()

	nextFrame := pmm.Frame(1)
	frameAllocator = func() (pmm.Frame, *kernel.Error) {
		nextFrame++
		return nextFrame, nil
	}

	fn()
}

func TestAllocPagesReservesDemandMappings(t *testing.T) {
	withMockedHeap(t, func() {
		start := heapBreak

		addr, ok := AllocPages(3)
		if !ok {
			t.Fatal("expected AllocPages to succeed")
		}
		if addr != start {
			t.Fatalf("expected AllocPages to return the prior break; got 0x%x, want 0x%x", addr, start)
		}
		if heapBreak != start+3*uintptr(mem.PageSize) {
			t.Fatalf("expected heapBreak to advance by 3 pages; got 0x%x", heapBreak)
		}

		for i := uintptr(0); i < 3; i++ {
			page := PageFromAddress(addr + i*uintptr(mem.PageSize))
			pte, err := resolve(currentPML4(), page.Address(), false, nil)
			if err != nil {
				t.Fatalf("page %d: unexpected error: %v", i, err)
			}
			if !pte.HasAnyFlag(FlagDemand) {
				t.Fatalf("page %d: expected the reservation to be marked Demand", i)
			}
			if pte.HasFlags(FlagPresent) {
				t.Fatalf("page %d: expected the reservation not to be backed by a frame yet", i)
			}
		}
	})
}

func TestAllocPagesReusesAlreadyReservedPage(t *testing.T) {
	withMockedHeap(t, func() {
		addr1, ok := AllocPages(1)
		if !ok {
			t.Fatal("expected first AllocPages to succeed")
		}

		page := PageFromAddress(addr1)
		pte, err := resolve(currentPML4(), page.Address(), false, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		*pte |= 1 << 10 // mark with a sentinel bit a re-reservation must not clear

		heapBreak = addr1
		if _, ok := AllocPages(1); !ok {
			t.Fatal("expected second AllocPages to succeed")
		}

		if !pte.HasAnyFlag(1 << 10) {
			t.Fatal("expected AllocPages to leave an already-reserved page untouched")
		}
	})
}

func TestFreePagesTruncatesBreak(t *testing.T) {
	withMockedHeap(t, func() {
		start := heapBreak
		if _, ok := AllocPages(4); !ok {
			t.Fatal("expected AllocPages to succeed")
		}

		if !FreePages(start + uintptr(mem.PageSize)) {
			t.Fatal("expected FreePages to succeed")
		}
		if heapBreak != start+uintptr(mem.PageSize) {
			t.Fatalf("expected heapBreak to truncate to the page boundary; got 0x%x", heapBreak)
		}
	})
}

func TestFreePagesRefusesToGrow(t *testing.T) {
	withMockedHeap(t, func() {
		start := heapBreak
		if FreePages(start + uintptr(mem.PageSize)) {
			t.Fatal("expected FreePages to refuse an address beyond heapBreak")
		}
		if heapBreak != start {
			t.Fatal("expected a refused FreePages to leave heapBreak unchanged")
		}
	})
}
