package goruntime

import (
	"testing"
	"unsafe"

	"fragaria/kernel/mem"
)

func withMockedAllocPages(fn func(n uint64) (uintptr, bool)) func() {
	orig := allocPagesFn
	allocPagesFn = fn
	return func() { allocPagesFn = orig }
}

func TestPageCountForRoundsUp(t *testing.T) {
	specs := []struct {
		size uintptr
		exp  uint64
	}{
		{100 * uintptr(mem.PageSize), 100},
		{2*uintptr(mem.PageSize) - 1, 2},
		{1, 1},
	}

	for i, spec := range specs {
		if got := pageCountFor(spec.size); got != spec.exp {
			t.Errorf("[spec %d] expected %d pages; got %d", i, spec.exp, got)
		}
	}
}

func TestSysReserveSuccess(t *testing.T) {
	defer withMockedAllocPages(func(n uint64) (uintptr, bool) {
		if n != 4 {
			t.Errorf("expected to request 4 pages; got %d", n)
		}
		return 0xbadf00d, true
	})()

	var reserved bool
	ptr := sysReserve(nil, uintptr(4*mem.PageSize), &reserved)
	if uintptr(ptr) != 0xbadf00d {
		t.Fatalf("expected returned address 0xbadf00d; got 0x%x", uintptr(ptr))
	}
	if !reserved {
		t.Fatal("expected reserved to be set to true")
	}
}

func TestSysReservePanicsOnFailure(t *testing.T) {
	defer withMockedAllocPages(func(uint64) (uintptr, bool) { return 0, false })()

	defer func() {
		if recover() == nil {
			t.Fatal("expected sysReserve to panic")
		}
	}()

	var reserved bool
	sysReserve(nil, 1, &reserved)
}

func TestSysMapAccountsAndPassesThroughAddress(t *testing.T) {
	var stat uint64
	addr := unsafe.Pointer(uintptr(0xbadf00d))

	got := sysMap(addr, uintptr(4*mem.PageSize), true, &stat)
	if got != addr {
		t.Fatalf("expected sysMap to return the same address it was given; got 0x%x", uintptr(got))
	}
	if stat != uint64(4*mem.PageSize) {
		t.Fatalf("expected stat to be incremented by the requested size; got %d", stat)
	}
}

func TestSysMapPanicsIfNotReserved(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected sysMap to panic")
		}
	}()

	sysMap(nil, 0, false, nil)
}

func TestSysAllocSuccess(t *testing.T) {
	defer withMockedAllocPages(func(n uint64) (uintptr, bool) {
		return uintptr(10 * mem.PageSize), true
	})()

	var stat uint64
	got := sysAlloc(uintptr(4*mem.PageSize), &stat)
	if uintptr(got) != uintptr(10*mem.PageSize) {
		t.Fatalf("expected sysAlloc to return the reserved address; got 0x%x", uintptr(got))
	}
	if stat != uint64(4*mem.PageSize) {
		t.Fatalf("expected stat to be incremented by the requested size; got %d", stat)
	}
}

func TestSysAllocFailsIfAllocPagesFails(t *testing.T) {
	defer withMockedAllocPages(func(uint64) (uintptr, bool) { return 0, false })()

	var stat uint64
	if got := sysAlloc(1, &stat); got != unsafe.Pointer(uintptr(0)) {
		t.Fatalf("expected sysAlloc to return nil on failure; got 0x%x", uintptr(got))
	}
}
