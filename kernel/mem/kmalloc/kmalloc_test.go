package kmalloc

import (
	"testing"
	"unsafe"

	"fragaria/kernel/mem"
)

// testHeap backs the heap for every test in this file. Tests redirect
// allocPagesFn to hand out pages carved directly from this buffer, since it
// is already ordinary, addressable process memory and needs no real page
// mapping.
var testHeap [4 << 16]byte

func resetHeap(t *testing.T) {
	t.Helper()

	origAllocPagesFn := allocPagesFn
	t.Cleanup(func() {
		allocPagesFn = origAllocPagesFn
		bottom, top, head = 0, 0, nil
	})

	testHeapBase := uintptr(unsafe.Pointer(&testHeap[0]))
	var nextOffset uintptr
	allocPagesFn = func(n uint64) (uintptr, bool) {
		addr := testHeapBase + nextOffset
		nextOffset += uintptr(n) * uintptr(mem.PageSize)
		if nextOffset > uintptr(len(testHeap)) {
			return 0, false
		}
		return addr, true
	}
	bottom, top, head = 0, 0, nil
}

func TestMallocFreeRoundTrip(t *testing.T) {
	resetHeap(t)

	p1, err := Malloc(64)
	if err != nil {
		t.Fatalf("Malloc: unexpected error: %v", err)
	}
	p2, err := Malloc(128)
	if err != nil {
		t.Fatalf("Malloc: unexpected error: %v", err)
	}
	if p1 == p2 {
		t.Fatal("expected distinct allocations to return distinct pointers")
	}

	if err := Free(p1); err != nil {
		t.Fatalf("Free: unexpected error: %v", err)
	}

	p3, err := Malloc(32)
	if err != nil {
		t.Fatalf("Malloc after free: unexpected error: %v", err)
	}
	if p3 != p1 {
		t.Fatalf("expected the freed block to be reused; got a new pointer")
	}

	if err := Free(p2); err != nil {
		t.Fatalf("Free: unexpected error: %v", err)
	}
	if err := Free(p3); err != nil {
		t.Fatalf("Free: unexpected error: %v", err)
	}
}

func TestCallocZeroesMemory(t *testing.T) {
	resetHeap(t)

	for i := range testHeap {
		testHeap[i] = 0xAA
	}
	bottom, top, head = 0, 0, nil

	ptr, err := Calloc(16, 8)
	if err != nil {
		t.Fatalf("Calloc: unexpected error: %v", err)
	}

	got := (*[128]byte)(ptr)[:16*8]
	for i, b := range got {
		if b != 0 {
			t.Fatalf("byte %d: expected zero; got %#x", i, b)
		}
	}
}

func TestReallocGrowCopiesContents(t *testing.T) {
	resetHeap(t)

	ptr, err := Malloc(16)
	if err != nil {
		t.Fatalf("Malloc: unexpected error: %v", err)
	}
	src := (*[16]byte)(ptr)
	for i := range src {
		src[i] = byte(i)
	}

	grown, err := Realloc(ptr, 256)
	if err != nil {
		t.Fatalf("Realloc: unexpected error: %v", err)
	}

	got := (*[256]byte)(grown)
	for i := 0; i < 16; i++ {
		if got[i] != byte(i) {
			t.Fatalf("byte %d: expected %d; got %d", i, byte(i), got[i])
		}
	}
}

func TestReallocZeroSizeFrees(t *testing.T) {
	resetHeap(t)

	ptr, err := Malloc(16)
	if err != nil {
		t.Fatalf("Malloc: unexpected error: %v", err)
	}

	result, err := Realloc(ptr, 0)
	if err != nil {
		t.Fatalf("Realloc(ptr, 0): unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected Realloc(ptr, 0) to return nil")
	}

	if err := Free(ptr); err == nil {
		t.Fatal("expected re-freeing an already-freed pointer to report an error")
	}
}

func TestFreeInvalidPointer(t *testing.T) {
	resetHeap(t)

	if _, err := Malloc(16); err != nil {
		t.Fatalf("Malloc: unexpected error: %v", err)
	}

	bogus := unsafe.Pointer(uintptr(0x1))
	if err := Free(bogus); err == nil {
		t.Fatal("expected freeing a pointer outside the heap to report an error")
	}
}

func TestFreeNilIsNoOp(t *testing.T) {
	resetHeap(t)

	if err := Free(nil); err != nil {
		t.Fatalf("expected Free(nil) to be a no-op; got %v", err)
	}
}
