package vmm

import (
	"testing"

	"fragaria/kernel"
	"fragaria/kernel/mem/pmm"
)

func TestSetFrameAllocatorAndReleaser(t *testing.T) {
	origAlloc, origRelease := frameAllocator, frameReleaser
	defer func() { frameAllocator, frameReleaser = origAlloc, origRelease }()

	allocCalled, releaseCalled := false, false
	SetFrameAllocator(func() (pmm.Frame, *kernel.Error) {
		allocCalled = true
		return pmm.Frame(1), nil
	})
	SetFrameReleaser(func(pmm.Frame) *kernel.Error {
		releaseCalled = true
		return nil
	})

	if _, err := frameAllocator(); err != nil || !allocCalled {
		t.Fatal("expected registered allocator to be invoked")
	}
	if err := frameReleaser(pmm.Frame(1)); err != nil || !releaseCalled {
		t.Fatal("expected registered releaser to be invoked")
	}
}

func TestInitInstallsFaultHandlers(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
