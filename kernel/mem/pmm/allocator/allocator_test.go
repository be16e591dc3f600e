package allocator

import (
	"testing"

	"fragaria/kernel/mem/pmm"
)

func resetPool() {
	chunkPoolNext = 0
	used = frameList{}
	freed = frameList{}
}

func TestFrameListAddContainsRemove(t *testing.T) {
	resetPool()

	var l frameList
	for i := pmm.Frame(0); i < 5; i++ {
		if err := l.add(i); err != nil {
			t.Fatalf("add(%d): unexpected error: %v", i, err)
		}
	}

	for i := pmm.Frame(0); i < 5; i++ {
		if !l.contains(i) {
			t.Errorf("expected list to contain frame %d", i)
		}
	}

	if l.contains(pmm.Frame(42)) {
		t.Error("did not expect list to contain frame 42")
	}

	if !l.remove(pmm.Frame(2)) {
		t.Fatal("expected remove(2) to report success")
	}
	if l.contains(pmm.Frame(2)) {
		t.Error("frame 2 should no longer be in the list after remove")
	}
	if l.remove(pmm.Frame(2)) {
		t.Error("removing an already-removed frame should report failure")
	}
}

func TestFrameListSpansMultipleChunks(t *testing.T) {
	resetPool()

	var l frameList
	total := chunkCapacity + 10
	for i := 0; i < total; i++ {
		if err := l.add(pmm.Frame(i)); err != nil {
			t.Fatalf("add(%d): unexpected error: %v", i, err)
		}
	}

	if l.head == nil || l.head.next == nil {
		t.Fatal("expected the list to have spilled into a second chunk")
	}

	for i := 0; i < total; i++ {
		if !l.contains(pmm.Frame(i)) {
			t.Errorf("expected list to contain frame %d", i)
		}
	}
}

func TestAddIsIdempotent(t *testing.T) {
	resetPool()

	var l frameList
	if err := l.add(pmm.Frame(7)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.add(pmm.Frame(7)); err != nil {
		t.Fatalf("unexpected error on duplicate add: %v", err)
	}

	if got := l.head.num; got != 1 {
		t.Errorf("expected duplicate add to be a no-op; chunk reports %d entries", got)
	}
}

func TestAllocFreeFrameRoundTrip(t *testing.T) {
	resetPool()
	regionCount = 1
	regions[0] = ramRegion{start: 100, end: 110, current: 100}

	var got []pmm.Frame
	for i := 0; i < 10; i++ {
		f, err := AllocFrame()
		if err != nil {
			t.Fatalf("AllocFrame() #%d: unexpected error: %v", i, err)
		}
		got = append(got, f)
	}

	if _, err := AllocFrame(); err == nil {
		t.Fatal("expected AllocFrame() to fail once the region is exhausted")
	}

	if err := FreeFrame(got[3]); err != nil {
		t.Fatalf("FreeFrame(%d): unexpected error: %v", got[3], err)
	}

	reused, err := AllocFrame()
	if err != nil {
		t.Fatalf("AllocFrame() after free: unexpected error: %v", err)
	}
	if reused != got[3] {
		t.Errorf("expected freed frame %d to be reused; got %d", got[3], reused)
	}

	if err := FreeFrame(reused); err != nil {
		t.Fatalf("FreeFrame(%d) after reuse: unexpected error: %v", reused, err)
	}
	if err := FreeFrame(reused); err == nil {
		t.Fatal("expected double-free to report an error")
	}
}
