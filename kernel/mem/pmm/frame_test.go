package pmm

import (
	"testing"

	"fragaria/kernel/mem"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint64(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := uintptr(frameIndex<<mem.PageShift), frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}
	}

	emptyFrame := FrameEmpty
	if emptyFrame.Valid() {
		t.Error("expected FrameEmpty.Valid() to return false")
	}

	if got, exp := FrameForAddress(0x3000), Frame(3); got != exp {
		t.Errorf("expected FrameForAddress(0x3000) to return %d; got %d", exp, got)
	}
}
