package serial

import "testing"

// fakeUART backs inbFn/outbFn with a simple port-indexed byte array, so
// tests exercise the real register-programming and buffering logic without
// ever calling into the assembly-backed cpu.Inb/cpu.Outb. Reads of the data
// register return the 0xAE loopback byte only when selfTest is set, and 0
// otherwise.
type fakeUART struct {
	ports    map[uint16]uint8
	writes   []uint8
	selfTest bool
}

func newFakeUART(selfTestOK bool) *fakeUART {
	return &fakeUART{ports: make(map[uint16]uint8), selfTest: selfTestOK}
}

func (f *fakeUART) inb(port uint16) uint8 {
	if port == comPort {
		if f.selfTest {
			return 0xAE
		}
		return 0
	}
	return f.ports[port]
}

func (f *fakeUART) outb(port uint16, val uint8) {
	f.ports[port] = val
	if port == comPort {
		f.writes = append(f.writes, val)
	}
}

func withFakeUART(f *fakeUART) func() {
	origInb, origOutb := inbFn, outbFn
	inbFn, outbFn = f.inb, f.outb
	return func() { inbFn, outbFn = origInb, origOutb }
}

func TestConfigureUARTSucceedsOnSelfTest(t *testing.T) {
	f := newFakeUART(true)
	defer withFakeUART(f)()

	if err := configureUART(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ports[comPort+regLineControl] != (char8Bits|parityNone)&^stopBits1 {
		t.Fatalf("expected line control to be programmed for 8N1; got %#x", f.ports[comPort+regLineControl])
	}
}

func TestConfigureUARTFailsWhenLoopbackMismatches(t *testing.T) {
	f := newFakeUART(false)
	defer withFakeUART(f)()

	if err := configureUART(); err != errSelfTestFailed {
		t.Fatalf("expected errSelfTestFailed; got %v", err)
	}
}

func TestTxRegEmpty(t *testing.T) {
	f := newFakeUART(true)
	defer withFakeUART(f)()

	f.ports[comPort+regLineStatus] = 0
	if txRegEmpty() {
		t.Fatal("expected txRegEmpty to report false when the status bit is clear")
	}

	f.ports[comPort+regLineStatus] = lineStatusTxEmpty
	if !txRegEmpty() {
		t.Fatal("expected txRegEmpty to report true when the status bit is set")
	}
}

func TestDrainTxBufferWritesQueuedByte(t *testing.T) {
	f := newFakeUART(true)
	defer withFakeUART(f)()
	f.ports[comPort+regLineStatus] = lineStatusTxEmpty

	produce, consume = 0, 0
	txBuf[0] = 'h'
	produce = 1

	drainTxBuffer()

	if len(f.writes) != 1 || f.writes[0] != 'h' {
		t.Fatalf("expected 'h' to be written to the data register; got %v", f.writes)
	}
	if consume != 1 {
		t.Fatalf("expected consume to advance past the drained byte; got %d", consume)
	}
}

func TestDrainTxBufferWaitsForEmptyRegister(t *testing.T) {
	f := newFakeUART(true)
	defer withFakeUART(f)()
	f.ports[comPort+regLineStatus] = 0

	produce, consume = 1, 0
	txBuf[0] = 'x'

	drainTxBuffer()

	if len(f.writes) != 0 {
		t.Fatal("expected no write while the transmit register is still busy")
	}
	if consume != 0 {
		t.Fatal("expected consume to stay put until the register drains")
	}
}

func TestWriteBeforeInitIsNoOp(t *testing.T) {
	f := newFakeUART(true)
	defer withFakeUART(f)()
	initialized = false
	defer func() { initialized = false }()

	n := Write([]byte("hello"))
	if n != 0 {
		t.Fatalf("expected Write before Init to report 0 bytes queued; got %d", n)
	}
}

func TestWriteQueuesAndDrainsWhenIdle(t *testing.T) {
	f := newFakeUART(true)
	defer withFakeUART(f)()
	f.ports[comPort+regLineStatus] = lineStatusTxEmpty

	initialized = true
	produce, consume = 0, 0
	defer func() { initialized = false }()

	n := Write([]byte("hi"))
	if n != 2 {
		t.Fatalf("expected 2 bytes queued; got %d", n)
	}
	if len(f.writes) != 1 || f.writes[0] != 'h' {
		t.Fatalf("expected the first queued byte to be drained immediately; got %v", f.writes)
	}
	if consume != 1 || produce != 2 {
		t.Fatalf("expected one byte drained and one still buffered; consume=%d produce=%d", consume, produce)
	}
}

func TestWriteDoesNotRestartDrainWhileAlreadyFlowing(t *testing.T) {
	f := newFakeUART(true)
	defer withFakeUART(f)()
	f.ports[comPort+regLineStatus] = lineStatusTxEmpty

	initialized = true
	defer func() { initialized = false }()

	produce, consume = 1, 0
	txBuf[0] = 'a'

	Write([]byte("b"))

	if len(f.writes) != 0 {
		t.Fatalf("expected Write to leave draining to the pending interrupt, not write synchronously; got %v", f.writes)
	}
	if produce != 2 {
		t.Fatalf("expected the new byte to be queued; produce=%d", produce)
	}
}
