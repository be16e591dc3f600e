// Package serial drives the 8250/16550-compatible UART found at the legacy
// COM1 I/O port range, buffering outgoing bytes in a small circular buffer
// that is drained a byte at a time from the transmitter-empty interrupt.
package serial

import (
	"fragaria/kernel"
	"fragaria/kernel/cpu"
	"fragaria/kernel/irq"
)

// COM1 I/O port base. COM2-4 and the parallel ports exist on real hardware
// too but this kernel only ever talks to COM1.
const comPort = 0x03F8

// Register offsets, relative to comPort.
const (
	regData             = 0
	regInterruptEnable  = 1
	regDivisorLSB       = 0
	regDivisorMSB       = 1
	regFIFOControl      = 2
	regLineControl      = 3
	regModemControl     = 4
	regLineStatus       = 5
)

// Interrupt enable bits.
const intTxEmpty = 1 << 1

// FIFO control bits.
const (
	fifoEnable     = 1 << 0
	fifoClearRX    = 1 << 1
	fifoClearTX    = 1 << 2
	fifoThreshold14 = 0b11 << 6
)

// Line control bits.
const (
	char8Bits   = 0b011
	parityNone  = 0b000 << 3
	stopBits1   = 1 << 2
	dlabEnable  = 1 << 7
)

// Modem control bits.
const (
	modemDTR  = 1 << 0
	modemRTS  = 1 << 1
	modemOut1 = 1 << 2
	modemOut2 = 1 << 3
	modemLoop = 1 << 4
)

// Line status bits.
const lineStatusTxEmpty = 1 << 5

// txBufLen is the size of the circular transmit buffer.
const txBufLen = 64

// inbFn and outbFn indirect every port access so tests can substitute a
// fake UART without calling into the real (assembly-backed) I/O
// instructions.
var (
	inbFn  = cpu.Inb
	outbFn = cpu.Outb
)

var (
	txBuf               [txBufLen]byte
	produce, consume    int
	initialized         bool
)

// errSelfTestFailed is returned by Init when the UART fails its loopback
// self-test, mirroring SER_init's infinite-halt-loop failure mode with a
// recoverable error instead.
var errSelfTestFailed = &kernel.Error{Module: "serial", Message: "UART loopback self-test failed"}

func txRegEmpty() bool {
	return inbFn(comPort+regLineStatus)&lineStatusTxEmpty != 0
}

// drainTxBuffer writes the next buffered byte to the transmitter if there is
// one queued and the transmit register is ready for it. Interrupts must be
// disabled by the caller; it is invoked both from HandleIRQ and, to kick off
// transmission, directly from Write.
func drainTxBuffer() {
	if produce == consume {
		return
	}

	if txRegEmpty() {
		outbFn(comPort, txBuf[consume])
		consume = (consume + 1) % txBufLen
	}
}

func HandleIRQ(_ irq.Vector, _ uint64, _ uintptr, _ *irq.Regs, _ *irq.Frame) {
	drainTxBuffer()
}

// configureUART programs the UART for 9600 baud, 8 data bits, no parity, one
// stop bit, with a 14-byte receive FIFO threshold, and verifies it is
// present via a loopback self-test, mirroring SER_init's register-write
// sequence.
func configureUART() *kernel.Error {
	outbFn(comPort+regInterruptEnable, 0x00)

	outbFn(comPort+regLineControl, dlabEnable)
	outbFn(comPort+regDivisorLSB, 0x0C)
	outbFn(comPort+regDivisorMSB, 0x00)

	outbFn(comPort+regLineControl, (char8Bits|parityNone)&^stopBits1)

	outbFn(comPort+regFIFOControl, fifoEnable|fifoClearRX|fifoClearTX|fifoThreshold14)

	outbFn(comPort+regModemControl, modemDTR|modemRTS|modemOut2)

	outbFn(comPort+regModemControl, modemLoop|modemRTS|modemOut1)
	outbFn(comPort, 0xAE)
	if inbFn(comPort) != 0xAE {
		return errSelfTestFailed
	}

	outbFn(comPort+regModemControl, modemDTR|modemRTS|modemOut1|modemOut2)
	return nil
}

// Init configures the UART and registers the transmitter-empty interrupt
// handler. Init must run after irq.Init.
func Init() *kernel.Error {
	if err := configureUART(); err != nil {
		return err
	}

	produce, consume = 0, 0
	initialized = true

	outbFn(comPort+regInterruptEnable, intTxEmpty)
	irq.SetHandler(irq.VectorForLine(irq.LineCOM1), HandleIRQ)
	irq.ClearMask(irq.LineCOM1)

	return nil
}

// Write queues buf for transmission and returns the number of bytes queued.
// It is safe to call from within an interrupt handler. Bytes written before
// Init has run are silently dropped so that early boot diagnostics can
// prefer the VGA console without Write returning an error on every call.
func Write(buf []byte) int {
	interruptsWereEnabled := cpu.InterruptsEnabled()
	if interruptsWereEnabled {
		cpu.DisableInterrupts()
	}

	if !initialized {
		if interruptsWereEnabled {
			cpu.EnableInterrupts()
		}
		return 0
	}

	restart := produce == consume

	for _, b := range buf {
		txBuf[produce] = b
		produce = (produce + 1) % txBufLen
	}

	if restart {
		drainTxBuffer()
	}

	if interruptsWereEnabled {
		cpu.EnableInterrupts()
	}

	return len(buf)
}
