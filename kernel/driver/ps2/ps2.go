// Package ps2 drives the 8042 PS/2 controller and a single attached
// keyboard on port one, decoding scan code set 2 bytes into a minimal ASCII
// stream.
package ps2

import (
	"fragaria/kernel"
	"fragaria/kernel/cpu"
	"fragaria/kernel/irq"
)

const (
	dataPort    = 0x60
	commandPort = 0x64
)

// Controller status register bits.
const (
	statusOutputFull = 1 << 0
	statusInputFull  = 1 << 1
)

// Controller commands.
const (
	cmdReadConfig    = 0x20
	cmdWriteConfig   = 0x60
	cmdDisablePort2  = 0xA7
	cmdTestPort2     = 0xA9
	cmdTestController = 0xAA
	cmdDisablePort1  = 0xAD
	cmdEnablePort1   = 0xAE
)

// Configuration byte bits (read/write byte zero).
const (
	cfgPort1Interrupt  = 1 << 0
	cfgPort1Translation = 1 << 6
)

const selfTestOK = 0x55

// Keyboard device commands and responses.
const (
	kbdSetScancodeSet   = 0xF0
	kbdEnableScanning   = 0xF4
	kbdReset            = 0xFF
	kbdAck              = 0xFA
	kbdSelfTestPass     = 0xAA
)

// Scan code set 2 bytes worth tracking beyond a plain character.
const (
	scanTab         = 0x0D
	scanLeftShift   = 0x12
	scanRightShift  = 0x59
	scanCapsLock    = 0x58
	scanEnter       = 0x5A
	scanBackspace   = 0x66
	scanEscape      = 0x76
	scanRelease     = 0xF0
	scanMultiByte   = 0xE0
)

// scanToASCII is a minimal scan code set 2 -> lowercase ASCII table, indexed
// by scan code. Codes with no mapping decode to 0. This intentionally omits
// a full keycode table (punctuation, function keys, numpad) -- the kernel
// only needs enough keyboard input to drive a line-oriented console.
var scanToASCII = [0x80]byte{
	0x1C: 'a', 0x32: 'b', 0x21: 'c', 0x23: 'd', 0x24: 'e', 0x2B: 'f',
	0x34: 'g', 0x33: 'h', 0x43: 'i', 0x3B: 'j', 0x42: 'k', 0x4B: 'l',
	0x3A: 'm', 0x31: 'n', 0x44: 'o', 0x4D: 'p', 0x15: 'q', 0x2D: 'r',
	0x1B: 's', 0x2C: 't', 0x3C: 'u', 0x2A: 'v', 0x1D: 'w', 0x22: 'x',
	0x35: 'y', 0x1A: 'z',
	0x45: '0', 0x16: '1', 0x1E: '2', 0x26: '3', 0x25: '4',
	0x2E: '5', 0x36: '6', 0x3D: '7', 0x3E: '8', 0x46: '9',
	0x29: ' ',
}

var errSelfTestFailed = &kernel.Error{Module: "ps2", Message: "8042 controller self-test failed"}
var errKeyboardSelfTestFailed = &kernel.Error{Module: "ps2", Message: "keyboard self-test failed"}

// inbFn and outbFn indirect every port access so tests can substitute a
// fake controller without calling into the real (assembly-backed) I/O
// instructions.
var (
	inbFn  = cpu.Inb
	outbFn = cpu.Outb
)

var (
	lshift, rshift, capsLock bool
	expectRelease            bool
	expectMultiByte          bool
)

// buf is a tiny ring of decoded characters awaiting a consumer; sized well
// above any plausible typeahead for the single-threaded console this feeds.
const bufLen = 16

var (
	buf              [bufLen]byte
	bufHead, bufTail int
)

// TODO: none of the polling loops below time out; a wedged or absent
// controller hangs Init and HandleIRQ forever.
func waitInputClear() {
	for statusInputFull&inbFn(commandPort) != 0 {
	}
}

func waitOutputFull() {
	for statusOutputFull&inbFn(commandPort) == 0 {
	}
}

func writeCommand(cmd uint8) {
	waitInputClear()
	outbFn(commandPort, cmd)
}

func writeData(b uint8) {
	waitInputClear()
	outbFn(dataPort, b)
}

func readData() uint8 {
	waitOutputFull()
	return inbFn(dataPort)
}

func writeKeyboard(cmd uint8) {
	waitInputClear()
	outbFn(dataPort, cmd)
}

// Init resets the controller and the attached keyboard, disables scan code
// translation so HandleIRQ sees raw scan code set 2 bytes, and registers the
// keyboard's interrupt handler. Init must run after irq.Init.
func Init() *kernel.Error {
	outbFn(commandPort, cmdDisablePort1)
	outbFn(commandPort, cmdDisablePort2)

	inbFn(dataPort)

	writeCommand(cmdReadConfig)
	config := readData()
	config &^= cfgPort1Interrupt
	config &^= cfgPort1Translation

	writeCommand(cmdTestController)
	if readData() != selfTestOK {
		return errSelfTestFailed
	}

	writeCommand(cmdWriteConfig)
	writeData(config)

	outbFn(commandPort, cmdEnablePort1)

	for {
		writeKeyboard(kbdReset)
		if readData() == kbdAck {
			break
		}
	}
	if readData() != kbdSelfTestPass {
		return errKeyboardSelfTestFailed
	}

	for {
		writeKeyboard(kbdSetScancodeSet)
		writeKeyboard(2)
		if readData() == kbdAck {
			break
		}
	}

	for {
		writeKeyboard(kbdEnableScanning)
		if readData() == kbdAck {
			break
		}
	}

	lshift, rshift, capsLock = false, false, false
	expectRelease, expectMultiByte = false, false
	bufHead, bufTail = 0, 0

	irq.SetHandler(irq.VectorForLine(irq.LineKeyboard), HandleIRQ)
	irq.ClearMask(irq.LineKeyboard)

	return nil
}

func pushChar(c byte) {
	next := (bufTail + 1) % bufLen
	if next == bufHead {
		return
	}
	buf[bufTail] = c
	bufTail = next
}

// ReadChar returns the next decoded character and true, or 0 and false if
// nothing has been typed since the last call.
func ReadChar() (byte, bool) {
	if bufHead == bufTail {
		return 0, false
	}
	c := buf[bufHead]
	bufHead = (bufHead + 1) % bufLen
	return c, true
}

// decode turns a single scan code set 2 byte arriving outside of a release
// or multi-byte sequence into an ASCII character, tracking shift/caps-lock
// state. It mirrors get_char's switch over named scan codes.
func decode(code uint8) byte {
	switch code {
	case scanTab, scanBackspace, scanEscape:
		return 0
	case scanLeftShift:
		lshift = true
		return 0
	case scanRightShift:
		rshift = true
		return 0
	case scanCapsLock:
		capsLock = !capsLock
		return 0
	case scanEnter:
		return '\n'
	default:
		c := scanToASCII[code&0x7F]
		if c == 0 {
			return 0
		}
		if (lshift || rshift) != capsLock && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		return c
	}
}

// HandleIRQ reads one scan code byte from the controller and, once a full
// scan code (which may span a release or multi-byte prefix) has arrived,
// pushes the decoded character onto the read buffer.
func HandleIRQ(_ irq.Vector, _ uint64, _ uintptr, _ *irq.Regs, _ *irq.Frame) {
	code := readData()

	switch {
	case expectRelease:
		expectRelease = false
		switch code {
		case scanLeftShift:
			lshift = false
		case scanRightShift:
			rshift = false
		}
	case expectMultiByte:
		expectMultiByte = false
		if code == scanRelease {
			expectRelease = true
		}
	case code == scanRelease:
		expectRelease = true
	case code == scanMultiByte:
		expectMultiByte = true
	default:
		if c := decode(code); c != 0 {
			pushChar(c)
		}
	}
}
