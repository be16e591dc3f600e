// Package irq installs a 256-entry Interrupt Descriptor Table, remaps the
// legacy 8259A PIC pair out of the CPU's reserved exception range and
// dispatches incoming interrupts and exceptions to registered handlers.
package irq

import (
	"unsafe"

	"fragaria/kernel/cpu"
	"fragaria/kernel/gdt"
	"fragaria/kernel/kfmt"
)

// Vector identifies an IDT slot. Vectors 0-31 are CPU exceptions; the PIC is
// remapped so that hardware IRQ lines 0-15 arrive as vectors 0x20-0x2F.
type Vector uint8

// Exception vectors the kernel cares about.
const (
	DivideByZero        = Vector(0)
	DoubleFault         = Vector(8)
	GPFException        = Vector(13)
	PageFaultException  = Vector(14)
)

// picBase is the vector at which remapped hardware interrupts start.
const picBase = 0x20

// Line identifies a legacy PIC IRQ line (0-15).
type Line uint8

// Lines wired to the devices this kernel drives.
const (
	LineTimer    = Line(0)
	LineKeyboard = Line(1)
	LineCascade  = Line(2)
	LineCOM2     = Line(3)
	LineCOM1     = Line(4)
)

// PIC I/O ports and initialization command words, ported byte-for-byte from
// the legacy 8259A programming sequence.
const (
	pic1Command = 0x20
	pic1Data    = 0x21
	pic2Command = 0xA0
	pic2Data    = 0xA1

	icw1Init  = 0x10
	icw1ICW4  = 0x01
	icw4Mode8086 = 0x01

	picEOI = 0x20
)

// Handler processes an interrupt. errorCode and faultAddr are only
// meaningful for the exceptions that push an error code (e.g.
// GPFException) or that report a faulting address via CR2 (PageFaultException);
// callers that don't need them may ignore the arguments.
type Handler func(vector Vector, errorCode uint64, faultAddr uintptr, regs *Regs, frame *Frame)

var handlers [256]Handler

// Init disables interrupts, remaps the PIC so that IRQ lines 0-15 land on
// vectors 0x20-0x2F, masks all 16 PIC lines, builds a 256-entry IDT that
// routes every vector back into dispatch and loads it into the CPU.
// Interrupts remain disabled on return; the caller is expected to enable them
// once every driver has had a chance to register its handlers and unmask its
// line.
func Init() {
	cpu.DisableInterrupts()
	remapPIC(picBase, picBase+8)
	cpu.Outb(pic1Data, 0xFF)
	cpu.Outb(pic2Data, 0xFF)
	installIDT()
}

// SetHandler installs handler as the receiver for vector. Passing a nil
// handler clears any handler previously installed for that vector.
func SetHandler(vector Vector, handler Handler) {
	handlers[vector] = handler
}

// VectorForLine returns the IDT vector a hardware IRQ line is remapped to.
// Drivers use this to register a Handler for the line they are wired to via
// SetHandler, then unmask the line with ClearMask.
func VectorForLine(line Line) Vector {
	return Vector(picBase + uint8(line))
}

// SetMask masks (disables) the given PIC IRQ line.
func SetMask(line Line) {
	port := pic1Data
	l := uint8(line)
	if l >= 8 {
		port = pic2Data
		l -= 8
	}

	cpu.Outb(uint16(port), cpu.Inb(uint16(port))|(1<<l))
}

// ClearMask unmasks (enables) the given PIC IRQ line.
func ClearMask(line Line) {
	port := pic1Data
	l := uint8(line)
	if l >= 8 {
		port = pic2Data
		l -= 8
	}

	cpu.Outb(uint16(port), cpu.Inb(uint16(port))&^(1<<l))
}

// GetMask returns true if the given PIC IRQ line is currently masked.
func GetMask(line Line) bool {
	port := pic1Data
	l := uint8(line)
	if l >= 8 {
		port = pic2Data
		l -= 8
	}

	return cpu.Inb(uint16(port))&(1<<l) != 0
}

// EndOfInterrupt signals the PIC(s) that the handler for line has completed.
// A line served by the slave PIC requires an EOI to both PICs.
func EndOfInterrupt(line Line) {
	if line >= 8 {
		cpu.Outb(pic2Command, picEOI)
	}
	cpu.Outb(pic1Command, picEOI)
}

// remapPIC reassigns the interrupt vectors used by the master and slave PIC
// to offset1 and offset2 respectively, preserving the previously configured
// interrupt masks across the reinitialization sequence.
func remapPIC(offset1, offset2 uint8) {
	mask1 := cpu.Inb(pic1Data)
	mask2 := cpu.Inb(pic2Data)

	cpu.Outb(pic1Command, icw1Init|icw1ICW4)
	ioWait()
	cpu.Outb(pic2Command, icw1Init|icw1ICW4)
	ioWait()

	cpu.Outb(pic1Data, offset1)
	ioWait()
	cpu.Outb(pic2Data, offset2)
	ioWait()

	// Tell PIC1 that PIC2 sits on IRQ2, and tell PIC2 its cascade identity.
	cpu.Outb(pic1Data, 4)
	ioWait()
	cpu.Outb(pic2Data, 2)
	ioWait()

	cpu.Outb(pic1Data, icw4Mode8086)
	ioWait()
	cpu.Outb(pic2Data, icw4Mode8086)
	ioWait()

	cpu.Outb(pic1Data, mask1)
	cpu.Outb(pic2Data, mask2)
}

// ioWait burns a small amount of time on an unused port so that older PICs
// have a chance to process the previous command before the next one lands.
func ioWait() {
	cpu.Outb(0x80, 0)
}

// dispatch is invoked by the common interrupt gate entrypoint after it has
// saved the register state to regs. vector identifies which IDT slot fired;
// errorCode is only valid for the exceptions that push one. If no handler
// has been registered for vector, the event is reported and the CPU is
// halted, mirroring how the kernel has no recovery strategy for unexpected
// interrupts.
func dispatch(vector Vector, errorCode uint64, regs *Regs, frame *Frame) {
	if h := handlers[vector]; h != nil {
		h(vector, errorCode, uintptr(cpu.ReadCR2()), regs, frame)
		if vector >= picBase {
			EndOfInterrupt(Line(vector - picBase))
		}
		return
	}

	kfmt.Printf("unhandled interrupt: vector 0x%x error 0x%x cr2 0x%x\n", uint8(vector), errorCode, cpu.ReadCR2())
	regs.Print()
	frame.Print()
	cpu.Halt()
}

// gateType identifies a 64-bit interrupt gate (as opposed to a trap gate,
// which leaves IF untouched).
const gateType = 0xE

// idt is the table loaded into the CPU by installIDT.
var idt [256]idtGate

// idtGate mirrors the 16-byte layout of an AMD64 IDT gate descriptor.
type idtGate struct {
	lo, hi uint64
}

// set encodes offset, selector, ist (1-7, or 0 for "use current stack") and
// the present bit into the gate. Every gate installed by this package is a
// ring-0 interrupt gate, so type and DPL are not parameterized.
func (g *idtGate) set(offset uintptr, selector uint16, ist uint8, present bool) {
	var lo, hi uint64

	lo |= uint64(offset) & 0xFFFF
	lo |= uint64(selector) << 16
	lo |= uint64(ist&0x7) << 32
	lo |= uint64(gateType) << 40
	lo |= 0 << 45 // dpl 0
	if present {
		lo |= 1 << 47
	}
	lo |= ((uint64(offset) >> 16) & 0xFFFF) << 48

	hi = (uint64(offset) >> 32) & 0xFFFFFFFF

	g.lo, g.hi = lo, hi
}

// istIndex extracts the IST field previously written by set, for tests.
func (g *idtGate) istIndex() uint8 {
	return uint8((g.lo >> 32) & 0x7)
}

// idtPointer is the operand loaded by the LIDT instruction: a 16-bit table
// limit followed by a 64-bit linear base address.
type idtPointer struct {
	limit uint16
	base  uint64
}

// buildIDT wires each vector's trampoline address from entries into a gate
// descriptor, assigning vectors 0x08 (double fault), 0x0D (general
// protection) and 0x0E (page fault) their own IST stack so that a fault
// taken with a corrupted or exhausted kernel stack still has somewhere safe
// to run. Every other vector runs on whatever stack was already active.
func buildIDT(entries [256]uintptr) [256]idtGate {
	var table [256]idtGate

	for v := 0; v < 256; v++ {
		var ist uint8
		switch Vector(v) {
		case DoubleFault:
			ist = gdt.DFISTIndex + 1
		case GPFException:
			ist = gdt.GPISTIndex + 1
		case PageFaultException:
			ist = gdt.PFISTIndex + 1
		}

		table[v].set(entries[v], gdt.CodeSelector, ist, true)
	}

	return table
}

// installIDT populates the 256-entry IDT with gate descriptors that all
// funnel into the common dispatch trampoline and loads it into the CPU.
// gateEntries supplies the per-vector trampoline addresses that capture Regs
// and Frame before calling dispatch; those trampolines are supplied at link
// time by the assembly side.
func installIDT() {
	idt = buildIDT(gateEntries())

	ptr := idtPointer{
		limit: uint16(unsafe.Sizeof(idt)) - 1,
		base:  uint64(uintptr(unsafe.Pointer(&idt[0]))),
	}
	cpu.LoadIDT(uintptr(unsafe.Pointer(&ptr)))
}

// gateEntries returns the address of each vector's assembly trampoline,
// indexed by vector number.
func gateEntries() [256]uintptr
