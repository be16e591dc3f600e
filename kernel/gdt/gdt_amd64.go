// Package gdt builds the kernel's Global Descriptor Table and Task State
// Segment and loads them into the CPU.
package gdt

import (
	"unsafe"

	"fragaria/kernel/cpu"
)

// Segment selectors. Entry 0 is the mandatory null descriptor, entry 1 is
// the 64-bit kernel code segment and entries 2-3 hold the (16-byte) TSS
// descriptor.
const (
	nullEntry = 0
	codeEntry = 1
	tssEntry  = 2

	// CodeSelector is the GDT selector loaded into CS for kernel-mode code.
	CodeSelector = codeEntry * 8

	// tssSelector is the GDT selector loaded into the task register.
	tssSelector = tssEntry * 8

	// entryCount is the number of 8-byte slots in the GDT. The TSS
	// descriptor occupies two of them.
	entryCount = 8
)

// Segment descriptor bit layout (8 bytes, see Intel SDM Vol 3 3.4.5).
const (
	descAccessed    = 1 << 40
	descReadWrite   = 1 << 41
	descConforming  = 1 << 42
	descExecutable  = 1 << 43
	descType        = 1 << 44 // 1 = code/data, 0 = system
	descDPLShift    = 45
	descPresent     = 1 << 47
	descLongMode    = 1 << 53
	descSize        = 1 << 54
	descGranularity = 1 << 55
)

// IST stack indices used by the TSS, matching the slots assigned to the
// double-fault, page-fault and general-protection-fault handlers.
const (
	DFISTIndex = 0
	PFISTIndex = 1
	GPISTIndex = 2
)

// istStackSize is the size, in bytes, reserved for each IST stack.
const istStackSize = 4096

// tssDescType identifies a 64-bit TSS (available) system descriptor.
const tssDescType = 0b1001

var (
	table [entryCount]uint64
	tss   taskStateSegment

	dfStack [istStackSize]byte
	pfStack [istStackSize]byte
	gpStack [istStackSize]byte

	// nextFree is the first table slot after the null, kernel code and
	// two-slot TSS descriptors, left for segment descriptors added later.
	nextFree uint8 = tssEntry + 2
)

// taskStateSegment mirrors the layout of the x86-64 TSS. Every field is
// expressed as a pair of uint32 words instead of a single uint64 so that the
// Go compiler's natural alignment rules leave the struct packed exactly the
// way the CPU expects, with no implicit padding.
type taskStateSegment struct {
	reserved0 uint32

	rsp0Lo, rsp0Hi uint32
	rsp1Lo, rsp1Hi uint32
	rsp2Lo, rsp2Hi uint32

	reserved1Lo, reserved1Hi uint32

	ist1Lo, ist1Hi uint32
	ist2Lo, ist2Hi uint32
	ist3Lo, ist3Hi uint32
	ist4Lo, ist4Hi uint32
	ist5Lo, ist5Hi uint32
	ist6Lo, ist6Hi uint32
	ist7Lo, ist7Hi uint32

	reserved2Lo, reserved2Hi uint32

	reserved3 uint16
	ioMapBase uint16
}

func (t *taskStateSegment) setIST(index int, addr uintptr) {
	lo := uint32(addr)
	hi := uint32(addr >> 32)

	switch index {
	case 0:
		t.ist1Lo, t.ist1Hi = lo, hi
	case 1:
		t.ist2Lo, t.ist2Hi = lo, hi
	case 2:
		t.ist3Lo, t.ist3Hi = lo, hi
	case 3:
		t.ist4Lo, t.ist4Hi = lo, hi
	case 4:
		t.ist5Lo, t.ist5Hi = lo, hi
	case 5:
		t.ist6Lo, t.ist6Hi = lo, hi
	case 6:
		t.ist7Lo, t.ist7Hi = lo, hi
	}
}

// tablePointer is the operand loaded by the LGDT instruction: a 16-bit table
// limit followed by a 64-bit linear base address.
type tablePointer struct {
	limit uint16
	base  uint64
}

// Init builds the kernel code descriptor and TSS descriptor, points the TSS
// IST slots at dedicated fault stacks and loads the resulting table into the
// CPU. Interrupts are disabled for the duration of the switch and restored
// to their previous state afterwards.
func Init() {
	table[nullEntry] = 0

	var code uint64
	code |= descConforming
	code |= descExecutable
	code |= descType
	code |= 0 << descDPLShift
	code |= descPresent
	code |= descLongMode
	table[codeEntry] = code

	tss = taskStateSegment{}
	tss.ioMapBase = uint16(unsafe.Sizeof(taskStateSegment{}))
	tss.setIST(DFISTIndex, stackTop(&dfStack))
	tss.setIST(PFISTIndex, stackTop(&pfStack))
	tss.setIST(GPISTIndex, stackTop(&gpStack))

	setTSSDescriptor(uintptr(unsafe.Pointer(&tss)), uint32(unsafe.Sizeof(tss))-1)

	ptr := tablePointer{
		limit: uint16(unsafe.Sizeof(table)) - 1,
		base:  uint64(uintptr(unsafe.Pointer(&table[0]))),
	}

	enableInts := cpu.InterruptsEnabled()
	if enableInts {
		cpu.DisableInterrupts()
	}

	cpu.LoadGDT(uintptr(unsafe.Pointer(&ptr)))
	cpu.LoadTR(tssSelector)

	if enableInts {
		cpu.EnableInterrupts()
	}
}

// setTSSDescriptor populates the two 8-byte GDT slots that make up the TSS
// system descriptor.
func setTSSDescriptor(base uintptr, limit uint32) {
	var low, high uint64

	low |= uint64(limit) & 0xFFFF
	low |= (uint64(base) & 0xFFFF) << 16
	low |= ((uint64(base) >> 16) & 0xFF) << 32
	low |= uint64(tssDescType) << 40
	low |= 0 << 45 // dpl
	low |= 1 << 47 // present
	low |= uint64((limit>>16)&0xF) << 48
	low |= ((uint64(base) >> 24) & 0xFF) << 56

	high |= (uint64(base) >> 32) & 0xFFFFFFFF

	table[tssEntry] = low
	table[tssEntry+1] = high
}

// stackTop returns the address one past the end of the supplied stack
// buffer, i.e. the value that should be loaded as the top of a
// downward-growing x86 stack.
func stackTop(stack *[istStackSize]byte) uintptr {
	return uintptr(unsafe.Pointer(&stack[istStackSize-1])) + 1
}
