// Package cpu exposes the small set of privileged, architecture-specific
// primitives the kernel needs. Every function in this file is intentionally
// left without a body; each one is backed by a hand-written assembly
// implementation supplied at link time and is therefore out of scope here.
package cpu

// EnableInterrupts enables interrupt handling (STI).
func EnableInterrupts()

// DisableInterrupts disables interrupt handling (CLI).
func DisableInterrupts()

// InterruptsEnabled reports whether the interrupt flag is currently set.
func InterruptsEnabled() bool

// Halt stops instruction execution (HLT).
func Halt()

// Inb reads a single byte from the given I/O port.
func Inb(port uint16) uint8

// Outb writes a single byte to the given I/O port.
func Outb(port uint16, val uint8)

// LoadGDT installs the GDT pointed to by the (limit, base) pair described by
// ptr and reloads the segment registers.
func LoadGDT(ptr uintptr)

// LoadTR loads the task register with the given GDT selector.
func LoadTR(selector uint16)

// LoadIDT installs the IDT pointed to by the (limit, base) pair described by
// ptr.
func LoadIDT(ptr uintptr)

// ReadCR2 returns the contents of CR2, the register the CPU populates with
// the faulting linear address whenever a page fault occurs.
func ReadCR2() uint64

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr
