package kmain

import (
	"fragaria/kernel"
	"fragaria/kernel/cpu"
	"fragaria/kernel/driver/ps2"
	"fragaria/kernel/driver/serial"
	"fragaria/kernel/gdt"
	_ "fragaria/kernel/goruntime"
	"fragaria/kernel/hal"
	"fragaria/kernel/hal/multiboot"
	"fragaria/kernel/irq"
	"fragaria/kernel/mem/pmm/allocator"
	"fragaria/kernel/mem/vmm"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up a
// minimal g0 struct that allows Go code to run using the 4K stack allocated by
// the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.InitTerminal()
	hal.ActiveTerminal.Clear()

	gdt.Init()
	irq.Init()

	var err *kernel.Error
	if err = allocator.Init(kernelStart, kernelEnd); err != nil {
		panic(err)
	}
	vmm.SetFrameAllocator(allocator.AllocFrame)
	vmm.SetFrameReleaser(allocator.FreeFrame)
	if err = vmm.Init(); err != nil {
		panic(err)
	}

	if err = serial.Init(); err != nil {
		panic(err)
	}
	if err = ps2.Init(); err != nil {
		panic(err)
	}

	cpu.EnableInterrupts()

	// Use kernel.Panic instead of panic to prevent the compiler from
	// treating kernel.Panic as dead-code and eliminating it.
	kernel.Panic(errKmainReturned)
}
