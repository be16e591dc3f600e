package vmm

import (
	"fragaria/kernel"
	"fragaria/kernel/irq"
	"fragaria/kernel/kfmt"
	"fragaria/kernel/mem"
)

// pageFaultHandler resolves a page fault triggered by an access to the
// address reported in CR2. A fault on a page reserved via MapDemand is
// recoverable: a physical frame is allocated on the spot, zeroed and wired
// into the page table entry, and the faulting instruction is retried. Every
// other fault (access to an unmapped page, a protection violation) is fatal.
func pageFaultHandler(_ irq.Vector, errorCode uint64, faultAddr uintptr, regs *irq.Regs, frame *irq.Frame) {
	faultPage := PageFromAddress(faultAddr)

	pte, err := resolve(currentPML4(), faultPage.Address(), false, nil)
	if err != nil {
		nonRecoverablePageFault(faultAddr, errorCode, regs, frame, err)
		return
	}

	if !pte.HasFlags(FlagPresent) && pte.HasAnyFlag(FlagDemand) {
		newFrame, allocErr := frameAllocator()
		if allocErr != nil {
			nonRecoverablePageFault(faultAddr, errorCode, regs, frame, allocErr)
			return
		}

		mem.Memset(newFrame.Address(), 0, mem.PageSize)

		pte.ClearFlags(FlagDemand)
		pte.SetFrame(newFrame)
		pte.SetFlags(FlagPresent)
		flushTLBEntryFn(faultPage.Address())
		return
	}

	nonRecoverablePageFault(faultAddr, errorCode, regs, frame, nil)
}

func nonRecoverablePageFault(faultAddr uintptr, errorCode uint64, regs *irq.Regs, frame *irq.Frame, err *kernel.Error) {
	kfmt.Printf("\npage fault while accessing address: 0x%16x\nreason: ", faultAddr)
	switch errorCode {
	case 0:
		kfmt.Printf("read from non-present page")
	case 1:
		kfmt.Printf("page protection violation (read)")
	case 2:
		kfmt.Printf("write to non-present page")
	case 3:
		kfmt.Printf("page protection violation (write)")
	case 4:
		kfmt.Printf("page-fault in user-mode")
	case 8:
		kfmt.Printf("page table has reserved bit set")
	case 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nregisters:\n")
	regs.Print()
	frame.Print()

	panicFn(err)
}

func generalProtectionFaultHandler(_ irq.Vector, _ uint64, faultAddr uintptr, regs *irq.Regs, frame *irq.Frame) {
	kfmt.Printf("\ngeneral protection fault while accessing address: 0x%16x\n", faultAddr)
	regs.Print()
	frame.Print()

	panicFn(nil)
}
