// Package goruntime contains code for bootstrapping Go runtime features such
// as the memory allocator.
package goruntime

import (
	"unsafe"

	"fragaria/kernel/mem"
	"fragaria/kernel/mem/vmm"
)

// allocPagesFn reserves demand-paged pages from the page-granular virtual
// heap shared with kmalloc; the first write into any page it hands back
// faults in its backing frame transparently through vmm's page-fault
// handler. It is a variable so tests can substitute a mock for
// vmm.AllocPages.
var allocPagesFn = vmm.AllocPages

func pageCountFor(size uintptr) uint64 {
	return uint64((mem.Size(size) + mem.PageSize - 1) / mem.PageSize)
}

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings. Under the hood the reservation is a
// Demand mapping: the address range is claimed in the page tables, but no
// physical frame is attached to any page in it until something writes to
// it.
//
// This function replaces runtime.sysReserve and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	addr, ok := allocPagesFn(pageCountFor(size))
	if !ok {
		panic("sysReserve: failed to reserve pages")
	}

	*reserved = true
	return unsafe.Pointer(addr)
}

// sysMap commits a region previously reserved by sysReserve. Since the
// reservation is already a Demand mapping, there is no further page-table
// work to do here -- the first touch of any page in the region faults it
// in through vmm's page-fault handler -- so sysMap only needs to account
// for the commit.
//
// This function replaces runtime.sysMap and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap should only be called with reserved=true")
	}

	mSysStatInc(sysStat, uintptr(size))
	return virtAddr
}

// sysAlloc reserves and commits, in one step, enough demand-paged virtual
// memory to satisfy the allocation request, returning a pointer to the
// region start.
//
// This function replaces runtime.sysAlloc and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	addr, ok := allocPagesFn(pageCountFor(size))
	if !ok {
		return unsafe.Pointer(uintptr(0))
	}

	mSysStatInc(sysStat, uintptr(size))
	return unsafe.Pointer(addr)
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var (
		reserved bool
		stat     uint64
		zeroPtr  = unsafe.Pointer(uintptr(0))
	)

	sysReserve(zeroPtr, 0, &reserved)
	sysMap(zeroPtr, 0, reserved, &stat)
	sysAlloc(0, &stat)
}
