package main

import "fragaria/kernel/kmain"

var multibootInfoPtr uintptr

// main makes a dummy call to the actual kernel main entrypoint function. It
// is intentionally defined to prevent the Go compiler from optimizing away
// the real kernel code.
//
// A global variable is passed as an argument to Kmain to prevent the
// compiler from inlining the actual call and removing Kmain from the
// generated .o file.
//
// The rt0 assembly code calls kmain.Kmain itself; this dummy call passes 0
// for both the kernel start and end addresses.
func main() {
	kmain.Kmain(multibootInfoPtr, 0, 0)
}
