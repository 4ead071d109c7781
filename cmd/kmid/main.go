// Command kmid is the interactive harness for the kernel mid-layer
// components in internal/bc, internal/netstack, and internal/vma: it
// wires a buffer cache, a simulated UDP stack, and a per-process VMA
// table over a disk image and a loopback network, and drives them from
// either a scripted subcommand or a REPL.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
