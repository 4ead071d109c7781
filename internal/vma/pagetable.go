// Package vma implements lazily-faulted, file-backed memory mappings: the
// mmap/munmap/page-fault path a process-level harness drives the way a
// real kernel drives user page faults, using a simulated flat page table
// instead of real x86-64/riscv page-table walks, since this module never
// runs on bare metal.
package vma

import (
	"sync"

	"biscuit/internal/mem"
)

// Permission bits, matching the mmap PROT_* convention: protection<<1 maps
// directly onto the simulated PTE's R/W/X bits
// (`(protection << 1) | PTE_U | PTE_A | PTE_D`).
const (
	ProtRead = 1 << iota
	ProtWrite
	ProtExec
)

// Simulated PTE flag bits, laid out the way riscv's page-table entries are
// (V at bit 0, R/W/X at 1-3, U at 4, A at 6, D at 7) so ProtRead<<1 lands
// on the R bit and so on.
const (
	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteA = 1 << 6
	pteD = 1 << 7
)

func permFlags(prot int) uint8 {
	return uint8(prot<<1) | pteU | pteA | pteD | pteV
}

// Readable reports whether perm (as returned by PageTable.Lookup) permits
// reads.
func Readable(perm uint8) bool { return perm&pteR != 0 }

// Writable reports whether perm permits writes.
func Writable(perm uint8) bool { return perm&pteW != 0 }

type pte struct {
	pa   mem.Pa_t
	perm uint8
}

// PageTable is a simulated page table: a flat map from page-aligned
// virtual address to physical page, guarded by one mutex. Stands in for
// the real multi-level page table biscuit's mem.Pmap_t walks
// (biscuit/src/vm/as.go), since this rewrite has no MMU to program.
type PageTable struct {
	mu      sync.Mutex
	entries map[uintptr]pte
}

func NewPageTable() *PageTable {
	return &PageTable{entries: make(map[uintptr]pte)}
}

// Map installs a mapping from va (must be page-aligned) to pa with the
// given permission bits.
func (pt *PageTable) Map(va uintptr, pa mem.Pa_t, perm uint8) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.entries[va] = pte{pa: pa, perm: perm}
}

// Lookup returns the physical page and permission bits mapped at va, or
// ok=false if va is unmapped — the simulated analogue of a page fault
// check against a real page table.
func (pt *PageTable) Lookup(va uintptr) (pa mem.Pa_t, perm uint8, ok bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, found := pt.entries[va]
	return e.pa, e.perm, found
}

// Unmap removes the mapping at va, if any, and returns the physical page
// that was mapped there so the caller can drop its refcount.
func (pt *PageTable) Unmap(va uintptr) (mem.Pa_t, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va]
	if !ok {
		return 0, false
	}
	delete(pt.entries, va)
	return e.pa, true
}
