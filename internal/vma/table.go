package vma

import (
	"io"
	"sync"

	"biscuit/internal/defs"
	"biscuit/internal/mem"
	"biscuit/internal/util"
)

// MAXVMA is the default number of mapping slots a process gets when a
// caller does not ask for a different count — a table scanned linearly,
// sized at construction rather than dynamically grown.
const MAXVMA = 16

// MaxOpBlocks bounds one simulated filesystem transaction, matching xv6's
// MAXOPBLOCKS (param.h). Writeback chunks are capped to
// ((MaxOpBlocks-4)/2)*PGSIZE bytes, the same arithmetic
// filewrite_offset uses for its per-transaction maximum. Exported so
// callers wiring a Txn implementation can size its budget off the same
// constant the chunk loop uses.
const MaxOpBlocks = 10

const maxWritebackChunk = ((MaxOpBlocks - 4) / 2) * mem.PGSIZE

// Txn models the block-budget admission control a real write-back would
// bracket each chunk with (begin_op/end_op): Begin reserves nblocks worth
// of in-flight transaction budget, blocking if necessary, and returns a
// function that releases the reservation. Kept as a narrow interface,
// grounded the same way internal/bc.Disk and File are, so internal/vma
// does not depend on internal/simfs's concrete Txn type.
type Txn interface {
	Begin(nblocks int) func()
}

// Mapping flags, matching MAP_SHARED/MAP_PRIVATE.
const (
	MapShared = 1 << iota
	MapPrivate
)

type slot struct {
	valid bool
	start uintptr
	end   uintptr
	len   int // always end-start; tracked separately to mirror the C vma's explicit length field
	prot  int
	flags int
	file  File
	offset int64
}

// Table is one process's VMA table: a fixed number of slots, sized once at
// construction, plus the monotonically growing process break new mappings
// are placed at.
type Table struct {
	mu    sync.Mutex
	slots []slot
	sz    uintptr

	pt    *PageTable
	pages mem.Page_i
	txn   Txn
}

// NewTable builds a VMA table with maxSlots mapping slots, whose mappings
// are placed starting at base and that faults pages through pt/pages. A
// maxSlots <= 0 falls back to MAXVMA, the historical fixed size, so
// existing callers that do not care about the slot count keep working.
func NewTable(pt *PageTable, pages mem.Page_i, base uintptr, maxSlots int) *Table {
	if maxSlots <= 0 {
		maxSlots = MAXVMA
	}
	return &Table{pt: pt, pages: pages, sz: base, slots: make([]slot, maxSlots)}
}

// SetTxn installs the transaction admission control write-back chunks are
// bracketed with, the Go analogue of begin_op/end_op around each
// filewrite_offset chunk. A nil Txn (the default) performs no admission
// control, which is fine for callers (tests, a REPL) that never drive
// enough concurrent write-back traffic to need it.
func (t *Table) SetTxn(txn Txn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.txn = txn
}

// Mmap reserves a new mapping of length bytes (rounded up to a full page)
// at the end of the table's address range. The mapping is not populated
// here — pages are filled lazily by Fault.
func (t *Table) Mmap(length int, prot, flags int, file File, offset int64) (uintptr, error) {
	if flags == MapShared && prot&ProtWrite != 0 && !file.Writable() {
		return 0, defs.EINVAL
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		s := &t.slots[i]
		if s.valid {
			continue
		}
		rounded := util.Roundup(length, mem.PGSIZE)
		s.valid = true
		s.start = t.sz
		s.len = rounded
		s.prot = prot
		s.flags = flags
		s.file = file
		s.offset = offset
		t.sz += uintptr(rounded)
		s.end = t.sz
		return s.start, nil
	}
	return 0, defs.ENOMEM
}

// Fault services a page fault at va: finds the slot containing it,
// allocates and zero-fills a page, reads the backing file's bytes for
// that page in, and installs the mapping.
func (t *Table) Fault(va uintptr) error {
	t.mu.Lock()
	idx := -1
	var s slot
	for i := range t.slots {
		cand := &t.slots[i]
		if cand.valid && va >= cand.start && va < cand.end {
			idx = i
			s = *cand
			break
		}
	}
	if idx == -1 {
		t.mu.Unlock()
		return defs.EFAULT
	}
	t.mu.Unlock()

	vaPage := util.Rounddown(va, mem.PGSIZE)
	fileOff := int64(vaPage-s.start) + s.offset

	pa, ok := t.pages.Alloc()
	if !ok {
		return defs.ENOMEM
	}
	buf := t.pages.Bytes(pa)
	n, err := s.file.ReadAt(buf, fileOff)
	if err != nil && err != io.EOF {
		t.pages.Refdown(pa)
		return defs.EIO
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}

	// The slot may have been shrunk or unmapped by a concurrent Munmap
	// while this fault was blocked in Alloc/ReadAt. Re-validate under
	// the lock before installing the mapping, or the newly faulted page
	// would leak (never freed) and the mapping would dangle past the
	// unmap that was supposed to remove it.
	t.mu.Lock()
	cand := &t.slots[idx]
	if !cand.valid || va < cand.start || va >= cand.end || cand.file != s.file {
		t.mu.Unlock()
		t.pages.Refdown(pa)
		return nil
	}
	t.pt.Map(vaPage, pa, permFlags(s.prot))
	t.mu.Unlock()
	return nil
}

// Munmap unmaps [addr, addr+length) from the table, writing back dirty
// pages of MAP_SHARED slots first. Two cases are hardened against
// silent misbehavior: a genuine mid-range unmap (a hole that touches
// neither the start nor the end of the slot) is rejected with
// defs.EINVAL instead of silently shrinking the slot's end over a
// still-mapped hole, and an addr that matches no slot at all also
// returns defs.EINVAL rather than succeeding as a silent no-op.
func (t *Table) Munmap(addr uintptr, length int) error {
	a := util.Rounddown(addr, mem.PGSIZE)
	ln := util.Roundup(length, mem.PGSIZE)

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		s := &t.slots[i]
		if !s.valid || a < s.start || a >= s.end {
			continue
		}

		switch {
		case a == s.start && ln >= s.len:
			if s.flags == MapShared {
				if err := t.writeback(s, s.start, s.len, s.offset); err != nil {
					return err
				}
			}
			t.unmapRange(s.start, s.len)
			*s = slot{}
			return nil

		case a == s.start:
			if s.flags == MapShared {
				if err := t.writeback(s, s.start, ln, s.offset); err != nil {
					return err
				}
			}
			t.unmapRange(s.start, ln)
			s.start += uintptr(ln)
			s.offset += int64(ln)
			s.len -= ln
			s.end = s.start + uintptr(s.len)
			return nil

		case a+uintptr(ln) == s.end:
			if s.flags == MapShared {
				off := s.offset + int64(a-s.start)
				if err := t.writeback(s, a, ln, off); err != nil {
					return err
				}
			}
			t.unmapRange(a, ln)
			s.len -= ln
			s.end = s.start + uintptr(s.len)
			return nil

		default:
			return defs.EINVAL
		}
	}
	return defs.EINVAL
}

func (t *Table) unmapRange(start uintptr, length int) {
	for off := 0; off < length; off += mem.PGSIZE {
		va := start + uintptr(off)
		if pa, ok := t.pt.Unmap(va); ok {
			t.pages.Refdown(pa)
		}
	}
}

// writeback flushes [start, start+length) to s.file at offset, in chunks
// no larger than maxWritebackChunk — the Go analogue of filewrite_offset's
// per-transaction cap. Pages never faulted in (never read or written)
// contribute nothing, since there is nothing dirty to flush for them.
func (t *Table) writeback(s *slot, start uintptr, length int, offset int64) error {
	i := 0
	for i < length {
		n1 := length - i
		if n1 > maxWritebackChunk {
			n1 = maxWritebackChunk
		}
		if err := t.writebackChunk(s, start+uintptr(i), n1, offset+int64(i)); err != nil {
			return err
		}
		i += n1
	}
	return nil
}

// writebackChunk is only ever called from Munmap, which already holds
// t.mu for the whole unmap, so it reads t.txn directly rather than
// re-acquiring the lock. A page within [va, va+n) that was never faulted
// in has nothing dirty to flush, so its bytes are skipped rather than
// written as zeros — writing zeros there would stomp real file content
// that was simply never brought into this mapping, the same way
// filewrite_offset only ever writes bytes it actually copied in from a
// present page.
func (t *Table) writebackChunk(s *slot, va uintptr, n int, offset int64) error {
	if t.txn != nil {
		nblocks := (n + mem.PGSIZE - 1) / mem.PGSIZE
		end := t.txn.Begin(nblocks)
		defer end()
	}

	off := 0
	for off < n {
		pageVA := util.Rounddown(va+uintptr(off), mem.PGSIZE)
		within := int(va + uintptr(off) - pageVA)
		take := util.Min(mem.PGSIZE-within, n-off)
		pa, _, ok := t.pt.Lookup(pageVA)
		if ok {
			data := t.pages.Bytes(pa)
			if _, err := s.file.WriteAt(data[within:within+take], offset+int64(off)); err != nil {
				return err
			}
		}
		off += take
	}
	return nil
}
