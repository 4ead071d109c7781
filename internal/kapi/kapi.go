// Package kapi is the syscall-argument-marshalling layer: it shapes the
// six external-facing system calls (bind/unbind/recv/send/mmap/munmap)
// over internal/netstack and internal/vma, and owns the per-process
// file-descriptor table mmap's fd argument resolves through. Grounded in
// how a kernel's syscall layer sits over its subsystems: argfd-style fd
// resolution and an Err_t-returning convention used throughout.
//
// This is the one boundary in the repository where callers are ordinary Go
// code (a REPL, a test) rather than syscall-numbered trap handlers, so its
// functions return idiomatic (value, error) pairs — wrapping
// defs.Err_t, which already implements error — instead of the bare 0/-1
// the real kernel's trap return register carries.
package kapi

import (
	"context"
	"sync"
	"time"

	"biscuit/internal/defs"
	"biscuit/internal/mem"
	"biscuit/internal/netstack"
	"biscuit/internal/simfs"
	"biscuit/internal/vma"
)

// Fd permission bits, matching biscuit/src/fd/fd.go's FD_READ/FD_WRITE.
const (
	FDRead  = 0x1
	FDWrite = 0x2
)

// FD is one process's open file descriptor: a narrow vma.File plus the
// permission bits it was opened with, the Go analogue of fd.Fd_t's
// (Fops, Perms) pair, pared down to what mmap's argfd needs.
type FD struct {
	File  vma.File
	Perms int
}

// FDTable is a process's open-file-descriptor table, grounded in
// biscuit/src/fd/fd.go's Fd_t but simplified to a map since this harness
// never exhausts a fixed-size array of descriptors the way a real process
// struct does.
type FDTable struct {
	mu   sync.Mutex
	fds  map[int]*FD
	next int
}

// NewFDTable returns an empty file-descriptor table.
func NewFDTable() *FDTable {
	return &FDTable{fds: make(map[int]*FD)}
}

// Install opens a new descriptor over file with the given permission bits
// and returns its number.
func (t *FDTable) Install(file vma.File, perms int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.next
	t.next++
	t.fds[fd] = &FD{File: file, Perms: perms}
	return fd
}

// Get returns the descriptor numbered fd, or ok=false if it is not open.
func (t *FDTable) Get(fd int) (*FD, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.fds[fd]
	return f, ok
}

// Close removes fd from the table. Returns false if it was not open.
func (t *FDTable) Close(fd int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.fds[fd]; !ok {
		return false
	}
	delete(t.fds, fd)
	return true
}

// Process bundles one simulated process's kernel-facing state: its
// file-descriptor table, its VMA table, and the cancellation signal a
// blocked Recv must observe on every wake, standing in for a kernel's
// killed(p) check.
type Process struct {
	FDs  *FDTable
	VMAs *vma.Table

	mu     sync.Mutex
	done   chan struct{}
	killed bool
}

// NewProcess constructs a process whose VMA table has maxVMA slots, with
// mappings placed starting at base and faulted through pt/pages. A
// maxVMA <= 0 falls back to vma.MAXVMA. Its VMA table's write-back path is
// bracketed by a fresh simfs.Txn sized off vma.MaxOpBlocks, the Go
// analogue of every munmap write-back chunk running inside its own
// begin_op/end_op transaction.
func NewProcess(pt *vma.PageTable, pages mem.Page_i, base uintptr, maxVMA int) *Process {
	vmas := vma.NewTable(pt, pages, base, maxVMA)
	vmas.SetTxn(simfs.NewTxn(vma.MaxOpBlocks))
	return &Process{
		FDs:  NewFDTable(),
		VMAs: vmas,
		done: make(chan struct{}),
	}
}

// Kill asks the process to exit. A Recv blocked on this process's behalf
// observes Done() closing on its next wake and returns defs.ECANCELLED
// instead of dequeuing — the Go analogue of xv6's proc_kill waking a
// sleeping process so it can notice killed(p).
func (p *Process) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.killed {
		p.killed = true
		close(p.done)
	}
}

// Done returns a channel closed once Kill has been called, suitable as the
// cancellation signal Recv's context.Context wraps.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// procCtx adapts a Process's kill signal to a context.Context,
// since internal/netstack.Stack.Recv takes one to stay independent of any
// particular process representation.
type procCtx struct{ p *Process }

func (procCtx) Deadline() (time.Time, bool) { return time.Time{}, false }
func (c procCtx) Done() <-chan struct{}     { return c.p.Done() }
func (procCtx) Err() error                  { return nil }
func (procCtx) Value(any) any               { return nil }

var _ context.Context = procCtx{}

// Bind implements the bind(port) syscall: allocate and publish a port
// record for this process's use of the shared stack.
func Bind(s *netstack.Stack, port int) error {
	return s.Bind(port)
}

// Unbind implements the unbind(port) syscall.
func Unbind(s *netstack.Stack, port int) error {
	return s.Unbind(port)
}

// Recv implements the recv(dport, *src, *sport, *buf, maxlen) syscall.
// outSrc/outSport receive the sender's address when non-nil, matching the
// pointer-output-argument shape of the syscall; a nil Process blocks
// without ever being cancellable by a kill, which callers outside the
// harness's process model (tests) may prefer.
func Recv(p *Process, s *netstack.Stack, dport int, outSrc *int, outSport *uint16, buf []byte) (int, error) {
	ctx := context.Background()
	if p != nil {
		ctx = procCtx{p}
	}
	n, srcIP, srcPort, err := s.Recv(ctx, dport, buf)
	if err != nil {
		return -1, err
	}
	if outSrc != nil {
		*outSrc = int(srcIP)
	}
	if outSport != nil {
		*outSport = srcPort
	}
	return n, nil
}

// Send implements the send(sport, dst, dport, *buf, len) syscall. dst is a
// host-order IPv4 address, matching netstack.IP's representation.
func Send(s *netstack.Stack, sport int, dst netstack.IP, dport int, buf []byte) error {
	return s.Send(sport, dst, dport, buf)
}

// Mmap implements the mmap(addr, len, prot, flags, fd, offset) syscall.
// addr is accepted only to match the syscall's argument shape: the hint is
// always ignored and the mapping is placed at the process's current
// break.
func Mmap(p *Process, addr uintptr, length, prot, flags, fd int, offset int64) (uintptr, error) {
	f, ok := p.FDs.Get(fd)
	if !ok {
		return 0, defs.EINVAL
	}
	if flags == vma.MapShared && prot&vma.ProtWrite != 0 && f.Perms&FDWrite == 0 {
		return 0, defs.EINVAL
	}
	return p.VMAs.Mmap(length, prot, flags, f.File, offset)
}

// Munmap implements the munmap(addr, length) syscall.
func Munmap(p *Process, addr uintptr, length int) error {
	return p.VMAs.Munmap(addr, length)
}

// Fault services a page fault at va on p's behalf, the entry point the
// page-fault handler invokes before killing the faulting thread on error.
func Fault(p *Process, va uintptr) error {
	return p.VMAs.Fault(va)
}
