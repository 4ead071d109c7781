package kapi

import (
	"log"
	"testing"
	"time"

	"biscuit/internal/defs"
	"biscuit/internal/mem"
	"biscuit/internal/netstack"
	"biscuit/internal/simfs"
	"biscuit/internal/vma"
)

func newTestProcess() *Process {
	pages := mem.NewPhysmem(16)
	pt := vma.NewPageTable()
	return NewProcess(pt, pages, 0x1000, vma.MAXVMA)
}

func TestFDTableInstallGetClose(t *testing.T) {
	tbl := NewFDTable()
	f := simfs.NewFile([]byte("hello"), true)
	fd := tbl.Install(f, FDRead|FDWrite)

	got, ok := tbl.Get(fd)
	if !ok || got.File != f {
		t.Fatal("Get did not return the installed file")
	}

	if !tbl.Close(fd) {
		t.Fatal("Close of an open fd should report true")
	}
	if _, ok := tbl.Get(fd); ok {
		t.Fatal("fd should be gone after Close")
	}
	if tbl.Close(fd) {
		t.Fatal("Close of an already-closed fd should report false")
	}
}

func TestMmapRejectsUnknownFD(t *testing.T) {
	p := newTestProcess()
	if _, err := Mmap(p, 0, 4096, vma.ProtRead, vma.MapPrivate, 99, 0); err == nil {
		t.Fatal("expected mmap against an unopened fd to fail")
	}
}

func TestMmapAndFault(t *testing.T) {
	p := newTestProcess()
	content := []byte("0123456789")
	fd := p.FDs.Install(simfs.NewFile(content, false), FDRead)

	addr, err := Mmap(p, 0, 4096, vma.ProtRead, vma.MapPrivate, fd, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := Fault(p, addr); err != nil {
		t.Fatal(err)
	}
}

func TestProcessKillCancelsRecv(t *testing.T) {
	lb := netstack.NewLoopback()
	s := netstack.NewStack(lb, netstack.MAC{}, netstack.MAC{}, 0, log.Default())
	if err := s.Bind(7000); err != nil {
		t.Fatal(err)
	}

	p := newTestProcess()
	done := make(chan error, 1)
	go func() {
		_, err := Recv(p, s, 7000, nil, nil, make([]byte, 16))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	p.Kill()

	select {
	case err := <-done:
		if err != defs.ECANCELLED {
			t.Fatalf("err = %v, want defs.ECANCELLED", err)
		}
	case <-time.After(time.Second):
		t.Fatal("recv did not unblock after process kill")
	}
}

func TestSendAndBindUnbindWrap(t *testing.T) {
	lb := netstack.NewLoopback()
	s := netstack.NewStack(lb, netstack.MAC{1, 2, 3, 4, 5, 6}, netstack.MAC{6, 5, 4, 3, 2, 1}, netstack.MakeIP(10, 0, 2, 15), nil)

	if err := Bind(s, 1234); err != nil {
		t.Fatal(err)
	}
	if err := Send(s, 1234, netstack.MakeIP(10, 0, 2, 2), 5555, []byte("hi")); err != nil {
		t.Fatal(err)
	}
	if lb.Last() == nil {
		t.Fatal("Send did not transmit a frame")
	}
	if err := Unbind(s, 1234); err != nil {
		t.Fatal(err)
	}
	if err := Unbind(s, 1234); err == nil {
		t.Fatal("expected second Unbind to fail")
	}
}
