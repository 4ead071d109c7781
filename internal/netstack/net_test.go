package netstack

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"testing"
	"time"

	"biscuit/internal/defs"
)

var (
	testLocalMAC = MAC{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}
	testHostMAC  = MAC{0x52, 0x55, 0x0a, 0x00, 0x02, 0x02}
	testLocalIP  = MakeIP(10, 0, 2, 15)
	testPeerIP   = MakeIP(10, 0, 2, 2)
)

func newTestStack() (*Stack, *Loopback) {
	lb := NewLoopback()
	s := NewStack(lb, testLocalMAC, testHostMAC, testLocalIP, log.Default())
	return s, lb
}

func buildUDPFrame(srcMAC, dstMAC MAC, srcIP, dstIP IP, sport, dport uint16, payload []byte) []byte {
	frame := make([]byte, ethHeaderLen+ipHeaderLen+udpHeaderLen+len(payload))
	putEth(frame, dstMAC, srcMAC, ethTypeIP)
	putIP(frame[ethHeaderLen:], ipProtoUDP, srcIP, dstIP, udpHeaderLen+len(payload))
	putUDP(frame[ethHeaderLen+ipHeaderLen:], sport, dport, len(payload))
	copy(frame[ethHeaderLen+ipHeaderLen+udpHeaderLen:], payload)
	return frame
}

func TestRxOverflowDropsExcessAndKeepsFIFOOrder(t *testing.T) {
	s, _ := newTestStack()
	const dport = 9000
	if err := s.Bind(dport); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 17; i++ {
		payload := []byte(fmt.Sprintf("pkt-%02d", i))
		frame := buildUDPFrame(testLocalMAC, testHostMAC, testPeerIP, testLocalIP, 4000, dport, payload)
		s.Rx(frame)
	}

	stats := s.Stats()
	if stats.Delivered != maxPendingPackets {
		t.Fatalf("delivered = %d, want %d", stats.Delivered, maxPendingPackets)
	}
	if stats.Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", stats.Dropped)
	}

	ctx := context.Background()
	buf := make([]byte, 64)
	for i := 0; i < maxPendingPackets; i++ {
		n, srcIP, srcPort, err := s.Recv(ctx, dport, buf)
		if err != nil {
			t.Fatal(err)
		}
		want := fmt.Sprintf("pkt-%02d", i)
		if got := string(buf[:n]); got != want {
			t.Fatalf("packet %d: got %q, want %q", i, got, want)
		}
		if srcIP != testPeerIP || srcPort != 4000 {
			t.Fatalf("packet %d: wrong source %v:%d", i, srcIP, srcPort)
		}
	}
}

func TestRecvCancellation(t *testing.T) {
	s, _ := newTestStack()
	const dport = 9001
	if err := s.Bind(dport); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, _, err := s.Recv(ctx, dport, make([]byte, 16))
		done <- err
	}()

	// Give Recv a moment to block on the empty queue before cancelling.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != defs.ECANCELLED {
			t.Fatalf("err = %v, want defs.ECANCELLED", err)
		}
	case <-time.After(time.Second):
		t.Fatal("recv did not unblock on context cancellation")
	}
}

func TestUnbindAfterCancelledRecvReleasesPin(t *testing.T) {
	s, _ := newTestStack()
	const dport = 9002
	if err := s.Bind(dport); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recvDone := make(chan struct{})
	go func() {
		s.Recv(ctx, dport, make([]byte, 16))
		close(recvDone)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-recvDone:
	case <-time.After(time.Second):
		t.Fatal("recv never returned")
	}

	if err := s.Unbind(dport); err != nil {
		t.Fatalf("unbind: %v", err)
	}
}

// Unbind must wake a recv blocked on an empty queue even when nothing
// ever cancels its context, or Unbind would wait forever on a pin the
// blocked recv never releases.
func TestUnbindWakesBlockedRecvWithoutCancellation(t *testing.T) {
	s, _ := newTestStack()
	const dport = 9005
	if err := s.Bind(dport); err != nil {
		t.Fatal(err)
	}

	recvDone := make(chan error, 1)
	go func() {
		_, _, _, err := s.Recv(context.Background(), dport, make([]byte, 16))
		recvDone <- err
	}()

	time.Sleep(10 * time.Millisecond)

	unbindDone := make(chan error, 1)
	go func() { unbindDone <- s.Unbind(dport) }()

	select {
	case err := <-recvDone:
		if err != defs.ENOTBOUND {
			t.Fatalf("recv err = %v, want defs.ENOTBOUND", err)
		}
	case <-time.After(time.Second):
		t.Fatal("recv never woke up on unbind")
	}

	select {
	case err := <-unbindDone:
		if err != nil {
			t.Fatalf("unbind: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("unbind never returned")
	}
}

func TestBindDuringUnbindDrainReturnsEBusy(t *testing.T) {
	s, _ := newTestStack()
	const dport = 9003
	if err := s.Bind(dport); err != nil {
		t.Fatal(err)
	}

	// Pin the port as if a Recv were mid-flight, so Unbind removes it from
	// the table but then blocks draining the pin instead of returning
	// immediately.
	p := s.table.findAndPin(dport)
	if p == nil {
		t.Fatal("expected to find the just-bound port")
	}

	unbindDone := make(chan error, 1)
	go func() { unbindDone <- s.Unbind(dport) }()

	// Give Unbind time to remove the port and start waiting on the pin.
	time.Sleep(10 * time.Millisecond)

	if err := s.Bind(dport); err != defs.EBUSY {
		t.Fatalf("bind during unbind drain: err = %v, want defs.EBUSY", err)
	}

	p.pinWG.Done()

	select {
	case err := <-unbindDone:
		if err != nil {
			t.Fatalf("unbind: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("unbind never returned")
	}

	// Once the drain has finished, the port number is free again.
	if err := s.Bind(dport); err != nil {
		t.Fatalf("bind after drain completed: %v", err)
	}
}

func TestBindAlreadyBound(t *testing.T) {
	s, _ := newTestStack()
	if err := s.Bind(100); err != nil {
		t.Fatal(err)
	}
	if err := s.Bind(100); err == nil {
		t.Fatal("expected error binding an already-bound port")
	}
}

func TestUnbindNotBound(t *testing.T) {
	s, _ := newTestStack()
	if err := s.Unbind(12345); err == nil {
		t.Fatal("expected error unbinding a port that was never bound")
	}
}

func TestSendProducesWellFormedFrame(t *testing.T) {
	s, lb := newTestStack()
	payload := []byte("hello")
	if err := s.Send(3000, testPeerIP, 4000, payload); err != nil {
		t.Fatal(err)
	}

	frame := lb.Last()
	if frame == nil {
		t.Fatal("no frame transmitted")
	}
	_, _, typ := getEth(frame)
	if typ != ethTypeIP {
		t.Fatalf("ethertype = %#x, want IP", typ)
	}
	proto, src, dst, _ := getIP(frame[ethHeaderLen:])
	if proto != ipProtoUDP || src != testLocalIP || dst != testPeerIP {
		t.Fatalf("unexpected IP header: proto=%d src=%v dst=%v", proto, src, dst)
	}
	sport, dport, ulen := getUDP(frame[ethHeaderLen+ipHeaderLen:])
	if sport != 3000 || dport != 4000 || int(ulen) != udpHeaderLen+len(payload) {
		t.Fatalf("unexpected UDP header: sport=%d dport=%d ulen=%d", sport, dport, ulen)
	}
	got := frame[ethHeaderLen+ipHeaderLen+udpHeaderLen:]
	if string(got) != "hello" {
		t.Fatalf("payload = %q, want %q", got, "hello")
	}
}

func TestSendRejectsOversizeFrame(t *testing.T) {
	s, _ := newTestStack()
	big := make([]byte, 1<<20)
	if err := s.Send(1, testPeerIP, 2, big); err == nil {
		t.Fatal("expected oversize frame to be rejected")
	}
}

func TestArpRepliesOnlyOnce(t *testing.T) {
	s, lb := newTestStack()
	queryer := MAC{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}

	arpFrame := make([]byte, ethHeaderLen+arpLen)
	putEth(arpFrame, testLocalMAC, queryer, ethTypeARP)
	binary.BigEndian.PutUint16(arpFrame[ethHeaderLen:ethHeaderLen+2], arpHrdEther)
	binary.BigEndian.PutUint32(arpFrame[ethHeaderLen+14:ethHeaderLen+18], uint32(testPeerIP))

	s.Rx(arpFrame)
	if len(lb.Frames()) != 1 {
		t.Fatalf("expected exactly one transmitted frame after first ARP query")
	}
	s.Rx(arpFrame)
	if len(lb.Frames()) != 1 {
		t.Fatalf("arp_rx replied more than once")
	}
}
