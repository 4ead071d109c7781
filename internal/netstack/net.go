package netstack

import (
	"context"
	"log"
	"sync/atomic"

	"biscuit/internal/defs"
	"biscuit/internal/mem"
)

// Stack bundles the UDP port table with the identity and transmit path a
// single simulated network interface needs: local/host Ethernet addresses,
// the local IP, and a Transmitter to hand finished frames to. Gathered
// into one value rather than package globals so more than one instance
// can exist in a test process.
type Stack struct {
	table *table

	localMAC MAC
	hostMAC  MAC
	localIP  IP

	tx  Transmitter
	log *log.Logger

	arpReplied int32 // atomic bool: arp_rx answers only the first query

	hits, drops int64
}

// NewStack constructs a Stack. logger may be nil, in which case a
// discarding logger is installed (no package ever calls log.Printf with a
// nil receiver directly, matching how biscuit always injects a *log.Logger
// at construction rather than using the global log package functions).
func NewStack(tx Transmitter, localMAC, hostMAC MAC, localIP IP, logger *log.Logger) *Stack {
	if logger == nil {
		logger = log.New(discard{}, "", 0)
	}
	return &Stack{
		table:    newTable(),
		localMAC: localMAC,
		hostMAC:  hostMAC,
		localIP:  localIP,
		tx:       tx,
		log:      logger,
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Bind allocates the queue and state needed to receive packets addressed
// to port. Returns defs.EALREADY if the port is already bound.
func (s *Stack) Bind(port int) error {
	return errOf(s.table.bind(port))
}

// Unbind releases everything bind allocated for port. Safe to call
// concurrently with an in-flight Recv on the same port: Unbind waits for
// it to observe cancellation or complete before returning.
func (s *Stack) Unbind(port int) error {
	return errOf(s.table.unbind(port))
}

// Recv waits for a UDP packet addressed to dport and copies its payload
// into buf, truncating if buf is shorter than the packet. Blocks until a
// packet arrives, the port is unbound (defs.ENOTBOUND), or ctx is done, in
// which case it returns defs.ECANCELLED — the Go analogue of a blocking
// receive loop checking whether its owning process has been killed.
func (s *Stack) Recv(ctx context.Context, dport int, buf []byte) (n int, srcIP IP, srcPort uint16, err error) {
	p := s.table.findAndPin(dport)
	if p == nil {
		return 0, 0, 0, defs.ENOTBOUND
	}
	defer p.pinWG.Done()

	p.mu.Lock()
	for len(p.queue) == 0 && !p.removed {
		if !p.cond.Wait(&p.mu, ctx.Done()) {
			p.mu.Unlock()
			return 0, 0, 0, defs.ECANCELLED
		}
	}
	if len(p.queue) == 0 && p.removed {
		p.mu.Unlock()
		return 0, 0, 0, defs.ENOTBOUND
	}
	pkt := p.queue[0]
	p.queue = p.queue[1:]
	p.mu.Unlock()

	n = copy(buf, pkt.payload)
	return n, pkt.srcIP, pkt.srcPort, nil
}

// Send builds an Ethernet/IPv4/UDP frame around payload and hands it to
// the Transmitter.
func (s *Stack) Send(sport int, dst IP, dport int, payload []byte) error {
	total := ethHeaderLen + ipHeaderLen + udpHeaderLen + len(payload)
	if total > mem.PGSIZE {
		return defs.EOVERSIZE
	}

	frame := make([]byte, total)
	putEth(frame, s.hostMAC, s.localMAC, ethTypeIP)
	ipBuf := frame[ethHeaderLen:]
	putIP(ipBuf, ipProtoUDP, s.localIP, dst, udpHeaderLen+len(payload))
	udpBuf := frame[ethHeaderLen+ipHeaderLen:]
	putUDP(udpBuf, uint16(sport), uint16(dport), len(payload))
	copy(frame[ethHeaderLen+ipHeaderLen+udpHeaderLen:], payload)

	return s.tx.Transmit(frame)
}

// Rx dispatches a received Ethernet frame to the ARP or IP handler.
func (s *Stack) Rx(frame []byte) {
	if len(frame) < ethHeaderLen {
		return
	}
	_, shost, typ := getEth(frame)
	switch {
	case len(frame) >= ethHeaderLen+arpLen && typ == ethTypeARP:
		s.arpRx(frame, shost)
	case len(frame) >= ethHeaderLen+ipHeaderLen && typ == ethTypeIP:
		s.ipRx(frame)
	}
}

// arpRx answers the first ARP query it sees and silently ignores every
// one after that — enough to persuade a host to start sending IP packets,
// nothing more.
func (s *Stack) arpRx(frame []byte, queryerMAC MAC) {
	if !atomic.CompareAndSwapInt32(&s.arpReplied, 0, 1) {
		return
	}
	arpBuf := frame[ethHeaderLen:]
	queryerIP := getARPSenderIP(arpBuf)

	reply := make([]byte, ethHeaderLen+arpLen)
	putEth(reply, queryerMAC, s.localMAC, ethTypeARP)
	putARPReply(reply[ethHeaderLen:], s.localMAC, s.localIP, queryerMAC, queryerIP)

	if err := s.tx.Transmit(reply); err != nil {
		s.log.Printf("netstack: arp reply transmit failed: %v", err)
	}
}

// ipRx dispatches a UDP datagram to its bound port, if any, dropping it
// silently otherwise — there is no caller to notify from this
// interrupt-context path.
func (s *Stack) ipRx(frame []byte) {
	ipBuf := frame[ethHeaderLen:]
	proto, src, _, _ := getIP(ipBuf)
	if proto != ipProtoUDP {
		return
	}
	if len(frame) < ethHeaderLen+ipHeaderLen+udpHeaderLen {
		return
	}
	udpBuf := frame[ethHeaderLen+ipHeaderLen:]
	sport, dport, ulen := getUDP(udpBuf)
	if int(ulen) < udpHeaderLen {
		return
	}
	payloadLen := int(ulen) - udpHeaderLen
	payloadStart := ethHeaderLen + ipHeaderLen + udpHeaderLen
	if payloadStart+payloadLen > len(frame) {
		return
	}
	payload := make([]byte, payloadLen)
	copy(payload, frame[payloadStart:payloadStart+payloadLen])

	p := s.table.findAndPin(int(dport))
	if p == nil {
		atomic.AddInt64(&s.drops, 1)
		return
	}
	dropped := p.enqueue(packet{payload: payload, srcIP: src, srcPort: sport})
	p.pinWG.Done()
	if dropped {
		atomic.AddInt64(&s.drops, 1)
	} else {
		atomic.AddInt64(&s.hits, 1)
	}
}

// Stats reports running counters for the kmid stats command.
type Stats struct {
	Delivered int64
	Dropped   int64
}

func (s *Stack) Stats() Stats {
	return Stats{
		Delivered: atomic.LoadInt64(&s.hits),
		Dropped:   atomic.LoadInt64(&s.drops),
	}
}

func errOf(e defs.Err_t) error {
	if e == defs.ENONE {
		return nil
	}
	return e
}
