package netstack

import (
	"sync"

	"biscuit/internal/sleep"
)

// maxPendingPackets bounds each port's receive queue. A full queue drops
// the incoming packet silently; there is no caller to notify from an
// interrupt-context receive path.
const maxPendingPackets = 16

// uportBucketSZ is the UDP port table's fixed bucket count.
const uportBucketSZ = 101

type packet struct {
	payload []byte
	srcIP   IP
	srcPort uint16
}

// port is one bound UDP port: a small FIFO of pending packets guarded by
// its own mutex, plus a condition variable recv waits on. pinWG tracks
// recv/send-enqueue calls that have looked the port up but not yet
// finished with it, so unbind can wait for them to drain instead of
// freeing a record a sleeping recv still references. removed is set by
// unbind before it waits on pinWG, so a recv blocked on an empty queue
// wakes up and returns instead of leaving unbind waiting on a pin that a
// stuck sleep would otherwise never release.
type port struct {
	num int

	mu      sync.Mutex
	queue   []packet
	cond    *sleep.Cond
	removed bool

	pinWG sync.WaitGroup
}

func newPort(num int) *port {
	return &port{num: num, cond: sleep.NewCond()}
}

// enqueue appends pkt to the port's queue, dropping it if the queue is
// already at maxPendingPackets. Called from Rx, which never blocks.
func (p *port) enqueue(pkt packet) (dropped bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) >= maxPendingPackets {
		return true
	}
	p.queue = append(p.queue, pkt)
	p.cond.Broadcast()
	return false
}
