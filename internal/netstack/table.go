package netstack

import (
	"sync"

	"biscuit/internal/defs"
)

// table is the UDP port table: a fixed array of hash buckets, each an
// owned slice of *port, guarded by one mutex — restructured the same way
// internal/bc reimagines its hash chains as index/pointer slices instead
// of intrusive linked lists.
type table struct {
	mu       sync.Mutex
	buckets  [uportBucketSZ][]*port
	draining map[int]bool
}

func newTable() *table {
	return &table{draining: make(map[int]bool)}
}

func uportHash(p int) int {
	h := p % uportBucketSZ
	if h < 0 {
		h += uportBucketSZ
	}
	return h
}

// find returns the port record for num, or nil. Caller must hold t.mu.
func (t *table) find(num int) *port {
	b := t.buckets[uportHash(num)]
	for _, p := range b {
		if p.num == num {
			return p
		}
	}
	return nil
}

// findAndPin looks up num and, if bound, marks one more in-flight user of
// the record before releasing the table lock — this is what lets unbind
// safely wait for recv and Rx's enqueue to finish with a port instead of
// racing to free it out from under them.
func (t *table) findAndPin(num int) *port {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.find(num)
	if p == nil {
		return nil
	}
	p.pinWG.Add(1)
	return p
}

// bind registers a new port. Returns defs.EALREADY if num is already bound,
// or defs.EBUSY if num is still draining from a concurrent unbind (removed
// from the table but not yet finished waiting out its in-flight
// recv/send-enqueue pins) — rebinding into that window would hand the new
// caller a brand-new port record while the old one's last users are still
// running against it, so bind backs off instead of racing ahead.
func (t *table) bind(num int) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining[num] {
		return defs.EBUSY
	}
	if t.find(num) != nil {
		return defs.EALREADY
	}
	h := uportHash(num)
	t.buckets[h] = append(t.buckets[h], newPort(num))
	return defs.ENONE
}

// unbind removes num from the table, then waits for every recv or Rx
// enqueue already holding a pin on it to finish, so no goroutine can observe a
// port record concurrently being discarded. Returns defs.ENOTBOUND if num
// was never bound. The table lock is released on every exit path,
// including the not-found case. num is marked draining for the duration
// of the pin wait so a concurrent bind of the same port sees defs.EBUSY
// instead of racing to install a fresh record underneath the drain.
func (t *table) unbind(num int) defs.Err_t {
	t.mu.Lock()
	h := uportHash(num)
	b := t.buckets[h]
	idx := -1
	for i, p := range b {
		if p.num == num {
			idx = i
			break
		}
	}
	if idx == -1 {
		t.mu.Unlock()
		return defs.ENOTBOUND
	}
	p := b[idx]
	t.buckets[h] = append(b[:idx], b[idx+1:]...)
	t.draining[num] = true
	t.mu.Unlock()

	// Wake any recv blocked on this port's empty queue so it observes
	// removal and returns instead of sleeping forever while unbind waits
	// below for its pin to drain.
	p.mu.Lock()
	p.removed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.pinWG.Wait()

	t.mu.Lock()
	delete(t.draining, num)
	t.mu.Unlock()
	return defs.ENONE
}
