// Package sleep provides two synchronization primitives: a sleeplock (a
// mutual-exclusion lock whose holder may block while holding it) and a
// broadcast condition variable modeling xv6's sleep(chan, lock)/wakeup(chan)
// pair.
//
// biscuit builds an analogous "wait for a reply" pattern on a
// channel (biscuit/src/fs/blk.go's Bdev_req_t.AckCh); Cond follows the same
// shape — a channel that is closed (never sent on) to broadcast a wakeup to
// every waiter, so a port with several blocked receivers wakes all of them
// and lets the losers re-sleep.
package sleep

import "sync"

// Sleeplock is a mutual-exclusion lock whose holder may block while
// holding it (e.g. during simulated disk I/O). Distinct from a spinlock:
// acquiring it never disables anything, and it is always acquired after
// any spinlock guarding the lookup that found it, never before.
type Sleeplock struct {
	ch chan struct{}
}

// NewSleeplock returns an unheld sleeplock.
func NewSleeplock() *Sleeplock {
	l := &Sleeplock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// Acquire blocks until the lock is held.
func (l *Sleeplock) Acquire() {
	<-l.ch
}

// Release releases the lock. Panics if the lock is not held — callers are
// expected to already know they hold it, matching biscuit's own
// holdingsleep() assertions in bwrite/brelse.
func (l *Sleeplock) Release() {
	select {
	case l.ch <- struct{}{}:
	default:
		panic("sleeplock: release of unheld lock")
	}
}

// Cond is a broadcast condition variable keyed by an arbitrary waiter
// identity, the way xv6's sleep/wakeup is keyed by a "channel" address
// (here, the port record pointer). Wait must be called with the guarding
// spinlock held; it releases the lock for the duration of the wait and
// reacquires it before returning, exactly like xv6's sleep().
type Cond struct {
	mu   sync.Mutex
	gen  uint64
	wake chan struct{}
}

// NewCond returns a ready-to-use Cond.
func NewCond() *Cond {
	return &Cond{wake: make(chan struct{})}
}

// Wait releases guard, blocks until the next Broadcast (or until done is
// closed), then reacquires guard. Returns false if it was woken by
// cancellation rather than a broadcast — callers that block a receiving
// process treat this as that process having been asked to exit.
//
// Spurious wakes are possible when several receivers block on the same
// condition; callers must re-check their condition in a loop.
func (c *Cond) Wait(guard sync.Locker, done <-chan struct{}) bool {
	c.mu.Lock()
	ch := c.wake
	c.mu.Unlock()

	guard.Unlock()
	defer guard.Lock()

	select {
	case <-ch:
		return true
	case <-done:
		return false
	}
}

// Broadcast wakes every waiter. Guard should be held by the caller, the
// way xv6's wakeup() is always called with the relevant lock held.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	old := c.wake
	c.wake = make(chan struct{})
	c.gen++
	c.mu.Unlock()
	close(old)
}
