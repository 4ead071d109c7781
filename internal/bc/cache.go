// Package bc implements a sharded (bucketed) cache of disk blocks with
// cross-bucket steal on miss and sleep-locked per-block exclusion, with
// the intrusive per-bucket linked list re-expressed as slices of indices
// into a flat buffer pool.
package bc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"biscuit/internal/sleep"
)

// CacheStats reports running counters for the kmid stats command and for
// asserting cache-steal behavior in tests without reaching into unexported
// fields.
type CacheStats struct {
	Hits   int64
	Misses int64
	Steals int64
}

// Cache is the buffer cache: NBUF buffers partitioned across NSLOT
// buckets, a global move_lock serializing the miss path so two callers can
// never race to steal the same victim, and the disk this cache reads/writes
// through.
type Cache struct {
	disk Disk

	moveLock sync.Mutex
	buckets  [NSLOT]*bucket
	bufs     []*Buf

	hits, misses, steals int64
}

// NewCache allocates a buffer cache with nbuf buffers, partitioned
// round-robin across the NSLOT buckets.
func NewCache(nbuf int, disk Disk) *Cache {
	if nbuf < NSLOT {
		// Not a hard kernel requirement (bget's steal path skips empty
		// buckets), but pools smaller than NSLOT are rejected: with
		// nbuf >= NSLOT every bucket starts with at least one buffer.
		panic("bc: NewCache requires nbuf >= NSLOT")
	}
	c := &Cache{disk: disk}
	for i := range c.buckets {
		c.buckets[i] = &bucket{}
	}
	c.bufs = make([]*Buf, nbuf)
	for i := 0; i < nbuf; i++ {
		b := &Buf{Lock: sleep.NewSleeplock(), idx: i}
		c.bufs[i] = b
		slot := i % NSLOT
		c.buckets[slot].bufs = append(c.buckets[slot].bufs, i)
	}
	return c
}

// bget: fast-path hit scan, then (serialized by move_lock) a re-scan for a
// hit or a local free buffer, then a cross-bucket steal of the first
// refcnt==0 buffer found. Returns the buffer with its sleeplock held.
func (c *Cache) bget(dev, bno int) *Buf {
	key := hash(dev, bno)
	target := c.buckets[key]

	// Fast path: hit.
	target.mu.Lock()
	if i := target.find(c.bufs, dev, bno); i != -1 {
		b := c.bufs[target.bufs[i]]
		b.refcnt++
		target.mu.Unlock()
		atomic.AddInt64(&c.hits, 1)
		b.Lock.Acquire()
		return b
	}
	target.mu.Unlock()

	// Slow path: miss. The entire miss path is serialized by move_lock so
	// two CPUs can never race to steal the same victim; hits on other
	// buckets are never blocked by this.
	c.moveLock.Lock()
	defer c.moveLock.Unlock()

	target.mu.Lock()
	// Another goroutine may have materialized this identity while we
	// waited for move_lock — treat as a hit.
	if i := target.find(c.bufs, dev, bno); i != -1 {
		b := c.bufs[target.bufs[i]]
		b.refcnt++
		target.mu.Unlock()
		atomic.AddInt64(&c.hits, 1)
		b.Lock.Acquire()
		return b
	}
	// A free buffer already local to this bucket: repurpose in place.
	if i := target.findFree(c.bufs); i != -1 {
		b := c.bufs[target.bufs[i]]
		b.dev, b.block, b.valid, b.refcnt = dev, bno, false, 1
		target.mu.Unlock()
		atomic.AddInt64(&c.misses, 1)
		b.Lock.Acquire()
		return b
	}
	target.mu.Unlock()

	// Steal from another bucket, any deterministic order.
	for i := 0; i < NSLOT; i++ {
		if i == key {
			continue
		}
		victim := c.buckets[i]
		victim.mu.Lock()
		vi := victim.findFree(c.bufs)
		if vi == -1 {
			victim.mu.Unlock()
			continue
		}
		target.mu.Lock()
		bi := victim.removeAt(vi)
		target.pushFront(bi)
		b := c.bufs[bi]
		b.dev, b.block, b.valid, b.refcnt = dev, bno, false, 1
		target.mu.Unlock()
		victim.mu.Unlock()
		atomic.AddInt64(&c.misses, 1)
		atomic.AddInt64(&c.steals, 1)
		b.Lock.Acquire()
		return b
	}

	panic(fmt.Sprintf("bc: no buffers (dev=%d bno=%d)", dev, bno))
}

// Bread returns a buffer whose sleeplock is held by the caller and whose
// payload reflects the current on-disk contents, reading through the disk
// on a cache miss.
func (c *Cache) Bread(dev, bno int) (*Buf, error) {
	b := c.bget(dev, bno)
	if !b.valid {
		if err := c.disk.ReadBlock(dev, bno, b.data[:]); err != nil {
			b.Lock.Release()
			return nil, err
		}
		b.valid = true
	}
	return b, nil
}

// Bwrite writes b's payload through to disk synchronously. The caller
// must hold b's sleeplock.
func (c *Cache) Bwrite(b *Buf) error {
	return c.disk.WriteBlock(b.dev, b.block, b.data[:])
}

// Brelse releases b's sleeplock and decrements its refcount. The caller
// must hold b's sleeplock.
func (c *Cache) Brelse(b *Buf) {
	b.Lock.Release()
	bucket := c.buckets[hash(b.dev, b.block)]
	bucket.mu.Lock()
	b.refcnt--
	if b.refcnt < 0 {
		panic("bc: negative refcnt")
	}
	bucket.mu.Unlock()
}

// Bpin increments b's refcount to keep it resident without holding its
// sleeplock — used by log/journal layers to pin dirty buffers. No journal
// layer is implemented here, but Bpin is kept as a public primitive since
// the invariant it maintains — refcnt>0 buffers are never reclaimed — is
// load-bearing for bget's steal path.
func (c *Cache) Bpin(b *Buf) {
	bucket := c.buckets[hash(b.dev, b.block)]
	bucket.mu.Lock()
	b.refcnt++
	bucket.mu.Unlock()
}

// Bunpin is the inverse of Bpin.
func (c *Cache) Bunpin(b *Buf) {
	bucket := c.buckets[hash(b.dev, b.block)]
	bucket.mu.Lock()
	b.refcnt--
	if b.refcnt < 0 {
		panic("bc: negative refcnt")
	}
	bucket.mu.Unlock()
}

// Stats returns a snapshot of the cache's hit/miss/steal counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Steals: atomic.LoadInt64(&c.steals),
	}
}

// NBuf returns the configured buffer-pool size, for diagnostics.
func (c *Cache) NBuf() int { return len(c.bufs) }
