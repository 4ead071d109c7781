package bc

import "sync"

// NSLOT is the fixed number of buffer-cache hash buckets: a fixed prime,
// never dynamically resized.
const NSLOT = 13

// bucket is one hash chain, reimagined as a slice of indices into
// Cache.bufs rather than an intrusive linked list — the Go idiom for
// biscuit's hashtable.bucket_t (biscuit/src/hashtable/hashtable.go) applied
// to a fixed-size pool instead of a growable hash table.
type bucket struct {
	mu   sync.Mutex // spinlock stand-in: short critical sections only, never held across a sleep
	bufs []int      // indices into Cache.bufs currently linked into this bucket
}

func hash(dev, bno int) int {
	h := (dev + bno) % NSLOT
	if h < 0 {
		h += NSLOT
	}
	return h
}

// find returns the index (within b.bufs) of the buffer with the given
// identity, or -1.
func (b *bucket) find(bufs []*Buf, dev, bno int) int {
	for i, bi := range b.bufs {
		buf := bufs[bi]
		if buf.dev == dev && buf.block == bno {
			return i
		}
	}
	return -1
}

// findFree returns the bucket-local position of the first buffer with
// refcnt == 0, or -1.
func (b *bucket) findFree(bufs []*Buf) int {
	for i, bi := range b.bufs {
		if bufs[bi].refcnt == 0 {
			return i
		}
	}
	return -1
}

// removeAt unlinks the buffer at bucket-local position i and returns its
// pool index.
func (b *bucket) removeAt(i int) int {
	bi := b.bufs[i]
	b.bufs = append(b.bufs[:i], b.bufs[i+1:]...)
	return bi
}

// pushFront links pool index bi at the head of this bucket's chain.
func (b *bucket) pushFront(bi int) {
	b.bufs = append(b.bufs, 0)
	copy(b.bufs[1:], b.bufs[:len(b.bufs)-1])
	b.bufs[0] = bi
}
