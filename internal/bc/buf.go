package bc

import (
	"biscuit/internal/mem"
	"biscuit/internal/sleep"
)

// BSIZE is the size of one disk block in bytes, matching biscuit's own
// fs.BSIZE (biscuit/src/fs/blk.go).
const BSIZE = mem.PGSIZE

// Buf is a cached disk block: the Go analogue of xv6's struct buf and
// biscuit's fs.Bdev_block_t (biscuit/src/fs/blk.go), restructured onto a
// flat, indexable pool as an owned per-bucket list of indices rather than
// C's intrusive prev/next pointers. Buffers are never freed, only reused,
// so each Buf owns its BSIZE payload for the program's lifetime.
type Buf struct {
	Lock *sleep.Sleeplock

	// identity + refcnt are protected by the lock of the bucket this Buf
	// is currently linked into (the bucket hash(dev, block) selects).
	dev    int
	block  int
	valid  bool
	refcnt int
	data   [BSIZE]byte

	idx int // this Buf's fixed position in Cache.bufs; never changes
}

// Dev returns the device this buffer is currently cached for. Only safe to
// read while holding the buffer's sleeplock (acquired by bread/bget) or
// the owning bucket's lock.
func (b *Buf) Dev() int { return b.dev }

// Block returns the block number this buffer is currently cached for.
func (b *Buf) Block() int { return b.block }

// Data returns the buffer's payload. The sleeplock holder is the sole
// mutator of this slice.
func (b *Buf) Data() []byte {
	return b.data[:]
}
