package bc

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// fakeDisk is an in-memory stand-in for the driver-level disk_rw contract,
// grounded on biscuit's ahci_disk_t (biscuit/src/ufs/driver.go), which
// likewise backs BSIZE blocks with a simple in-memory/file store behind one
// mutex.
type fakeDisk struct {
	mu     sync.Mutex
	blocks map[[2]int][BSIZE]byte
	reads  int
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{blocks: make(map[[2]int][BSIZE]byte)}
}

func (d *fakeDisk) ReadBlock(dev, bno int, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	b := d.blocks[[2]int{dev, bno}]
	copy(dst, b[:])
	return nil
}

func (d *fakeDisk) WriteBlock(dev, bno int, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b [BSIZE]byte
	copy(b[:], src)
	d.blocks[[2]int{dev, bno}] = b
	return nil
}

// Two reads to different buckets must not contend with each other.
func TestBreadHitParallelism(t *testing.T) {
	disk := newFakeDisk()
	c := NewCache(16, disk)

	// Prime both blocks so the second access to each is a hit.
	for _, bno := range []int{50, 63} {
		b, err := c.Bread(1, bno)
		if err != nil {
			t.Fatal(err)
		}
		c.Brelse(b)
	}
	if hash(1, 50) == hash(1, 63) {
		t.Fatalf("test setup invalid: blocks hash to the same bucket")
	}

	// Hold a decoy buffer's sleeplock on block 50's bucket to prove the
	// parallel hits below do not serialize behind anything but their own
	// bucket.
	decoy, err := c.Bread(1, 50)
	if err != nil {
		t.Fatal(err)
	}

	var g errgroup.Group
	g.Go(func() error {
		b, err := c.Bread(1, 63) // different bucket than decoy
		if err != nil {
			return err
		}
		c.Brelse(b)
		return nil
	})

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bread on a different bucket blocked on an unrelated sleeplock")
	}
	c.Brelse(decoy)
}

// With NBUF==NSLOT (one buffer per bucket), holding (1,0)..(1,12) fills
// every bucket; releasing (1,2) (bucket 3) and requesting (1,13) — whose
// home bucket 1 has no free buffer — must steal the released buffer.
func TestBgetSteal(t *testing.T) {
	disk := newFakeDisk()
	c := NewCache(NSLOT, disk) // NBUF == NSLOT keeps one buf per bucket

	var held []*Buf
	for bno := 0; bno < NSLOT; bno++ {
		b, err := c.Bread(1, bno)
		if err != nil {
			t.Fatal(err)
		}
		held = append(held, b)
	}

	// Releasing (1,2)'s sleeplock while keeping refcnt>0 would defeat
	// steal; Brelse both unlocks and drops refcnt to 0.
	c.Brelse(held[2])

	target := 13
	if hash(1, target) == hash(1, 2) {
		t.Fatalf("test setup invalid: target must not hash to the released buffer's bucket")
	}

	nb, err := c.Bread(1, target)
	if err != nil {
		t.Fatal(err)
	}
	if nb.Dev() != 1 || nb.Block() != target {
		t.Fatalf("stolen buffer has wrong identity: dev=%d block=%d", nb.Dev(), nb.Block())
	}
	stats := c.Stats()
	if stats.Steals != 1 {
		t.Fatalf("expected 1 steal, got %d", stats.Steals)
	}
	c.Brelse(nb)

	for i, b := range held {
		if i == 2 {
			continue
		}
		c.Brelse(b)
	}
}

func TestBreadSameIdentityReturnsSameBuf(t *testing.T) {
	disk := newFakeDisk()
	c := NewCache(16, disk)

	// Bread returns with the buf's sleeplock held (released only by
	// Brelse), so two concurrent Breads of the same identity cannot both
	// run to completion at once: the second blocks in Acquire until the
	// first releases. Hand off over a channel so the second goroutine
	// only starts once the first has Brelse'd, proving pointer identity
	// without deadlocking on the shared sleeplock.
	first := make(chan *Buf, 1)
	var g errgroup.Group
	g.Go(func() error {
		b, err := c.Bread(1, 7)
		if err != nil {
			return err
		}
		first <- b
		c.Brelse(b)
		return nil
	})

	var second *Buf
	g.Go(func() error {
		firstBuf := <-first
		b, err := c.Bread(1, 7)
		if err != nil {
			return err
		}
		second = b
		if b != firstBuf {
			t.Errorf("same (dev,bno) produced different Buf pointers")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	c.Brelse(second)
}

func TestBpinPreventsSteal(t *testing.T) {
	disk := newFakeDisk()
	c := NewCache(NSLOT, disk)

	b, err := c.Bread(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	c.Bpin(b)
	c.Brelse(b) // sleeplock released, but refcnt still 1 thanks to the pin

	// With NBUF==NSLOT every bucket holds exactly one buffer, so b is the
	// only buffer in its home bucket. A pinned buffer must not be reported
	// free there — findFree is the check both in-place reuse and the steal
	// scan rely on.
	bucket := c.buckets[hash(1, 0)]
	bucket.mu.Lock()
	if bucket.findFree(c.bufs) != -1 {
		bucket.mu.Unlock()
		t.Fatalf("pinned buffer reported as free")
	}
	bucket.mu.Unlock()

	c.Bunpin(b)
}
