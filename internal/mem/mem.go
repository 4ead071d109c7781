// Package mem simulates the kernel's physical page allocator. The real
// biscuit kernel (biscuit/src/mem/mem.go) hands out direct-mapped physical
// pages tracked with per-page refcounts and per-CPU free lists; this
// mid-layer rewrite has no MMU to back, so a Pa_t is simply an index into a
// slab of byte pages and Dmap returns the backing slice directly rather than
// computing a direct-map virtual address. The refcounted-free-list shape —
// and the rule that a page is only returned to the free list when its
// refcount drops to zero — is kept, because the VMA engine depends on that
// invariant.
package mem

import "sync"

// PGSIZE is the size of one simulated page in bytes, matching the real
// kernel's PGSIZE (4KB); mmap/munmap round all addresses and lengths to
// this boundary.
const PGSIZE = 4096

// Pa_t is a simulated physical page address: an opaque handle into the
// allocator's page slab, analogous to biscuit's mem.Pa_t.
type Pa_t uint32

const nilPa Pa_t = 0

// Page_i abstracts page allocation the way biscuit's mem.Page_i /
// fs.Blockmem_i interfaces do, so the VMA engine does not depend on a
// concrete allocator.
type Page_i interface {
	// Alloc returns a new zeroed page with a refcount of 1.
	Alloc() (Pa_t, bool)
	// Refup increments a page's refcount.
	Refup(Pa_t)
	// Refdown decrements a page's refcount, freeing it when it reaches
	// zero. Returns true if the page was freed.
	Refdown(Pa_t) bool
	// Bytes returns the mutable backing slice for a page. Never retained
	// past the holder's lock scope.
	Bytes(Pa_t) []byte
}

type page struct {
	refcnt int32
	data   [PGSIZE]byte
}

// Physmem_t is the simulated physical memory pool: a slab of pages plus a
// free list, guarded by a single mutex. The real allocator shards this
// across per-CPU free lists for scalability; this rewrite does not need
// that scalability and keeps a single lock, matching biscuit's own
// fallback path (biscuit/src/mem/mem.go's _phys_new global path) when the
// per-CPU fast path misses.
type Physmem_t struct {
	mu    sync.Mutex
	pages []page
	free  []Pa_t
}

// NewPhysmem allocates a simulated physical memory pool with room for n
// pages.
func NewPhysmem(n int) *Physmem_t {
	p := &Physmem_t{
		pages: make([]page, n+1), // index 0 reserved as the nil page
		free:  make([]Pa_t, 0, n),
	}
	for i := n; i >= 1; i-- {
		p.free = append(p.free, Pa_t(i))
	}
	return p
}

// Alloc returns a freshly zeroed page with refcount 1, or false if the pool
// is exhausted.
func (p *Physmem_t) Alloc() (Pa_t, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nilPa, false
	}
	n := len(p.free) - 1
	pa := p.free[n]
	p.free = p.free[:n]
	pg := &p.pages[pa]
	pg.refcnt = 1
	for i := range pg.data {
		pg.data[i] = 0
	}
	return pa, true
}

// Refup increments a page's refcount.
func (p *Physmem_t) Refup(pa Pa_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pg := &p.pages[pa]
	if pg.refcnt <= 0 {
		panic("mem: refup of free page")
	}
	pg.refcnt++
}

// Refdown decrements a page's refcount, returning it to the free list when
// it reaches zero. Returns true if the page was freed.
func (p *Physmem_t) Refdown(pa Pa_t) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pg := &p.pages[pa]
	if pg.refcnt <= 0 {
		panic("mem: refdown of free page")
	}
	pg.refcnt--
	if pg.refcnt == 0 {
		p.free = append(p.free, pa)
		return true
	}
	return false
}

// Bytes returns the mutable backing slice for pa. Callers must not retain
// the slice beyond the lifetime implied by their own lock discipline (the
// allocator does not protect concurrent access to the page contents — that
// is the sleeplock's job, exactly as in the real buffer cache).
func (p *Physmem_t) Bytes(pa Pa_t) []byte {
	return p.pages[pa].data[:]
}

// Refcnt reports a page's current refcount, for tests and diagnostics.
func (p *Physmem_t) Refcnt(pa Pa_t) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages[pa].refcnt
}

// Free reports the number of unallocated pages, for the kmid stats command.
func (p *Physmem_t) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
