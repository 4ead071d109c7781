package simfs

import (
	"sync/atomic"
	"time"
)

// Txn models begin_op/end_op's block-budget admission control without a
// real write-ahead log: a bounded number of blocks may be "in flight"
// across concurrent writers at once, and a caller that would exceed the
// budget blocks until earlier writers finish. Grounded on biscuit's
// limits.Sysatomic_t Given/Taken counter (biscuit/src/limits/limits.go),
// adapted from a global system-wide cap to a per-transaction block budget
// and built on the typed atomics added to sync/atomic instead of
// limits.Sysatomic_t's unsafe-pointer cast.
type Txn struct {
	budget atomic.Int64
	avail  chan struct{}
}

// NewTxn returns a Txn allowing up to maxBlocks blocks of write-back work
// in flight at once.
func NewTxn(maxBlocks int) *Txn {
	t := &Txn{avail: make(chan struct{}, 1)}
	t.budget.Store(int64(maxBlocks))
	t.avail <- struct{}{}
	return t
}

// Begin reserves nblocks of budget, blocking until enough is free. It
// returns a function that must be called to release the reservation (the
// Go analogue of end_op).
func (t *Txn) Begin(nblocks int) func() {
	for {
		<-t.avail
		if t.budget.Load() >= int64(nblocks) {
			t.budget.Add(-int64(nblocks))
			t.avail <- struct{}{}
			return func() { t.budget.Add(int64(nblocks)) }
		}
		t.avail <- struct{}{}
		time.Sleep(time.Millisecond)
	}
}
