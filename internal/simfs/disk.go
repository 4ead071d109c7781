package simfs

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"biscuit/internal/bc"
)

// Disk implements internal/bc.Disk on top of an *os.File, the same
// approach biscuit's ahci_disk_t takes (biscuit/src/ufs/driver.go) instead
// of programming a real AHCI controller. dev is accepted but ignored: this
// harness only ever mounts one simulated disk.
type Disk struct {
	mu sync.Mutex
	f  *os.File
}

// Open opens (creating if necessary) a disk image at path sized for
// nblocks BSIZE blocks and takes an advisory exclusive lock on it via
// unix.Flock, so two kmid processes never share one simulated disk the
// way two kernels would corrupt each other's AHCI queue.
func Open(path string, nblocks int) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("simfs: disk image %s is locked by another process: %w", path, err)
	}
	size := int64(nblocks) * bc.BSIZE
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &Disk{f: f}, nil
}

func (d *Disk) ReadBlock(dev, bno int, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.ReadAt(dst[:bc.BSIZE], int64(bno)*bc.BSIZE)
	return err
}

func (d *Disk) WriteBlock(dev, bno int, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.WriteAt(src[:bc.BSIZE], int64(bno)*bc.BSIZE)
	return err
}

// Close flushes and closes the backing disk image.
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
