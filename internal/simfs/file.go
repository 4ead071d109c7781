// Package simfs provides the minimal file and disk abstractions the
// buffer cache and VMA engine need without a real filesystem: an in-memory
// growable byte file for mmap to page against, and a block device backed
// by an *os.File the way biscuit's ahci_disk_t is (biscuit/src/ufs/driver.go),
// rather than real AHCI hardware.
package simfs

import (
	"io"
	"sync"
)

// File is an in-memory file satisfying internal/vma.File (ReadAt/WriteAt/
// Size/Writable), standing in for the inode-backed file the mmap path
// reads and writes through.
type File struct {
	mu       sync.Mutex
	data     []byte
	writable bool
}

// NewFile wraps initial as a file's contents. The returned File takes
// ownership of the slice.
func NewFile(initial []byte, writable bool) *File {
	return &File{data: initial, writable: writable}
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off > int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.writable {
		return 0, io.ErrClosedPipe
	}
	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:end], p)
	return len(p), nil
}

func (f *File) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.data))
}

func (f *File) Writable() bool { return f.writable }

// Bytes returns a copy of the file's current contents, for tests asserting
// on write-back results.
func (f *File) Bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}
