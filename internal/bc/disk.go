package bc

// Disk is the synchronous block device contract the buffer cache assumes:
// a single `disk_rw(buf, write?)` primitive, supplied by the surrounding
// filesystem layer rather than implemented here. Grounded on biscuit's
// fs.Disk_i (biscuit/src/fs/blk.go) and its simulated implementation,
// ahci_disk_t (biscuit/src/ufs/driver.go), which backs a disk with an
// *os.File behind a single mutex rather than real AHCI hardware.
type Disk interface {
	// ReadBlock synchronously reads BSIZE bytes for (dev, bno) into dst.
	ReadBlock(dev, bno int, dst []byte) error
	// WriteBlock synchronously writes BSIZE bytes for (dev, bno) from src.
	WriteBlock(dev, bno int, src []byte) error
}
