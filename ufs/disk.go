// Package ufs provides a host-file-backed fs.Disk_i double: most fs and
// syscall tests drive the buffer cache and ext2 layer against an ordinary
// os.File instead of fs.Virtio_t, since a plain file needs no fake PCI
// device and no IOPort_i to exercise §8's bwrite/bread round-trip law.
// fs.Virtio_t gets its own Disk_i conformance test, against a fake device,
// in fs/virtio_test.go.
package ufs

import (
	"io"
	"os"
	"sync"

	"cpu"
	"fs"
	"proc"
)

/// FileDisk_t is a fs.Disk_i backed by an on-host file, one seek+read or
/// seek+write per request, serialized by a mutex the way the real driver
/// serializes submissions under its own spinlock.
type FileDisk_t struct {
	mu sync.Mutex
	f  *os.File
}

/// Open opens (or creates) path as the backing store for a FileDisk_t.
func Open(path string) (*FileDisk_t, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &FileDisk_t{f: f}, nil
}

/// Start implements fs.Disk_i by doing a synchronous seek+read or
/// seek+write; there is no device interrupt to wait for since there is no
/// device, so it never calls proc.Sleep.
func (d *FileDisk_t) Start(p *proc.Proc_t, c *cpu.Cpu_t, cmd fs.Bdevcmd_t, blockno int, data *[fs.BSIZE]uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()

	off := int64(blockno) * fs.BSIZE
	if _, err := d.f.Seek(off, 0); err != nil {
		panic(err)
	}
	switch cmd {
	case fs.BDEV_READ:
		n, err := d.f.Read(data[:])
		if err != nil && err != io.EOF {
			panic(err)
		}
		// bytes past the end of the backing file read as zeros
		clear(data[n:])
	case fs.BDEV_WRITE:
		if _, err := d.f.Write(data[:]); err != nil {
			panic(err)
		}
	}
}

/// Close releases the backing file.
func (d *FileDisk_t) Close() error {
	return d.f.Close()
}
