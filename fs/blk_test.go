package fs

import (
	"testing"

	"cpu"
	"proc"
)

// fakeDisk is an in-memory Disk_i double, independent of package ufs (which
// itself imports fs, so a test in this package can't import it back).
type fakeDisk struct {
	blocks map[int][BSIZE]uint8
	reads  int
	writes int
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{blocks: map[int][BSIZE]uint8{}}
}

func (d *fakeDisk) Start(p *proc.Proc_t, c *cpu.Cpu_t, cmd Bdevcmd_t, blockno int, data *[BSIZE]uint8) {
	switch cmd {
	case BDEV_READ:
		d.reads++
		*data = d.blocks[blockno]
	case BDEV_WRITE:
		d.writes++
		d.blocks[blockno] = *data
	}
}

func TestBreadCachesAcrossCalls(t *testing.T) {
	d := newFakeDisk()
	d.blocks[3] = [BSIZE]uint8{}
	want := d.blocks[3]
	want[0] = 0xAB
	d.blocks[3] = want

	Init(d)
	c := &cpu.Cpu_t{}

	b1 := Bread(nil, c, 0, 3)
	if b1.Data != want {
		t.Fatalf("Bread did not return disk contents")
	}
	if d.reads != 1 {
		t.Fatalf("Bread issued %d disk reads, want 1", d.reads)
	}
	Brelse(b1, c)

	b2 := Bread(nil, c, 0, 3)
	if d.reads != 1 {
		t.Fatalf("second Bread for the same block re-read from disk: reads=%d", d.reads)
	}
	Brelse(b2, c)
}

func TestBgetPinsSameBlockToSameSlot(t *testing.T) {
	d := newFakeDisk()
	Init(d)
	c := &cpu.Cpu_t{}

	b1 := Bread(nil, c, 1, 5)
	b2 := Bread(nil, c, 1, 5)
	if b1 != b2 {
		t.Fatalf("two Bread calls for the same (dev, blockno) returned different buffers")
	}
	Brelse(b1, c)
	Brelse(b2, c)
}

func TestBwriteGoesStraightToDisk(t *testing.T) {
	d := newFakeDisk()
	Init(d)
	c := &cpu.Cpu_t{}

	b := Bread(nil, c, 0, 9)
	b.Data[0] = 0xFF
	Bwrite(nil, c, b)
	if d.writes != 1 {
		t.Fatalf("Bwrite issued %d disk writes, want 1", d.writes)
	}
	if d.blocks[9][0] != 0xFF {
		t.Fatalf("Bwrite did not persist to the disk double")
	}
	Brelse(b, c)
}

func TestBrelseOfUnpinnedBufferPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Brelse of an already-released buffer should panic")
		}
	}()
	d := newFakeDisk()
	Init(d)
	c := &cpu.Cpu_t{}

	b := Bread(nil, c, 0, 1)
	Brelse(b, c)
	Brelse(b, c)
}
