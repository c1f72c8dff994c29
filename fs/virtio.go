package fs

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"caller"
	"cpu"
	"mem"
	"proc"
	"spinlock"
)

// Legacy PCI virtio-block register offsets from BAR0 (§4.F, §6).
const (
	regHostFeatures  = 0
	regGuestFeatures = 4
	regQueueAddr     = 8
	regQueueSize     = 12
	regQueueSelect   = 14
	regQueueNotify   = 16
	regDeviceStatus  = 18
	regISRStatus     = 19
)

// Device status bits.
const (
	statusAck    = 1
	statusDriver = 2
	statusOK     = 4
)

// Request header type field.
const (
	vringDescF_NEXT  = 1
	vringDescF_WRITE = 2

	blkTypeIn  = 0 /// read from the device
	blkTypeOut = 1 /// write to the device
)

/// Qsize is the most descriptors this driver uses. A device that reports a
/// smaller queue caps the driver at the device's size; that is logged, not
/// fatal (§4.F failure-mode note).
const Qsize = 128

/// IOPort_i abstracts BAR0 IO-space register access so the driver can run
/// against a fake in tests instead of real `in`/`out` instructions.
type IOPort_i interface {
	In8(off uint16) uint8
	In16(off uint16) uint16
	In32(off uint16) uint32
	Out8(off uint16, v uint8)
	Out16(off uint16, v uint16)
	Out32(off uint16, v uint32)
}

type vringDesc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

type blkReq struct {
	Type     uint32
	Reserved uint32
	Sector   uint64
}

/// usedElem is one used-ring entry: the id of the descriptor chain the
/// device finished with and the number of bytes it wrote.
type usedElem struct {
	ID  uint32
	Len uint32
}

/// Virtio_t is the split-virtqueue virtio-block driver (§4.F). One queue,
/// submissions serialized by guard.
type Virtio_t struct {
	port IOPort_i
	mem  mem.Page_i
	warn caller.Distinct_caller_t

	guard    spinlock.Lock_t
	qsz      uint16
	descPa   mem.Pa_t
	availPa  mem.Pa_t
	usedPa   mem.Pa_t
	desc     []vringDesc
	availIdx *uint16
	availRng []uint16
	usedIdx  *uint16
	usedRng  []usedElem
	freeHead int
	nfree    int
	lastSeen uint16

	// slotPa holds one dedicated backing frame per descriptor-table slot,
	// allocated once here and reused by every request that slot ever
	// carries: the head slot's frame holds the marshalled request header,
	// the data slot's frame holds the BSIZE sector payload, the status
	// slot's frame holds the one-byte completion code. Real legacy-virtio
	// hardware DMAs into whatever guest-physical address a descriptor
	// names; these frames are that address.
	slotPa []mem.Pa_t

	inflight map[uint16]chan struct{}
}

/// NewVirtio resets and initializes a virtio-block device behind port,
/// allocating its three contiguous descriptor/avail/used frames from m.
//
// The three Refpg_new calls below rely on being the first allocations m
// ever serves: a freshly initialized Physmem_t's free list is the plain
// ascending run 0,1,2,... (Phys_init builds it that way), so three calls
// in a row hand back three physically-contiguous frames without a
// dedicated contiguous allocator, exactly matching real boot order (the
// block driver initializes before the rest of the kernel has fragmented
// the free list). Calling NewVirtio after other allocations have already
// run is not supported.
func NewVirtio(port IOPort_i, m mem.Page_i) *Virtio_t {
	v := &Virtio_t{port: port, mem: m}
	v.guard = *spinlock.Mk("virtio")
	v.warn.Enabled = true
	v.inflight = make(map[uint16]chan struct{})

	port.Out8(regDeviceStatus, 0)
	port.Out8(regDeviceStatus, statusAck)
	port.Out8(regDeviceStatus, statusAck|statusDriver)

	features := port.In32(regHostFeatures)
	port.Out32(regGuestFeatures, features)

	port.Out16(regQueueSelect, 0)
	devqsz := port.In16(regQueueSize)
	v.qsz = Qsize
	if devqsz != 0 && devqsz < Qsize {
		if novel, _ := v.warn.Distinct(); novel {
			v.debugf("device queue size %d is smaller than %d", devqsz, Qsize)
		}
		v.qsz = devqsz
	}

	descPg, descPa, ok := m.Refpg_new()
	if !ok {
		panic("virtio: no memory for descriptor table")
	}
	availPg, availPa, ok := m.Refpg_new()
	if !ok {
		panic("virtio: no memory for avail ring")
	}
	usedPg, usedPa, ok := m.Refpg_new()
	if !ok {
		panic("virtio: no memory for used ring")
	}
	v.descPa, v.availPa, v.usedPa = descPa, availPa, usedPa
	v.desc = descSlice(descPg, int(v.qsz))
	v.availIdx, v.availRng = availSlices(availPg, int(v.qsz))
	v.usedIdx, v.usedRng = usedSlices(usedPg, int(v.qsz))

	for i := 0; i < int(v.qsz)-1; i++ {
		v.desc[i].Next = uint16(i + 1)
	}
	v.freeHead = 0
	v.nfree = int(v.qsz)

	// Every descriptor-table slot gets its own dedicated buffer frame, so
	// a submitted request's Addr/Len fields name real, readable-by-Dmap
	// guest memory instead of bookkeeping that nothing backs (§4.F: the
	// head/data/status descriptors each describe one DMA buffer).
	v.slotPa = make([]mem.Pa_t, v.qsz)
	for i := range v.slotPa {
		_, pa, ok := m.Refpg_new()
		if !ok {
			panic("virtio: no memory for request buffers")
		}
		v.slotPa[i] = pa
	}

	// PFN of the contiguous three-frame region, per legacy virtio-pci.
	port.Out32(regQueueAddr, uint32(descPa>>mem.PGSHIFT))
	port.Out8(regDeviceStatus, statusAck|statusDriver|statusOK)

	return v
}

func descSlice(pg *mem.Pg_t, n int) []vringDesc {
	b := mem.Pg2bytes(pg)
	return unsafe.Slice((*vringDesc)(unsafe.Pointer(&b[0])), n)
}

// avail ring layout (legacy split virtqueue): uint16 flags, uint16 idx,
// then n uint16 ring entries.
func availSlices(pg *mem.Pg_t, n int) (*uint16, []uint16) {
	b := mem.Pg2bytes(pg)
	idx := (*uint16)(unsafe.Pointer(&b[2]))
	return idx, unsafe.Slice((*uint16)(unsafe.Pointer(&b[4])), n)
}

// used ring layout: uint16 flags, uint16 idx, then n {id uint32, len
// uint32} entries.
func usedSlices(pg *mem.Pg_t, n int) (*uint16, []usedElem) {
	b := mem.Pg2bytes(pg)
	idx := (*uint16)(unsafe.Pointer(&b[2]))
	return idx, unsafe.Slice((*usedElem)(unsafe.Pointer(&b[4])), n)
}

// slotBytes returns the real backing memory for descriptor slot i — the
// buffer its Addr/Len fields point at.
func (v *Virtio_t) slotBytes(i uint16) []byte {
	return mem.Pg2bytes(v.mem.Dmap(v.slotPa[i]))[:]
}

// allocDescs pops three chained descriptors off the free list. Caller
// holds v.guard.
func (v *Virtio_t) allocDescs() (head, data, status uint16, ok bool) {
	if v.nfree < 3 {
		return 0, 0, 0, false
	}
	head = uint16(v.freeHead)
	data = v.desc[head].Next
	status = v.desc[data].Next
	v.freeHead = int(v.desc[status].Next)
	v.nfree -= 3
	return head, data, status, true
}

// freeDescs returns three descriptors to the free list.
func (v *Virtio_t) freeDescs(head, data, status uint16) {
	v.desc[status].Next = uint16(v.freeHead)
	v.desc[data].Next = status
	v.desc[head].Next = data
	v.freeHead = int(head)
	v.nfree += 3
}

/// Start submits a single BSIZE request and blocks p until the device
/// completes it (§4.F). It implements fs.Disk_i.
//
// hdr is marshalled into the head descriptor's own backing frame and
// data's contents are copied into (write) or out of (read, once the
// device signals completion) the data descriptor's backing frame — both
// real guest-physical memory a device reads/writes via Addr/Len, not bare
// descriptor bookkeeping. See virtio_test.go for a fake device that walks
// this same ring memory through mem.Page_i.Dmap and drives a real
// write-then-read round trip.
func (v *Virtio_t) Start(p *proc.Proc_t, c *cpu.Cpu_t, cmd Bdevcmd_t, blockno int, data *[BSIZE]uint8) {
	v.guard.Lock(c)
	head, dataDesc, statusDesc, ok := v.allocDescs()
	for !ok {
		proc.Sleep(p, v.channel(), &v.guard, c)
		head, dataDesc, statusDesc, ok = v.allocDescs()
	}

	hdr := blkReq{Sector: uint64(blockno) * (BSIZE / SECTSIZE)}
	if cmd == BDEV_READ {
		hdr.Type = blkTypeIn
	} else {
		hdr.Type = blkTypeOut
	}
	hdrBuf := v.slotBytes(head)
	binary.LittleEndian.PutUint32(hdrBuf[0:], hdr.Type)
	binary.LittleEndian.PutUint32(hdrBuf[4:], hdr.Reserved)
	binary.LittleEndian.PutUint64(hdrBuf[8:], hdr.Sector)

	dataBuf := v.slotBytes(dataDesc)
	if cmd == BDEV_WRITE {
		copy(dataBuf[:BSIZE], data[:])
	}

	v.desc[head] = vringDesc{Addr: uint64(v.slotPa[head]), Len: 16, Flags: vringDescF_NEXT, Next: dataDesc}
	dflags := uint16(vringDescF_NEXT)
	if cmd == BDEV_READ {
		dflags |= vringDescF_WRITE
	}
	v.desc[dataDesc] = vringDesc{Addr: uint64(v.slotPa[dataDesc]), Len: BSIZE, Flags: dflags, Next: statusDesc}
	v.desc[statusDesc] = vringDesc{Addr: uint64(v.slotPa[statusDesc]), Len: 1, Flags: vringDescF_WRITE}

	done := make(chan struct{})
	v.inflight[head] = done

	v.availRng[*v.availIdx%v.qsz] = head
	*v.availIdx++ // compiler-barrier point: ring entry visible before idx bump
	v.guard.Unlock(c)

	v.port.Out16(regQueueNotify, 0) // barrier point: notify after idx bump

	// Every waiter drains whatever the used ring has advanced to before
	// each sleep (a completion may land before the first one), then checks
	// its OWN done channel unconditionally — not just
	// when this particular wake-up was the one that advanced the ring.
	// With two requests in flight, one waiter's wake can drain and close
	// a sibling's channel before the sibling itself wakes; gating the
	// check on "did I just advance anything" would leave that sibling's
	// already-closed channel unobserved and it would sleep forever.
	for {
		v.guard.Lock(c)
		for *v.usedIdx != v.lastSeen {
			ent := v.usedRng[v.lastSeen%v.qsz]
			v.lastSeen++
			if ch, ok := v.inflight[uint16(ent.ID)]; ok {
				delete(v.inflight, uint16(ent.ID))
				close(ch)
			}
		}
		select {
		case <-done:
			if cmd == BDEV_READ {
				copy(data[:], v.slotBytes(dataDesc)[:BSIZE])
			}
			v.freeDescs(head, dataDesc, statusDesc)
			proc.Wakeup(v.channel(), c)
			v.guard.Unlock(c)
			return
		default:
		}
		proc.Sleep(p, v.channel(), &v.guard, c) // Sleep drops v.guard while parked, re-locks it on wake
		v.guard.Unlock(c)
	}
}

func (v *Virtio_t) channel() uintptr {
	return uintptr(v.descPa) + 1
}

/// Interrupt is the ISR-side half of completion: read ISR_STATUS (which
/// acks the interrupt) and wake the driver channel (§4.F, §4.H vector 43).
/// The wakeup happens under v.guard, so it cannot fall between a waiter's
/// check of the used ring and its Sleep.
func (v *Virtio_t) Interrupt(c *cpu.Cpu_t) {
	_ = v.port.In8(regISRStatus)
	v.guard.Lock(c)
	proc.Wakeup(v.channel(), c)
	v.guard.Unlock(c)
}

func (v *Virtio_t) debugf(format string, args ...interface{}) {
	fmt.Printf("virtio: "+format+"\n", args...)
}
