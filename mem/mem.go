// Package mem implements the kernel's physical frame allocator. Physical
// memory is modeled as a single contiguous arena (the "direct map") so that
// the rest of the kernel, and its tests, run as an ordinary Go process
// instead of requiring real bare-metal access; Pa_t is an offset into that
// arena rather than a raw machine address.
package mem

import (
	"fmt"
	"sync"

	"caller"
	"oommsg"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^PGOFFSET

// Page table entry flag bits, named as in the specification's data model.
const (
	PTE_P   Pa_t = 1 << 0 /// present
	PTE_W   Pa_t = 1 << 1 /// writable
	PTE_U   Pa_t = 1 << 2 /// user-accessible
	PTE_PWT Pa_t = 1 << 3 /// write-through
	PTE_PCD Pa_t = 1 << 4 /// cache-disable
	PTE_A   Pa_t = 1 << 5 /// accessed
	PTE_D   Pa_t = 1 << 6 /// dirty
	PTE_PS  Pa_t = 1 << 7 /// huge (2MiB) page
	PTE_G   Pa_t = 1 << 8 /// global
	PTE_ADDR     = PGMASK
)

/// Pa_t represents a physical address: an offset into the simulated
/// physical address space.
type Pa_t uintptr

/// Bytepg_t is a byte-addressed page.
type Bytepg_t [4096]uint8

/// Pg_t is one page's worth of bytes.
type Pg_t [4096]uint8

/// Page_i abstracts physical page allocation for callers (the buffer cache,
/// pipes, page-table code) that only need frames handed to them without
/// depending on the concrete allocator.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refup(Pa_t)
	Refdown(Pa_t) bool
	Dmap(Pa_t) *Pg_t
}

/// Physpg_t tracks one physical frame's bookkeeping: a reference count and,
/// while free, the index of the next free frame.
type Physpg_t struct {
	Refcnt int32
	nexti  int32 /// index of next free frame, or -1
}

/// Physmem_t is the global frame allocator: a fixed arena of frames behind
/// a single mutex, with a singly-linked free list threaded through
/// Pgs[i].nexti: a frame is either on the free list or handed out, never
/// both.
type Physmem_t struct {
	sync.Mutex
	arena   []byte
	Pgs     []Physpg_t
	freei   int32
	freelen int32
	warn    caller.Distinct_caller_t
}

/// Physmem is the single system-wide instance, initialized by Phys_init.
var Physmem = &Physmem_t{}

/// Zeropg is a page of zeros used to clear newly allocated frames.
var Zeropg = &Pg_t{}

/// Phys_init reserves npages 4 KiB frames and initializes the free list.
/// It is called once during boot.
func Phys_init(npages int) *Physmem_t {
	phys := Physmem
	phys.arena = make([]byte, npages*PGSIZE)
	phys.Pgs = make([]Physpg_t, npages)
	for i := range phys.Pgs {
		phys.Pgs[i].nexti = int32(i) + 1
	}
	phys.Pgs[len(phys.Pgs)-1].nexti = -1
	phys.freei = 0
	phys.freelen = int32(npages)
	phys.warn.Enabled = true
	return phys
}

func (phys *Physmem_t) pg(idx int32) *Pg_t {
	off := int(idx) * PGSIZE
	b := phys.arena[off : off+PGSIZE]
	return (*Pg_t)(b)
}

/// Dmap returns the direct-mapped page for the physical address p.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	idx := int32(p >> PGSHIFT)
	return phys.pg(idx)
}

/// Refcnt returns the current reference count of the frame at p.
func (phys *Physmem_t) Refcnt(p Pa_t) int {
	phys.Lock()
	defer phys.Unlock()
	return int(phys.Pgs[p>>PGSHIFT].Refcnt)
}

/// Refup increments the reference count of the frame at p.
func (phys *Physmem_t) Refup(p Pa_t) {
	phys.Lock()
	defer phys.Unlock()
	idx := p >> PGSHIFT
	phys.Pgs[idx].Refcnt++
}

/// Refdown decrements the reference count of the frame at p, returning it
/// to the free list when the count reaches zero. It reports whether the
/// frame was freed.
func (phys *Physmem_t) Refdown(p Pa_t) bool {
	phys.Lock()
	defer phys.Unlock()
	idx := p >> PGSHIFT
	pg := &phys.Pgs[idx]
	if pg.Refcnt <= 0 {
		panic("refdown: already free")
	}
	pg.Refcnt--
	if pg.Refcnt != 0 {
		return false
	}
	pg.nexti = phys.freei
	phys.freei = int32(idx)
	phys.freelen++
	return true
}

// notifyOOM tells anyone listening on oommsg.OomCh that a single frame is
// needed, without blocking if nobody is listening: there is no page-out
// daemon in this kernel to reclaim frames, so a missed notification just
// means the allocation fails the way it would have anyway.
func notifyOOM() {
	if oommsg.OomCh == nil {
		return
	}
	resume := make(chan bool, 1)
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: 1, Resume: resume}:
		<-resume
	default:
	}
}

func (phys *Physmem_t) alloc() (Pa_t, bool) {
	phys.Lock()
	if phys.freei == -1 {
		phys.Unlock()
		if novel, trace := phys.warn.Distinct(); novel {
			fmt.Printf("mem: out of frames\n%s", trace)
		}
		notifyOOM()
		return 0, false
	}
	defer phys.Unlock()
	idx := phys.freei
	phys.freei = phys.Pgs[idx].nexti
	phys.freelen--
	phys.Pgs[idx].Refcnt = 1
	return Pa_t(idx) << PGSHIFT, true
}

/// Refpg_new allocates a zeroed frame. The frame's reference count starts
/// at one; the caller owns that reference.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	pg, pa, ok := phys.Refpg_new_nozero()
	if !ok {
		return nil, 0, false
	}
	*pg = *Zeropg
	return pg, pa, true
}

/// Refpg_new_nozero allocates a frame without clearing its contents.
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	pa, ok := phys.alloc()
	if !ok {
		return nil, 0, false
	}
	return phys.Dmap(pa), pa, true
}

/// Pgcount reports the number of frames currently on the free list: used by
/// the OOM-fork property that free count is unchanged after a failed fork
/// rolls back its partial allocations.
func (phys *Physmem_t) Pgcount() int {
	phys.Lock()
	defer phys.Unlock()
	return int(phys.freelen)
}

/// Pg2bytes reinterprets a page as a byte slice; kept for callers that deal
/// in raw byte buffers (the buffer cache, circbuf).
func Pg2bytes(pg *Pg_t) *[4096]uint8 {
	return (*[4096]uint8)(pg)
}
