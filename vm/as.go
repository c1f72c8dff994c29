// Package vm implements 4-level paging over the simulated physical arena
// in package mem (§4.B): page-table walk, range mapping with opportunistic
// huge pages, address-space clone, and lazy process growth/shrink.
package vm

import (
	"sync"
	"unsafe"

	"defs"
	"mem"
	"util"
)

const entries = 512 // PTEs per table page
const hugePageSize = 2 << 20

// Table level indices, walked 4 (PML4) down to 1 (PT).
const (
	lvlPML4 = 4
	lvlPDPT = 3
	lvlPD   = 2
	lvlPT   = 1
)

func pteIndex(va uintptr, level int) uintptr {
	shift := uint(12 + 9*(level-1))
	return (va >> shift) & 0x1ff
}

func tableOf(m mem.Page_i, pa mem.Pa_t) *[entries]uint64 {
	pg := m.Dmap(pa)
	b := mem.Pg2bytes(pg)
	return (*[entries]uint64)(unsafe.Pointer(&b[0]))
}

/// Pgdir_t is a 4-level page table root (§4.B).
type Pgdir_t struct {
	Pa mem.Pa_t
}

/// Vm_t is one process's address space: its page-table root and the
/// bookkeeping grow_user/shrink_user need to decide what to unmap (§4.B,
/// §4.I).
type Vm_t struct {
	sync.Mutex
	Pgdir Pgdir_t
	Sz    uintptr // bytes of user address space considered valid, [0, Sz)
	mem   mem.Page_i
}

/// CreateUserPgdir allocates a fresh, empty top-level page table.
func CreateUserPgdir(m mem.Page_i) (*Vm_t, defs.Err_t) {
	_, pa, ok := m.Refpg_new()
	if !ok {
		return nil, -defs.ENOMEM
	}
	return &Vm_t{Pgdir: Pgdir_t{Pa: pa}, mem: m}, 0
}

/// walk descends levels 4→1 for va, creating intermediate tables on demand
/// when alloc is set (§4.B). It returns a pointer to the leaf PTE.
func (as *Vm_t) walk(va uintptr, alloc bool) (*uint64, defs.Err_t) {
	tblPa := as.Pgdir.Pa
	for level := lvlPML4; level > lvlPT; level-- {
		tbl := tableOf(as.mem, tblPa)
		idx := pteIndex(va, level)
		entry := tbl[idx]
		if entry&uint64(mem.PTE_P) == 0 {
			if !alloc {
				return nil, -defs.ENOMEM
			}
			_, childPa, ok := as.mem.Refpg_new()
			if !ok {
				return nil, -defs.ENOMEM
			}
			entry = uint64(childPa) | uint64(mem.PTE_P|mem.PTE_W|mem.PTE_U)
			tbl[idx] = entry
		}
		tblPa = mem.Pa_t(entry) & mem.PTE_ADDR
	}
	tbl := tableOf(as.mem, tblPa)
	idx := pteIndex(va, lvlPT)
	return &tbl[idx], 0
}

/// MapRange installs a mapping for [va, va+size) to physical frames
/// starting at pa with the given permission bits, preferring 2 MiB huge
/// pages when alignment and residual length allow (§4.B). It is an error
/// to overwrite an existing mapping rather than silently replacing it.
func MapRange(as *Vm_t, va uintptr, pa mem.Pa_t, size uintptr, perms uint64) defs.Err_t {
	aligned := func(x uintptr) bool { return x%hugePageSize == 0 }
	for size > 0 {
		if aligned(va) && uintptr(pa)%hugePageSize == 0 && size >= hugePageSize {
			pte, err := as.walkHuge(va, true)
			if err != 0 {
				return err
			}
			if *pte&uint64(mem.PTE_P) != 0 {
				return -defs.EINVAL
			}
			*pte = uint64(pa) | perms | uint64(mem.PTE_P|mem.PTE_PS)
			va += hugePageSize
			pa += hugePageSize
			size -= hugePageSize
			continue
		}
		pte, err := as.walk(va, true)
		if err != 0 {
			return err
		}
		if *pte&uint64(mem.PTE_P) != 0 {
			return -defs.EINVAL
		}
		*pte = uint64(pa) | perms | uint64(mem.PTE_P)
		va += uintptr(mem.PGSIZE)
		pa += mem.Pa_t(mem.PGSIZE)
		if size < uintptr(mem.PGSIZE) {
			break
		}
		size -= uintptr(mem.PGSIZE)
	}
	return 0
}

// walkHuge descends only to the PD level (level 2), for a 2 MiB leaf.
func (as *Vm_t) walkHuge(va uintptr, alloc bool) (*uint64, defs.Err_t) {
	tblPa := as.Pgdir.Pa
	for level := lvlPML4; level > lvlPD; level-- {
		tbl := tableOf(as.mem, tblPa)
		idx := pteIndex(va, level)
		entry := tbl[idx]
		if entry&uint64(mem.PTE_P) == 0 {
			if !alloc {
				return nil, -defs.ENOMEM
			}
			_, childPa, ok := as.mem.Refpg_new()
			if !ok {
				return nil, -defs.ENOMEM
			}
			entry = uint64(childPa) | uint64(mem.PTE_P|mem.PTE_W|mem.PTE_U)
			tbl[idx] = entry
		}
		tblPa = mem.Pa_t(entry) & mem.PTE_ADDR
	}
	tbl := tableOf(as.mem, tblPa)
	idx := pteIndex(va, lvlPD)
	return &tbl[idx], 0
}

/// CloneUserPgdir walks src page-by-page; each present user page is
/// copied into a fresh frame mapped in the returned address space with
/// identical permission bits (§4.B clone rule). Huge pages are expanded
/// into their sixteen backing 4 KiB pages during copy since the
/// allocator's fork-time copy works one frame at a time.
func CloneUserPgdir(src *Vm_t) (*Vm_t, defs.Err_t) {
	dst, err := CreateUserPgdir(src.mem)
	if err != 0 {
		return nil, err
	}
	dst.Sz = src.Sz
	for va := uintptr(0); va < src.Sz; va += uintptr(mem.PGSIZE) {
		pte, err := src.walk(va, false)
		if err != 0 || pte == nil || *pte&uint64(mem.PTE_P) == 0 {
			continue
		}
		srcPa := mem.Pa_t(*pte) & mem.PTE_ADDR
		perms := *pte &^ uint64(mem.PTE_ADDR)

		newPg, newPa, ok := src.mem.Refpg_new_nozero()
		if !ok {
			return nil, -defs.ENOMEM
		}
		copy(mem.Pg2bytes(newPg)[:], mem.Pg2bytes(src.mem.Dmap(srcPa))[:])

		dpte, err := dst.walk(va, true)
		if err != 0 {
			return nil, err
		}
		*dpte = uint64(newPa) | perms
	}
	return dst, 0
}

/// UnmapAll walks as and frees every present user frame, returning the
/// address space to an empty state (used when tearing down a clone made
/// only to compute a frame-accounting delta, and on process exit).
func UnmapAll(as *Vm_t) {
	for va := uintptr(0); va < as.Sz; va += uintptr(mem.PGSIZE) {
		pte, err := as.walk(va, false)
		if err != 0 || pte == nil || *pte&uint64(mem.PTE_P) == 0 {
			continue
		}
		pa := mem.Pa_t(*pte) & mem.PTE_ADDR
		as.mem.Refdown(pa)
		*pte = 0
	}
	as.Sz = 0
}

/// Activate is the Go-level stand-in for loading CR3: since there is no
/// real MMU in a hosted process, "activating" an address space means
/// recording which Vm_t the running process's memory accesses resolve
/// through. walk/copy_out/copy_in always take the Vm_t explicitly, so
/// this is bookkeeping only, kept for symmetry with §4.I's scheduler loop
/// description (mark RUNNING, activate its page table).
func Activate(as *Vm_t) {
	_ = as
}

/// GrowUser bumps the address space's valid-size bookkeeping, rounding up
/// to a whole page so every later PGSIZE-stepped walk over [0, Sz) lands
/// on a page boundary. Per §4.B, growth is lazy: no frames are installed
/// here, only by the page-fault handler the first time a newly-valid page
/// is touched.
func GrowUser(as *Vm_t, oldSz, newSz uintptr) defs.Err_t {
	if newSz < oldSz {
		return -defs.EINVAL
	}
	as.Sz = util.Roundup(newSz, uintptr(mem.PGSIZE))
	return 0
}

/// ShrinkUser unmaps and frees every frame in [newSz, oldSz) (§4.B).
func ShrinkUser(as *Vm_t, oldSz, newSz uintptr) defs.Err_t {
	if newSz > oldSz {
		return -defs.EINVAL
	}
	for va := newSz; va < oldSz; va += uintptr(mem.PGSIZE) {
		pte, err := as.walk(va, false)
		if err != 0 || pte == nil || *pte&uint64(mem.PTE_P) == 0 {
			continue
		}
		pa := mem.Pa_t(*pte) & mem.PTE_ADDR
		as.mem.Refdown(pa)
		*pte = 0
	}
	as.Sz = newSz
	return 0
}

/// Pagein installs a fresh zeroed frame at va, the lazy half of
/// GrowUser's bookkeeping-only growth; called from the page-fault vector
/// (§4.H, T_PGFLT) the first time a process touches a page within its
/// grown-but-unbacked region.
func Pagein(as *Vm_t, va uintptr, perms uint64) defs.Err_t {
	aligned := util.Rounddown(va, uintptr(mem.PGSIZE))
	pte, err := as.walk(aligned, true)
	if err != 0 {
		return err
	}
	if *pte&uint64(mem.PTE_P) != 0 {
		return 0 // raced with another fault on the same page; already resolved
	}
	_, pa, ok := as.mem.Refpg_new()
	if !ok {
		return -defs.ENOMEM
	}
	*pte = uint64(pa) | perms | uint64(mem.PTE_P)
	return 0
}

func (as *Vm_t) resolve(va uintptr) ([]byte, defs.Err_t) {
	aligned := util.Rounddown(va, uintptr(mem.PGSIZE))
	pte, err := as.walk(aligned, false)
	if err != 0 || pte == nil || *pte&uint64(mem.PTE_P) == 0 {
		return nil, -defs.EFAULT
	}
	pa := mem.Pa_t(*pte) & mem.PTE_ADDR
	pg := as.mem.Dmap(pa)
	b := mem.Pg2bytes(pg)
	off := va % uintptr(mem.PGSIZE)
	return b[off:], 0
}

/// CopyOut copies n bytes from src into as at dstVa (§4.B).
func CopyOut(as *Vm_t, dstVa uintptr, src []byte, n int) defs.Err_t {
	for n > 0 {
		dst, err := as.resolve(dstVa)
		if err != 0 {
			return err
		}
		c := copy(dst, src[:util.Min(n, len(dst))])
		src = src[c:]
		dstVa += uintptr(c)
		n -= c
	}
	return 0
}

/// CopyIn copies n bytes from as at srcVa into dst (§4.B).
func CopyIn(as *Vm_t, dst []byte, srcVa uintptr, n int) defs.Err_t {
	for n > 0 {
		src, err := as.resolve(srcVa)
		if err != 0 {
			return err
		}
		c := copy(dst[:util.Min(n, len(src))], src)
		dst = dst[c:]
		srcVa += uintptr(c)
		n -= c
	}
	return 0
}
