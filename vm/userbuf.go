package vm

import "defs"

/// Userbuf_t implements circbuf.Userio_i over a process address space via
/// CopyIn/CopyOut (§4.B), the vehicle syscalls use to move data to and
/// from user memory without the kernel ever dereferencing a raw user
/// pointer.
type Userbuf_t struct {
	as  *Vm_t
	va  uintptr
	len int
	off int
}

/// UbInit initializes ub to describe the n bytes starting at uva within as.
func (ub *Userbuf_t) UbInit(as *Vm_t, uva uintptr, n int) {
	ub.as = as
	ub.va = uva
	ub.len = n
	ub.off = 0
}

/// Remain returns the number of unconsumed bytes left in the buffer.
func (ub *Userbuf_t) Remain() int { return ub.len - ub.off }

/// Totalsz reports the buffer's total size.
func (ub *Userbuf_t) Totalsz() int { return ub.len }

/// Uioread copies from user memory into dst.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := min(len(dst), ub.Remain())
	if n == 0 {
		return 0, 0
	}
	if err := CopyIn(ub.as, dst[:n], ub.va+uintptr(ub.off), n); err != 0 {
		return 0, err
	}
	ub.off += n
	return n, 0
}

/// Uiowrite copies from src into user memory.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := min(len(src), ub.Remain())
	if n == 0 {
		return 0, 0
	}
	if err := CopyOut(ub.as, ub.va+uintptr(ub.off), src[:n], n); err != 0 {
		return 0, err
	}
	ub.off += n
	return n, 0
}

/// Fakeubuf_t implements the same interface as Userbuf_t but operates on
/// an ordinary kernel byte slice. It lets test code and the console
/// device treat in-kernel memory like a user buffer.
type Fakeubuf_t struct {
	fbuf []uint8
	len  int
}

/// FakeInit sets up the fake buffer with the provided slice.
func (fb *Fakeubuf_t) FakeInit(buf []uint8) {
	fb.fbuf = buf
	fb.len = len(buf)
}

/// Remain returns the number of bytes left in the fake buffer.
func (fb *Fakeubuf_t) Remain() int { return len(fb.fbuf) }

/// Totalsz returns the total length of the fake buffer.
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

/// Uioread copies from the fake buffer into dst.
func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	c := copy(dst, fb.fbuf)
	fb.fbuf = fb.fbuf[c:]
	return c, 0
}

/// Uiowrite copies src into the fake buffer.
func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	c := copy(fb.fbuf, src)
	fb.fbuf = fb.fbuf[c:]
	return c, 0
}
