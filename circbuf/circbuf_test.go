package circbuf

import (
	"testing"

	"defs"
	"mem"
)

type byteio struct {
	buf []byte
}

func (b *byteio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, b.buf)
	b.buf = b.buf[n:]
	return n, 0
}
func (b *byteio) Uiowrite(src []uint8) (int, defs.Err_t) {
	b.buf = append(b.buf, src...)
	return len(src), 0
}

func TestCopyinCopyoutRoundTrip(t *testing.T) {
	var cb Circbuf_t
	cb.Cb_init(8, mem.Phys_init(4))

	n, err := cb.Copyin(&byteio{buf: []byte("abcdefgh")})
	if err != 0 || n != 8 {
		t.Fatalf("Copyin = (%d, %d), want (8, 0)", n, err)
	}
	if !cb.Full() {
		t.Fatalf("buffer should report full once filled to capacity")
	}

	dst := &byteio{}
	n, err = cb.Copyout(dst)
	if err != 0 || n != 8 || string(dst.buf) != "abcdefgh" {
		t.Fatalf("Copyout = (%d, %d, %q), want (8, 0, %q)", n, err, dst.buf, "abcdefgh")
	}
	if !cb.Empty() {
		t.Fatalf("buffer should report empty after a full drain")
	}
}

func TestFullCopyinIsANoop(t *testing.T) {
	var cb Circbuf_t
	cb.Cb_init(4, mem.Phys_init(4))
	cb.Copyin(&byteio{buf: []byte("abcd")})

	n, err := cb.Copyin(&byteio{buf: []byte("z")})
	if n != 0 || err != 0 {
		t.Fatalf("Copyin into a full buffer = (%d, %d), want (0, 0)", n, err)
	}
}

func TestEmptyCopyoutIsANoop(t *testing.T) {
	var cb Circbuf_t
	cb.Cb_init(4, mem.Phys_init(4))

	n, err := cb.Copyout(&byteio{})
	if n != 0 || err != 0 {
		t.Fatalf("Copyout of an empty buffer = (%d, %d), want (0, 0)", n, err)
	}
}

func TestWraparoundPreservesOrdering(t *testing.T) {
	var cb Circbuf_t
	cb.Cb_init(4, mem.Phys_init(4))

	cb.Copyin(&byteio{buf: []byte("ab")})
	out := &byteio{}
	cb.Copyout_n(out, 1) // drains "a", tail advances past head%bufsz boundary next round

	// head=2, tail=1; writing 3 more bytes wraps head past the buffer's end.
	n, err := cb.Copyin(&byteio{buf: []byte("xyz")})
	if err != 0 || n != 3 {
		t.Fatalf("wraparound Copyin = (%d, %d), want (3, 0)", n, err)
	}

	drain := &byteio{}
	n, err = cb.Copyout(drain)
	if err != 0 || string(drain.buf) != "bxyz" {
		t.Fatalf("wraparound Copyout = (%d, %d, %q), want (4, 0, %q)", n, err, drain.buf, "bxyz")
	}
}

func TestLeftAndUsedSumToBufsz(t *testing.T) {
	var cb Circbuf_t
	cb.Cb_init(6, mem.Phys_init(4))
	cb.Copyin(&byteio{buf: []byte("abc")})

	if cb.Left()+cb.Used() != cb.Bufsz() {
		t.Fatalf("Left()=%d + Used()=%d != Bufsz()=%d", cb.Left(), cb.Used(), cb.Bufsz())
	}
	if cb.Used() != 3 {
		t.Fatalf("Used() = %d, want 3", cb.Used())
	}
}

func TestCbReleaseClearsBuffer(t *testing.T) {
	var cb Circbuf_t
	cb.Cb_init(4, mem.Phys_init(4))
	cb.Copyin(&byteio{buf: []byte("a")})
	if cb.Buf == nil {
		t.Fatalf("Buf should be lazily allocated after the first Copyin")
	}

	cb.Cb_release()
	if cb.Buf != nil {
		t.Fatalf("Cb_release should clear Buf")
	}
	if !cb.Empty() {
		t.Fatalf("Cb_release should reset head/tail to empty")
	}
}
