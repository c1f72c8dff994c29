package file

import (
	"testing"

	"cpu"
	"defs"
	"fs"
	"pipe"
	"proc"
	"stat"
)

// memio is a minimal circbuf.Userio_i backed by a plain byte slice, used so
// tests can drive Read/Write without a real user address space.
type memio struct {
	buf []byte
}

func (m *memio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, m.buf)
	m.buf = m.buf[n:]
	return n, 0
}

func (m *memio) Uiowrite(src []uint8) (int, defs.Err_t) {
	m.buf = append(m.buf, src...)
	return len(src), 0
}

func TestAllocDupCloseRefcnt(t *testing.T) {
	c := &cpu.Cpu_t{}
	f := Alloc(c)
	if f == nil {
		t.Fatalf("Alloc returned nil")
	}
	if f.Refcnt != 1 {
		t.Fatalf("fresh file refcnt = %d, want 1", f.Refcnt)
	}

	Dup(f, c)
	if f.Refcnt != 2 {
		t.Fatalf("after Dup refcnt = %d, want 2", f.Refcnt)
	}

	f.Type = Pipe
	f.Pipe = pipe.Mk()
	f.Readable, f.Writable = true, true

	if err := Close(f, nil, c); err != 0 {
		t.Fatalf("Close (first ref): %d", err)
	}
	if f.Refcnt != 1 {
		t.Fatalf("after first Close refcnt = %d, want 1", f.Refcnt)
	}
	// The underlying pipe must still be alive: the type fields were only
	// cleared once the last reference actually dropped.
	if f.Type != Pipe || f.Pipe == nil {
		t.Fatalf("Close with remaining refs tore down the file early")
	}

	if err := Close(f, nil, c); err != 0 {
		t.Fatalf("Close (last ref): %d", err)
	}
	if f.Refcnt != 0 {
		t.Fatalf("after final Close refcnt = %d, want 0", f.Refcnt)
	}
	if f.Type != None || f.Pipe != nil {
		t.Fatalf("final Close did not clear the union fields")
	}
}

func TestPipeReadWriteDispatch(t *testing.T) {
	c := &cpu.Cpu_t{}
	wf := Alloc(c)
	pi := pipe.Mk()
	wf.Type, wf.Pipe, wf.Writable = Pipe, pi, true
	rf := &File_t{Type: Pipe, Pipe: pi, Readable: true, Refcnt: 1}

	caller := &proc.Proc_t{}
	src := &memio{buf: []byte("hello")}
	n, err := Write(wf, caller, c, src, len(src.buf))
	if err != 0 {
		t.Fatalf("Write: %d", err)
	}
	if n != 5 {
		t.Fatalf("Write returned %d, want 5", n)
	}

	dst := &memio{}
	n, err = Read(rf, caller, c, dst, 5)
	if err != 0 {
		t.Fatalf("Read: %d", err)
	}
	if n != 5 || string(dst.buf) != "hello" {
		t.Fatalf("Read returned (%d, %q), want (5, %q)", n, dst.buf, "hello")
	}
}

func TestReadWriteRespectModeBits(t *testing.T) {
	c := &cpu.Cpu_t{}
	f := &File_t{Type: Pipe, Pipe: pipe.Mk(), Refcnt: 1}
	caller := &proc.Proc_t{}

	if _, err := Read(f, caller, c, &memio{}, 1); err != -defs.EBADF {
		t.Fatalf("Read on non-readable file: err = %d, want -EBADF", err)
	}
	if _, err := Write(f, caller, c, &memio{buf: []byte("x")}, 1); err != -defs.EBADF {
		t.Fatalf("Write on non-writable file: err = %d, want -EBADF", err)
	}
}

func TestWriteToInodeRejected(t *testing.T) {
	c := &cpu.Cpu_t{}
	f := &File_t{Type: Inode, Writable: true, Refcnt: 1}
	caller := &proc.Proc_t{}
	if _, err := Write(f, caller, c, &memio{buf: []byte("x")}, 1); err != -defs.EINVAL {
		t.Fatalf("Write to an Inode file: err = %d, want -EINVAL", err)
	}
}

func TestFstatDevice(t *testing.T) {
	c := &cpu.Cpu_t{}
	ip := &fs.Inode_t{Dev: 0, Inum: 7}
	ip.Dinode.Mode = 0o644
	ip.Dinode.Size = 123
	f := &File_t{Type: Device, Major: defs.D_CONSOLE, Inode: ip}

	var st stat.Stat_t
	if err := Fstat(f, &st, c); err != 0 {
		t.Fatalf("Fstat: %d", err)
	}
	if st.Rdev() != defs.Mkdev(defs.D_CONSOLE, 0) {
		t.Fatalf("Fstat rdev = %d, want %d", st.Rdev(), defs.Mkdev(defs.D_CONSOLE, 0))
	}
}
