// Package file implements the system-wide open-file table (§4.K): a fixed
// array of File_t objects dispatching by type onto a pipe, an ext2 inode,
// or a device.
package file

import (
	"circbuf"
	"console"
	"cpu"
	"defs"
	"fs"
	"limits"
	"pipe"
	"proc"
	"spinlock"
	"stat"
)

/// Type_t tags which union member a File_t's Pipe/Inode/Major fields use.
type Type_t int

const (
	None Type_t = iota
	Pipe
	Inode
	Device
)

/// File_t is one system-wide open-file object (§3 File).
type File_t struct {
	Type     Type_t
	Refcnt   int
	Readable bool
	Writable bool

	Pipe  *pipe.Pipe_t
	Inode *fs.Inode_t
	Major int

	Off uint32
}

var ftable struct {
	guard spinlock.Lock_t
	file  [limits.NFILE]File_t
}

func init() {
	ftable.guard = *spinlock.Mk("ftable")
}

/// Alloc returns a fresh File_t with refcnt 1, or nil if the table is full.
func Alloc(c *cpu.Cpu_t) *File_t {
	ftable.guard.Lock(c)
	defer ftable.guard.Unlock(c)
	for i := range ftable.file {
		f := &ftable.file[i]
		if f.Refcnt == 0 {
			*f = File_t{Refcnt: 1}
			return f
		}
	}
	return nil
}

/// Dup bumps f's reference count (§4.K filedup).
func Dup(f *File_t, c *cpu.Cpu_t) *File_t {
	ftable.guard.Lock(c)
	defer ftable.guard.Unlock(c)
	if f.Refcnt < 1 {
		panic("file.Dup: refcnt < 1")
	}
	f.Refcnt++
	return f
}

/// Close drops a reference to f; at zero it releases the underlying
/// resource: an inode reference for Inode/Device files (per §9's open
/// question, device files are treated exactly like inode files here), or
/// pipe teardown for Pipe files.
func Close(f *File_t, p *proc.Proc_t, c *cpu.Cpu_t) defs.Err_t {
	ftable.guard.Lock(c)
	if f.Refcnt < 1 {
		ftable.guard.Unlock(c)
		panic("file.Close: refcnt < 1")
	}
	f.Refcnt--
	if f.Refcnt > 0 {
		ftable.guard.Unlock(c)
		return 0
	}
	typ, ip, pi, writable := f.Type, f.Inode, f.Pipe, f.Writable
	f.Type = None
	f.Inode = nil
	f.Pipe = nil
	ftable.guard.Unlock(c)

	switch typ {
	case Inode, Device:
		if ip != nil {
			fs.Iput(ip, c)
		}
	case Pipe:
		if pi != nil {
			pi.Close(c, writable)
		}
	}
	return 0
}

/// Read dispatches a read by file type (§4.K), enforcing the readable bit.
func Read(f *File_t, p *proc.Proc_t, c *cpu.Cpu_t, dst circbuf.Userio_i, n int) (int, defs.Err_t) {
	if !f.Readable {
		return 0, -defs.EBADF
	}
	switch f.Type {
	case Pipe:
		return f.Pipe.Read(p, c, dst, n)
	case Device:
		if f.Major == defs.D_CONSOLE {
			return console.Read(p, c, dst, n)
		}
		return 0, -defs.EINVAL
	case Inode:
		fs.Ilock(f.Inode, p, c)
		buf := make([]byte, n)
		got := fs.Readi(f.Inode, f.Off, buf, p, c)
		fs.Iunlock(f.Inode, c)
		if got == 0 {
			return 0, 0
		}
		wrote, err := dst.Uiowrite(buf[:got])
		if err != 0 {
			return 0, err
		}
		f.Off += uint32(wrote)
		return wrote, 0
	default:
		return 0, -defs.EINVAL
	}
}

/// Write dispatches a write by file type (§4.K), enforcing the writable
/// bit. Write-path inode data is a non-goal (§1); writes to Inode files
/// are therefore rejected rather than silently discarded.
func Write(f *File_t, p *proc.Proc_t, c *cpu.Cpu_t, src circbuf.Userio_i, n int) (int, defs.Err_t) {
	if !f.Writable {
		return 0, -defs.EBADF
	}
	switch f.Type {
	case Pipe:
		return f.Pipe.Write(p, c, src, n)
	case Device:
		if f.Major == defs.D_CONSOLE {
			return console.Write(p, c, src, n)
		}
		return 0, -defs.EINVAL
	case Inode:
		return 0, -defs.EINVAL
	default:
		return 0, -defs.EINVAL
	}
}

/// Fstat fills st from f's inode, the SYS_FSTAT supplement to the
/// distilled syscall table (see SPEC_FULL.md §2.3).
func Fstat(f *File_t, st *stat.Stat_t, c *cpu.Cpu_t) defs.Err_t {
	switch f.Type {
	case Inode, Device:
		if f.Inode == nil {
			return -defs.EINVAL
		}
		st.Wdev(uint(f.Inode.Dev))
		st.Wino(uint(f.Inode.Inum))
		st.Wmode(uint(f.Inode.Dinode.Mode))
		st.Wsize(uint(f.Inode.Dinode.Size))
		if f.Type == Device {
			st.Wrdev(defs.Mkdev(f.Major, 0))
		}
		return 0
	default:
		return -defs.EINVAL
	}
}
