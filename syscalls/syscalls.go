// Package syscalls implements the system-call surface (§4.L, §6): it
// fetches arguments from the saved trap frame following the System-V
// register convention and dispatches by number.
package syscalls

import (
	"cpu"
	"defs"
	"file"
	"fs"
	"limits"
	"pipe"
	"proc"
	"stat"
	"vm"
)

/// Trapframe_t is the subset of the saved register state a syscall reads
/// its arguments from and writes its return value to (§4.H, §4.L).
type Trapframe_t struct {
	Rax              uintptr
	Rdi, Rsi, Rdx     uintptr
	R10, R8, R9      uintptr
}

const maxPathLen = 1024

func fetchString(as *vm.Vm_t, va uintptr) (string, defs.Err_t) {
	buf := make([]byte, maxPathLen)
	if err := vm.CopyIn(as, buf, va, maxPathLen); err != 0 {
		return "", -defs.EFAULT
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), 0
		}
	}
	return "", -defs.EFAULT
}

func validFd(p *proc.Proc_t, fd uintptr) (*file.File_t, defs.Err_t) {
	if fd >= limits.NOFILE {
		return nil, -defs.EBADF
	}
	f, ok := p.Fds[fd].(*file.File_t)
	if !ok || f == nil {
		return nil, -defs.EBADF
	}
	return f, 0
}

func allocFd(p *proc.Proc_t, f *file.File_t) (uintptr, defs.Err_t) {
	for i := 0; i < limits.NOFILE; i++ {
		if p.Fds[i] == nil {
			p.Fds[i] = f
			return uintptr(i), 0
		}
	}
	return 0, -defs.EMFILE
}

/// Dispatch executes the syscall named by tf.Rax, returning the value to
/// place back in rax (§4.L, §6).
func Dispatch(p *proc.Proc_t, c *cpu.Cpu_t, tf *Trapframe_t) int {
	switch tf.Rax {
	case defs.SYS_READ:
		return sysRead(p, c, tf)
	case defs.SYS_WRITE:
		return sysWrite(p, c, tf)
	case defs.SYS_OPEN:
		return sysOpen(p, c, tf)
	case defs.SYS_CLOSE:
		return sysClose(p, c, tf)
	case defs.SYS_FSTAT:
		return sysFstat(p, c, tf)
	case defs.SYS_SBRK:
		return sysSbrk(p, c, tf)
	case defs.SYS_PIPE:
		return sysPipe(p, c, tf)
	case defs.SYS_DUP:
		return sysDup(p, c, tf)
	case defs.SYS_FORK:
		return sysFork(p, c, tf)
	case defs.SYS_EXIT:
		return sysExit(p, c, tf)
	case defs.SYS_WAIT:
		return sysWait(p, c, tf)
	default:
		return -1
	}
}

func sysRead(p *proc.Proc_t, c *cpu.Cpu_t, tf *Trapframe_t) int {
	f, err := validFd(p, tf.Rdi)
	if err != 0 {
		return -1
	}
	var ub vm.Userbuf_t
	ub.UbInit(p.Vm, tf.Rsi, int(tf.Rdx))
	n, err := file.Read(f, p, c, &ub, int(tf.Rdx))
	if err != 0 {
		return -1
	}
	return n
}

func sysWrite(p *proc.Proc_t, c *cpu.Cpu_t, tf *Trapframe_t) int {
	f, err := validFd(p, tf.Rdi)
	if err != 0 {
		return -1
	}
	var ub vm.Userbuf_t
	ub.UbInit(p.Vm, tf.Rsi, int(tf.Rdx))
	n, err := file.Write(f, p, c, &ub, int(tf.Rdx))
	if err != 0 {
		return -1
	}
	return n
}

func sysOpen(p *proc.Proc_t, c *cpu.Cpu_t, tf *Trapframe_t) int {
	path, err := fetchString(p.Vm, tf.Rdi)
	if err != 0 {
		return -1
	}
	mode := tf.Rsi

	ip, err := fs.Namei(path, p, c)
	if err != 0 {
		return -1
	}
	f := file.Alloc(c)
	if f == nil {
		fs.Iput(ip, c)
		return -1
	}
	f.Type = file.Inode
	f.Inode = ip
	f.Readable = mode&defs.O_WRONLY == 0
	f.Writable = mode&(defs.O_WRONLY|defs.O_RDWR) != 0

	fd, err := allocFd(p, f)
	if err != 0 {
		file.Close(f, p, c)
		return -1
	}
	return int(fd)
}

func sysClose(p *proc.Proc_t, c *cpu.Cpu_t, tf *Trapframe_t) int {
	f, err := validFd(p, tf.Rdi)
	if err != 0 {
		return -1
	}
	p.Fds[tf.Rdi] = nil
	file.Close(f, p, c)
	return 0
}

func sysFstat(p *proc.Proc_t, c *cpu.Cpu_t, tf *Trapframe_t) int {
	f, err := validFd(p, tf.Rdi)
	if err != 0 {
		return -1
	}
	if f.Inode != nil {
		// Fstat reads the cached on-disk inode, which Ilock loads on first use.
		fs.Ilock(f.Inode, p, c)
		defer fs.Iunlock(f.Inode, c)
	}
	var st stat.Stat_t
	if err := file.Fstat(f, &st, c); err != 0 {
		return -1
	}
	if err := vm.CopyOut(p.Vm, tf.Rsi, st.Bytes(), len(st.Bytes())); err != 0 {
		return -1
	}
	return 0
}

func sysSbrk(p *proc.Proc_t, c *cpu.Cpu_t, tf *Trapframe_t) int {
	delta := int(tf.Rdi)
	old := p.Vm.Sz
	newSz := uintptr(int(old) + delta)
	var err defs.Err_t
	if delta >= 0 {
		err = vm.GrowUser(p.Vm, old, newSz)
	} else {
		err = vm.ShrinkUser(p.Vm, old, newSz)
	}
	if err != 0 {
		return -1
	}
	return int(old)
}

func sysPipe(p *proc.Proc_t, c *cpu.Cpu_t, tf *Trapframe_t) int {
	pp := pipe.Mk()
	rf := file.Alloc(c)
	wf := file.Alloc(c)
	if rf == nil || wf == nil {
		return -1
	}
	rf.Type, rf.Pipe, rf.Readable = file.Pipe, pp, true
	wf.Type, wf.Pipe, wf.Writable = file.Pipe, pp, true

	rfd, err := allocFd(p, rf)
	if err != 0 {
		return -1
	}
	wfd, err := allocFd(p, wf)
	if err != 0 {
		p.Fds[rfd] = nil
		return -1
	}
	fds := [2]uint32{uint32(rfd), uint32(wfd)}
	buf := make([]byte, 8)
	buf[0], buf[1], buf[2], buf[3] = byte(fds[0]), byte(fds[0]>>8), byte(fds[0]>>16), byte(fds[0]>>24)
	buf[4], buf[5], buf[6], buf[7] = byte(fds[1]), byte(fds[1]>>8), byte(fds[1]>>16), byte(fds[1]>>24)
	if err := vm.CopyOut(p.Vm, tf.Rdi, buf, 8); err != 0 {
		return -1
	}
	return 0
}

func sysDup(p *proc.Proc_t, c *cpu.Cpu_t, tf *Trapframe_t) int {
	f, err := validFd(p, tf.Rdi)
	if err != 0 {
		return -1
	}
	file.Dup(f, c)
	fd, err := allocFd(p, f)
	if err != 0 {
		return -1
	}
	return int(fd)
}

func sysFork(p *proc.Proc_t, c *cpu.Cpu_t, tf *Trapframe_t) int {
	// the child shares every open file, so each handle gains a reference
	for _, h := range p.Fds {
		if f, ok := h.(*file.File_t); ok && f != nil {
			file.Dup(f, c)
		}
	}
	pid, err := proc.Fork(p, p.Body(), c)
	if err != 0 {
		for _, h := range p.Fds {
			if f, ok := h.(*file.File_t); ok && f != nil {
				file.Close(f, p, c)
			}
		}
		return -1
	}
	return int(pid)
}

func sysExit(p *proc.Proc_t, c *cpu.Cpu_t, tf *Trapframe_t) int {
	proc.Exit(p, int(tf.Rdi))
	return 0 // unreached: Exit never returns control to the caller
}

func sysWait(p *proc.Proc_t, c *cpu.Cpu_t, tf *Trapframe_t) int {
	pid, status := proc.Wait(p, c)
	if pid < 0 {
		return -1
	}
	_ = status
	return int(pid)
}
