// Package console implements the D_CONSOLE device (§4.M): UART input is
// pushed a byte at a time from the trap handler into a circular buffer.
// A read returns whatever the buffer holds, sleeping only while it is
// empty; a sleeping reader is woken when a newline or carriage return
// arrives, but a read that finds a partial line buffered returns it
// without waiting for the newline. Writes go straight to the host
// terminal.
package console

import (
	"os"

	"circbuf"
	"cpu"
	"defs"
	"mem"
	"proc"
	"spinlock"
)

const bufsz = 128

var cons struct {
	guard spinlock.Lock_t
	buf   circbuf.Circbuf_t
	inited bool
}

/// Init wires the console's input ring to the page allocator. Must run
/// before any read reaches the device.
func Init(m mem.Page_i) {
	cons.guard = *spinlock.Mk("console")
	cons.buf.Cb_init(bufsz, m)
	cons.inited = true
}

func channel() uintptr {
	return uintptr(0xc0cac01a)
}

/// Intr is called from the UART interrupt vector (§4.H, T_UART) with one
/// newly arrived byte. When that byte is a newline or carriage return it
/// wakes any reader sleeping on the console.
func Intr(b uint8, c *cpu.Cpu_t) {
	cons.guard.Lock(c)
	line := []uint8{b}
	cons.buf.Copyin(lineSrc(line))
	cons.guard.Unlock(c)
	if b == '\n' || b == '\r' {
		proc.Wakeup(channel(), c)
	}
}

type lineSrc []uint8

func (l lineSrc) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, l)
	return n, 0
}
func (l lineSrc) Uiowrite(src []uint8) (int, defs.Err_t) {
	panic("lineSrc is read-only")
}

/// Read blocks p until the console's input ring holds data, then copies it
/// out to dst (§4.K fileread dispatch for Device major D_CONSOLE). Returns
/// -EINTR if p is killed while waiting.
func Read(p *proc.Proc_t, c *cpu.Cpu_t, dst circbuf.Userio_i, n int) (int, defs.Err_t) {
	cons.guard.Lock(c)
	for cons.buf.Empty() {
		if p.Killed {
			cons.guard.Unlock(c)
			return 0, -defs.EINTR
		}
		proc.Sleep(p, channel(), &cons.guard, c)
	}
	got, err := cons.buf.Copyout_n(dst, n)
	cons.guard.Unlock(c)
	return got, err
}

/// Write copies n bytes from src straight to the host terminal.
func Write(p *proc.Proc_t, c *cpu.Cpu_t, src circbuf.Userio_i, n int) (int, defs.Err_t) {
	buf := make([]uint8, n)
	got, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	os.Stdout.Write(buf[:got])
	return got, 0
}
