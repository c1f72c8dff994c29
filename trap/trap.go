// Package trap implements the vector dispatch table invoked from the IDT
// stubs (§4.H): timer preemption, UART drain, virtio completion, page
// faults, and the syscall gate. Building and loading the IDT itself, and
// the STAR/LSTAR/SFMASK fast-syscall programming, are external asm glue
// this kernel treats as out of scope, the same way §4.H already does for
// the AP trampoline.
package trap

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"console"
	"cpu"
	"defs"
	"mem"
	"proc"
	"stats"
	"syscalls"
	"vm"
)

/// Frame_t is the saved register frame a vector handler receives, shared
/// with package syscalls via Trapframe (§4.H, §4.L).
type Frame_t struct {
	Vector uintptr
	Cr2    uintptr /// valid only for T_PGFLT
	Code   []byte  /// faulting instruction bytes, when captured; used only by the "other" crash dump
	Tf     syscalls.Trapframe_t
}

/// Disk_i is the subset of fs.Virtio_t the vector 43 handler needs.
type Disk_i interface {
	Interrupt(c *cpu.Cpu_t)
}

var disk Disk_i

/// dispatchCycles accumulates total time spent in Dispatch across every
/// vector; inspectable via Stats2String for a debug dump.
var dispatchCycles stats.Cycles_t

/// Init wires the virtio-block driver so vector 43 can ack it.
func Init(d Disk_i) {
	disk = d
}

/// Dispatch runs the handler named by §4.H's table for fr.Vector. p is the
/// process that was running when the trap landed (nil for a trap that
/// interrupted the scheduler idle loop itself).
func Dispatch(p *proc.Proc_t, c *cpu.Cpu_t, fr *Frame_t) {
	stats.Irq(int(fr.Vector))
	start := stats.Rdtsc()
	defer dispatchCycles.Add(start)

	switch fr.Vector {
	case defs.T_TIMER:
		if p != nil {
			proc.Yield(p)
		}
	case defs.T_UART:
		console.Intr(uartByte(), c)
	case defs.T_VIRTIO:
		if disk != nil {
			disk.Interrupt(c)
		}
	case defs.T_PGFLT:
		pagefault(p, c, fr)
	case defs.T_SYSCALL:
		fr.Tf.Rax = uintptr(syscalls.Dispatch(p, c, &fr.Tf))
	default:
		fatal(fr)
	}
}

// pagefault implements §4.H's page-fault policy: grow the address space
// lazily if cr2 falls within [0, p.Vm.Sz), otherwise kill the process.
func pagefault(p *proc.Proc_t, c *cpu.Cpu_t, fr *Frame_t) {
	if p == nil || p.Vm == nil || fr.Cr2 >= uintptr(p.Vm.Sz) {
		if p != nil {
			proc.Exit(p, -1)
		}
		return
	}
	perms := uint64(mem.PTE_W | mem.PTE_U)
	if err := vm.Pagein(p.Vm, fr.Cr2, perms); err != 0 {
		proc.Exit(p, -1)
	}
}

// uartByte reads one byte off the UART's receive register. The register
// access itself is external port IO glue; this stub exists so the vector
// table above has something concrete to call until a real console
// back end is wired in.
func uartByte() uint8 {
	return 0
}

// fatal logs the offending vector and halts the CPU (§4.H "other"),
// decoding the faulting instruction bytes when available so the dump
// names the actual opcode rather than just an address.
func fatal(fr *Frame_t) {
	fmt.Printf("trap: unhandled vector %d at %s\n", fr.Vector, decodeAt(fr.Code))
	halt()
}

// decodeAt disassembles the bytes at a captured instruction pointer for a
// crash dump, naming the actual opcode rather than just an address.
func decodeAt(code []byte) string {
	if len(code) == 0 {
		return "<no code captured>"
	}
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return fmt.Sprintf("<undecodable: %v>", err)
	}
	return inst.String()
}

func halt() {
	select {}
}
