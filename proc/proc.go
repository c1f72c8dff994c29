// Package proc implements the process table and per-CPU scheduler (§4.I).
// A kernel "process" here is a goroutine plus a small control struct; the
// scheduler hands control between a per-CPU loop and a process goroutine
// with a pair of unbuffered channels instead of a hand-rolled six-register
// assembly swap — the Go-idiomatic analogue of §4.I's swap(), in the same
// spirit as the IDT vector stubs and AP trampoline the specification
// already treats as external asm glue out of scope for this kernel.
//
// fork() cannot literally duplicate a call stack in a hosted Go process.
// Instead Fork takes the child's continuation as an explicit closure: the
// caller writes the code that should run "after the fork, in the child" as
// a func(*Proc_t) rather than relying on fork's traditional
// returns-twice trick. This is the same idea POSIX fork expresses, turned
// into an ordinary Go callback.
package proc

import (
	"accnt"
	"cpu"
	"defs"
	"limits"
	"spinlock"
	"vm"
)

/// State_t is a process's scheduling state.
type State_t int

const (
	Unused State_t = iota
	Embryo
	Sleeping
	Runnable
	Running
	Zombie
)

/// Proc_t is one process table slot. Fields not protected by Ptable (Fds,
/// Img) are only ever touched by the process's own goroutine or during
/// Fork/Exit while the slot is Embryo/Zombie, so no separate lock is needed
/// for them.
type Proc_t struct {
	Pid     defs.Pid_t
	Ppid    defs.Pid_t
	State   State_t
	Name    string
	Sz      uint
	Channel uintptr /// valid while State == Sleeping
	Killed  bool

	Fds [limits.NOFILE]interface{} /// open-file handles; concrete type is *file.File_t, kept as interface{} to avoid an import cycle with package file

	Vm *vm.Vm_t /// address space; nil for kernel-only helper processes

	Accnt accnt.Accnt_t /// user/system time accumulated across CPULoop dispatches

	body func(*Proc_t) int /// the user image: runs once, returns an exit status

	resume chan struct{} /// scheduler -> process: run now
	parked chan struct{} /// process -> scheduler: I've yielded/slept/exited
	cpu    *cpu.Cpu_t

	exitStatus int
	waiters    []chan defs.Pid_t
}

/// Ptable is the single, system-wide process table and its lock. Per §4.I,
/// the process-table lock is always the outermost lock of any sleep/wakeup
/// pair.
var Ptable struct {
	Lock spinlock.Lock_t
	Proc [limits.NPROC]*Proc_t
}

func init() {
	Ptable.Lock = *spinlock.Mk("ptable")
}

var nextPid defs.Pid_t = 1

/// alloc finds an Unused slot, marks it Embryo, and assigns it a pid. It
/// must be called with Ptable.Lock held.
func alloc() *Proc_t {
	for i := range Ptable.Proc {
		if Ptable.Proc[i] == nil {
			p := &Proc_t{
				State:  Embryo,
				Pid:    nextPid,
				resume: make(chan struct{}),
				parked: make(chan struct{}),
			}
			nextPid++
			Ptable.Proc[i] = p
			return p
		}
	}
	return nil
}

/// Spawn creates the first process (pid effectively assigned by alloc) and
/// schedules it Runnable. Used once at boot for the init process; later
/// processes come from Fork.
func Spawn(name string, body func(*Proc_t) int, c *cpu.Cpu_t) (*Proc_t, defs.Err_t) {
	Ptable.Lock.Lock(c)
	p := alloc()
	if p == nil {
		Ptable.Lock.Unlock(c)
		return nil, -defs.ENOMEM
	}
	p.Name = name
	p.body = body
	p.State = Runnable
	Ptable.Lock.Unlock(c)
	go procMain(p)
	return p, 0
}

func procMain(p *Proc_t) {
	<-p.resume
	status := p.body(p)
	doExit(p, status)
}

/// Fork creates a new process running childBody and marks it Runnable. It
/// duplicates the parent's open-file table (bumping refcounts is the
/// caller's job via file.Dup, since Proc_t stores opaque handles) and
/// records the parent link. On allocation failure it returns -ENOMEM and
/// the free-frame count is left unchanged, matching the OOM-fork property.
func Fork(parent *Proc_t, childBody func(*Proc_t) int, c *cpu.Cpu_t) (defs.Pid_t, defs.Err_t) {
	var childVm *vm.Vm_t
	if parent.Vm != nil {
		var err defs.Err_t
		childVm, err = vm.CloneUserPgdir(parent.Vm)
		if err != 0 {
			return -1, err
		}
	}

	Ptable.Lock.Lock(c)
	child := alloc()
	if child == nil {
		Ptable.Lock.Unlock(c)
		if childVm != nil {
			vm.UnmapAll(childVm)
		}
		return -1, -defs.ENOMEM
	}
	child.Name = parent.Name
	child.Ppid = parent.Pid
	child.Fds = parent.Fds
	child.Vm = childVm
	child.body = childBody
	child.State = Runnable
	pid := child.Pid
	Ptable.Lock.Unlock(c)
	go procMain(child)
	return pid, 0
}

func doExit(p *Proc_t, status int) {
	Ptable.Lock.Lock(p.cpu)
	p.exitStatus = status
	p.State = Zombie
	wakers := p.waiters
	p.waiters = nil
	Ptable.Lock.Unlock(p.cpu)
	for _, w := range wakers {
		w <- p.Pid
	}
	p.parked <- struct{}{}
	<-p.resume // never resumed; procMain returns, goroutine exits
}

/// Body returns p's user-image closure, the continuation SYS_FORK hands to
/// the new child process: fork() duplicates the parent's program text, and
/// since Go cannot literally duplicate a call stack, the child instead
/// starts that same closure fresh in its own goroutine.
func (p *Proc_t) Body() func(*Proc_t) int {
	return p.body
}

/// Exit is the public entry point a running process's body calls to
/// terminate itself immediately (the syscalls package's SYS_EXIT handler
/// uses this; body functions may also simply return their status).
func Exit(p *Proc_t, status int) {
	doExit(p, status)
}

/// Wait scans for a Zombie child of parent. If none are Zombie and at
/// least one exists, it blocks until one exits. If parent has no children
/// at all, it returns -1 immediately, per §4.I.
func Wait(parent *Proc_t, c *cpu.Cpu_t) (defs.Pid_t, int) {
	Ptable.Lock.Lock(c)
	for {
		found := false
		for i := range Ptable.Proc {
			ch := Ptable.Proc[i]
			if ch == nil || ch.Ppid != parent.Pid {
				continue
			}
			found = true
			if ch.State == Zombie {
				pid := ch.Pid
				status := ch.exitStatus
				Ptable.Proc[i] = nil
				Ptable.Lock.Unlock(c)
				return pid, status
			}
		}
		if !found || parent.Killed {
			Ptable.Lock.Unlock(c)
			return -1, -1
		}
		ch := make(chan defs.Pid_t, 1)
		for i := range Ptable.Proc {
			p := Ptable.Proc[i]
			if p != nil && p.Ppid == parent.Pid {
				p.waiters = append(p.waiters, ch)
			}
		}
		Ptable.Lock.Unlock(c)
		<-ch
		Ptable.Lock.Lock(c)
	}
}

// wakeupLocked flips any Sleeping process waiting on channel to Runnable.
// Caller must hold Ptable.Lock.
func wakeupLocked(channel uintptr) {
	for i := range Ptable.Proc {
		p := Ptable.Proc[i]
		if p != nil && p.State == Sleeping && p.Channel == channel {
			p.State = Runnable
		}
	}
}

/// Wakeup wakes every process sleeping on channel.
func Wakeup(channel uintptr, c *cpu.Cpu_t) {
	Ptable.Lock.Lock(c)
	wakeupLocked(channel)
	Ptable.Lock.Unlock(c)
}

/// Sleep blocks the calling process p on channel, atomically releasing the
/// caller-held spinlock guard for the duration (§4.I, §4.D). Exactly one
/// spinlock may be held across a Sleep call; Ptable.Lock itself must not be
/// that lock.
func Sleep(p *Proc_t, channel uintptr, guard *spinlock.Lock_t, c *cpu.Cpu_t) {
	Ptable.Lock.Lock(c)
	guard.Unlock(c)
	p.Channel = channel
	p.State = Sleeping
	Ptable.Lock.Unlock(c)

	p.parked <- struct{}{}
	<-p.resume

	p.Channel = 0
	guard.Lock(c)
}

/// Yield voluntarily gives up the CPU, matching §4.I's yield_proc: the
/// process stays Runnable and will be rescheduled, possibly on another CPU.
func Yield(p *Proc_t) {
	Ptable.Lock.Lock(p.cpu)
	p.State = Runnable
	Ptable.Lock.Unlock(p.cpu)
	p.parked <- struct{}{}
	<-p.resume
}

/// Kill marks pid for termination; the next well-defined check point (pipe
/// read, console read, wait) observes p.Killed and aborts with -1, per §5's
/// cooperative-only cancellation model.
func Kill(pid defs.Pid_t, c *cpu.Cpu_t) defs.Err_t {
	Ptable.Lock.Lock(c)
	defer Ptable.Lock.Unlock(c)
	for i := range Ptable.Proc {
		p := Ptable.Proc[i]
		if p != nil && p.Pid == pid {
			p.Killed = true
			if p.State == Sleeping {
				p.State = Runnable
			}
			return 0
		}
	}
	return -defs.ESRCH
}

/// CPULoop is the per-CPU scheduler: STI, scan for a Runnable process,
/// dispatch it, repeat (§4.I). It never returns; call it once per
/// simulated CPU, each on its own goroutine.
func CPULoop(c *cpu.Cpu_t) {
	for {
		Ptable.Lock.Lock(c)
		var next *Proc_t
		for i := range Ptable.Proc {
			p := Ptable.Proc[i]
			if p != nil && p.State == Runnable {
				next = p
				break
			}
		}
		if next == nil {
			Ptable.Lock.Unlock(c)
			continue
		}
		next.State = Running
		next.cpu = c
		Ptable.Lock.Unlock(c)

		start := next.Accnt.Now()
		next.resume <- struct{}{}
		<-next.parked
		next.Accnt.Utadd(next.Accnt.Now() - start)

		Ptable.Lock.Lock(c)
		if next.State == Running {
			// body returned without calling Exit/Sleep/Yield explicitly;
			// treat as a bug the way an unbalanced pop_cli would be.
			panic("scheduler: process left Running with no transition")
		}
		next.cpu = nil
		Ptable.Lock.Unlock(c)
	}
}
