// Package sleeplock implements the mutex that may block the caller,
// built on spinlock plus proc's sleep channel (§4.D).
package sleeplock

import (
	"unsafe"

	"cpu"
	"proc"
	"spinlock"
)

/// Lock_t is a sleeplock: a spinlock protecting a held-bit, whose own
/// address serves as the sleep channel. Invariant: held is true iff some
/// process owns the lock; waiters are Sleeping on that channel.
type Lock_t struct {
	guard spinlock.Lock_t
	held  bool
	Name  string
}

/// Mk returns a new, unheld sleeplock.
func Mk(name string) *Lock_t {
	l := &Lock_t{Name: name}
	l.guard = *spinlock.Mk(name + ".guard")
	return l
}

func (l *Lock_t) channel() uintptr {
	return uintptr(unsafe.Pointer(l))
}

/// Acquire takes the lock on behalf of p, sleeping while another process
/// already holds it.
func (l *Lock_t) Acquire(p *proc.Proc_t, c *cpu.Cpu_t) {
	l.guard.Lock(c)
	for l.held {
		// Sleep atomically drops l.guard for the duration and reacquires
		// it on wake, per §4.D/§4.I.
		proc.Sleep(p, l.channel(), &l.guard, c)
	}
	l.held = true
	l.guard.Unlock(c)
}

/// Release drops the lock and wakes every waiter.
func (l *Lock_t) Release(c *cpu.Cpu_t) {
	l.guard.Lock(c)
	l.held = false
	l.guard.Unlock(c)
	proc.Wakeup(l.channel(), c)
}

/// Holding reports whether the lock is currently held by someone. For
/// assertions only.
func (l *Lock_t) Holding() bool {
	return l.held
}
