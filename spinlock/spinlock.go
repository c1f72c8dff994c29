// Package spinlock implements the kernel's interrupt-safe mutual-exclusion
// primitive: an atomic taken-flag guarded by a per-CPU interrupt-disable
// nesting counter (§4.C). Every caller names which simulated CPU it is
// running on explicitly — the Go-idiomatic analogue of the reference
// kernel's implicit mycpu(), since this kernel has no goroutine-local
// storage to hang a "current CPU" off of.
package spinlock

import (
	"sync/atomic"

	"cpu"
)

/// Lock_t is an interrupt-safe spinlock: a taken flag plus a name used only
/// for diagnostics. Invariant: while held, the holder's Ncli has been
/// incremented (the specification's "interrupts are off on that CPU").
type Lock_t struct {
	taken int32
	Name  string
}

/// Mk returns a new, unheld lock with the given diagnostic name.
func Mk(name string) *Lock_t {
	return &Lock_t{Name: name}
}

/// Lock acquires l on behalf of c, disabling c's interrupt-enabled state for
/// the duration (the nesting counter is incremented regardless of whether
/// interrupts were already disabled by an outer lock).
func (l *Lock_t) Lock(c *cpu.Cpu_t) {
	wasEnabled := c.Interrupts()
	c.Pushcli(wasEnabled)
	for !atomic.CompareAndSwapInt32(&l.taken, 0, 1) {
		for atomic.LoadInt32(&l.taken) != 0 {
			// relaxed backoff; real hardware would PAUSE here.
		}
	}
}

/// Unlock releases l, then pops c's interrupt-disable nesting. If this was
/// the outermost disabled region and interrupts were enabled before it, the
/// caller's simulated IF becomes enabled again.
func (l *Lock_t) Unlock(c *cpu.Cpu_t) {
	if atomic.LoadInt32(&l.taken) == 0 {
		panic("spinlock: release of unheld lock")
	}
	atomic.StoreInt32(&l.taken, 0)
	c.Popcli()
}

/// Held reports whether the lock currently appears taken. Useful only for
/// assertions (e.g. the scheduler's precondition checks); racy by design —
/// no code may branch on it to make a correctness decision.
func (l *Lock_t) Held() bool {
	return atomic.LoadInt32(&l.taken) != 0
}
