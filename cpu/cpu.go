// Package cpu holds the per-CPU record shared by the spinlock and scheduler
// layers: lapic id, interrupt-disable nesting counter, and the saved
// interrupt-enable bit. It is its own package, independent of proc, so that
// spinlock can depend on it without an import cycle back through proc.
package cpu

import "sync/atomic"

/// Cpu_t is one simulated CPU's bookkeeping record. There is no real CLI/STI
/// in a hosted Go process; Ncli/Intena track the same logical state the
/// specification's invariant names ("IF is zero iff ncli > 0") so that the
/// invariant remains checkable even though no hardware flag backs it.
type Cpu_t struct {
	ID int32

	/// Ncli counts nested interrupt-disabled regions. Invariant: Ncli >= 0.
	Ncli int32

	/// Intena is the interrupt-enable bit snapshotted by the outermost
	/// Pushcli, reported back by the Popcli that closes the outermost region.
	Intena bool
}

/// Max is the number of simulated CPUs the scheduler brings up.
const Max = 8

/// Cpus is the fixed table of per-CPU records, indexed by Cpu_t.ID.
var Cpus [Max]Cpu_t

/// Pushcli enters a nested interrupt-disabled region. The first call in a
/// nest snapshots whether interrupts were enabled; every call bumps Ncli.
func (c *Cpu_t) Pushcli(wasEnabled bool) {
	if atomic.LoadInt32(&c.Ncli) == 0 {
		c.Intena = wasEnabled
	}
	atomic.AddInt32(&c.Ncli, 1)
}

/// Popcli leaves one nested interrupt-disabled region. It panics if Ncli
/// would go negative, mirroring the "unbalanced pop_cli" kernel bug the
/// specification calls out as a fatal invariant violation.
//
/// Returns whether the outermost region just closed and interrupts should
/// be considered re-enabled (Intena was true when the nest began).
func (c *Cpu_t) Popcli() bool {
	n := atomic.AddInt32(&c.Ncli, -1)
	if n < 0 {
		panic("popcli: unbalanced")
	}
	return n == 0 && c.Intena
}

/// Interrupts reports whether this CPU currently has interrupts enabled:
/// true iff no interrupt-disabled region is active.
func (c *Cpu_t) Interrupts() bool {
	return atomic.LoadInt32(&c.Ncli) == 0
}
