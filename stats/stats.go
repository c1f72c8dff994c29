// Package stats holds the kernel's interrupt and per-field counters,
// gated behind the Stats/Timing switches the way the rest of the kernel
// gates its debug output. There is no RDTSC instruction reachable from a
// hosted Go process, so Rdtsc stands in a monotonic nanosecond clock;
// callers that only ever subtract two Rdtsc() results (trap.go's dispatch
// timing) don't care that the unit is ns instead of cycles.
package stats

import "reflect"
import "sync/atomic"
import "strconv"
import "strings"
import "time"
import "unsafe"

const Stats = true
const Timing = true

/// Nirqs counts interrupts taken per vector; Irqs is the running total
/// across all vectors. trap.Dispatch increments both on every entry.
var Nirqs [100]int
var Irqs int64

var rdtscBase = time.Now()

/// Rdtsc returns a monotonically increasing count used as a cycle
/// substitute when Timing is enabled: nanoseconds on the monotonic clock
/// since package initialization.
func Rdtsc() uint64 {
	if Timing {
		return uint64(time.Since(rdtscBase).Nanoseconds())
	}
	return 0
}

/// Irq records one interrupt on vector, bumping both Irqs and Nirqs[vector]
/// when vector is in range. trap.Dispatch calls this on every entry.
func Irq(vector int) {
	if !Stats {
		return
	}
	atomic.AddInt64(&Irqs, 1)
	if vector >= 0 && vector < len(Nirqs) {
		Nirqs[vector]++
	}
}

/// Counter_t is a statistical counter.
type Counter_t int64

/// Cycles_t holds a cycle count.
type Cycles_t int64

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

/// Add adds elapsed cycles to the counter.
func (c *Cycles_t) Add(m uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(Rdtsc()-m))
	}
}

/// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}

	}
	return s + "\n"
}
