package stats

import (
	"strings"
	"testing"
)

func TestIrqCountsTotalAndPerVector(t *testing.T) {
	before := Irqs
	beforeVec := Nirqs[7]

	Irq(7)
	Irq(7)
	Irq(7)

	if Irqs != before+3 {
		t.Fatalf("Irqs = %d, want %d", Irqs, before+3)
	}
	if Nirqs[7] != beforeVec+3 {
		t.Fatalf("Nirqs[7] = %d, want %d", Nirqs[7], beforeVec+3)
	}
}

func TestIrqIgnoresOutOfRangeVector(t *testing.T) {
	before := Irqs
	Irq(-1)
	Irq(len(Nirqs))
	if Irqs != before+2 {
		t.Fatalf("Irqs = %d, want %d (out-of-range vectors still bump the total)", Irqs, before+2)
	}
}

func TestCounterInc(t *testing.T) {
	var c Counter_t
	c.Inc()
	c.Inc()
	c.Inc()
	if c != 3 {
		t.Fatalf("Counter_t after 3 Inc = %d, want 3", c)
	}
}

func TestCyclesAdd(t *testing.T) {
	var cy Cycles_t
	start := Rdtsc()
	cy.Add(start)
	if cy < 0 {
		t.Fatalf("Cycles_t went negative: %d", cy)
	}
}

func TestRdtscIsMonotonic(t *testing.T) {
	a := Rdtsc()
	b := Rdtsc()
	if b < a {
		t.Fatalf("Rdtsc() not monotonic: %d then %d", a, b)
	}
}

func TestStats2StringFormatsNamedFields(t *testing.T) {
	type sample struct {
		Reads  Counter_t
		Writes Counter_t
		Busy   Cycles_t
	}
	s := sample{Reads: 5, Writes: 2, Busy: 100}
	out := Stats2String(s)

	for _, want := range []string{"#Reads: 5", "#Writes: 2", "#Busy: 100"} {
		if !strings.Contains(out, want) {
			t.Fatalf("Stats2String output missing %q: %s", want, out)
		}
	}
}

func TestStats2StringSkipsOtherFields(t *testing.T) {
	type sample struct {
		Reads Counter_t
		Name  string
	}
	out := Stats2String(sample{Reads: 1, Name: "ignored"})
	if strings.Contains(out, "ignored") {
		t.Fatalf("Stats2String leaked a non-counter field: %s", out)
	}
}
