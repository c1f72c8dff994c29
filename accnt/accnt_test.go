package accnt

import (
	"testing"

	"util"
)

func TestUtaddSystaddAccumulate(t *testing.T) {
	var a Accnt_t
	a.Utadd(100)
	a.Utadd(50)
	a.Systadd(7)
	if a.Userns != 150 {
		t.Fatalf("Userns = %d, want 150", a.Userns)
	}
	if a.Sysns != 7 {
		t.Fatalf("Sysns = %d, want 7", a.Sysns)
	}
}

func TestAddMergesTwoRecords(t *testing.T) {
	var a, b Accnt_t
	a.Utadd(10)
	a.Systadd(5)
	b.Utadd(20)
	b.Systadd(3)

	a.Add(&b)
	if a.Userns != 30 {
		t.Fatalf("merged Userns = %d, want 30", a.Userns)
	}
	if a.Sysns != 8 {
		t.Fatalf("merged Sysns = %d, want 8", a.Sysns)
	}
}

func TestFinishAddsElapsedToSysns(t *testing.T) {
	var a Accnt_t
	start := a.Now()
	a.Finish(start)
	if a.Sysns < 0 {
		t.Fatalf("Finish produced negative Sysns: %d", a.Sysns)
	}
}

func TestToRusageEncodesUserAndSysTimevals(t *testing.T) {
	var a Accnt_t
	a.Utadd(2_500_000_000) // 2.5s
	a.Systadd(1_000_000)   // 1ms

	buf := a.To_rusage()
	if len(buf) != 32 {
		t.Fatalf("To_rusage length = %d, want 32", len(buf))
	}

	usec := util.Readn(buf, 8, 0)
	uusec := util.Readn(buf, 8, 8)
	if usec != 2 || uusec != 500000 {
		t.Fatalf("user timeval = (%d, %d), want (2, 500000)", usec, uusec)
	}

	ssec := util.Readn(buf, 8, 16)
	susec := util.Readn(buf, 8, 24)
	if ssec != 0 || susec != 1000 {
		t.Fatalf("sys timeval = (%d, %d), want (0, 1000)", ssec, susec)
	}
}

func TestFetchIsConsistentWithToRusage(t *testing.T) {
	var a Accnt_t
	a.Utadd(42)
	direct := a.To_rusage()
	fetched := a.Fetch()
	if len(direct) != len(fetched) {
		t.Fatalf("Fetch length %d != To_rusage length %d", len(fetched), len(direct))
	}
	for i := range direct {
		if direct[i] != fetched[i] {
			t.Fatalf("Fetch and To_rusage diverge at byte %d", i)
		}
	}
}
