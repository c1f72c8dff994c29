package vm

import (
	"bytes"
	"testing"

	"mem"
)

func freshPhysmem(t *testing.T, npages int) *mem.Physmem_t {
	t.Helper()
	return mem.Phys_init(npages)
}

func TestMapRangeAndCopy(t *testing.T) {
	m := freshPhysmem(t, 256)
	as, err := CreateUserPgdir(m)
	if err != 0 {
		t.Fatalf("CreateUserPgdir: %d", err)
	}

	_, pa, ok := m.Refpg_new()
	if !ok {
		t.Fatalf("Refpg_new failed")
	}
	const va = 0x1000
	if err := MapRange(as, va, pa, uintptr(mem.PGSIZE), uint64(mem.PTE_W|mem.PTE_U)); err != 0 {
		t.Fatalf("MapRange: %d", err)
	}

	want := []byte("hello from kyanite")
	if err := CopyOut(as, va, want, len(want)); err != 0 {
		t.Fatalf("CopyOut: %d", err)
	}
	got := make([]byte, len(want))
	if err := CopyIn(as, got, va, len(got)); err != 0 {
		t.Fatalf("CopyIn: %d", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}

	// Remapping the same range without unmapping first is an error.
	if err := MapRange(as, va, pa, uintptr(mem.PGSIZE), uint64(mem.PTE_W)); err == 0 {
		t.Fatalf("MapRange over an existing mapping should fail")
	}
}

func TestGrowPageinShrink(t *testing.T) {
	m := freshPhysmem(t, 256)
	as, err := CreateUserPgdir(m)
	if err != 0 {
		t.Fatalf("CreateUserPgdir: %d", err)
	}

	if err := GrowUser(as, 0, 100); err != 0 {
		t.Fatalf("GrowUser: %d", err)
	}
	if as.Sz != uintptr(mem.PGSIZE) {
		t.Fatalf("GrowUser(0, 100).Sz = %d, want a rounded-up %d", as.Sz, mem.PGSIZE)
	}

	// Build the page-table path to va 0 first, so the frame counts below
	// see only the data frame Pagein installs, not the intermediate tables
	// walk creates on demand (which ShrinkUser leaves in place).
	if _, err := as.walk(0, true); err != 0 {
		t.Fatalf("walk: %d", err)
	}
	free0 := m.Pgcount()
	if err := Pagein(as, 50, uint64(mem.PTE_W|mem.PTE_U)); err != 0 {
		t.Fatalf("Pagein: %d", err)
	}
	if m.Pgcount() != free0-1 {
		t.Fatalf("Pagein should consume exactly one frame")
	}

	// A second fault on the same page must not allocate again.
	if err := Pagein(as, 60, uint64(mem.PTE_W|mem.PTE_U)); err != 0 {
		t.Fatalf("Pagein (same page): %d", err)
	}
	if m.Pgcount() != free0-1 {
		t.Fatalf("Pagein on an already-backed page should not allocate")
	}

	if err := ShrinkUser(as, as.Sz, 0); err != 0 {
		t.Fatalf("ShrinkUser: %d", err)
	}
	if m.Pgcount() != free0 {
		t.Fatalf("ShrinkUser should free the page Pagein installed")
	}
}

func TestCloneUserPgdirIsolatesFrames(t *testing.T) {
	m := freshPhysmem(t, 256)
	parent, err := CreateUserPgdir(m)
	if err != 0 {
		t.Fatalf("CreateUserPgdir: %d", err)
	}
	if err := GrowUser(parent, 0, uintptr(mem.PGSIZE)); err != 0 {
		t.Fatalf("GrowUser: %d", err)
	}
	if err := Pagein(parent, 0, uint64(mem.PTE_W|mem.PTE_U)); err != 0 {
		t.Fatalf("Pagein: %d", err)
	}
	if err := CopyOut(parent, 0, []byte("parent"), 6); err != 0 {
		t.Fatalf("CopyOut: %d", err)
	}

	child, err := CloneUserPgdir(parent)
	if err != 0 {
		t.Fatalf("CloneUserPgdir: %d", err)
	}
	if err := CopyOut(child, 0, []byte("child!"), 6); err != 0 {
		t.Fatalf("CopyOut to child: %d", err)
	}

	got := make([]byte, 6)
	if err := CopyIn(parent, got, 0, 6); err != 0 {
		t.Fatalf("CopyIn from parent: %d", err)
	}
	if string(got) != "parent" {
		t.Fatalf("clone mutated the parent's frame: got %q", got)
	}
}
