package util

import "testing"

func TestMin(t *testing.T) {
	if Min(3, 5) != 3 {
		t.Fatalf("Min(3,5) should be 3")
	}
	if Min(5, 3) != 3 {
		t.Fatalf("Min(5,3) should be 3")
	}
	if Min(uintptr(9), uintptr(9)) != 9 {
		t.Fatalf("Min of equal values should return that value")
	}
}

func TestRounddown(t *testing.T) {
	cases := []struct{ v, b, want int }{
		{10, 4, 8},
		{8, 4, 8},
		{0, 4, 0},
		{4095, 4096, 0},
	}
	for _, c := range cases {
		if got := Rounddown(c.v, c.b); got != c.want {
			t.Fatalf("Rounddown(%d,%d) = %d, want %d", c.v, c.b, got, c.want)
		}
	}
}

func TestRoundup(t *testing.T) {
	cases := []struct{ v, b, want int }{
		{10, 4, 12},
		{8, 4, 8},
		{0, 4, 0},
		{1, 4096, 4096},
		{4096, 4096, 4096},
	}
	for _, c := range cases {
		if got := Roundup(c.v, c.b); got != c.want {
			t.Fatalf("Roundup(%d,%d) = %d, want %d", c.v, c.b, got, c.want)
		}
	}
}

func TestWritenThenReadnRoundTrip(t *testing.T) {
	for _, sz := range []int{1, 2, 4, 8} {
		buf := make([]uint8, 16)
		Writen(buf, sz, 4, 0x7f)
		if got := Readn(buf, sz, 4); got != 0x7f {
			t.Fatalf("size %d: Readn after Writen = %#x, want %#x", sz, got, 0x7f)
		}
	}
}

func TestReadnOutOfBoundsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Readn past the end of the slice should panic")
		}
	}()
	buf := make([]uint8, 4)
	Readn(buf, 8, 0)
}

func TestWritenUnsupportedSizePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Writen with an unsupported size should panic")
		}
	}()
	buf := make([]uint8, 16)
	Writen(buf, 3, 0, 1)
}

func TestWritenNegativeOffsetPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Writen with a negative offset should panic")
		}
	}()
	buf := make([]uint8, 16)
	Writen(buf, 4, -1, 1)
}
