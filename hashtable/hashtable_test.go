package hashtable

import "testing"

func TestSetGetDel(t *testing.T) {
	ht := MkHash(8)

	if _, ok := ht.Get("missing"); ok {
		t.Fatalf("Get on empty table found something")
	}

	if v, inserted := ht.Set("a", 1); !inserted || v != 1 {
		t.Fatalf("Set(a, 1) = (%v, %v), want (1, true)", v, inserted)
	}
	if v, inserted := ht.Set("a", 2); inserted || v != 1 {
		t.Fatalf("Set(a, 2) over existing key = (%v, %v), want (1, false)", v, inserted)
	}

	v, ok := ht.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = (%v, %v), want (1, true)", v, ok)
	}

	ht.Del("a")
	if _, ok := ht.Get("a"); ok {
		t.Fatalf("Get(a) after Del still found a value")
	}
}

func TestSizeAndElems(t *testing.T) {
	ht := MkHash(4)
	want := map[string]int{"one": 1, "two": 2, "three": 3}
	for k, v := range want {
		ht.Set(k, v)
	}

	if ht.Size() != len(want) {
		t.Fatalf("Size() = %d, want %d", ht.Size(), len(want))
	}

	got := map[string]int{}
	for _, p := range ht.Elems() {
		got[p.Key.(string)] = p.Value.(int)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("Elems() missing/wrong %q: got %v, want %v", k, got[k], v)
		}
	}
}

func TestIterStopsEarly(t *testing.T) {
	ht := MkHash(4)
	ht.Set(1, "a")
	ht.Set(2, "b")
	ht.Set(3, "c")

	seen := 0
	stopped := ht.Iter(func(k, v interface{}) bool {
		seen++
		return seen == 1
	})
	if !stopped {
		t.Fatalf("Iter should have stopped early")
	}
	if seen != 1 {
		t.Fatalf("Iter visited %d elements before stopping, want 1", seen)
	}
}

func TestIterVisitsEverythingWhenNeverTrue(t *testing.T) {
	ht := MkHash(4)
	for i := 0; i < 5; i++ {
		ht.Set(i, i*i)
	}
	seen := map[int]int{}
	ht.Iter(func(k, v interface{}) bool {
		seen[k.(int)] = v.(int)
		return false
	})
	if len(seen) != 5 {
		t.Fatalf("Iter visited %d elements, want 5", len(seen))
	}
	for i := 0; i < 5; i++ {
		if seen[i] != i*i {
			t.Fatalf("Iter key %d -> %d, want %d", i, seen[i], i*i)
		}
	}
}

func TestDelOfMissingKeyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Del of a missing key should panic")
		}
	}()
	ht := MkHash(4)
	ht.Del("nope")
}

func TestIntAndInt32Keys(t *testing.T) {
	ht := MkHash(4)
	ht.Set(42, "int")
	ht.Set(int32(42), "int32")

	if v, ok := ht.Get(42); !ok || v != "int" {
		t.Fatalf("Get(int 42) = (%v, %v), want (\"int\", true)", v, ok)
	}
	if v, ok := ht.Get(int32(42)); !ok || v != "int32" {
		t.Fatalf("Get(int32 42) = (%v, %v), want (\"int32\", true)", v, ok)
	}
}
