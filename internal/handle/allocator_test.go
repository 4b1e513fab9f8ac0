package handle

import "testing"

func TestAllocate_NeverReturnsZero(t *testing.T) {
	a := New()
	for i := 0; i < 10; i++ {
		h, ok := a.Allocate()
		if !ok {
			t.Fatalf("allocate %d: pool unexpectedly exhausted", i)
		}
		if h == 0 {
			t.Fatalf("allocate %d: got reserved handle 0", i)
		}
	}
}

func TestAllocate_NoDuplicatesUntilReleased(t *testing.T) {
	a := New()
	seen := map[byte]bool{}
	for i := 0; i < 255; i++ {
		h, ok := a.Allocate()
		if !ok {
			t.Fatalf("allocate %d: unexpected exhaustion", i)
		}
		if seen[h] {
			t.Fatalf("allocate %d: duplicate handle 0x%02X", i, h)
		}
		seen[h] = true
	}
	if _, ok := a.Allocate(); ok {
		t.Fatalf("expected exhaustion after 255 allocations")
	}
}

func TestRelease_ReturnsHandleToPool(t *testing.T) {
	a := New()
	h, ok := a.Allocate()
	if !ok {
		t.Fatalf("allocate: unexpected exhaustion")
	}
	a.Release(h)
	if a.InUse(h) {
		t.Fatalf("handle 0x%02X still marked in use after release", h)
	}
	for i := 0; i < 255; i++ {
		if _, ok := a.Allocate(); !ok {
			t.Fatalf("allocate %d: unexpected exhaustion after release", i)
		}
	}
}

func TestRelease_ZeroIsNoOp(t *testing.T) {
	a := New()
	a.Release(0)
	if a.InUse(0) {
		t.Fatalf("handle 0 must never be marked in use")
	}
}
