package ratelimit

import "testing"

func TestAllowSpendsBurstThenDenies(t *testing.T) {
	l := New()

	for i := 0; i < 3; i++ {
		if !l.Allow("k", 3, 0) {
			t.Fatalf("draw %d denied within burst", i)
		}
	}
	if l.Allow("k", 3, 0) {
		t.Error("draw allowed past an exhausted bucket")
	}
}

func TestAllowTracksKeysIndependently(t *testing.T) {
	l := New()

	if !l.Allow("a", 1, 0) {
		t.Fatal("first draw on a denied")
	}
	if l.Allow("a", 1, 0) {
		t.Error("second draw on a allowed")
	}
	if !l.Allow("b", 1, 0) {
		t.Error("fresh key b denied")
	}
}
