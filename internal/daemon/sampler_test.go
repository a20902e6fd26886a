package daemon

import "testing"

func TestRandomSamplerBounds(t *testing.T) {
	never := NewRandomSampler(0, 1)
	always := NewRandomSampler(1, 1)

	for i := 0; i < 100; i++ {
		if never.Sample() {
			t.Fatalf("p=0 sampler fired")
		}
		if !always.Sample() {
			t.Fatalf("p=1 sampler skipped")
		}
	}
}

func TestRandomSamplerSeededSequenceRepeats(t *testing.T) {
	a := NewRandomSampler(0.5, 42)
	b := NewRandomSampler(0.5, 42)

	for i := 0; i < 50; i++ {
		if a.Sample() != b.Sample() {
			t.Fatalf("same seed diverged at draw %d", i)
		}
	}
}
