package daemon

import (
	"math/rand"
	"sync"
)

// RandomSampler passes a fraction P of Sample calls. The rng is injected so
// tests can pin the stream.
type RandomSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
	p   float64
}

// NewRandomSampler creates a sampler passing with probability p.
func NewRandomSampler(p float64, seed int64) *RandomSampler {
	return &RandomSampler{rng: rand.New(rand.NewSource(seed)), p: p}
}

func (s *RandomSampler) Sample() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.p
}

// FixedSampler always answers the same way. Test helper.
type FixedSampler bool

func (s FixedSampler) Sample() bool { return bool(s) }
