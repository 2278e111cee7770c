package sensor

import (
	"math/rand"
	"sync"
)

// FakeSource returns uniformly distributed samples in [0, maxRaw].
type FakeSource struct {
	maxRaw int
	mu     sync.Mutex
	rnd    *rand.Rand
}

func NewFakeSource(maxRaw int) *FakeSource {
	if maxRaw <= 0 {
		maxRaw = MaxRaw12Bit
	}
	return &FakeSource{maxRaw: maxRaw, rnd: rand.New(rand.NewSource(rand.Int63()))}
}

func (f *FakeSource) ReadRaw() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rnd.Intn(f.maxRaw + 1), nil
}

func (f *FakeSource) Close() error { return nil }

// SequenceSource replays a fixed list of samples, wrapping around at the end.
type SequenceSource struct {
	mu      sync.Mutex
	samples []int
	next    int
	reads   int
}

func NewSequenceSource(samples ...int) *SequenceSource {
	return &SequenceSource{samples: append([]int(nil), samples...)}
}

func (s *SequenceSource) ReadRaw() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.samples[s.next]
	s.next = (s.next + 1) % len(s.samples)
	s.reads++
	return v, nil
}

// Reads reports how many samples have been taken.
func (s *SequenceSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *SequenceSource) Close() error { return nil }
