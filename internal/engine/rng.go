package engine

import "math"

// DefaultSeed is the seed every session's trial sequence is generated from.
const DefaultSeed int64 = 12345

// Linear congruential generator parameters
const (
	lcgMultiplier int64 = 9301
	lcgIncrement  int64 = 49297
	lcgModulus    int64 = 233280
)

// Source is a deterministic linear congruential generator.
// The same seed always produces the same stream of floats.
type Source struct {
	seed  int64
	draws int
}

// NewSource creates a source starting from the given seed.
// Seeds outside [0, 233280) are reduced into range.
func NewSource(seed int64) *Source {
	seed %= lcgModulus
	if seed < 0 {
		seed += lcgModulus
	}
	return &Source{seed: seed}
}

// NewDefaultSource creates a source seeded with DefaultSeed
func NewDefaultSource() *Source {
	return NewSource(DefaultSeed)
}

// Next advances the generator and returns a float in [0, 1)
func (s *Source) Next() float64 {
	s.seed = (s.seed*lcgMultiplier + lcgIncrement) % lcgModulus
	s.draws++
	return float64(s.seed) / float64(lcgModulus)
}

// BurstDraw returns an integer in [1, max] using one draw.
func (s *Source) BurstDraw(max int) int {
	return int(math.Floor(s.Next()*float64(max))) + 1
}

// State returns the current internal seed value
func (s *Source) State() int64 {
	return s.seed
}

// Draws returns how many values have been drawn so far
func (s *Source) Draws() int {
	return s.draws
}

// Floats generates count floats from a fresh source with the given seed
func Floats(seed int64, count int) []float64 {
	src := NewSource(seed)
	floats := make([]float64, count)

	for i := 0; i < count; i++ {
		floats[i] = src.Next()
	}

	return floats
}

// FloatsInto fills the provided slice with floats, avoiding allocation
func FloatsInto(dst []float64, seed int64, count int) []float64 {
	if len(dst) < count {
		dst = make([]float64, count)
	}

	src := NewSource(seed)

	for i := 0; i < count; i++ {
		dst[i] = src.Next()
	}

	return dst[:count]
}
