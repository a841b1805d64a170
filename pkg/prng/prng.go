// Package prng provides deterministic randomness for seeded tests.
package prng

import (
	"encoding/binary"
	"io"
	"math/rand"
)

// Reader is a deterministic io.Reader backed by a math/rand RNG.
type Reader struct {
	r *rand.Rand
}

// New returns a new deterministic PRNG reader seeded by an integer.
func New(seed int64) io.Reader {
	return &Reader{r: rand.New(rand.NewSource(seed))}
}

// Read fills p with pseudorandom bytes.
func (r *Reader) Read(p []byte) (int, error) {
	var buf [8]byte
	for i := 0; i < len(p); i += 8 {
		binary.LittleEndian.PutUint64(buf[:], r.r.Uint64())
		copy(p[i:], buf[:])
	}
	return len(p), nil
}

// Rand returns a math/rand generator for seed, for picking operations in
// property tests alongside a Reader fed to faker.
func Rand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
