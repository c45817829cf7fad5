// In-memory bloom filter of a database's known top-level keys.
//
// Sized for ~10k entries at 1% false positive rate. Populated as the
// index store learns keys, and reset and refilled whenever a full scan
// rebuilds it; invalidating one index record leaves it untouched.
// partialIO.readOnly consults it before falling back to a full scan,
// turning a repeated miss on a nonexistent key into an O(1) rejection
// instead of a file scan.
package ddb

import (
	"hash/fnv"

	"github.com/zeebo/xxh3"
)

const (
	bloomSize = 11982 // bytes, ~96k bits for 10k entries at 1% FP
	bloomK    = 7     // number of hash functions
)

type bloom struct {
	bits []byte
}

func newBloom() *bloom {
	return &bloom{bits: make([]byte, bloomSize)}
}

func (b *bloom) Add(key string) {
	for _, pos := range bloomPositions(key) {
		b.bits[pos/8] |= 1 << (pos % 8)
	}
}

// Contains returns true if key might be present, false if definitely
// absent.
func (b *bloom) Contains(key string) bool {
	for _, pos := range bloomPositions(key) {
		if b.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

func (b *bloom) Reset() {
	clear(b.bits)
}

// bloomPositions returns bloomK bit positions using double hashing. One
// lane is xxh3 (fast, non-cryptographic, already in the dependency graph
// for other reasons); the other is FNV-32a, for a cheap second lane that
// doesn't correlate with the first.
func bloomPositions(key string) [bloomK]uint {
	a := xxh3.HashString(key)

	h32 := fnv.New32a()
	h32.Write([]byte(key))
	b := uint(h32.Sum32())

	nbits := uint(bloomSize * 8)
	var pos [bloomK]uint
	for i := range bloomK {
		pos[i] = (uint(a) + uint(i)*b) % nbits
	}
	return pos
}
