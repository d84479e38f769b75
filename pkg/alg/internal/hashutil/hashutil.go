// Package hashutil provides the hash functions shared by the probabilistic
// data structures in pkg/alg.
//
// Every sketch that may ever be merged or compared with another must hash
// items with the same function, so the choice lives here and nowhere else.
package hashutil

import "github.com/cespare/xxhash/v2"

// Sum64 returns the 64-bit xxHash of data. A nil slice hashes like an empty one.
func Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Sum64String returns the 64-bit xxHash of s without copying it.
func Sum64String(s string) uint64 {
	return xxhash.Sum64String(s)
}
