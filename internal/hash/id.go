// Package hash provides the xxHash64 helpers used for shard assignment and
// value fingerprints.
package hash

import "github.com/cespare/xxhash/v2"

// ID computes the xxHash64 of the given string.
func ID(data string) uint64 {
	return xxhash.Sum64String(data)
}

// Bytes computes the xxHash64 of b.
func Bytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// Fingerprint hashes a name together with an encoded value so that equal
// definitions on different ranks produce equal fingerprints.
func Fingerprint(name string, value []byte) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(name)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(value)

	return d.Sum64()
}

// Shard maps name onto one of n shards. n must be positive.
func Shard(name string, n int) int {
	return int(ID(name) % uint64(n)) //nolint:gosec
}
