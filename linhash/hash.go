package linhash

import "hash/fnv"

// hashKey derives a canonical, always-non-negative hash for a key: a
// 32-bit FNV-1a digest with the sign bit cleared, so group arithmetic
// never has to special-case a negative remainder (the classic trap is
// the hash's MIN-value edge, which naive absolute value does not fix).
func hashKey(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() & 0x7fffffff
}
