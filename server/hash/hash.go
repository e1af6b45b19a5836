// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package hash

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
	"golang.org/x/crypto/blake2b"
)

// Func maps a key to a 64 bit hash value.
type Func func(data []byte) uint64

// Sum64 is the fast non-cryptographic hash shared by the modulo based strategies.
func Sum64(data []byte) uint64 {
	return murmur3.Sum64(data)
}

// Digest64 is the BLAKE2b-256 digest of data truncated to its leading 8 bytes.
// It places virtual nodes and keys on the consistent hash ring.
func Digest64(data []byte) uint64 {
	sum := blake2b.Sum256(data)
	return binary.BigEndian.Uint64(sum[:8])
}
