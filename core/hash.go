package core

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ErrNoNonceFound is returned by SolveWork when the full 8-byte nonce space
// is exhausted without satisfying the difficulty threshold.
var ErrNoNonceFound = errors.New("core: no nonce found")

// Blake2b256 hashes the concatenation of parts. Each part is either []byte
// (nil/empty contributes zero bytes) or a uint64, encoded big-endian over 8
// bytes. Callers are responsible for delimiting fields (e.g. by field index
// prefix) so that distinct part vectors never concatenate identically.
func Blake2b256(parts ...interface{}) [32]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // only fails for an unsupported key size, which we never pass
	}
	for _, p := range parts {
		switch v := p.(type) {
		case nil:
			continue
		case []byte:
			if len(v) == 0 {
				continue
			}
			h.Write(v)
		case [32]byte:
			h.Write(v[:])
		case uint64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], v)
			h.Write(b[:])
		default:
			panic("core: Blake2b256: unsupported part type")
		}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// makeThreshold builds the hex threshold string for a given proof-of-work
// difficulty: floor(d/4) trailing "f" characters, preceded by a single hex
// nibble of value (1<<(d%4))-1 when d%4 != 0 (d=3 -> "7", d=5 -> "1f"); see
// DESIGN.md's Open Question log.
func makeThreshold(difficulty uint8) string {
	var b strings.Builder
	rem := difficulty % 4
	if rem != 0 {
		nibble := (uint8(1) << rem) - 1
		b.WriteString(hex.EncodeToString([]byte{nibble})[1:])
	}
	b.WriteString(strings.Repeat("f", int(difficulty/4)))
	return b.String()
}

// SolveWork searches for an 8-byte little-endian nonce (byte 0 first) such
// that hex(Blake2b256(msg||nonce)) >= threshold(difficulty), comparing as
// strings (lexicographic), per the consensus-critical comparison recorded
// in DESIGN.md. difficulty 0 is satisfied by nonce zero.
func SolveWork(msg []byte, difficulty uint8) ([8]byte, error) {
	threshold := makeThreshold(difficulty)
	var nonce [8]byte
	for {
		digest := Blake2b256(msg, nonce[:])
		if hex.EncodeToString(digest[:]) >= threshold {
			return nonce, nil
		}
		if !incNonce(&nonce) {
			return [8]byte{}, ErrNoNonceFound
		}
	}
}

// VerifyWork repeats the single hash+compare that SolveWork performed.
func VerifyWork(msg []byte, nonce [8]byte, difficulty uint8) bool {
	threshold := makeThreshold(difficulty)
	digest := Blake2b256(msg, nonce[:])
	return hex.EncodeToString(digest[:]) >= threshold
}

// incNonce increments the little-endian nonce in place, byte 0 first.
// Returns false once it would wrap back to zero (nonce space exhausted).
func incNonce(n *[8]byte) bool {
	for i := 0; i < 8; i++ {
		n[i]++
		if n[i] != 0 {
			return true
		}
	}
	return false // wrapped all the way around
}
