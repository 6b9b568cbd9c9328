package core

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// SignatureEntrySize is the wire size of one packed signature: a 1-byte
// index into the eligible-signer set followed by a 64-byte ed25519
// signature (§3.2).
const SignatureEntrySize = 1 + ed25519.SignatureSize

// SignatureEntry is one signer's contribution to a Node's (possibly
// multi-signed) `signature` field.
type SignatureEntry struct {
	SignerIndex uint8
	Sig         [ed25519.SignatureSize]byte
}

// GenerateKeypair returns a fresh ed25519 keypair.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// Sign produces a single detached ed25519 signature over msg.
func Sign(priv ed25519.PrivateKey, msg []byte) [ed25519.SignatureSize]byte {
	var out [ed25519.SignatureSize]byte
	copy(out[:], ed25519.Sign(priv, msg))
	return out
}

// Verify checks a single detached ed25519 signature.
func Verify(pub ed25519.PublicKey, msg []byte, sig [ed25519.SignatureSize]byte) bool {
	return ed25519.Verify(pub, msg, sig[:])
}

// PackSignatures concatenates signer-indexed signature entries into the
// on-wire `signature` field.
func PackSignatures(entries []SignatureEntry) []byte {
	out := make([]byte, 0, len(entries)*SignatureEntrySize)
	for _, e := range entries {
		out = append(out, e.SignerIndex)
		out = append(out, e.Sig[:]...)
	}
	return out
}

// UnpackSignatures splits a packed `signature` field back into entries.
func UnpackSignatures(b []byte) ([]SignatureEntry, error) {
	if len(b)%SignatureEntrySize != 0 {
		return nil, errors.New("core: malformed signature field")
	}
	n := len(b) / SignatureEntrySize
	out := make([]SignatureEntry, n)
	for i := 0; i < n; i++ {
		chunk := b[i*SignatureEntrySize : (i+1)*SignatureEntrySize]
		out[i].SignerIndex = chunk[0]
		copy(out[i].Sig[:], chunk[1:])
	}
	return out, nil
}

// VerifyMultiSig checks that at least `threshold` distinct signer indices in
// entries carry a valid signature from the corresponding key in signers,
// over msg.
func VerifyMultiSig(signers []ed25519.PublicKey, entries []SignatureEntry, msg []byte, threshold int) bool {
	seen := map[uint8]bool{}
	valid := 0
	for _, e := range entries {
		if int(e.SignerIndex) >= len(signers) {
			continue
		}
		if seen[e.SignerIndex] {
			continue
		}
		if Verify(signers[e.SignerIndex], msg, e.Sig) {
			seen[e.SignerIndex] = true
			valid++
		}
	}
	return valid >= threshold
}
