// Package keystore provides at-rest encryption for ed25519 private keys
// (C11) using an XChaCha20-Poly1305 AEAD construction.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrWrongPassphrase is returned by Unlock when the stored blob fails to
// authenticate under the supplied key, almost always meaning the
// passphrase-derived key was wrong.
var ErrWrongPassphrase = errors.New("keystore: wrong passphrase or corrupted key file")

// sealed is the on-disk envelope for one encrypted key file.
type sealed struct {
	PublicKey []byte `json:"publicKey"`
	Nonce     []byte `json:"nonce"`
	Sealed    []byte `json:"sealed"`
}

// Seal encrypts priv under key (a 32-byte key, typically derived from a
// passphrase by the caller) and returns the on-disk envelope bytes.
func Seal(key []byte, priv ed25519.PrivateKey) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("keystore: key must be 32 bytes")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	pub := priv.Public().(ed25519.PublicKey)
	ct := aead.Seal(nil, nonce, priv, pub)
	return json.Marshal(sealed{PublicKey: pub, Nonce: nonce, Sealed: ct})
}

// Unlock reverses Seal, verifying the envelope's authentication tag under
// key and the embedded public key as additional data.
func Unlock(key []byte, envelope []byte) (ed25519.PrivateKey, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("keystore: key must be 32 bytes")
	}
	var s sealed
	if err := json.Unmarshal(envelope, &s); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	priv, err := aead.Open(nil, s.Nonce, s.Sealed, s.PublicKey)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return ed25519.PrivateKey(priv), nil
}

// WriteFile seals priv and writes it to path with owner-only permissions.
func WriteFile(path string, key []byte, priv ed25519.PrivateKey) error {
	envelope, err := Seal(key, priv)
	if err != nil {
		return err
	}
	return os.WriteFile(path, envelope, 0o600)
}

// ReadFile reads and unlocks a key file written by WriteFile.
func ReadFile(path string, key []byte) (ed25519.PrivateKey, error) {
	envelope, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unlock(key, envelope)
}
