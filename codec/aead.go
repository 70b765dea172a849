// Package codec provides optional Codec implementations for
// hybridkv. The core only ever stores post-encode bytes (see
// hybridkv.Codec); this package is an external collaborator, not part
// of the WAL/SSTable wire format.
package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// AEAD encrypts values at rest with XChaCha20-Poly1305, grounded on the
// teacher's crypto.go CryptoProvider. Unlike the teacher, this codec
// carries no master-key management, device binding, or key rotation —
// those are vault features out of this spec's scope (see DESIGN.md);
// callers supply a 32-byte key directly.
type AEAD struct {
	aead cipher.AEAD
	mu   sync.Mutex
}

// NewAEAD builds an AEAD codec from a 32-byte key.
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("codec: invalid key length: expected %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("codec: build aead: %w", err)
	}
	return &AEAD{aead: aead}, nil
}

// Encode seals value behind a random nonce, prefixing the nonce to the
// returned bytes: stored = nonce || ciphertext.
func (c *AEAD) Encode(value []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("codec: generate nonce: %w", err)
	}
	ciphertext := c.aead.Seal(nil, nonce, value, nil)
	return append(nonce, ciphertext...), nil
}

// Decode reverses Encode: it splits the nonce prefix from stored and
// opens the remainder.
func (c *AEAD) Decode(stored []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.aead.NonceSize()
	if len(stored) < n {
		return nil, fmt.Errorf("codec: stored value shorter than nonce size")
	}
	nonce, ciphertext := stored[:n], stored[n:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: decrypt: %w", err)
	}
	return plaintext, nil
}

// DeriveKey derives a 32-byte key from a passphrase-equivalent secret
// and a per-database salt via HKDF, grounded on the teacher's
// DeriveObjectKey (the same PRK-plus-info construction, generalized
// from "object key from master key" to "database key from secret").
func DeriveKey(secret, salt []byte, info string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, secret, salt, []byte(info))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("codec: derive key: %w", err)
	}
	return key, nil
}
