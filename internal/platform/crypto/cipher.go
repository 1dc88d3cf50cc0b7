// Package crypto provides the payload cipher used by the event store for
// sensitive event data. The store never sees key material; it holds opaque
// ciphertext plus a marker distinguishing sealed payloads from plain ones.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"openconsent/pkg/platform/sentinel"
)

// header marks sealed payloads. Versioned so the algorithm can rotate without
// guessing at stored bytes.
var header = []byte("ocv1:")

// Box seals and opens event payloads with XChaCha20-Poly1305.
type Box struct {
	key []byte
}

// NewBox builds a Box from a hex-encoded 32-byte key.
func NewBox(hexKey string) (*Box, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode cipher key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("cipher key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Box{key: key}, nil
}

// Encrypt seals the plaintext. Output layout: header || nonce || ciphertext.
func (b *Box) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(header)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens a sealed payload. Passing a plain payload is an error; callers
// check IsEncrypted first.
func (b *Box) Decrypt(data []byte) ([]byte, error) {
	if !b.IsEncrypted(data) {
		return nil, fmt.Errorf("payload is not sealed: %w", sentinel.ErrInvalidState)
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	body := data[len(header):]
	if len(body) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed payload truncated: %w", sentinel.ErrInvalidState)
	}
	nonce, ciphertext := body[:aead.NonceSize()], body[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed payload: %w", err)
	}
	return plaintext, nil
}

// IsEncrypted reports whether data carries the sealed-payload header.
func (b *Box) IsEncrypted(data []byte) bool {
	if len(data) < len(header) {
		return false
	}
	return string(data[:len(header)]) == string(header)
}

// Noop passes payloads through unchanged. Used in tests and in deployments
// where encryption is handled below the storage layer.
type Noop struct{}

func (Noop) Encrypt(plaintext []byte) ([]byte, error) { return plaintext, nil }
func (Noop) Decrypt(data []byte) ([]byte, error)      { return data, nil }
func (Noop) IsEncrypted([]byte) bool                  { return false }
