package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// Envelope encryption primitives. Every object is sealed under its own
// fresh data-encryption key (DEK); the DEK itself is wrapped by a
// key-management backend elsewhere. The DEK returned by Encrypt is a
// single-use capability: callers wrap it, persist the wrapped form and
// wipe the plaintext copy immediately.
const (
	// DEKSize is the byte length of a data-encryption key (AES-256).
	DEKSize = 32
	// NonceSize is the byte length of the per-object GCM nonce.
	NonceSize = 12
)

// ErrIntegrityCheckFailed reports an AEAD authentication failure on decrypt:
// tampered ciphertext, a wrong nonce or a wrong key. No plaintext is ever
// returned alongside it.
var ErrIntegrityCheckFailed = errors.New("cryptox: ciphertext integrity check failed")

// Encrypt seals plaintext under a freshly generated 256-bit DEK with
// AES-256-GCM. The authentication tag is embedded in the ciphertext. The
// nonce is random per call and never reused for the returned DEK because
// the DEK itself is never reused.
func Encrypt(plaintext []byte) (ciphertext, dek, nonce []byte, err error) {
	dek = make([]byte, DEKSize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, nil, nil, fmt.Errorf("cryptox: failed to generate DEK: %w", err)
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("cryptox: failed to generate nonce: %w", err)
	}

	aead, err := newGCM(dek)
	if err != nil {
		return nil, nil, nil, err
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, dek, nonce, nil
}

// Decrypt opens ciphertext produced by Encrypt. Any tag mismatch surfaces
// as ErrIntegrityCheckFailed; partial or garbage plaintext is never
// returned.
func Decrypt(ciphertext, dek, nonce []byte) ([]byte, error) {
	if len(dek) != DEKSize {
		return nil, fmt.Errorf("cryptox: bad DEK length %d", len(dek))
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("cryptox: bad nonce length %d", len(nonce))
	}

	aead, err := newGCM(dek)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrIntegrityCheckFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create GCM: %w", err)
	}
	return aead, nil
}
