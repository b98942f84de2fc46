package kms

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/quollsec/strongbox/internal/vault/domain"
)

// keyState tracks a key-encryption key through its lifecycle. Retired keys
// unwrap but never wrap; destroyed keys do neither.
type keyState int

const (
	keyActive keyState = iota
	keyRetired
	keyDestroyed
)

type keyEntry struct {
	kek   []byte
	state keyState
}

// Keyring is a local KeyWrapClient: versioned 256-bit KEKs with
// ChaCha20-Poly1305 wrapping. Suitable for development and single-node
// deployments where no external KMS is available.
type Keyring struct {
	mu      sync.RWMutex
	keys    map[string]*keyEntry
	current string
	nextVer int
}

// NewKeyring creates a keyring with one active key version ("v1").
func NewKeyring() (*Keyring, error) {
	k := &Keyring{keys: make(map[string]*keyEntry)}
	if _, err := k.Rotate(); err != nil {
		return nil, err
	}
	return k, nil
}

// Rotate generates a fresh KEK, makes it the current wrap version and
// returns the new version id. Previous versions keep unwrapping.
func (k *Keyring) Rotate() (string, error) {
	kek := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, kek); err != nil {
		return "", fmt.Errorf("kms: failed to generate KEK: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.nextVer++
	version := fmt.Sprintf("v%d", k.nextVer)
	k.keys[version] = &keyEntry{kek: kek}
	k.current = version
	return version, nil
}

// Retire marks a version as no longer usable for wrapping. Unwrap keeps
// working until the version is destroyed.
func (k *Keyring) Retire(version string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, ok := k.keys[version]
	if !ok {
		return fmt.Errorf("kms: retire %s: %w", version, domain.ErrKeyWrapUnavailable)
	}
	entry.state = keyRetired
	return nil
}

// Destroy removes a version's key material for good. Blobs wrapped under
// it become permanently unrecoverable.
func (k *Keyring) Destroy(version string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, ok := k.keys[version]
	if !ok {
		return fmt.Errorf("kms: destroy %s: %w", version, domain.ErrKeyWrapUnavailable)
	}
	for i := range entry.kek {
		entry.kek[i] = 0
	}
	entry.state = keyDestroyed
	entry.kek = nil
	return nil
}

func (k *Keyring) Wrap(ctx context.Context, dek []byte) (domain.WrappedKey, error) {
	if err := ctx.Err(); err != nil {
		return domain.WrappedKey{}, fmt.Errorf("kms: wrap: %w: %w", domain.ErrKeyWrapUnavailable, err)
	}

	k.mu.RLock()
	version := k.current
	entry := k.keys[version]
	k.mu.RUnlock()

	if entry == nil || entry.state != keyActive {
		return domain.WrappedKey{}, permanent(fmt.Errorf("kms: no active key version: %w", domain.ErrKeyWrapUnavailable))
	}

	aead, err := chacha20poly1305.New(entry.kek)
	if err != nil {
		return domain.WrappedKey{}, fmt.Errorf("kms: wrap: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return domain.WrappedKey{}, fmt.Errorf("kms: wrap: %w", err)
	}

	blob := aead.Seal(nonce, nonce, dek, []byte(version))
	return domain.WrappedKey{KeyVersion: version, Blob: blob}, nil
}

func (k *Keyring) Unwrap(ctx context.Context, wk domain.WrappedKey) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("kms: unwrap: %w: %w", domain.ErrKeyWrapUnavailable, err)
	}

	k.mu.RLock()
	entry, ok := k.keys[wk.KeyVersion]
	k.mu.RUnlock()

	if !ok || entry.state == keyDestroyed {
		return nil, permanent(fmt.Errorf("kms: unknown or destroyed key version %q: %w",
			wk.KeyVersion, domain.ErrKeyWrapUnavailable))
	}

	aead, err := chacha20poly1305.New(entry.kek)
	if err != nil {
		return nil, fmt.Errorf("kms: unwrap: %w", err)
	}
	if len(wk.Blob) < aead.NonceSize() {
		return nil, permanent(fmt.Errorf("kms: wrapped blob too short: %w", domain.ErrKeyWrapUnavailable))
	}

	nonce, sealed := wk.Blob[:aead.NonceSize()], wk.Blob[aead.NonceSize():]
	dek, err := aead.Open(nil, nonce, sealed, []byte(wk.KeyVersion))
	if err != nil {
		return nil, permanent(fmt.Errorf("kms: unwrap failed: %w", domain.ErrKeyWrapUnavailable))
	}
	return dek, nil
}
