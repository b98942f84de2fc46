// Package kms defines the key-wrap contract against an external
// key-management backend and provides two implementations: a local
// versioned keyring and a HashiCorp Vault Transit client. The wrapped blob
// is opaque to the rest of the system; only the key version travels with
// it so a later unwrap can select the right key after rotation.
package kms

import (
	"context"

	"github.com/quollsec/strongbox/internal/vault/domain"
)

// KeyWrapClient wraps and unwraps data-encryption keys. Implementations
// must honour ctx deadlines; any backend error, timeout, or unknown key
// version surfaces as domain.ErrKeyWrapUnavailable (wrapped), never as a
// hang or a generic integrity failure.
type KeyWrapClient interface {
	// Wrap encrypts dek under the backend's current key version.
	Wrap(ctx context.Context, dek []byte) (domain.WrappedKey, error)

	// Unwrap recovers the dek from a wrapped blob, selecting the key by
	// the recorded version. Retired versions still unwrap; destroyed or
	// unknown versions fail.
	Unwrap(ctx context.Context, wk domain.WrappedKey) ([]byte, error)
}
