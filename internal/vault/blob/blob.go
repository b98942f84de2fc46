// Package blob stores ciphertext bytes by object id. The vault layer
// hands it sealed data only; a blob backend never sees plaintext or key
// material.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound reports a missing blob.
var ErrNotFound = errors.New("blob: not found")

// Store is the ciphertext backend contract. Implementations: memory,
// filesystem, S3.
type Store interface {
	// Put writes data under id, overwriting any previous blob.
	Put(ctx context.Context, id string, data []byte) error

	// Get reads the blob stored under id.
	Get(ctx context.Context, id string) ([]byte, error)

	// Delete removes the blob. Deleting a missing blob is not an error:
	// deletion is idempotent so a vault delete can always run to
	// completion.
	Delete(ctx context.Context, id string) error
}
