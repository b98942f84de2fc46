package kms

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quollsec/strongbox/internal/vault/domain"
)

// countingClient always fails with a fixed error and records how often it
// was asked.
type countingClient struct {
	calls int
	err   error
}

func (c *countingClient) Wrap(context.Context, []byte) (domain.WrappedKey, error) {
	c.calls++
	return domain.WrappedKey{}, c.err
}

func (c *countingClient) Unwrap(context.Context, domain.WrappedKey) ([]byte, error) {
	c.calls++
	return nil, c.err
}

func TestRetryDoesNotRepeatPermanentFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("transient errors exhaust the attempt budget", func(t *testing.T) {
		inner := &countingClient{err: fmt.Errorf("kms: dial: %w", domain.ErrKeyWrapUnavailable)}
		client := WithRetry(inner, 3)

		_, err := client.Unwrap(ctx, domain.WrappedKey{KeyVersion: "v1"})
		require.ErrorIs(t, err, domain.ErrKeyWrapUnavailable)
		require.Equal(t, 3, inner.calls)
	})

	t.Run("permanent errors return on the first attempt", func(t *testing.T) {
		inner := &countingClient{err: permanent(fmt.Errorf("kms: unwrap failed: %w", domain.ErrKeyWrapUnavailable))}
		client := WithRetry(inner, 3)

		_, err := client.Unwrap(ctx, domain.WrappedKey{KeyVersion: "v1"})
		require.ErrorIs(t, err, domain.ErrKeyWrapUnavailable)
		require.Equal(t, 1, inner.calls)
	})
}

func TestRetriedKeyringFailsFastOnDestroyedVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	inner, err := NewKeyring()
	require.NoError(t, err)

	dek := make([]byte, 32)
	wk, err := inner.Wrap(ctx, dek)
	require.NoError(t, err)

	_, err = inner.Rotate()
	require.NoError(t, err)
	require.NoError(t, inner.Destroy("v1"))

	client := WithRetry(inner, 3)

	// A destroyed version cannot come back; the decorator must not spend
	// its backoff budget on it.
	_, err = client.Unwrap(ctx, wk)
	require.ErrorIs(t, err, domain.ErrKeyWrapUnavailable)
	require.True(t, isPermanent(err))

	// Tampered ciphertext is equally deterministic.
	wk2, err := inner.Wrap(ctx, dek)
	require.NoError(t, err)
	wk2.Blob[len(wk2.Blob)-1] ^= 0x01

	_, err = client.Unwrap(ctx, wk2)
	require.ErrorIs(t, err, domain.ErrKeyWrapUnavailable)
	require.True(t, isPermanent(err))
}
