package kms

import (
	"context"
	"errors"
	"time"

	"github.com/quollsec/strongbox/internal/vault/domain"
)

const (
	defaultMaxAttempts = 3
	baseDelay          = 50 * time.Millisecond
	maxDelay           = 1 * time.Second
)

// permanentError marks a failure that no amount of retrying can change,
// such as a destroyed key version or a tampered wrapped blob. It unwraps
// to the underlying error so errors.Is keeps seeing the sentinels.
type permanentError struct{ err error }

func permanent(err error) error { return permanentError{err: err} }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

// WithRetry decorates a KeyWrapClient with bounded retries and exponential
// backoff. Transport-level failures are retried; deterministic ones, which
// the clients mark as permanent, are returned on the first attempt. Once
// attempts are exhausted the last error (already an ErrKeyWrapUnavailable)
// is returned.
func WithRetry(inner KeyWrapClient, maxAttempts int) KeyWrapClient {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &retryClient{inner: inner, maxAttempts: maxAttempts}
}

type retryClient struct {
	inner       KeyWrapClient
	maxAttempts int
}

func (r *retryClient) Wrap(ctx context.Context, dek []byte) (domain.WrappedKey, error) {
	var wk domain.WrappedKey
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		wk, err = r.inner.Wrap(ctx, dek)
		return err
	})
	return wk, err
}

func (r *retryClient) Unwrap(ctx context.Context, wk domain.WrappedKey) ([]byte, error) {
	var dek []byte
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		dek, err = r.inner.Unwrap(ctx, wk)
		return err
	})
	return dek, err
}

func (r *retryClient) do(ctx context.Context, op func(context.Context) error) error {
	delay := baseDelay
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(domain.ErrKeyWrapUnavailable, ctx.Err())
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if isPermanent(lastErr) || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
