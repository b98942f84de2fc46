package domain

import "errors"

// Error taxonomy for the vault core. Security failures are surfaced as one
// of these sentinels, never retried automatically, and always audited.
var (
	// ErrAuthenticationFailed covers both an unknown user and a wrong
	// password. The two cases are indistinguishable to the caller.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrChallengeExpired reports a step-up challenge whose TTL has lapsed.
	// The session is reset to Unauthenticated when this is returned.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrChallengeAlreadyConsumed reports a replay or a lost race: the
	// challenge was already consumed by another submission.
	ErrChallengeAlreadyConsumed = errors.New("challenge already consumed")

	// ErrSignatureInvalid reports a bad WebAuthn assertion signature or a
	// sign counter that is not strictly greater than the stored one.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrIntegrityCheckFailed reports an AEAD tag mismatch on decrypt.
	ErrIntegrityCheckFailed = errors.New("integrity check failed")

	// ErrKeyWrapUnavailable reports that the key-management backend could
	// not wrap or unwrap a key: remote error, timeout, or an unknown or
	// destroyed key version.
	ErrKeyWrapUnavailable = errors.New("key wrap unavailable")

	// ErrObjectNotFound reports a missing vault object.
	ErrObjectNotFound = errors.New("object not found")

	// ErrCertificateRequired reports that no client certificate was
	// presented on a channel where one is mandated.
	ErrCertificateRequired = errors.New("client certificate required")

	// ErrCertificateInvalid reports a presented certificate with no usable
	// identity attribute.
	ErrCertificateInvalid = errors.New("client certificate invalid")

	// ErrPolicyDenied reports an AccessGate precondition failure.
	ErrPolicyDenied = errors.New("policy denied")
)
