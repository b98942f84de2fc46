package store

import (
	"context"
	"errors"
	"time"

	"github.com/quollsec/strongbox/internal/vault/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict reports a lost compare-and-swap: the challenge was
	// already consumed, or a sign-counter update was not strictly greater
	// than the stored value.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers (memory,
// sqlite) implement this. Mutations are atomic per key; the consume and
// counter-update operations are compare-and-swap so concurrent callers
// race safely inside the driver rather than in the services.
type Store interface {
	Users() Users
	Credentials() Credentials
	Sessions() Sessions
	Objects() Objects

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backing storage is still reachable.
	Ping(ctx context.Context) error
}

type Users interface {
	// CreateUser inserts a new user (id is provided by the app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByUsername is used during the password check.
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// UpdateTOTPSecret stores a freshly enrolled secret without enabling it.
	UpdateTOTPSecret(ctx context.Context, userID string, secret string) error

	// EnableTOTP marks TOTP as enabled (sets the enabled timestamp).
	// The secret must already be present.
	EnableTOTP(ctx context.Context, userID string) error
}

type Credentials interface {
	// AddCredential registers a new WebAuthn credential for a user.
	AddCredential(ctx context.Context, c domain.WebAuthnCredential) error

	// ListCredentials returns all credentials registered for a user.
	ListCredentials(ctx context.Context, userID string) ([]domain.WebAuthnCredential, error)

	// UpdateSignCount atomically replaces the stored sign counter with
	// newCount, requiring newCount to be strictly greater than the stored
	// value. Returns ErrConflict otherwise so two concurrent replays of
	// the same assertion cannot both land.
	UpdateSignCount(ctx context.Context, credentialID []byte, newCount uint32) error
}

type Sessions interface {
	// CreateSession inserts a new session.
	CreateSession(ctx context.Context, s domain.Session) error

	// GetSession returns a session by id.
	GetSession(ctx context.Context, id string) (domain.Session, error)

	// UpdateState moves the session to a new state and bumps updated_at.
	UpdateState(ctx context.Context, id string, state domain.SessionState) error

	// SetChallenge attaches a pending challenge, replacing any previous
	// one. There is at most one challenge per session.
	SetChallenge(ctx context.Context, id string, ch domain.Challenge) error

	// ConsumeChallenge atomically checks that the session's challenge is
	// unconsumed and marks it consumed, returning the challenge as it was.
	// Returns ErrConflict when the challenge was already consumed and
	// ErrNotFound when no challenge is pending. Expiry is the caller's
	// check: consuming an expired challenge is harmless because it can
	// never verify afterwards.
	ConsumeChallenge(ctx context.Context, id string) (domain.Challenge, error)

	// Reset clears the pending challenge and drops the session back to
	// Unauthenticated. Used on verification failure and expiry.
	Reset(ctx context.Context, id string) error

	// DeleteSession removes a session (logout).
	DeleteSession(ctx context.Context, id string) error

	// DeleteExpiredSessions removes sessions past their expiry (housekeeping).
	DeleteExpiredSessions(ctx context.Context, now time.Time) error
}

type Objects interface {
	// CreateObject inserts a vault object metadata record, including the
	// wrapped DEK.
	CreateObject(ctx context.Context, o domain.VaultObject) error

	// GetObject returns the metadata record (with the wrapped DEK) in one
	// read, so a concurrent delete yields either the full record or
	// ErrNotFound, never a half-deleted view.
	GetObject(ctx context.Context, id string) (domain.VaultObject, error)

	// DeleteObject removes the metadata record and the wrapped key with
	// it. Returns ErrNotFound when the record is already gone.
	DeleteObject(ctx context.Context, id string) error

	// ListObjectsByOwner returns summaries only: no ciphertext, no key
	// material.
	ListObjectsByOwner(ctx context.Context, owner string) ([]domain.ObjectSummary, error)
}
