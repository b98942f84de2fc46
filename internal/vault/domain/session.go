package domain

import "time"

// SessionState models how far a session has progressed through the MFA
// step-up. Transitions only move forward or reset to Unauthenticated; a
// required step is never skipped.
type SessionState int

const (
	Unauthenticated SessionState = iota
	PasswordVerified
	Elevated
)

func (s SessionState) String() string {
	switch s {
	case PasswordVerified:
		return "password_verified"
	case Elevated:
		return "elevated"
	default:
		return "unauthenticated"
	}
}

// ChallengeKind is the tagged variant over step-up factor kinds so verifier
// dispatch is exhaustive rather than stringly typed.
type ChallengeKind int

const (
	ChallengeTOTP ChallengeKind = iota
	ChallengeWebAuthn

	// ChallengeWebAuthnRegister is a credential registration ceremony, not
	// a step-up. It shares the challenge slot so registration state is
	// single-use and time-bounded like everything else.
	ChallengeWebAuthnRegister
)

func (k ChallengeKind) String() string {
	switch k {
	case ChallengeWebAuthn:
		return "webauthn"
	case ChallengeWebAuthnRegister:
		return "webauthn_register"
	default:
		return "totp"
	}
}

// Challenge is a single-use, time-bounded step-up challenge. At most one
// live (unconsumed, unexpired) challenge exists per session; issuing a new
// one replaces the previous.
type Challenge struct {
	Kind     ChallengeKind
	Nonce    string
	IssuedAt time.Time
	TTL      time.Duration
	Consumed bool

	// WebAuthnSession holds the serialized go-webauthn SessionData for
	// webauthn challenges. Empty for TOTP.
	WebAuthnSession []byte
}

// ExpiresAt is the instant after which the challenge must never verify.
func (c Challenge) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.TTL)
}

// Live reports whether the challenge is unconsumed and unexpired at t.
func (c Challenge) Live(t time.Time) bool {
	return !c.Consumed && t.Before(c.ExpiresAt())
}

type Session struct {
	ID        string // ULID
	UserID    string
	State     SessionState
	Challenge *Challenge // nil when no step-up is pending
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its lifetime at t. Expiry
// is checked lazily wherever a session is about to authorize something;
// the housekeeping sweep only reclaims the rows. A zero ExpiresAt means
// no lifetime bound was set.
func (s Session) Expired(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && t.After(s.ExpiresAt)
}
