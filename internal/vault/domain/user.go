package domain

import "time"

type User struct {
	ID           string
	Username     string
	PasswordHash string     // argon2id encoded
	TOTPEnabled  *time.Time // Timestamp when TOTP was enabled (nullable)
	TOTPSecret   *string    // TOTP secret (nullable, base32 encoded)
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// WebAuthnCredential is one registered authenticator for a user. SignCount
// is monotonically non-decreasing across successful verifications; the
// store enforces the strictly-greater update.
type WebAuthnCredential struct {
	ID              string // ULID
	UserID          string
	CredentialID    []byte // authenticator credential id
	PublicKey       []byte // COSE public key
	AttestationType string
	Transports      []string
	SignCount       uint32
	CreatedAt       time.Time
}
