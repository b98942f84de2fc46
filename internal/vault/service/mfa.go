package service

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/quollsec/strongbox/internal/vault/audit"
	"github.com/quollsec/strongbox/internal/vault/domain"
	"github.com/quollsec/strongbox/internal/vault/store"
	"github.com/quollsec/strongbox/pkg/cryptox"
	"github.com/quollsec/strongbox/pkg/idx"
)

const defaultChallengeTTL = 5 * time.Minute

var (
	ErrTOTPAlreadyEnabled = errors.New("service: totp already enabled")
	ErrTOTPNotEnrolled    = errors.New("service: totp not enrolled")
	ErrNoCredentials      = errors.New("service: no webauthn credentials registered")
)

// MFAService drives the step-up state machine: challenge issuance,
// single-use consumption, and second-factor verification. A session
// reaches Elevated only through here.
type MFAService struct {
	Store store.Store
	Audit audit.Sink
	Gate  *AccessGate

	// WebAuthn is the configured relying party. Required for webauthn
	// challenges and enrollment; TOTP works without it.
	WebAuthn *webauthn.WebAuthn

	// Issuer is the account name prefix shown in authenticator apps.
	Issuer string

	// ChallengeTTL bounds challenge lifetime (default 5m).
	ChallengeTTL time.Duration

	// Now is the clock, injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

func (s *MFAService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MFAService) ttl() time.Duration {
	if s.ChallengeTTL > 0 {
		return s.ChallengeTTL
	}
	return defaultChallengeTTL
}

// BeginChallenge issues a fresh step-up challenge of the given kind for a
// session in PasswordVerified state, replacing any pending one. For
// webauthn the returned assertion options must be relayed to the client;
// for TOTP they are nil (the client already holds the shared secret).
func (s *MFAService) BeginChallenge(ctx context.Context, sessionID string, kind domain.ChallengeKind) (*protocol.CredentialAssertion, error) {
	sess, err := s.Store.Sessions().GetSession(ctx, sessionID)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	if sess.Expired(s.now()) {
		return nil, domain.ErrAuthenticationFailed
	}
	if sess.State != domain.PasswordVerified {
		return nil, domain.ErrPolicyDenied
	}

	u, err := s.Store.Users().GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	ch := domain.Challenge{
		Kind:     kind,
		IssuedAt: s.now(),
		TTL:      s.ttl(),
	}

	var options *protocol.CredentialAssertion
	switch kind {
	case domain.ChallengeTOTP:
		if u.TOTPEnabled == nil {
			return nil, ErrTOTPNotEnrolled
		}
		nonce, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return nil, err
		}
		ch.Nonce = nonce

	case domain.ChallengeWebAuthn:
		creds, err := s.Store.Credentials().ListCredentials(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		if len(creds) == 0 {
			return nil, ErrNoCredentials
		}
		wu := &webAuthnUser{user: u, creds: creds}
		opts, sessionData, err := s.WebAuthn.BeginLogin(wu)
		if err != nil {
			return nil, fmt.Errorf("begin webauthn login: %w", err)
		}
		raw, err := json.Marshal(sessionData)
		if err != nil {
			return nil, fmt.Errorf("marshal webauthn session: %w", err)
		}
		ch.Nonce = sessionData.Challenge
		ch.WebAuthnSession = raw
		options = opts

	default:
		return nil, domain.ErrPolicyDenied
	}

	if err := s.Store.Sessions().SetChallenge(ctx, sessionID, ch); err != nil {
		return nil, err
	}

	s.auditEvent(ctx, sess.UserID, "challenge_issued", map[string]any{
		"session_id": sessionID,
		"kind":       kind.String(),
	})
	return options, nil
}

// SubmitTOTP verifies a TOTP code against the pending challenge. The
// challenge is consumed before the code is inspected, so a replay of the
// same challenge loses the race no matter how the first attempt ends. A
// failed verification resets the session to Unauthenticated.
func (s *MFAService) SubmitTOTP(ctx context.Context, sessionID, code string) error {
	sess, ch, err := s.consumePending(ctx, sessionID, domain.ChallengeTOTP)
	if err != nil {
		return err
	}

	if now := s.now(); !now.Before(ch.ExpiresAt()) {
		return s.fail(ctx, sess, "totp", "expired", domain.ErrChallengeExpired)
	}

	u, err := s.Store.Users().GetUserByID(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if u.TOTPEnabled == nil || u.TOTPSecret == nil {
		return s.fail(ctx, sess, "totp", "not_enrolled", domain.ErrAuthenticationFailed)
	}

	ok, err := totp.ValidateCustom(code, *u.TOTPSecret, s.now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		return s.fail(ctx, sess, "totp", "bad_code", domain.ErrAuthenticationFailed)
	}

	return s.elevate(ctx, sess, "totp")
}

// SubmitWebAuthn verifies a client assertion against the pending
// webauthn challenge. Consumption precedes verification, same as TOTP.
// Clone detection and stale sign counters surface as
// ErrSignatureInvalid.
func (s *MFAService) SubmitWebAuthn(ctx context.Context, sessionID string, assertionJSON []byte) error {
	sess, ch, err := s.consumePending(ctx, sessionID, domain.ChallengeWebAuthn)
	if err != nil {
		return err
	}

	if now := s.now(); !now.Before(ch.ExpiresAt()) {
		return s.fail(ctx, sess, "webauthn", "expired", domain.ErrChallengeExpired)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(assertionJSON))
	if err != nil {
		return s.fail(ctx, sess, "webauthn", "malformed_assertion", domain.ErrSignatureInvalid)
	}

	var sessionData webauthn.SessionData
	if err := json.Unmarshal(ch.WebAuthnSession, &sessionData); err != nil {
		return s.fail(ctx, sess, "webauthn", "corrupt_session", domain.ErrSignatureInvalid)
	}

	u, err := s.Store.Users().GetUserByID(ctx, sess.UserID)
	if err != nil {
		return err
	}
	creds, err := s.Store.Credentials().ListCredentials(ctx, u.ID)
	if err != nil {
		return err
	}

	wu := &webAuthnUser{user: u, creds: creds}
	cred, err := s.WebAuthn.ValidateLogin(wu, sessionData, parsed)
	if err != nil {
		return s.fail(ctx, sess, "webauthn", "assertion_invalid", domain.ErrSignatureInvalid)
	}
	if cred.Authenticator.CloneWarning {
		return s.fail(ctx, sess, "webauthn", "clone_warning", domain.ErrSignatureInvalid)
	}

	stored, ok := findCredential(creds, cred.ID)
	if !ok {
		return s.fail(ctx, sess, "webauthn", "unknown_credential", domain.ErrSignatureInvalid)
	}

	// Authenticators that do not implement a counter report zero forever;
	// only enforce monotonicity once either side has moved.
	if cred.Authenticator.SignCount != 0 || stored.SignCount != 0 {
		err := s.Store.Credentials().UpdateSignCount(ctx, stored.CredentialID, cred.Authenticator.SignCount)
		if errors.Is(err, store.ErrConflict) {
			return s.fail(ctx, sess, "webauthn", "stale_sign_count", domain.ErrSignatureInvalid)
		}
		if err != nil {
			return err
		}
	}

	return s.elevate(ctx, sess, "webauthn")
}

// EnrollTOTP provisions a new TOTP secret for the session's user. The
// secret is stored immediately but the factor stays disabled until the
// user proves possession via VerifyTOTP.
func (s *MFAService) EnrollTOTP(ctx context.Context, sess domain.Session, cert *x509.Certificate) (secret, uri string, err error) {
	if err := s.Gate.Authorize(ctx, sess, cert, OpEnroll); err != nil {
		return "", "", err
	}

	u, err := s.Store.Users().GetUserByID(ctx, sess.UserID)
	if err != nil {
		return "", "", err
	}
	if u.TOTPEnabled != nil {
		return "", "", ErrTOTPAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: u.Username,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp secret: %w", err)
	}

	if err := s.Store.Users().UpdateTOTPSecret(ctx, u.ID, key.Secret()); err != nil {
		return "", "", err
	}

	s.auditEvent(ctx, u.ID, "enroll_totp", nil)
	return key.Secret(), key.URL(), nil
}

// VerifyTOTP completes TOTP enrollment: a single valid code against the
// provisioned secret flips the factor to enabled.
func (s *MFAService) VerifyTOTP(ctx context.Context, sess domain.Session, cert *x509.Certificate, code string) error {
	if err := s.Gate.Authorize(ctx, sess, cert, OpEnroll); err != nil {
		return err
	}

	u, err := s.Store.Users().GetUserByID(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if u.TOTPSecret == nil {
		return ErrTOTPNotEnrolled
	}
	if u.TOTPEnabled != nil {
		return ErrTOTPAlreadyEnabled
	}

	ok, err := totp.ValidateCustom(code, *u.TOTPSecret, s.now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		s.auditEvent(ctx, u.ID, "totp_enable_failed", nil)
		return domain.ErrAuthenticationFailed
	}

	if err := s.Store.Users().EnableTOTP(ctx, u.ID); err != nil {
		return err
	}

	s.auditEvent(ctx, u.ID, "totp_enabled", nil)
	return nil
}

// EnrollWebAuthnBegin starts a credential registration ceremony and
// returns the creation options for the client authenticator.
func (s *MFAService) EnrollWebAuthnBegin(ctx context.Context, sess domain.Session, cert *x509.Certificate) (*protocol.CredentialCreation, error) {
	if err := s.Gate.Authorize(ctx, sess, cert, OpEnroll); err != nil {
		return nil, err
	}

	u, err := s.Store.Users().GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	creds, err := s.Store.Credentials().ListCredentials(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	wu := &webAuthnUser{user: u, creds: creds}
	options, sessionData, err := s.WebAuthn.BeginRegistration(wu)
	if err != nil {
		return nil, fmt.Errorf("begin webauthn registration: %w", err)
	}
	raw, err := json.Marshal(sessionData)
	if err != nil {
		return nil, fmt.Errorf("marshal webauthn session: %w", err)
	}

	ch := domain.Challenge{
		Kind:            domain.ChallengeWebAuthnRegister,
		Nonce:           sessionData.Challenge,
		IssuedAt:        s.now(),
		TTL:             s.ttl(),
		WebAuthnSession: raw,
	}
	if err := s.Store.Sessions().SetChallenge(ctx, sess.ID, ch); err != nil {
		return nil, err
	}

	s.auditEvent(ctx, u.ID, "enroll_webauthn_begin", nil)
	return options, nil
}

// EnrollWebAuthnComplete validates the authenticator's attestation and
// stores the new credential. The registration challenge is single-use.
func (s *MFAService) EnrollWebAuthnComplete(ctx context.Context, sess domain.Session, cert *x509.Certificate, attestationJSON []byte) error {
	if err := s.Gate.Authorize(ctx, sess, cert, OpEnroll); err != nil {
		return err
	}

	ch, err := s.Store.Sessions().ConsumeChallenge(ctx, sess.ID)
	if errors.Is(err, store.ErrConflict) {
		return domain.ErrChallengeAlreadyConsumed
	}
	if errors.Is(err, store.ErrNotFound) {
		return domain.ErrChallengeExpired
	}
	if err != nil {
		return err
	}
	if ch.Kind != domain.ChallengeWebAuthnRegister {
		return domain.ErrPolicyDenied
	}
	if now := s.now(); !now.Before(ch.ExpiresAt()) {
		return domain.ErrChallengeExpired
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(attestationJSON))
	if err != nil {
		return domain.ErrSignatureInvalid
	}

	var sessionData webauthn.SessionData
	if err := json.Unmarshal(ch.WebAuthnSession, &sessionData); err != nil {
		return domain.ErrSignatureInvalid
	}

	u, err := s.Store.Users().GetUserByID(ctx, sess.UserID)
	if err != nil {
		return err
	}
	creds, err := s.Store.Credentials().ListCredentials(ctx, u.ID)
	if err != nil {
		return err
	}

	wu := &webAuthnUser{user: u, creds: creds}
	cred, err := s.WebAuthn.CreateCredential(wu, sessionData, parsed)
	if err != nil {
		s.auditEvent(ctx, u.ID, "enroll_webauthn_failed", nil)
		return domain.ErrSignatureInvalid
	}

	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	record := domain.WebAuthnCredential{
		ID:              idx.New().String(),
		UserID:          u.ID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transports:      transports,
		SignCount:       cred.Authenticator.SignCount,
		CreatedAt:       s.now(),
	}
	if err := s.Store.Credentials().AddCredential(ctx, record); err != nil {
		return err
	}

	s.auditEvent(ctx, u.ID, "enroll_webauthn", nil)
	return nil
}

// consumePending loads the session, checks it may attempt a step-up, and
// atomically consumes the pending challenge of the wanted kind. Exactly
// one of any number of concurrent submissions gets the challenge back;
// the rest see ErrChallengeAlreadyConsumed.
func (s *MFAService) consumePending(ctx context.Context, sessionID string, want domain.ChallengeKind) (domain.Session, domain.Challenge, error) {
	sess, err := s.Store.Sessions().GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, domain.Challenge{}, mapSessionErr(err)
	}
	if sess.Expired(s.now()) {
		s.auditEvent(ctx, sess.UserID, "stepup_rejected", map[string]any{
			"session_id": sessionID,
			"reason":     "session_expired",
		})
		return domain.Session{}, domain.Challenge{}, domain.ErrAuthenticationFailed
	}
	if sess.State != domain.PasswordVerified {
		s.auditEvent(ctx, sess.UserID, "stepup_rejected", map[string]any{
			"session_id": sessionID,
			"state":      sess.State.String(),
		})
		return domain.Session{}, domain.Challenge{}, domain.ErrPolicyDenied
	}

	ch, err := s.Store.Sessions().ConsumeChallenge(ctx, sessionID)
	if errors.Is(err, store.ErrConflict) {
		s.auditEvent(ctx, sess.UserID, "challenge_replayed", map[string]any{"session_id": sessionID})
		return domain.Session{}, domain.Challenge{}, domain.ErrChallengeAlreadyConsumed
	}
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, domain.Challenge{}, domain.ErrChallengeExpired
	}
	if err != nil {
		return domain.Session{}, domain.Challenge{}, err
	}

	if ch.Kind != want {
		if rerr := s.Store.Sessions().Reset(ctx, sessionID); rerr != nil {
			return domain.Session{}, domain.Challenge{}, rerr
		}
		s.auditEvent(ctx, sess.UserID, "stepup_rejected", map[string]any{
			"session_id": sessionID,
			"reason":     "wrong_factor",
		})
		return domain.Session{}, domain.Challenge{}, domain.ErrPolicyDenied
	}

	return sess, ch, nil
}

// fail resets the session to Unauthenticated, audits the failure, and
// returns the typed verification error.
func (s *MFAService) fail(ctx context.Context, sess domain.Session, method, reason string, verr error) error {
	if err := s.Store.Sessions().Reset(ctx, sess.ID); err != nil {
		return err
	}
	s.auditEvent(ctx, sess.UserID, method+"_failed", map[string]any{
		"session_id": sess.ID,
		"reason":     reason,
	})
	return verr
}

func (s *MFAService) elevate(ctx context.Context, sess domain.Session, method string) error {
	if err := s.Store.Sessions().UpdateState(ctx, sess.ID, domain.Elevated); err != nil {
		return err
	}
	s.auditEvent(ctx, sess.UserID, "elevate", map[string]any{
		"session_id": sess.ID,
		"method":     method,
	})
	return nil
}

func (s *MFAService) auditEvent(ctx context.Context, actor, action string, metadata map[string]any) {
	auditBestEffort(ctx, s.Audit, actor, action, metadata)
}

func mapSessionErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.ErrAuthenticationFailed
	}
	return err
}
