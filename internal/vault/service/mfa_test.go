package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/quollsec/strongbox/internal/vault/audit"
	"github.com/quollsec/strongbox/internal/vault/domain"
	"github.com/quollsec/strongbox/internal/vault/service"
	"github.com/quollsec/strongbox/internal/vault/store/drivers/memory"
)

type mfaEnv struct {
	store *memory.Store
	sink  *audit.MemorySink
	login *service.LoginService
	mfa   *service.MFAService
}

func newMFAEnv(t *testing.T) *mfaEnv {
	t.Helper()

	st := memory.NewStore()
	sink := audit.NewMemorySink()
	gate := &service.AccessGate{
		Store:    st,
		Audit:    sink,
		Policies: service.DefaultPolicies(false),
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          "localhost",
		RPDisplayName: "strongbox test",
		RPOrigins:     []string{"https://localhost"},
	})
	require.NoError(t, err)

	return &mfaEnv{
		store: st,
		sink:  sink,
		login: &service.LoginService{Store: st, Audit: sink},
		mfa: &service.MFAService{
			Store:    st,
			Audit:    sink,
			Gate:     gate,
			WebAuthn: wa,
			Issuer:   "strongbox test",
		},
	}
}

// enrolledSession registers a user, logs in, enrolls and enables TOTP, and
// returns the PasswordVerified session plus the shared secret.
func (e *mfaEnv) enrolledSession(t *testing.T) (domain.Session, string) {
	t.Helper()
	ctx := context.Background()

	_, err := e.login.Register(ctx, "alice", "a perfectly fine password")
	require.NoError(t, err)
	sess, err := e.login.SubmitPassword(ctx, "alice", "a perfectly fine password")
	require.NoError(t, err)

	secret, uri, err := e.mfa.EnrollTOTP(ctx, sess, nil)
	require.NoError(t, err)
	require.NotEmpty(t, secret)
	require.Contains(t, uri, "otpauth://totp/")

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.mfa.VerifyTOTP(ctx, sess, nil, code))

	return sess, secret
}

func TestTOTPElevationFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)
	sess, secret := e.enrolledSession(t)

	options, err := e.mfa.BeginChallenge(ctx, sess.ID, domain.ChallengeTOTP)
	require.NoError(t, err)
	require.Nil(t, options) // no assertion options for TOTP

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.mfa.SubmitTOTP(ctx, sess.ID, code))

	after, err := e.store.Sessions().GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, domain.Elevated, after.State)

	require.Contains(t, e.sink.Actions(), "challenge_issued")
	require.Contains(t, e.sink.Actions(), "elevate")
}

func TestSubmitTOTPWrongCodeResetsSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)
	sess, _ := e.enrolledSession(t)

	_, err := e.mfa.BeginChallenge(ctx, sess.ID, domain.ChallengeTOTP)
	require.NoError(t, err)

	err = e.mfa.SubmitTOTP(ctx, sess.ID, "000000")
	require.ErrorIs(t, err, domain.ErrAuthenticationFailed)

	after, err := e.store.Sessions().GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, domain.Unauthenticated, after.State)
	require.Nil(t, after.Challenge)
}

func TestSubmitTOTPReplayRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)
	sess, secret := e.enrolledSession(t)

	_, err := e.mfa.BeginChallenge(ctx, sess.ID, domain.ChallengeTOTP)
	require.NoError(t, err)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.mfa.SubmitTOTP(ctx, sess.ID, code))

	// The same challenge cannot be submitted twice, valid code or not.
	err = e.mfa.SubmitTOTP(ctx, sess.ID, code)
	require.Error(t, err)
	require.True(t,
		errors.Is(err, domain.ErrChallengeAlreadyConsumed) || errors.Is(err, domain.ErrPolicyDenied),
		"got %v", err)
}

func TestSubmitTOTPConcurrentOneWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)
	sess, secret := e.enrolledSession(t)

	_, err := e.mfa.BeginChallenge(ctx, sess.ID, domain.ChallengeTOTP)
	require.NoError(t, err)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	const racers = 16
	results := make([]error, racers)

	var wg sync.WaitGroup
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.mfa.SubmitTOTP(ctx, sess.ID, code)
		}()
	}
	wg.Wait()

	var wins int
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		require.True(t,
			errors.Is(err, domain.ErrChallengeAlreadyConsumed) || errors.Is(err, domain.ErrPolicyDenied),
			"got %v", err)
	}
	require.Equal(t, 1, wins)

	after, err := e.store.Sessions().GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, domain.Elevated, after.State)
}

func TestSubmitTOTPExpiredChallenge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)
	sess, secret := e.enrolledSession(t)

	issued := time.Now().UTC()
	e.mfa.Now = func() time.Time { return issued }

	_, err := e.mfa.BeginChallenge(ctx, sess.ID, domain.ChallengeTOTP)
	require.NoError(t, err)

	// Jump past the TTL; even a code valid for the new time must fail.
	e.mfa.Now = func() time.Time { return issued.Add(10 * time.Minute) }

	code, err := totp.GenerateCode(secret, issued.Add(10*time.Minute))
	require.NoError(t, err)

	err = e.mfa.SubmitTOTP(ctx, sess.ID, code)
	require.ErrorIs(t, err, domain.ErrChallengeExpired)

	after, err := e.store.Sessions().GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, domain.Unauthenticated, after.State)
}

func TestStepUpRejectsExpiredSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)
	_, secret := e.enrolledSession(t)

	u, err := e.store.Users().GetUserByUsername(ctx, "alice")
	require.NoError(t, err)

	// A second session for the same user, already past its lifetime.
	stale := domain.Session{
		ID:        "s-stale",
		UserID:    u.ID,
		State:     domain.PasswordVerified,
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, e.store.Sessions().CreateSession(ctx, stale))

	_, err = e.mfa.BeginChallenge(ctx, stale.ID, domain.ChallengeTOTP)
	require.ErrorIs(t, err, domain.ErrAuthenticationFailed)

	// Even with a challenge already pending, submission is rejected.
	require.NoError(t, e.store.Sessions().SetChallenge(ctx, stale.ID, domain.Challenge{
		Kind:     domain.ChallengeTOTP,
		IssuedAt: time.Now().UTC(),
		TTL:      5 * time.Minute,
	}))

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	err = e.mfa.SubmitTOTP(ctx, stale.ID, code)
	require.ErrorIs(t, err, domain.ErrAuthenticationFailed)
}

func TestSubmitTOTPRequiresPasswordVerified(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)
	sess, secret := e.enrolledSession(t)

	require.NoError(t, e.store.Sessions().UpdateState(ctx, sess.ID, domain.Unauthenticated))

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	err = e.mfa.SubmitTOTP(ctx, sess.ID, code)
	require.ErrorIs(t, err, domain.ErrPolicyDenied)
}

func TestSubmitTOTPWithoutChallenge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)
	sess, secret := e.enrolledSession(t)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	err = e.mfa.SubmitTOTP(ctx, sess.ID, code)
	require.ErrorIs(t, err, domain.ErrChallengeExpired)
}

func TestSubmitTOTPAgainstWebAuthnChallenge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)
	sess, secret := e.enrolledSession(t)

	// Pending challenge is for the wrong factor.
	require.NoError(t, e.store.Sessions().SetChallenge(ctx, sess.ID, domain.Challenge{
		Kind:     domain.ChallengeWebAuthn,
		IssuedAt: time.Now().UTC(),
		TTL:      5 * time.Minute,
	}))

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	err = e.mfa.SubmitTOTP(ctx, sess.ID, code)
	require.ErrorIs(t, err, domain.ErrPolicyDenied)
}

func TestBeginChallengeRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)
	sess, _ := e.enrolledSession(t)

	t.Run("webauthn without credentials", func(t *testing.T) {
		_, err := e.mfa.BeginChallenge(ctx, sess.ID, domain.ChallengeWebAuthn)
		require.ErrorIs(t, err, service.ErrNoCredentials)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := e.mfa.BeginChallenge(ctx, "nope", domain.ChallengeTOTP)
		require.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	})

	t.Run("elevated session cannot re-challenge", func(t *testing.T) {
		require.NoError(t, e.store.Sessions().UpdateState(ctx, sess.ID, domain.Elevated))
		_, err := e.mfa.BeginChallenge(ctx, sess.ID, domain.ChallengeTOTP)
		require.ErrorIs(t, err, domain.ErrPolicyDenied)
	})
}

func TestBeginChallengeReplacesPrevious(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)
	sess, secret := e.enrolledSession(t)

	_, err := e.mfa.BeginChallenge(ctx, sess.ID, domain.ChallengeTOTP)
	require.NoError(t, err)
	_, err = e.mfa.BeginChallenge(ctx, sess.ID, domain.ChallengeTOTP)
	require.NoError(t, err)

	// Only one live challenge: consuming once wins, once loses.
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.mfa.SubmitTOTP(ctx, sess.ID, code))
}

func TestEnrollTOTPLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)

	_, err := e.login.Register(ctx, "alice", "a perfectly fine password")
	require.NoError(t, err)
	sess, err := e.login.SubmitPassword(ctx, "alice", "a perfectly fine password")
	require.NoError(t, err)

	t.Run("verify before enroll", func(t *testing.T) {
		err := e.mfa.VerifyTOTP(ctx, sess, nil, "123456")
		require.ErrorIs(t, err, service.ErrTOTPNotEnrolled)
	})

	secret, _, err := e.mfa.EnrollTOTP(ctx, sess, nil)
	require.NoError(t, err)

	t.Run("wrong verification code does not enable", func(t *testing.T) {
		err := e.mfa.VerifyTOTP(ctx, sess, nil, "000000")
		require.ErrorIs(t, err, domain.ErrAuthenticationFailed)

		u, err := e.store.Users().GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		require.Nil(t, u.TOTPEnabled)
	})

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.mfa.VerifyTOTP(ctx, sess, nil, code))

	u, err := e.store.Users().GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, u.TOTPEnabled)

	t.Run("re-enroll rejected once enabled", func(t *testing.T) {
		_, _, err := e.mfa.EnrollTOTP(ctx, sess, nil)
		require.ErrorIs(t, err, service.ErrTOTPAlreadyEnabled)
	})

	t.Run("enroll denied for unauthenticated session", func(t *testing.T) {
		anon := domain.Session{ID: "s-anon", State: domain.Unauthenticated}
		_, _, err := e.mfa.EnrollTOTP(ctx, anon, nil)
		require.ErrorIs(t, err, domain.ErrPolicyDenied)
	})
}

func TestEnrollWebAuthnBeginIssuesRegistrationChallenge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)
	sess, _ := e.enrolledSession(t)

	options, err := e.mfa.EnrollWebAuthnBegin(ctx, sess, nil)
	require.NoError(t, err)
	require.NotEmpty(t, options.Response.Challenge)

	after, err := e.store.Sessions().GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, after.Challenge)
	require.Equal(t, domain.ChallengeWebAuthnRegister, after.Challenge.Kind)
	require.NotEmpty(t, after.Challenge.WebAuthnSession)
}

func TestEnrollWebAuthnCompleteRejectsGarbage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)
	sess, _ := e.enrolledSession(t)

	_, err := e.mfa.EnrollWebAuthnBegin(ctx, sess, nil)
	require.NoError(t, err)

	err = e.mfa.EnrollWebAuthnComplete(ctx, sess, nil, []byte("not an attestation"))
	require.ErrorIs(t, err, domain.ErrSignatureInvalid)

	// The registration challenge was consumed by the attempt.
	err = e.mfa.EnrollWebAuthnComplete(ctx, sess, nil, []byte("not an attestation"))
	require.ErrorIs(t, err, domain.ErrChallengeAlreadyConsumed)
}

func TestSubmitWebAuthnMalformedAssertionResetsSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newMFAEnv(t)
	sess, _ := e.enrolledSession(t)

	require.NoError(t, e.store.Sessions().SetChallenge(ctx, sess.ID, domain.Challenge{
		Kind:     domain.ChallengeWebAuthn,
		IssuedAt: time.Now().UTC(),
		TTL:      5 * time.Minute,
	}))

	err := e.mfa.SubmitWebAuthn(ctx, sess.ID, []byte("garbage"))
	require.ErrorIs(t, err, domain.ErrSignatureInvalid)

	after, err := e.store.Sessions().GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, domain.Unauthenticated, after.State)
}
