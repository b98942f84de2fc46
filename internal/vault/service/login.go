package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quollsec/strongbox/internal/vault/audit"
	"github.com/quollsec/strongbox/internal/vault/domain"
	"github.com/quollsec/strongbox/internal/vault/store"
	"github.com/quollsec/strongbox/pkg/cryptox"
	"github.com/quollsec/strongbox/pkg/idx"
	"github.com/quollsec/strongbox/pkg/ratelimit"
	"github.com/quollsec/strongbox/pkg/slogx"
)

const defaultSessionTTL = 8 * time.Hour

// LoginService owns the first factor: user registration, the password
// check and session creation. Everything beyond PasswordVerified belongs
// to MFAService.
type LoginService struct {
	Store store.Store
	Audit audit.Sink

	// Limiter throttles password attempts per username. Optional.
	Limiter *ratelimit.Keyed

	// SessionTTL bounds how long a session record lives (default 8h).
	SessionTTL time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// Register creates a new user with an argon2id password hash.
func (s *LoginService) Register(ctx context.Context, username, password string) (domain.User, error) {
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.User{}, err
	}

	u := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.Store.Users().CreateUser(ctx, u); err != nil {
		return domain.User{}, err
	}

	s.auditEvent(ctx, username, "register", nil)
	return u, nil
}

// SubmitPassword verifies the first factor and creates a session in
// PasswordVerified state. An unknown user and a wrong password are
// indistinguishable to the caller: both cost one argon2 comparison and
// both return ErrAuthenticationFailed.
func (s *LoginService) SubmitPassword(ctx context.Context, username, password string) (domain.Session, error) {
	if s.Limiter != nil && !s.Limiter.Allow(username) {
		s.auditEvent(ctx, username, "login_throttled", nil)
		return domain.Session{}, domain.ErrAuthenticationFailed
	}

	u, err := s.Store.Users().GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		// Burn the same work as a real comparison so response timing
		// does not reveal whether the user exists.
		_ = cryptox.VerifyPassword(password, s.dummy())

		s.auditEvent(ctx, username, "login_failed", map[string]any{"reason": "unknown_user"})
		return domain.Session{}, domain.ErrAuthenticationFailed
	}
	if err != nil {
		return domain.Session{}, err
	}

	if err := cryptox.VerifyPassword(password, u.PasswordHash); err != nil {
		s.auditEvent(ctx, u.ID, "login_failed", map[string]any{"reason": "bad_password"})
		return domain.Session{}, domain.ErrAuthenticationFailed
	}

	ttl := s.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	now := time.Now().UTC()
	sess := domain.Session{
		ID:        idx.New().String(),
		UserID:    u.ID,
		State:     domain.PasswordVerified,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.Store.Sessions().CreateSession(ctx, sess); err != nil {
		return domain.Session{}, err
	}

	s.auditEvent(ctx, u.ID, "login", map[string]any{"session_id": sess.ID})
	return sess, nil
}

// Logout destroys the session.
func (s *LoginService) Logout(ctx context.Context, sessionID string) error {
	sess, err := s.Store.Sessions().GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.Store.Sessions().DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.auditEvent(ctx, sess.UserID, "logout", map[string]any{"session_id": sessionID})
	return nil
}

// dummy returns a hash of a throwaway password, computed once, used to
// equalize timing for unknown users.
func (s *LoginService) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := cryptox.HashPassword(cryptox.MustGenerateToken(cryptox.TokenSize128))
		if err != nil {
			// rand failure; VerifyPassword against "" still burns parse time
			hash = ""
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *LoginService) auditEvent(ctx context.Context, actor, action string, metadata map[string]any) {
	auditBestEffort(ctx, s.Audit, actor, action, metadata)
}

// auditBestEffort writes an audit record and, if the sink fails, reports
// the failure on the logging side channel. The caller's decision stands
// either way: an audit failure never converts a denial into an allow.
func auditBestEffort(ctx context.Context, sink audit.Sink, actor, action string, metadata map[string]any) {
	if sink == nil {
		return
	}
	if err := sink.Append(ctx, actor, action, metadata); err != nil {
		slogx.FromContext(ctx).Error("audit write failed",
			"actor", actor,
			"action", action,
			"error", err,
		)
	}
}
