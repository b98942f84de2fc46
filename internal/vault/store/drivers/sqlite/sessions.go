package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/quollsec/strongbox/internal/vault/domain"
	"github.com/quollsec/strongbox/internal/vault/store"
)

type sessionsRepo struct {
	db *sql.DB
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, state, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, int(s.State), now, now, s.ExpiresAt,
	)
	return err
}

func (r *sessionsRepo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var s domain.Session
	var state int
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, state, created_at, updated_at, expires_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.UserID, &state, &s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.State = domain.SessionState(state)

	ch, err := r.getChallenge(ctx, id)
	if err != nil && err != store.ErrNotFound {
		return domain.Session{}, err
	}
	if err == nil {
		s.Challenge = &ch
	}
	return s, nil
}

func (r *sessionsRepo) getChallenge(ctx context.Context, sessionID string) (domain.Challenge, error) {
	var (
		ch       domain.Challenge
		kind     int
		ttlMS    int64
		consumed int
		waSess   []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT kind, nonce, issued_at, ttl_ms, consumed, webauthn_session
		FROM challenges WHERE session_id = ?`, sessionID,
	).Scan(&kind, &ch.Nonce, &ch.IssuedAt, &ttlMS, &consumed, &waSess)
	if err != nil {
		return domain.Challenge{}, mapNotFound(err)
	}
	ch.Kind = domain.ChallengeKind(kind)
	ch.TTL = time.Duration(ttlMS) * time.Millisecond
	ch.Consumed = consumed != 0
	ch.WebAuthnSession = waSess
	return ch, nil
}

func (r *sessionsRepo) UpdateState(ctx context.Context, id string, state domain.SessionState) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?`,
		int(state), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *sessionsRepo) SetChallenge(ctx context.Context, id string, ch domain.Challenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO challenges (session_id, kind, nonce, issued_at, ttl_ms, consumed, webauthn_session)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			kind = excluded.kind,
			nonce = excluded.nonce,
			issued_at = excluded.issued_at,
			ttl_ms = excluded.ttl_ms,
			consumed = 0,
			webauthn_session = excluded.webauthn_session`,
		id, int(ch.Kind), ch.Nonce, ch.IssuedAt, ch.TTL.Milliseconds(), ch.WebAuthnSession,
	)
	return err
}

// ConsumeChallenge flips consumed in a single conditional UPDATE so the
// database picks exactly one winner among racing submissions.
func (r *sessionsRepo) ConsumeChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	var (
		ch     domain.Challenge
		kind   int
		ttlMS  int64
		waSess []byte
	)
	err := r.db.QueryRowContext(ctx, `
		UPDATE challenges SET consumed = 1
		WHERE session_id = ? AND consumed = 0
		RETURNING kind, nonce, issued_at, ttl_ms, webauthn_session`, id,
	).Scan(&kind, &ch.Nonce, &ch.IssuedAt, &ttlMS, &waSess)
	if err == sql.ErrNoRows {
		// No row updated: either no challenge is pending, or the
		// challenge was already consumed by a racing caller.
		if _, err := r.getChallenge(ctx, id); err != nil {
			return domain.Challenge{}, err
		}
		return domain.Challenge{}, store.ErrConflict
	}
	if err != nil {
		return domain.Challenge{}, err
	}
	ch.Kind = domain.ChallengeKind(kind)
	ch.TTL = time.Duration(ttlMS) * time.Millisecond
	ch.WebAuthnSession = waSess
	return ch, nil
}

func (r *sessionsRepo) Reset(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM challenges WHERE session_id = ?`, id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?`,
		int(domain.Unauthenticated), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *sessionsRepo) DeleteSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now)
	return err
}
