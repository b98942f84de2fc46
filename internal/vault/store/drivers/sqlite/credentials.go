package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/quollsec/strongbox/internal/vault/domain"
	"github.com/quollsec/strongbox/internal/vault/store"
)

type credentialsRepo struct {
	db *sql.DB
}

func (r *credentialsRepo) AddCredential(ctx context.Context, c domain.WebAuthnCredential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webauthn_credentials
			(id, user_id, credential_id, public_key, attestation_type, transports, sign_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.CredentialID, c.PublicKey, c.AttestationType,
		strings.Join(c.Transports, " "), c.SignCount, time.Now().UTC(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *credentialsRepo) ListCredentials(ctx context.Context, userID string) ([]domain.WebAuthnCredential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, credential_id, public_key, attestation_type, transports, sign_count, created_at
		FROM webauthn_credentials WHERE user_id = ? ORDER BY created_at`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WebAuthnCredential
	for rows.Next() {
		var (
			c          domain.WebAuthnCredential
			transports string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.CredentialID, &c.PublicKey,
			&c.AttestationType, &transports, &c.SignCount, &c.CreatedAt); err != nil {
			return nil, err
		}
		if transports != "" {
			c.Transports = strings.Split(transports, " ")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateSignCount is the clone-detection CAS: the conditional WHERE makes
// the database reject any write that is not strictly greater, so two
// concurrent replays of one assertion cannot both land.
func (r *credentialsRepo) UpdateSignCount(ctx context.Context, credentialID []byte, newCount uint32) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webauthn_credentials SET sign_count = ?
		WHERE credential_id = ? AND sign_count < ?`,
		newCount, credentialID, newCount,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing credential from a stale counter.
		var exists int
		err := r.db.QueryRowContext(ctx,
			`SELECT 1 FROM webauthn_credentials WHERE credential_id = ?`, credentialID,
		).Scan(&exists)
		if err == sql.ErrNoRows {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		return store.ErrConflict
	}
	return nil
}
