package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/quollsec/strongbox/internal/vault/domain"
	"github.com/quollsec/strongbox/internal/vault/store"
)

type usersRepo struct {
	db *sql.DB
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, now, now,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, totp_enabled, totp_secret, created_at, updated_at
		FROM users WHERE id = ?`, id,
	))
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, totp_enabled, totp_secret, created_at, updated_at
		FROM users WHERE username = ?`, username,
	))
}

func (r *usersRepo) scanUser(row *sql.Row) (domain.User, error) {
	var (
		u           domain.User
		totpEnabled sql.NullTime
		totpSecret  sql.NullString
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &totpEnabled, &totpSecret, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.TOTPEnabled = mapNullTimePtr(totpEnabled)
	u.TOTPSecret = mapNullStringPtr(totpSecret)
	return u, nil
}

func (r *usersRepo) UpdateTOTPSecret(ctx context.Context, userID string, secret string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET totp_secret = ?, updated_at = ? WHERE id = ?`,
		secret, time.Now().UTC(), userID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *usersRepo) EnableTOTP(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET totp_enabled = ?, updated_at = ?
		WHERE id = ? AND totp_secret IS NOT NULL`,
		now, now, userID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
