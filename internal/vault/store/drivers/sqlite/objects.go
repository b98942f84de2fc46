package sqlite

import (
	"context"
	"database/sql"

	"github.com/quollsec/strongbox/internal/vault/domain"
)

type objectsRepo struct {
	db *sql.DB
}

func (r *objectsRepo) CreateObject(ctx context.Context, o domain.VaultObject) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO vault_objects (id, owner, filename, iv, key_version, wrapped_dek, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Owner, o.Filename, o.IV, o.WrappedDEK.KeyVersion, o.WrappedDEK.Blob, o.CreatedAt,
	)
	return err
}

func (r *objectsRepo) GetObject(ctx context.Context, id string) (domain.VaultObject, error) {
	var o domain.VaultObject
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner, filename, iv, key_version, wrapped_dek, created_at
		FROM vault_objects WHERE id = ?`, id,
	).Scan(&o.ID, &o.Owner, &o.Filename, &o.IV, &o.WrappedDEK.KeyVersion, &o.WrappedDEK.Blob, &o.CreatedAt)
	if err != nil {
		return domain.VaultObject{}, mapNotFound(err)
	}
	return o, nil
}

// DeleteObject removes the metadata row, and with it the wrapped DEK, in
// one statement. A concurrent GetObject sees either the full record or
// nothing.
func (r *objectsRepo) DeleteObject(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM vault_objects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *objectsRepo) ListObjectsByOwner(ctx context.Context, owner string) ([]domain.ObjectSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, filename, created_at FROM vault_objects
		WHERE owner = ? ORDER BY created_at`, owner,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ObjectSummary
	for rows.Next() {
		var s domain.ObjectSummary
		if err := rows.Scan(&s.ID, &s.Filename, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
