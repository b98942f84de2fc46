package service

import (
	"context"
	"crypto/x509"
	"errors"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/quollsec/strongbox/internal/vault/audit"
	"github.com/quollsec/strongbox/internal/vault/blob"
	"github.com/quollsec/strongbox/internal/vault/domain"
	"github.com/quollsec/strongbox/internal/vault/kms"
	"github.com/quollsec/strongbox/internal/vault/store"
	"github.com/quollsec/strongbox/pkg/cryptox"
)

// VaultService is the data plane: envelope-encrypted upload, download,
// delete and listing. Every operation passes the access gate first, and
// plaintext DEKs are wiped the moment they are no longer needed.
type VaultService struct {
	Store store.Store
	Blobs blob.Store
	Keys  kms.KeyWrapClient
	Gate  *AccessGate
	Audit audit.Sink
}

// Upload encrypts plaintext under a fresh DEK, wraps the DEK, writes the
// ciphertext blob and then the metadata record. If the record insert
// fails the blob is removed again so no unreferenced ciphertext survives.
func (s *VaultService) Upload(ctx context.Context, sess domain.Session, cert *x509.Certificate, filename string, plaintext []byte) (string, error) {
	if err := s.Gate.Authorize(ctx, sess, cert, OpUpload); err != nil {
		return "", err
	}

	ciphertext, dek, iv, err := cryptox.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	defer memguard.WipeBytes(dek)

	wrapped, err := s.Keys.Wrap(ctx, dek)
	if err != nil {
		s.auditEvent(ctx, sess.UserID, "upload_failed", map[string]any{"reason": "key_wrap"})
		return "", err
	}

	id := uuid.NewString()
	if err := s.Blobs.Put(ctx, id, ciphertext); err != nil {
		return "", err
	}

	obj := domain.VaultObject{
		ID:         id,
		Owner:      sess.UserID,
		Filename:   filename,
		IV:         iv,
		WrappedDEK: wrapped,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Store.Objects().CreateObject(ctx, obj); err != nil {
		// Roll the blob back; an orphaned ciphertext with no metadata
		// record would be unreachable and undeletable.
		_ = s.Blobs.Delete(ctx, id)
		return "", err
	}

	s.auditEvent(ctx, sess.UserID, "upload", map[string]any{
		"object_id": id,
		"filename":  filename,
	})
	return id, nil
}

// Download fetches, unwraps and decrypts an object. A failed integrity
// check is audited distinctly from a missing object; the caller sees
// ErrIntegrityCheckFailed versus ErrObjectNotFound.
func (s *VaultService) Download(ctx context.Context, sess domain.Session, cert *x509.Certificate, objectID string) ([]byte, error) {
	if err := s.Gate.Authorize(ctx, sess, cert, OpDownload); err != nil {
		return nil, err
	}

	obj, err := s.Store.Objects().GetObject(ctx, objectID)
	if errors.Is(err, store.ErrNotFound) {
		s.auditEvent(ctx, sess.UserID, "download_failed", map[string]any{
			"object_id": objectID,
			"reason":    "not_found",
		})
		return nil, domain.ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}

	if obj.Owner != sess.UserID {
		s.auditEvent(ctx, sess.UserID, "download_denied", map[string]any{
			"object_id": objectID,
			"reason":    "not_owner",
		})
		return nil, domain.ErrPolicyDenied
	}

	ciphertext, err := s.Blobs.Get(ctx, objectID)
	if errors.Is(err, blob.ErrNotFound) {
		s.auditEvent(ctx, sess.UserID, "download_failed", map[string]any{
			"object_id": objectID,
			"reason":    "blob_missing",
		})
		return nil, domain.ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}

	dek, err := s.Keys.Unwrap(ctx, obj.WrappedDEK)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(dek)

	plaintext, err := cryptox.Decrypt(ciphertext, dek, obj.IV)
	if errors.Is(err, cryptox.ErrIntegrityCheckFailed) {
		s.auditEvent(ctx, sess.UserID, "download_tampered", map[string]any{"object_id": objectID})
		return nil, domain.ErrIntegrityCheckFailed
	}
	if err != nil {
		return nil, err
	}

	s.auditEvent(ctx, sess.UserID, "download", map[string]any{"object_id": objectID})
	return plaintext, nil
}

// Delete removes an object. The metadata record goes first: it holds the
// wrapped DEK, so once it is gone the ciphertext is cryptographically
// dead even if the blob delete is interrupted. Deleting an absent object
// succeeds (idempotent) and is still audited.
func (s *VaultService) Delete(ctx context.Context, sess domain.Session, cert *x509.Certificate, objectID string) error {
	if err := s.Gate.Authorize(ctx, sess, cert, OpDelete); err != nil {
		return err
	}

	obj, err := s.Store.Objects().GetObject(ctx, objectID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.auditEvent(ctx, sess.UserID, "delete", map[string]any{
			"object_id":       objectID,
			"already_deleted": true,
		})
		return nil
	case err != nil:
		return err
	}

	if obj.Owner != sess.UserID {
		s.auditEvent(ctx, sess.UserID, "delete_denied", map[string]any{
			"object_id": objectID,
			"reason":    "not_owner",
		})
		return domain.ErrPolicyDenied
	}

	if err := s.Store.Objects().DeleteObject(ctx, objectID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := s.Blobs.Delete(ctx, objectID); err != nil {
		return err
	}

	s.auditEvent(ctx, sess.UserID, "delete", map[string]any{"object_id": objectID})
	return nil
}

// List returns metadata summaries for the session user's objects.
func (s *VaultService) List(ctx context.Context, sess domain.Session, cert *x509.Certificate) ([]domain.ObjectSummary, error) {
	if err := s.Gate.Authorize(ctx, sess, cert, OpList); err != nil {
		return nil, err
	}
	return s.Store.Objects().ListObjectsByOwner(ctx, sess.UserID)
}

func (s *VaultService) auditEvent(ctx context.Context, actor, action string, metadata map[string]any) {
	auditBestEffort(ctx, s.Audit, actor, action, metadata)
}
