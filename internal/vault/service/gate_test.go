package service_test

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quollsec/strongbox/internal/vault/audit"
	"github.com/quollsec/strongbox/internal/vault/domain"
	"github.com/quollsec/strongbox/internal/vault/service"
	"github.com/quollsec/strongbox/internal/vault/store/drivers/memory"
)

func certWithCN(cn string) *x509.Certificate {
	return &x509.Certificate{Subject: pkix.Name{CommonName: cn}}
}

func TestIdentityFromCertificate(t *testing.T) {
	t.Parallel()

	t.Run("nil certificate", func(t *testing.T) {
		_, err := service.IdentityFromCertificate(nil)
		require.ErrorIs(t, err, domain.ErrCertificateRequired)
	})

	t.Run("common name", func(t *testing.T) {
		id, err := service.IdentityFromCertificate(certWithCN("alice"))
		require.NoError(t, err)
		require.Equal(t, "alice", id)
	})

	t.Run("dns san fallback", func(t *testing.T) {
		id, err := service.IdentityFromCertificate(&x509.Certificate{DNSNames: []string{"bob"}})
		require.NoError(t, err)
		require.Equal(t, "bob", id)
	})

	t.Run("email san fallback", func(t *testing.T) {
		id, err := service.IdentityFromCertificate(&x509.Certificate{EmailAddresses: []string{"carol@example.com"}})
		require.NoError(t, err)
		require.Equal(t, "carol@example.com", id)
	})

	t.Run("no identity attribute", func(t *testing.T) {
		_, err := service.IdentityFromCertificate(&x509.Certificate{})
		require.ErrorIs(t, err, domain.ErrCertificateInvalid)
	})
}

func TestAccessGateStatePolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sink := audit.NewMemorySink()
	gate := &service.AccessGate{
		Store:    memory.NewStore(),
		Audit:    sink,
		Policies: service.DefaultPolicies(false),
	}

	sess := domain.Session{ID: "s1", UserID: "u1", State: domain.PasswordVerified}

	t.Run("upload allowed at password verified", func(t *testing.T) {
		require.NoError(t, gate.Authorize(ctx, sess, nil, service.OpUpload))
	})

	t.Run("download needs elevation", func(t *testing.T) {
		err := gate.Authorize(ctx, sess, nil, service.OpDownload)
		require.ErrorIs(t, err, domain.ErrPolicyDenied)
	})

	t.Run("delete needs elevation", func(t *testing.T) {
		err := gate.Authorize(ctx, sess, nil, service.OpDelete)
		require.ErrorIs(t, err, domain.ErrPolicyDenied)

		elevated := sess
		elevated.State = domain.Elevated
		require.NoError(t, gate.Authorize(ctx, elevated, nil, service.OpDelete))
	})

	t.Run("unauthenticated denied everything", func(t *testing.T) {
		anon := domain.Session{ID: "s2", State: domain.Unauthenticated}
		for _, op := range []service.Operation{service.OpUpload, service.OpDownload, service.OpDelete, service.OpList, service.OpEnroll} {
			require.ErrorIs(t, gate.Authorize(ctx, anon, nil, op), domain.ErrPolicyDenied, "op %s", op)
		}
	})

	t.Run("unknown operation fails closed", func(t *testing.T) {
		elevated := sess
		elevated.State = domain.Elevated
		err := gate.Authorize(ctx, elevated, nil, service.Operation("format_disk"))
		require.ErrorIs(t, err, domain.ErrPolicyDenied)
	})

	require.Contains(t, sink.Actions(), "upload_allowed")
	require.Contains(t, sink.Actions(), "download_denied")
}

func TestAccessGateRejectsExpiredSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sink := audit.NewMemorySink()
	gate := &service.AccessGate{
		Store:    memory.NewStore(),
		Audit:    sink,
		Policies: service.DefaultPolicies(false),
	}

	// Elevation does not outlive the session itself.
	expired := domain.Session{
		ID:        "s1",
		UserID:    "u1",
		State:     domain.Elevated,
		ExpiresAt: time.Now().UTC().Add(-2 * time.Hour),
	}

	for _, op := range []service.Operation{service.OpUpload, service.OpDownload, service.OpDelete, service.OpList} {
		err := gate.Authorize(ctx, expired, nil, op)
		require.ErrorIs(t, err, domain.ErrAuthenticationFailed, "op %s", op)
	}

	var reasons []string
	for _, ev := range sink.Events() {
		if ev.Action == "download_denied" {
			reasons = append(reasons, ev.Metadata["reason"].(string))
		}
	}
	require.Contains(t, reasons, "session_expired")

	live := expired
	live.ExpiresAt = time.Now().UTC().Add(time.Hour)
	require.NoError(t, gate.Authorize(ctx, live, nil, service.OpDownload))
}

func TestAccessGateCertificatePolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := memory.NewStore()
	require.NoError(t, st.Users().CreateUser(ctx, domain.User{
		ID:        "u1",
		Username:  "alice",
		CreatedAt: time.Now().UTC(),
	}))

	sink := audit.NewMemorySink()
	gate := &service.AccessGate{
		Store:    st,
		Audit:    sink,
		Policies: service.DefaultPolicies(true),
	}

	sess := domain.Session{ID: "s1", UserID: "u1", State: domain.Elevated}

	t.Run("missing certificate", func(t *testing.T) {
		err := gate.Authorize(ctx, sess, nil, service.OpDownload)
		require.ErrorIs(t, err, domain.ErrCertificateRequired)
	})

	t.Run("identity mismatch", func(t *testing.T) {
		err := gate.Authorize(ctx, sess, certWithCN("mallory"), service.OpDownload)
		require.ErrorIs(t, err, domain.ErrCertificateInvalid)
	})

	t.Run("matching identity", func(t *testing.T) {
		require.NoError(t, gate.Authorize(ctx, sess, certWithCN("alice"), service.OpDownload))
	})

	var reasons []string
	for _, ev := range sink.Events() {
		if ev.Action == "download_denied" {
			reasons = append(reasons, ev.Metadata["reason"].(string))
		}
	}
	require.Contains(t, reasons, "certificate")
	require.Contains(t, reasons, "certificate_mismatch")
}
