package service

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/quollsec/strongbox/internal/vault/audit"
	"github.com/quollsec/strongbox/internal/vault/domain"
	"github.com/quollsec/strongbox/internal/vault/store"
)

// Operation names a gated action. The gate fails closed: an operation
// without a policy entry is denied.
type Operation string

const (
	OpUpload   Operation = "upload"
	OpDownload Operation = "download"
	OpDelete   Operation = "delete"
	OpList     Operation = "list"
	OpEnroll   Operation = "enroll"
)

// Policy states the preconditions for one operation.
type Policy struct {
	// MinState is the lowest session state allowed to perform the
	// operation.
	MinState domain.SessionState

	// RequireCert demands a chain-validated peer certificate.
	RequireCert bool

	// CertMustMatchUser additionally requires the certificate identity
	// to equal the session user's username.
	CertMustMatchUser bool
}

// DefaultPolicies returns the standard policy table: uploads and factor
// enrollment need a verified password, anything that reads or destroys
// plaintext needs full elevation.
func DefaultPolicies(requireCert bool) map[Operation]Policy {
	return map[Operation]Policy{
		OpUpload:   {MinState: domain.PasswordVerified, RequireCert: requireCert, CertMustMatchUser: requireCert},
		OpEnroll:   {MinState: domain.PasswordVerified, RequireCert: requireCert, CertMustMatchUser: requireCert},
		OpList:     {MinState: domain.PasswordVerified, RequireCert: requireCert, CertMustMatchUser: requireCert},
		OpDownload: {MinState: domain.Elevated, RequireCert: requireCert, CertMustMatchUser: requireCert},
		OpDelete:   {MinState: domain.Elevated, RequireCert: requireCert, CertMustMatchUser: requireCert},
	}
}

// AccessGate evaluates session state and transport identity before any
// data-plane operation runs. Every decision, allow or deny, is audited.
type AccessGate struct {
	Store    store.Store
	Audit    audit.Sink
	Policies map[Operation]Policy
}

// Authorize checks op against the policy table for the given session and
// peer certificate. A denial returns the reason as a typed error; the
// audit record is written before returning but never overrides the
// decision.
func (g *AccessGate) Authorize(ctx context.Context, sess domain.Session, cert *x509.Certificate, op Operation) error {
	actor := sess.UserID
	if actor == "" {
		actor = "anonymous"
	}

	p, ok := g.Policies[op]
	if !ok {
		g.deny(ctx, actor, op, "no_policy")
		return domain.ErrPolicyDenied
	}

	if sess.Expired(time.Now().UTC()) {
		g.deny(ctx, actor, op, "session_expired")
		return domain.ErrAuthenticationFailed
	}

	if sess.State < p.MinState {
		g.deny(ctx, actor, op, "insufficient_state")
		return domain.ErrPolicyDenied
	}

	if p.RequireCert {
		identity, err := IdentityFromCertificate(cert)
		if err != nil {
			g.deny(ctx, actor, op, "certificate")
			return err
		}
		if p.CertMustMatchUser {
			u, err := g.Store.Users().GetUserByID(ctx, sess.UserID)
			if err != nil {
				g.deny(ctx, actor, op, "unknown_user")
				return domain.ErrPolicyDenied
			}
			if identity != u.Username {
				g.deny(ctx, actor, op, "certificate_mismatch")
				return domain.ErrCertificateInvalid
			}
		}
	}

	auditBestEffort(ctx, g.Audit, actor, string(op)+"_allowed", nil)
	return nil
}

func (g *AccessGate) deny(ctx context.Context, actor string, op Operation, reason string) {
	auditBestEffort(ctx, g.Audit, actor, string(op)+"_denied", map[string]any{"reason": reason})
}
