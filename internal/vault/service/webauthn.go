package service

import (
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/quollsec/strongbox/internal/vault/domain"
)

// webAuthnUser adapts a vault user and their registered credentials to
// the shape the webauthn library expects.
type webAuthnUser struct {
	user  domain.User
	creds []domain.WebAuthnCredential
}

func (u *webAuthnUser) WebAuthnID() []byte          { return []byte(u.user.ID) }
func (u *webAuthnUser) WebAuthnName() string        { return u.user.Username }
func (u *webAuthnUser) WebAuthnDisplayName() string { return u.user.Username }
func (u *webAuthnUser) WebAuthnIcon() string        { return "" }

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(u.creds))
	for _, c := range u.creds {
		transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
		for _, t := range c.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
		out = append(out, webauthn.Credential{
			ID:              c.CredentialID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Transport:       transports,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		})
	}
	return out
}

// findCredential returns the stored credential matching the library's
// validated credential ID.
func findCredential(creds []domain.WebAuthnCredential, id []byte) (domain.WebAuthnCredential, bool) {
	for _, c := range creds {
		if string(c.CredentialID) == string(id) {
			return c, true
		}
	}
	return domain.WebAuthnCredential{}, false
}
