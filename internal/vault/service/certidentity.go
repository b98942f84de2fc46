package service

import (
	"crypto/x509"

	"github.com/quollsec/strongbox/internal/vault/domain"
)

// IdentityFromCertificate extracts the subject identity from a peer
// certificate that the TLS layer has already chain-validated. Trust is not
// re-checked here; this only answers "who does the transport say this is".
//
// A nil certificate on a channel that mandates one is
// ErrCertificateRequired. A structurally present certificate with no
// usable identity attribute is ErrCertificateInvalid.
func IdentityFromCertificate(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", domain.ErrCertificateRequired
	}

	if cn := cert.Subject.CommonName; cn != "" {
		return cn, nil
	}

	// SAN fallbacks, in order of preference.
	if len(cert.DNSNames) > 0 && cert.DNSNames[0] != "" {
		return cert.DNSNames[0], nil
	}
	if len(cert.EmailAddresses) > 0 && cert.EmailAddresses[0] != "" {
		return cert.EmailAddresses[0], nil
	}

	return "", domain.ErrCertificateInvalid
}
