package spoke

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sigstore/sigstore/pkg/cryptoutils"
	"github.com/titanous/rocacheck"

	"github.com/dive-federation/hub/internal/errs"
)

// CertInfo is the parsed, validated result of onboarding a spoke's
// certificate (spec.md §3.4, §4.2).
type CertInfo struct {
	PEM                []byte
	Fingerprint        string // hex SHA-256 of the DER encoding
	SignatureAlgorithm x509.SignatureAlgorithm
	Subject            string
	NotBefore          time.Time
	NotAfter           time.Time
	SelfSigned         bool
	Warnings           []string
}

// weakSignatureAlgorithms rejects SHA-1-or-weaker signing algorithms when
// strict validation is requested (spec.md §4.2).
var weakSignatureAlgorithms = map[x509.SignatureAlgorithm]bool{
	x509.MD2WithRSA:    true,
	x509.MD5WithRSA:    true,
	x509.SHA1WithRSA:   true,
	x509.DSAWithSHA1:   true,
	x509.ECDSAWithSHA1: true,
}

// ValidateCertificate parses and validates a spoke-presented certificate
// PEM (spec.md §4.2). Rejects unparseable, expired, not-yet-valid, or
// (when strict) weak-signature-algorithm certificates. Self-signed and
// soon-to-expire certs are reported as warnings, not rejections.
func ValidateCertificate(pemBytes []byte, strict bool, now time.Time) (CertInfo, error) {
	cert, err := cryptoutils.UnmarshalCertificatesFromPEM(pemBytes)
	if err != nil || len(cert) == 0 {
		return CertInfo{}, errs.Wrap(errs.InvalidInput, "", err, "unparseable certificate PEM")
	}
	c := cert[0]

	if now.Before(c.NotBefore) {
		return CertInfo{}, errs.New(errs.InvalidInput, "", "certificate not yet valid (notBefore=%s)", c.NotBefore)
	}
	if now.After(c.NotAfter) {
		return CertInfo{}, errs.New(errs.InvalidInput, "", "certificate expired (notAfter=%s)", c.NotAfter)
	}
	if strict && weakSignatureAlgorithms[c.SignatureAlgorithm] {
		return CertInfo{}, errs.New(errs.InvalidInput, "", "signature algorithm %s is SHA-1 or weaker", c.SignatureAlgorithm)
	}

	sum := sha256.Sum256(c.Raw)
	info := CertInfo{
		PEM:                pemBytes,
		Fingerprint:        hex.EncodeToString(sum[:]),
		SignatureAlgorithm: c.SignatureAlgorithm,
		Subject:            c.Subject.String(),
		NotBefore:          c.NotBefore,
		NotAfter:           c.NotAfter,
		SelfSigned:         c.Issuer.String() == c.Subject.String(),
	}

	if info.SelfSigned {
		info.Warnings = append(info.Warnings, "certificate is self-signed")
	}
	if d := c.NotAfter.Sub(now); d > 0 && d < 30*24*time.Hour {
		info.Warnings = append(info.Warnings, fmt.Sprintf("certificate expires within 30 days (%s)", c.NotAfter))
	}
	if rsaKey, ok := c.PublicKey.(*rsa.PublicKey); ok {
		if rocacheck.IsWeak(rsaKey.N) {
			info.Warnings = append(info.Warnings, "RSA public key is vulnerable to the ROCA factorization weakness (CVE-2017-15361)")
		}
	}
	// ECDSA keys are not subject to the RSA-specific ROCA check.

	return info, nil
}
