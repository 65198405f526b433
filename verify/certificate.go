package verify

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/revocation"
)

// verificationTime picks the time the chain is validated at: the
// timestamp when present, then the signing time claimed in the
// dictionary, then the current time.
func (v *Validator) verificationTime(res *Result) {
	switch {
	case res.TimestampTime != nil:
		res.VerificationTime = *res.TimestampTime
		res.TimeSource = "embedded_timestamp"
	case res.SigningTime != nil:
		res.VerificationTime = *res.SigningTime
		res.TimeSource = "signature_time"
		res.Warnings = append(res.Warnings, "no timestamp: using the signing time claimed by the signer")
	default:
		res.VerificationTime = v.now()
		res.TimeSource = "current_time"
		res.Warnings = append(res.Warnings, "no timestamp or signing time: validating at the current time")
	}
}

// buildCertificateChains verifies every embedded certificate against the
// trust anchors and applies the embedded and, when enabled, online
// revocation information. Trusted is decided by the signer's chain.
func (v *Validator) buildCertificateChains(ctx context.Context, c *checked, res *Result) {
	p7 := c.p7

	// Directory of certificates, including OCSP
	certPool := v.intermediatePool()
	for _, cert := range p7.Certificates {
		certPool.AddCert(cert)
	}

	var revInfo revocation.InfoArchival
	_ = p7.UnmarshalSignedAttribute(revocation.OIDRevocationInfoArchival, &revInfo)

	// Parse OCSP response
	ocspStatus := make(map[string]*ocsp.Response)
	for _, o := range revInfo.OCSP {
		resp, err := ocsp.ParseResponse(o.FullBytes, nil)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("failed to parse embedded OCSP response: %v", err))
			continue
		}
		ocspStatus[fmt.Sprintf("%x", resp.SerialNumber)] = resp
	}

	// Parse CRL responses
	crlStatus := make(map[string]time.Time) // serial to revocation time
	for _, raw := range revInfo.CRL {
		crl, err := x509.ParseRevocationList(raw.FullBytes)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("failed to parse embedded CRL: %v", err))
			continue
		}
		for _, revokedCert := range crl.RevokedCertificateEntries {
			crlStatus[fmt.Sprintf("%x", revokedCert.SerialNumber)] = revokedCert.RevocationTime
		}
	}

	createVerifyOptions := func(roots *x509.CertPool) x509.VerifyOptions {
		// EKUs are checked by validateKeyUsage, which knows the Document
		// Signing usage.
		return x509.VerifyOptions{
			Roots:         roots,
			Intermediates: certPool,
			CurrentTime:   res.VerificationTime,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		}
	}

	for _, cert := range p7.Certificates {
		var cr Certificate
		cr.Certificate = cert
		isSigner := cert == c.signer

		cr.KeyUsageValid, cr.KeyUsageError, cr.ExtKeyUsageValid, cr.ExtKeyUsageError = validateKeyUsage(cert, v.options)

		chains, err := cert.Verify(createVerifyOptions(v.roots))
		trusted := err == nil
		if err != nil && v.options.AllowEmbeddedCertificatesAsRoots {
			// Successfully verified with embedded certificates is not
			// trusted, only usable.
			if alt, altErr := cert.Verify(createVerifyOptions(certPool)); altErr == nil {
				chains = alt
				if isSigner {
					res.Warnings = append(res.Warnings, "signer chain verified against embedded certificates only")
				}
			}
		}
		if err != nil {
			cr.VerifyError = err.Error()
		}

		if isSigner {
			res.Trusted = trusted
			if !trusted {
				res.Errors = append(res.Errors, &common.ChainValidationError{
					Index: 0, Subject: cert.Subject.String(), Msg: "not trusted at " + res.VerificationTime.UTC().Format(time.RFC3339), Err: err,
				})
			}
			if !cr.KeyUsageValid {
				res.Errors = append(res.Errors, &PolicyError{Msg: cr.KeyUsageError})
			}
			if cr.ExtKeyUsageError != "" {
				res.Warnings = append(res.Warnings, cr.ExtKeyUsageError)
			}
		}

		var issuer *x509.Certificate
		if len(chains) > 0 && len(chains[0]) > 1 {
			issuer = chains[0][1]
		}

		serial := fmt.Sprintf("%x", cert.SerialNumber)
		if resp, ok := ocspStatus[serial]; ok {
			cr.OCSPResponse = resp
			cr.OCSPEmbedded = true
			if resp.Status == ocsp.Revoked {
				v.markRevoked(res, &cr, resp.RevokedAt)
			}
			if issuer != nil {
				if resp.Certificate != nil {
					if err := resp.Certificate.CheckSignatureFrom(issuer); err != nil {
						res.Errors = append(res.Errors, &RevocationError{Msg: "OCSP signing certificate not from certificate issuer", Err: err})
					}
				} else if err := resp.CheckSignatureFrom(issuer); err != nil {
					// CA Signed response
					res.Errors = append(res.Errors, &RevocationError{Msg: "failed to verify OCSP response signature", Err: err})
				}
			}
		}

		if at, ok := crlStatus[serial]; ok {
			cr.CRLEmbedded = true
			v.markRevoked(res, &cr, at)
		} else if len(revInfo.CRL) > 0 {
			// CRL is embedded but this certificate is not in it
			cr.CRLEmbedded = true
		}

		if v.revocation != nil && !cr.OCSPEmbedded && !cr.CRLEmbedded {
			v.checkExternal(ctx, cert, issuer, res, &cr)
		}

		cr.RevocationWarning = revocationWarning(cert, &cr)
		res.Certificates = append(res.Certificates, cr)
	}
}

func (v *Validator) markRevoked(res *Result, cr *Certificate, at time.Time) {
	res.Revoked = true
	if !at.IsZero() {
		t := at
		cr.RevocationTime = &t
		cr.RevokedBeforeSigning = at.Before(res.VerificationTime)
	}
	subject := cr.Certificate.Subject.CommonName
	if cr.RevokedBeforeSigning || at.IsZero() {
		res.Errors = append(res.Errors, &RevocationError{Msg: fmt.Sprintf("certificate %q is revoked", subject)})
	} else {
		res.Warnings = append(res.Warnings, fmt.Sprintf("certificate %q was revoked after the signature was made", subject))
	}
}

// checkExternal asks the responders named in cert for its current status.
func (v *Validator) checkExternal(ctx context.Context, cert, issuer *x509.Certificate, res *Result, cr *Certificate) {
	if len(cert.OCSPServer) == 0 && len(cert.CRLDistributionPoints) == 0 {
		return
	}
	status, err := v.revocation.Check(ctx, cert, issuer)
	switch status.Source {
	case "ocsp":
		cr.OCSPExternal = true
	case "crl":
		cr.CRLExternal = true
	}
	switch {
	case errors.Is(err, revocation.ErrRevoked):
		v.markRevoked(res, cr, status.RevokedAt)
	case err != nil:
		res.Warnings = append(res.Warnings, (&RevocationError{Msg: "external revocation check failed", Err: err}).Error())
		v.logger.Warn("revocation check failed", "op", "validate", "subject", cert.Subject.CommonName, "error", err)
	}
}

func revocationWarning(cert *x509.Certificate, cr *Certificate) string {
	hasOCSP := cr.OCSPEmbedded || cr.OCSPExternal
	hasCRL := cr.CRLEmbedded || cr.CRLExternal
	hasOCSPUrl := len(cert.OCSPServer) > 0
	hasCRLUrl := len(cert.CRLDistributionPoints) > 0

	switch {
	case cert.IsCA && cert.CheckSignatureFrom(cert) == nil:
		return ""
	case !hasOCSP && !hasCRL && (hasOCSPUrl || hasCRLUrl):
		return "No embedded revocation status found. Certificate has distribution points but external checking is not performed."
	case !hasOCSP && !hasCRL:
		return "No revocation status available. Certificate has no embedded OCSP/CRL and no distribution points for external checking."
	case !hasOCSP && hasOCSPUrl:
		return "No embedded OCSP response found, but certificate has OCSP URL for external checking."
	}
	return ""
}
