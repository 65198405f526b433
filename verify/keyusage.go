package verify

import (
	"crypto/x509"
	"encoding/asn1"
	"slices"
)

var oidExtKeyUsageDocumentSigning = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 36}

// extKeyUsages returns the EKUs of cert, mapping the Document Signing OID
// to ExtKeyUsageDocumentSigning.
func extKeyUsages(cert *x509.Certificate) []x509.ExtKeyUsage {
	out := slices.Clone(cert.ExtKeyUsage)
	for _, oid := range cert.UnknownExtKeyUsage {
		if oid.Equal(oidExtKeyUsageDocumentSigning) {
			out = append(out, ExtKeyUsageDocumentSigning)
		}
	}
	return out
}

// validateKeyUsage validates certificate Key Usage and Extended Key Usage for PDF signing
// according to RFC 9336 and common industry practices
func validateKeyUsage(cert *x509.Certificate, options *VerifyOptions) (kuValid bool, kuError string, ekuValid bool, ekuError string) {
	// Validate Key Usage - start with valid assumption
	kuValid = true

	// Check Digital Signature bit in Key Usage
	if options.RequireDigitalSignatureKU && (cert.KeyUsage&x509.KeyUsageDigitalSignature) == 0 {
		kuValid = false
		kuError = "certificate does not have Digital Signature key usage"
	}

	// Check for Non-Repudiation (Content Commitment) if required
	if options.RequireNonRepudiation && (cert.KeyUsage&x509.KeyUsageContentCommitment) == 0 {
		kuValid = false
		if kuError != "" {
			kuError += "; certificate does not have Non-Repudiation key usage"
		} else {
			kuError = "certificate does not have Non-Repudiation key usage"
		}
	}

	usages := extKeyUsages(cert)
	if len(usages) == 0 {
		ekuValid = false
		ekuError = "certificate has no Extended Key Usage extension"
		return
	}

	hasAny := func(want []x509.ExtKeyUsage) bool {
		for _, eku := range want {
			if slices.Contains(usages, eku) {
				return true
			}
		}
		return false
	}

	switch {
	case hasAny(options.RequiredEKUs):
		ekuValid = true
	case hasAny(options.AllowedEKUs):
		ekuValid = true
		if len(options.RequiredEKUs) > 0 {
			ekuError = "certificate uses acceptable but not preferred Extended Key Usage"
		}
	case slices.Contains(usages, x509.ExtKeyUsageAny):
		ekuValid = true
		ekuError = "certificate uses ExtKeyUsageAny which is too permissive for PDF signing"
	default:
		ekuValid = false
		ekuError = "certificate does not have suitable Extended Key Usage for PDF signing"
	}

	return
}
