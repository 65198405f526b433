package verify

import (
	"crypto/x509"
	"time"

	"github.com/digitorus/timestamp"
	"golang.org/x/crypto/ocsp"
)

// ExtKeyUsageDocumentSigning stands for the Document Signing EKU
// (1.3.6.1.5.5.7.3.36) of RFC 9336, which crypto/x509 does not know.
const ExtKeyUsageDocumentSigning = x509.ExtKeyUsage(36)

// VerifyOptions contains options for PDF signature verification
type VerifyOptions struct {
	// RequiredEKUs specifies the Extended Key Usages that must be present
	// Default: Document Signing EKU (1.3.6.1.5.5.7.3.36) per RFC 9336
	RequiredEKUs []x509.ExtKeyUsage

	// AllowedEKUs specifies additional Extended Key Usages that are acceptable
	// Common alternatives: Email Protection (1.3.6.1.5.5.7.3.4), Client Auth (1.3.6.1.5.5.7.3.2)
	AllowedEKUs []x509.ExtKeyUsage

	// RequireDigitalSignatureKU requires the Digital Signature bit in Key Usage
	RequireDigitalSignatureKU bool

	// RequireNonRepudiation requires the Non-Repudiation bit in Key Usage (mandatory for highest security)
	RequireNonRepudiation bool

	// AllowEmbeddedCertificatesAsRoots when true, allows using certificates embedded in the PDF as trusted roots
	// WARNING: This makes signatures appear valid even if they're self-signed or from untrusted CAs
	// Only enable this for testing or when you explicitly trust the embedded certificates
	AllowEmbeddedCertificatesAsRoots bool

	// ValidateTimestampCertificates when true, verifies the chain of the
	// timestamp authority against the trust anchors.
	ValidateTimestampCertificates bool

	// AllowedAlgorithms restricts the public key algorithms of the signer.
	AllowedAlgorithms []x509.PublicKeyAlgorithm
	MinRSAKeySize     int
	MinECDSAKeySize   int

	// ValidateFullChain applies the algorithm policy to every certificate
	// instead of only the signer.
	ValidateFullChain bool
}

// DefaultVerifyOptions returns the options used when none are given.
func DefaultVerifyOptions() *VerifyOptions {
	return &VerifyOptions{
		RequiredEKUs:                  []x509.ExtKeyUsage{ExtKeyUsageDocumentSigning},
		AllowedEKUs:                   []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection, x509.ExtKeyUsageClientAuth},
		RequireDigitalSignatureKU:     true,
		ValidateTimestampCertificates: true,
		MinRSAKeySize:                 2048,
		MinECDSAKeySize:               256,
	}
}

// Result is the outcome of validating one signature.
type Result struct {
	Index       int    `json:"index"`
	FieldName   string `json:"field_name"`
	Name        string `json:"name"`
	Reason      string `json:"reason"`
	Location    string `json:"location"`
	ContactInfo string `json:"contact_info"`
	SubFilter   string `json:"sub_filter"`

	Signer        *x509.Certificate    `json:"-"`
	SignerName    string               `json:"signer_name"`
	SigningTime   *time.Time           `json:"signing_time,omitempty"`
	TimestampTime *time.Time           `json:"timestamp_time,omitempty"`
	TimeStamp     *timestamp.Timestamp `json:"-"`
	HashAlgorithm string               `json:"hash_algorithm"`
	Algorithm     string               `json:"signature_algorithm"`

	// Valid means the digest matches and the signature value verifies
	// against the embedded signer certificate.
	Valid               bool `json:"valid_signature"`
	Trusted             bool `json:"trusted_issuer"`
	Intact              bool `json:"intact"`
	CoversWholeDocument bool `json:"covers_whole_document"`
	Revoked             bool `json:"revoked_certificate"`
	TimestampTrusted    bool `json:"timestamp_trusted"`

	Certificates     []Certificate `json:"certificates"`
	VerificationTime time.Time     `json:"verification_time"`
	TimeSource       string        `json:"time_source"`

	Errors   []error  `json:"-"`
	Warnings []string `json:"warnings,omitempty"`
}

// OK reports whether the signature is valid, trusted and unrevoked over
// unmodified bytes, with no errors recorded.
func (r *Result) OK() bool {
	return r.Valid && r.Trusted && r.Intact && !r.Revoked && len(r.Errors) == 0
}

// ErrorStrings returns the messages of Errors.
func (r *Result) ErrorStrings() []string {
	out := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		out = append(out, err.Error())
	}
	return out
}

type Certificate struct {
	Certificate       *x509.Certificate `json:"certificate"`
	VerifyError       string            `json:"verify_error"`
	KeyUsageValid     bool              `json:"key_usage_valid"`
	KeyUsageError     string            `json:"key_usage_error,omitempty"`
	ExtKeyUsageValid  bool              `json:"ext_key_usage_valid"`
	ExtKeyUsageError  string            `json:"ext_key_usage_error,omitempty"`
	OCSPResponse      *ocsp.Response    `json:"ocsp_response"`
	OCSPEmbedded      bool              `json:"ocsp_embedded"`
	OCSPExternal      bool              `json:"ocsp_external"`
	CRLEmbedded       bool              `json:"crl_embedded"`
	CRLExternal       bool              `json:"crl_external"`
	RevocationWarning string            `json:"revocation_warning,omitempty"`
	RevocationTime    *time.Time        `json:"revocation_time,omitempty"` // When the certificate was revoked (if applicable)
	// RevokedBeforeSigning is set when the revocation predates the
	// verification time.
	RevokedBeforeSigning bool `json:"revoked_before_signing"`
}
