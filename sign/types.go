package sign

import (
	"crypto"
	"crypto/x509"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
)

// Credentials are the signing certificate and its key.
type Credentials struct {
	Certificate *x509.Certificate
	Signer      crypto.Signer

	// Chain holds the issuers of Certificate, leaf excluded, nearest first.
	Chain []*x509.Certificate

	// Secret is decoded key material. It is zeroed when the signing call
	// that uses the credentials returns.
	Secret []byte
}

// TSA is an RFC 3161 timestamp authority.
type TSA struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration // 30s when zero
}

// Options describe one signature.
type Options struct {
	Name        string
	Reason      string
	Location    string
	ContactInfo string

	Appearance common.Appearance

	Hash      common.HashAlgorithm
	Algorithm common.SignatureAlgorithm

	TSA TSA

	// SigningTime is written to /M and used for appearance text. Zero
	// means now.
	SigningTime time.Time

	// FieldName signs an existing field. When empty a new field is
	// created.
	FieldName string

	// EmbedRevocation adds OCSP responses and CRLs of the chain as a
	// signed attribute.
	EmbedRevocation bool
}

// Result is a signed document.
type Result struct {
	Data      []byte
	Document  *pdf.Document
	Field     common.SignatureField
	ByteRange [4]int64
	Container []byte
	Algorithm common.Algorithm

	// Warnings are problems that did not prevent signing, such as an
	// unreachable timestamp authority.
	Warnings []error
}
