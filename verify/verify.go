// Package verify validates the signatures embedded in a PDF document.
package verify

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/extract"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/revocation"
)

// Validator checks signatures against a set of trust anchors. It is safe
// for concurrent use once constructed.
type Validator struct {
	options       *VerifyOptions
	roots         *x509.CertPool
	intermediates []*x509.Certificate
	logger        *slog.Logger
	revocation    *revocation.Fetcher
	now           func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithTrustAnchors replaces the system roots with certs.
func WithTrustAnchors(certs ...*x509.Certificate) Option {
	return func(v *Validator) {
		if v.roots == nil {
			v.roots = x509.NewCertPool()
		}
		for _, c := range certs {
			v.roots.AddCert(c)
		}
	}
}

// WithIntermediates adds certificates used for path building that the
// signatures may not carry themselves.
func WithIntermediates(certs ...*x509.Certificate) Option {
	return func(v *Validator) {
		v.intermediates = append(v.intermediates, certs...)
	}
}

func WithVerifyOptions(o *VerifyOptions) Option {
	return func(v *Validator) {
		if o != nil {
			v.options = o
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithRevocationCheck enables online OCSP and CRL lookups for certificates
// without embedded revocation information.
func WithRevocationCheck(f *revocation.Fetcher) Option {
	return func(v *Validator) {
		v.revocation = f
	}
}

// WithClock overrides the current time used when a signature carries
// neither a timestamp nor a signing time.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// New returns a Validator. Without WithTrustAnchors the system roots are
// used.
func New(opts ...Option) *Validator {
	v := &Validator{
		options: DefaultVerifyOptions(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) intermediatePool() *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range v.intermediates {
		pool.AddCert(c)
	}
	return pool
}

// Validate checks every signature of doc in the order they were applied.
// Problems with a signature are recorded in its Result; the error is only
// set when the context is done.
func (v *Validator) Validate(ctx context.Context, doc *pdf.Document) ([]Result, error) {
	start := time.Now()
	var results []Result
	for sig, err := range extract.Iter(doc) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return results, ctxErr
		}
		res := v.validateOne(ctx, doc, sig)
		if err != nil {
			res.Errors = append(res.Errors, &ValidationError{Msg: err.Error()})
		}
		results = append(results, res)
	}
	v.logger.Info("validated signatures", "op", "validate", "size", doc.Len(), "count", len(results), "duration", time.Since(start))
	return results, nil
}

func (v *Validator) validateOne(ctx context.Context, doc *pdf.Document, sig *extract.Signature) Result {
	res := Result{
		Index:               sig.Index,
		FieldName:           sig.FieldName,
		Name:                sig.Name(),
		Reason:              sig.Reason(),
		Location:            sig.Location(),
		ContactInfo:         sig.ContactInfo(),
		SubFilter:           sig.SubFilter(),
		CoversWholeDocument: sig.CoversWholeDocument(),
	}
	if t, ok := sig.SigningTime(); ok {
		res.SigningTime = &t
	}

	if err := checkDocMDP(doc, sig, &res); err != nil {
		res.Errors = append(res.Errors, &ValidationError{Msg: fmt.Sprintf("DocMDP validation failed: %v", err)})
	}

	c := v.verifyContainer(doc, sig, &res)
	v.verificationTime(&res)
	if c == nil || c.signer == nil {
		return res
	}
	v.buildCertificateChains(ctx, c, &res)
	v.checkTimestampAuthority(c, &res)

	v.logger.Debug("validated signature", "op", "validate", "field", res.FieldName,
		"valid", res.Valid, "trusted", res.Trusted, "intact", res.Intact)
	return res
}

// checkTimestampAuthority verifies the chain of the timestamp signer. The
// certificates of the signature itself may complete the path.
func (v *Validator) checkTimestampAuthority(c *checked, res *Result) {
	ts := res.TimeStamp
	if ts == nil || !v.options.ValidateTimestampCertificates {
		return
	}
	if len(ts.Certificates) == 0 {
		res.Warnings = append(res.Warnings, "timestamp token carries no certificates")
		return
	}
	tsa := ts.Certificates[0]
	pool := v.intermediatePool()
	for _, cert := range ts.Certificates {
		if slices.Contains(cert.ExtKeyUsage, x509.ExtKeyUsageTimeStamping) {
			tsa = cert
		}
		pool.AddCert(cert)
	}
	for _, cert := range c.p7.Certificates {
		pool.AddCert(cert)
	}
	_, err := tsa.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: pool,
		CurrentTime:   ts.Time,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
	})
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("timestamp authority not trusted: %v", err))
		return
	}
	res.TimestampTrusted = true
}
