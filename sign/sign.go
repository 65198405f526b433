// Package sign embeds detached CMS signatures into PDF documents as
// incremental updates.
package sign

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/forms"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/incremental"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/render"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/resource"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/revocation"
)

// maxAttempts bounds how often the revision is rebuilt with a larger
// Contents placeholder.
const maxAttempts = 3

var ErrFieldSigned = errors.New("sign: field is already signed")

// Signer signs documents. It is safe for concurrent use.
type Signer struct {
	logger     *slog.Logger
	client     *http.Client
	revocation *revocation.Fetcher
}

// Option configures a Signer.
type Option func(*Signer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Signer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHTTPClient sets the client used for timestamp requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Signer) {
		if c != nil {
			s.client = c
		}
	}
}

// WithRevocationFetcher sets where OCSP responses and CRLs are fetched from
// when Options.EmbedRevocation is set.
func WithRevocationFetcher(f *revocation.Fetcher) Option {
	return func(s *Signer) {
		if f != nil {
			s.revocation = f
		}
	}
}

// New returns a Signer.
func New(opts ...Option) *Signer {
	s := &Signer{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		client: &http.Client{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.revocation == nil {
		s.revocation = revocation.NewFetcher(revocation.Options{Client: s.client, Logger: s.logger})
	}
	return s
}

// plan is everything decided before the revision is written.
type plan struct {
	opts        *Options
	signingTime time.Time

	name     string
	existing *pdf.Field
	page     pdf.Page
	bounds   common.Rectangle
	visible  bool
	spec     render.Spec
}

// Sign appends a signature revision to doc. Nothing is written when the
// credentials, the algorithm, the field or the appearance are unusable.
func (s *Signer) Sign(ctx context.Context, doc *pdf.Document, creds *Credentials, opts *Options) (*Result, error) {
	start := time.Now()
	if opts == nil {
		opts = &Options{}
	}
	if creds == nil {
		return nil, &common.CredentialError{Msg: "no credentials"}
	}
	if err := ValidateSignerCertificateMatch(creds.Signer, creds.Certificate); err != nil {
		return nil, &common.CredentialError{Msg: "signer does not match certificate", Err: err}
	}
	alg, err := common.ResolveAlgorithm(creds.Certificate.PublicKey, opts.Algorithm, opts.Hash)
	if err != nil {
		return nil, err
	}

	scope := resource.NewScope(s.logger)
	defer func() {
		if err := scope.Close(); err != nil {
			s.logger.Warn("cleanup failed", slog.String("op", "sign"), slog.Any("error", err))
		}
	}()
	if len(creds.Secret) > 0 {
		scope.RegisterSecureMemory(creds.Secret)
	}

	p, err := s.prepare(doc, creds, opts)
	if err != nil {
		return nil, err
	}

	var warnings []error
	var rev *revocation.InfoArchival
	if opts.EmbedRevocation {
		rev, warnings, err = s.collectRevocation(ctx, creds)
		if err != nil {
			return nil, err
		}
	}

	builder := &containerBuilder{
		creds:  creds,
		alg:    alg,
		rev:    rev,
		tsa:    opts.TSA,
		client: s.client,
	}
	size, err := estimateSize(creds, alg, rev, opts.TSA.URL != "")
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, sigRef, err := s.write(doc, p, size)
		if err != nil {
			return nil, err
		}
		ph, err := locate(res, res.Offsets[sigRef.ID], size)
		if err != nil {
			return nil, err
		}
		br := pdf.ByteRanges(ph.contentsStart, ph.contentsEnd, res.Len())
		if err := fillByteRange(res, ph, br); err != nil {
			return nil, err
		}

		container, tsWarnings, err := builder.build(ctx, signedContent(res.Bytes(), br))
		if err != nil {
			return nil, err
		}
		if n := hex.EncodedLen(len(container)); n > size {
			s.logger.Debug("signature placeholder too small",
				slog.String("op", "sign"),
				slog.Int("size", size),
				slog.Int("needed", n),
				slog.Int("attempt", attempt))
			size += n - size + 1
			continue
		}
		if err := fillContents(res, ph, container); err != nil {
			return nil, err
		}

		next, err := doc.Append(res.Increment())
		if err != nil {
			return nil, fmt.Errorf("sign: reparse signed revision: %w", err)
		}
		warnings = append(warnings, tsWarnings...)
		for _, w := range warnings {
			s.logger.Warn("signed with warning", slog.String("op", "sign"), slog.String("field", p.name), slog.Any("error", w))
		}
		s.logger.Info("document signed",
			slog.String("op", "sign"),
			slog.String("field", p.name),
			slog.String("algorithm", alg.String()),
			slog.Int64("size", res.Len()),
			slog.Duration("duration", time.Since(start)))

		field := common.SignatureField{
			Name:       p.name,
			Page:       p.pageIndex(),
			Bounds:     p.bounds,
			Signed:     true,
			Predefined: p.existing != nil,
		}
		return &Result{
			Data:      next.Bytes(),
			Document:  next,
			Field:     field,
			ByteRange: br,
			Container: container,
			Algorithm: alg,
			Warnings:  warnings,
		}, nil
	}
	return nil, &common.CryptoError{
		Op:        "reserve signature space",
		Algorithm: alg.String(),
		Err:       fmt.Errorf("container still exceeds %d hex digits after %d attempts", size, maxAttempts),
	}
}

func (p *plan) pageIndex() int {
	if p.existing != nil {
		return p.existing.Page
	}
	return p.opts.Appearance.Page
}

// prepare resolves the field and the appearance.
func (s *Signer) prepare(doc *pdf.Document, creds *Credentials, opts *Options) (*plan, error) {
	p := &plan{
		opts:        opts,
		signingTime: opts.SigningTime,
		visible:     opts.Appearance.Visible,
	}
	if p.signingTime.IsZero() {
		p.signingTime = time.Now()
	}

	if opts.FieldName != "" {
		f, err := doc.Field(opts.FieldName)
		if err != nil {
			return nil, err
		}
		if f.Signed {
			return nil, fmt.Errorf("%w: %q", ErrFieldSigned, f.Name)
		}
		if f.Ref.IsZero() {
			return nil, fmt.Errorf("sign: field %q is not an indirect object", f.Name)
		}
		p.existing = &f
		p.name = f.Name
		p.bounds = f.Bounds
	} else {
		name, err := newFieldName(doc)
		if err != nil {
			return nil, err
		}
		p.name = name

		pages, err := doc.Pages()
		if err != nil {
			return nil, err
		}
		pi := opts.Appearance.Page
		if pi < 0 || pi >= len(pages) {
			return nil, fmt.Errorf("sign: page %d out of range, document has %d pages", pi, len(pages))
		}
		p.page = pages[pi]
	}

	if !p.visible {
		return p, nil
	}

	var field common.SignatureField
	if p.existing != nil {
		field = p.existing.SignatureField
	}
	bounds, err := forms.EffectiveBounds(field, opts.Appearance.Bounds)
	if err != nil {
		return nil, err
	}
	p.bounds = bounds

	spec, err := render.NewSpec(opts.Appearance)
	if err != nil {
		return nil, err
	}
	signerName := opts.Name
	if signerName == "" {
		signerName = creds.Certificate.Subject.CommonName
	}
	spec.Text = render.Expand(spec.Text, render.Vars{
		Name:     signerName,
		Date:     p.signingTime,
		Reason:   opts.Reason,
		Location: opts.Location,
		Contact:  opts.ContactInfo,
	})
	if err := render.Validate(bounds, spec); err != nil {
		return nil, err
	}
	p.spec = spec
	return p, nil
}

// newFieldName returns the first free name of the form "SignatureN".
func newFieldName(doc *pdf.Document) (string, error) {
	names, err := doc.FieldNames()
	if err != nil {
		return "", err
	}
	used := make(map[string]bool, len(names))
	for _, n := range names {
		used[n] = true
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("Signature%d", i)
		if !used[name] {
			return name, nil
		}
	}
}

// write builds the signature revision with placeholders of size hex
// digits.
func (s *Signer) write(doc *pdf.Document, p *plan, size int) (*incremental.Result, pdf.Ref, error) {
	u := incremental.New(doc)
	sigRef := u.AddObject(pdf.Serialize(signatureDict(p.opts, p.signingTime, size)))

	var ap pdf.Dict
	if p.visible {
		apRef, err := render.Render(p.bounds, p.spec, u)
		if err != nil {
			return nil, pdf.Ref{}, err
		}
		ap = pdf.Dict{"N": apRef}
	}

	const flags = forms.SigFlagSignaturesExist | forms.SigFlagAppendOnly
	if f := p.existing; f != nil {
		fieldDict, ok := doc.ResolveDict(f.Ref)
		if !ok {
			return nil, pdf.Ref{}, fmt.Errorf("sign: field %q cannot be resolved", f.Name)
		}
		fieldDict = fieldDict.Clone()
		fieldDict["V"] = sigRef
		if ap != nil && f.Widget == f.Ref {
			fieldDict["AP"] = ap
		}
		if err := u.UpdateObject(f.Ref.ID, pdf.Serialize(fieldDict)); err != nil {
			return nil, pdf.Ref{}, err
		}
		if ap != nil && f.Widget != f.Ref {
			widget, ok := doc.ResolveDict(f.Widget)
			if !ok {
				return nil, pdf.Ref{}, fmt.Errorf("sign: widget of field %q cannot be resolved", f.Name)
			}
			widget = widget.Clone()
			widget["AP"] = ap
			if err := u.UpdateObject(f.Widget.ID, pdf.Serialize(widget)); err != nil {
				return nil, pdf.Ref{}, err
			}
		}
		if err := forms.SetSigFlags(u, flags); err != nil {
			return nil, pdf.Ref{}, err
		}
	} else {
		widget := forms.NewWidget(p.name, p.page.Ref, p.bounds)
		widget["V"] = sigRef
		if ap != nil {
			widget["AP"] = ap
		}
		ref := u.AddObject(pdf.Serialize(widget))
		if err := forms.AppendAnnotation(u, p.page, ref); err != nil {
			return nil, pdf.Ref{}, err
		}
		if err := forms.RegisterField(u, ref, flags); err != nil {
			return nil, pdf.Ref{}, err
		}
	}

	res, err := u.Write()
	if err != nil {
		return nil, pdf.Ref{}, err
	}
	return res, sigRef, nil
}

// collectRevocation embeds the status of every certificate of the chain
// that names a responder. Unreachable responders are warnings, a revoked
// certificate is an error.
func (s *Signer) collectRevocation(ctx context.Context, creds *Credentials) (*revocation.InfoArchival, []error, error) {
	info := &revocation.InfoArchival{}
	var warnings []error

	certs := append([]*x509.Certificate{creds.Certificate}, creds.Chain...)
	for i, c := range certs {
		var issuer *x509.Certificate
		if i+1 < len(certs) {
			issuer = certs[i+1]
		}
		if len(c.OCSPServer) == 0 && len(c.CRLDistributionPoints) == 0 {
			continue
		}
		err := s.revocation.Embed(ctx, c, issuer, info)
		switch {
		case errors.Is(err, revocation.ErrRevoked):
			return nil, nil, &common.CredentialError{Msg: fmt.Sprintf("certificate %q is revoked", c.Subject.CommonName), Err: err}
		case err != nil:
			warnings = append(warnings, fmt.Errorf("revocation of %q: %w", c.Subject.CommonName, err))
		}
	}
	return info, warnings, nil
}
