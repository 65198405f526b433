// Package pdfsign signs PDF documents with CMS (PKCS#7) signatures and
// validates the signatures it finds. Documents are only ever extended
// through incremental updates, so earlier signatures stay intact.
//
// Basic usage:
//
//	engine, err := pdfsign.New(pdfsign.WithTrustAnchors(root))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	signed, err := engine.SignDocument(ctx, input, certPEM, keyPEM, "", &sign.Options{
//	    Reason:   "Approved",
//	    Location: "Amsterdam",
//	})
//
//	results, err := engine.ValidateSignatures(ctx, signed)
package pdfsign

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/batch"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/certificate"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/config"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/extract"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/forms"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/revocation"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/sign"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/verify"
)

// Engine bundles signing, validation, field management and batch
// processing behind one set of trust settings. It is safe for concurrent
// use.
type Engine struct {
	cfg       config.Config
	defaults  *sign.Options
	logger    *slog.Logger
	signer    *sign.Signer
	validator *verify.Validator
	certs     *certificate.Manager
	forms     *forms.Manager
	batch     *batch.Processor
}

type engineOptions struct {
	cfg           *config.Config
	logger        *slog.Logger
	anchors       []*x509.Certificate
	intermediates []*x509.Certificate
	fetcher       *revocation.Fetcher
	client        *http.Client
	clock         func() time.Time
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithConfig applies cfg. Trust files named in cfg are loaded by New.
func WithConfig(cfg config.Config) Option {
	return func(o *engineOptions) {
		o.cfg = &cfg
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = l
	}
}

// WithTrustAnchors adds trusted root certificates.
func WithTrustAnchors(certs ...*x509.Certificate) Option {
	return func(o *engineOptions) {
		o.anchors = append(o.anchors, certs...)
	}
}

// WithIntermediates adds certificates used to complete chains.
func WithIntermediates(certs ...*x509.Certificate) Option {
	return func(o *engineOptions) {
		o.intermediates = append(o.intermediates, certs...)
	}
}

// WithRevocation checks OCSP and CRL endpoints through f while validating
// and embeds their answers when signing with EmbedRevocation.
func WithRevocation(f *revocation.Fetcher) Option {
	return func(o *engineOptions) {
		o.fetcher = f
	}
}

// WithHTTPClient is used to reach timestamp authorities.
func WithHTTPClient(c *http.Client) Option {
	return func(o *engineOptions) {
		o.client = c
	}
}

// WithClock replaces the validation clock.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) {
		o.clock = now
	}
}

// New builds an Engine.
func New(opts ...Option) (*Engine, error) {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	cfg := config.Default()
	if o.cfg != nil {
		cfg = *o.cfg
		if err := cfg.ValidateFields(); err != nil {
			return nil, err
		}
	}
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	anchors, intermediates, err := cfg.Trust.LoadTrust()
	if err != nil {
		return nil, err
	}
	anchors = append(anchors, o.anchors...)
	intermediates = append(intermediates, o.intermediates...)

	fetcher := o.fetcher
	if fetcher == nil && (cfg.Trust.CheckRevocation || cfg.Signing.EmbedRevocation) {
		fetcher = revocation.NewFetcher(revocation.Options{
			Cache:  revocation.NewMemoryCache(),
			Logger: logger,
		})
	}

	defaults, err := cfg.SignOptions()
	if err != nil {
		return nil, err
	}

	signOpts := []sign.Option{sign.WithLogger(logger)}
	if o.client != nil {
		signOpts = append(signOpts, sign.WithHTTPClient(o.client))
	}
	certOpts := []certificate.Option{certificate.WithTrustAnchors(anchors...), certificate.WithLogger(logger)}
	verifyOpts := []verify.Option{
		verify.WithTrustAnchors(anchors...),
		verify.WithIntermediates(intermediates...),
		verify.WithLogger(logger),
	}
	if fetcher != nil {
		signOpts = append(signOpts, sign.WithRevocationFetcher(fetcher))
		certOpts = append(certOpts, certificate.WithRevocation(fetcher))
		if cfg.Trust.CheckRevocation || o.fetcher != nil {
			verifyOpts = append(verifyOpts, verify.WithRevocationCheck(fetcher))
		}
	}
	if o.clock != nil {
		verifyOpts = append(verifyOpts, verify.WithClock(o.clock))
	}

	e := &Engine{
		cfg:       cfg,
		defaults:  defaults,
		logger:    logger,
		signer:    sign.New(signOpts...),
		validator: verify.New(verifyOpts...),
		certs:     certificate.NewManager(certOpts...),
		forms:     forms.NewManager(logger),
	}
	e.batch, err = batch.New(cfg.BatchConfig(),
		batch.WithSigner(e.signer),
		batch.WithValidator(e.validator),
		batch.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Close flushes pending batch work.
func (e *Engine) Close() error {
	return e.batch.Close()
}

// GetCapabilities lists the supported algorithms, PDF versions and
// standards.
func GetCapabilities() common.Capabilities {
	return common.SupportedCapabilities()
}

// options fills the zero fields of opts from the configured defaults. The
// caller's value is not modified.
func (e *Engine) options(opts *sign.Options) *sign.Options {
	merged := *e.defaults
	if opts == nil {
		return &merged
	}
	o := *opts
	if o.Reason == "" {
		o.Reason = merged.Reason
	}
	if o.Location == "" {
		o.Location = merged.Location
	}
	if o.ContactInfo == "" {
		o.ContactInfo = merged.ContactInfo
	}
	if o.Hash == common.HashDefault {
		o.Hash = merged.Hash
	}
	if o.Algorithm == common.SignatureDefault {
		o.Algorithm = merged.Algorithm
	}
	if o.TSA.URL == "" {
		o.TSA = merged.TSA
	}
	o.EmbedRevocation = o.EmbedRevocation || merged.EmbedRevocation
	return &o
}

// SignDocument loads the PEM encoded certificate and key, optionally
// encrypted with password, and signs data. An empty keyPEM means the key
// is part of certPEM.
func (e *Engine) SignDocument(ctx context.Context, data, certPEM, keyPEM []byte, password string, opts *sign.Options) ([]byte, error) {
	bundle, err := certificate.LoadPEM(certPEM, keyPEM, password)
	if err != nil {
		return nil, err
	}
	res, err := e.Sign(ctx, data, bundle.Credentials(), opts)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Sign signs data with creds. A new invisible field is created unless
// opts names an existing one.
func (e *Engine) Sign(ctx context.Context, data []byte, creds *sign.Credentials, opts *sign.Options) (*sign.Result, error) {
	doc, err := pdf.Parse(data)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := e.signer.Sign(ctx, doc, creds, e.options(opts))
	if err != nil {
		return nil, err
	}
	e.logger.Info("document signed", "op", "sign", "field", res.Field.Name,
		"algorithm", res.Algorithm.String(), "size", len(res.Data), "duration", time.Since(start))
	for _, w := range res.Warnings {
		e.logger.Warn("signed with warning", "op", "sign", "field", res.Field.Name, "error", w)
	}
	return res, nil
}

// SignDocumentWithField signs through the existing field fieldName. Its
// predefined bounds are kept whatever the appearance asks for.
func (e *Engine) SignDocumentWithField(ctx context.Context, data []byte, fieldName string, creds *sign.Credentials, opts *sign.Options) (*sign.Result, error) {
	if fieldName == "" {
		return nil, &common.FieldNotFoundError{Name: fieldName}
	}
	o := sign.Options{}
	if opts != nil {
		o = *opts
	}
	o.FieldName = fieldName
	return e.Sign(ctx, data, creds, &o)
}

// AddSignatureField appends an empty signature field.
func (e *Engine) AddSignatureField(data []byte, spec forms.FieldSpec) ([]byte, common.SignatureField, error) {
	doc, err := pdf.Parse(data)
	if err != nil {
		return nil, common.SignatureField{}, err
	}
	out, field, err := e.forms.AddField(doc, spec)
	if err != nil {
		return nil, common.SignatureField{}, err
	}
	return out.Bytes(), field, nil
}

// SignatureFields lists the signature fields of data in document order.
func (e *Engine) SignatureFields(data []byte) ([]common.SignatureField, error) {
	doc, err := pdf.Parse(data)
	if err != nil {
		return nil, err
	}
	return e.forms.Fields(doc)
}

// ValidateSignatures validates every signature of data. Problems of a
// single signature are reported in its Result. Only unreadable documents
// return an error.
func (e *Engine) ValidateSignatures(ctx context.Context, data []byte) ([]verify.Result, error) {
	doc, err := pdf.Parse(data)
	if err != nil {
		return nil, err
	}
	return e.validator.Validate(ctx, doc)
}

// ExtractSignatures returns the embedded containers without validating
// them.
func (e *Engine) ExtractSignatures(data []byte) ([]common.Pkcs7Signature, error) {
	doc, err := pdf.Parse(data)
	if err != nil {
		return nil, err
	}
	return extract.Containers(doc)
}

// CheckDocumentIntegrity reports whether signature index still matches the
// bytes it covers. Unreadable documents and unknown indexes are not intact.
func (e *Engine) CheckDocumentIntegrity(data []byte, index int) bool {
	doc, err := pdf.Parse(data)
	if err != nil {
		return false
	}
	return e.validator.CheckIntegrity(doc, index)
}

// DetectTampering reports the integrity of signature index and what later
// revisions changed.
func (e *Engine) DetectTampering(data []byte, index int) verify.TamperReport {
	doc, err := pdf.Parse(data)
	if err != nil {
		return verify.TamperReport{
			Index:  index,
			Status: verify.Corrupted,
			Modifications: []verify.Modification{{
				Type:        verify.ContentChanged,
				Description: err.Error(),
			}},
		}
	}
	return e.validator.DetectTampering(doc, index)
}

// VerifyCredentials checks the chain of creds against the trust anchors
// at the current time.
func (e *Engine) VerifyCredentials(ctx context.Context, creds *sign.Credentials) error {
	if creds == nil || creds.Certificate == nil {
		return &common.CredentialError{Msg: "no certificate"}
	}
	chain, err := e.certs.BuildChain(creds.Certificate, creds.Chain)
	if err != nil {
		return err
	}
	return e.certs.ValidateChain(ctx, chain, time.Now())
}

// SignMultipleDocuments signs docs in parallel through the batch
// processor. Results are in input order and failures are reported per
// document. Every operation gets its own copy of the key material; the
// caller's copy is zeroed once all of them finished.
func (e *Engine) SignMultipleDocuments(ctx context.Context, docs [][]byte, creds *sign.Credentials, opts *sign.Options) []batch.Result {
	merged := e.options(opts)
	chans := make([]<-chan batch.Result, len(docs))
	for i, doc := range docs {
		var c *sign.Credentials
		if creds != nil {
			cp := *creds
			cp.Secret = bytes.Clone(creds.Secret)
			c = &cp
		}
		o := *merged
		chans[i] = e.batch.Submit(batch.SignOperation(doc, c, &o))
	}
	if err := e.batch.Flush(ctx); err != nil {
		e.logger.Warn("batch flush interrupted", "op", "sign_multiple", "error", err)
	}

	results := make([]batch.Result, len(docs))
	for i, ch := range chans {
		select {
		case results[i] = <-ch:
		case <-ctx.Done():
			results[i] = batch.Result{Kind: batch.Sign, Err: fmt.Errorf("pdfsign: waiting for document %d: %w", i, ctx.Err())}
		}
	}
	if creds != nil {
		clear(creds.Secret)
	}
	return results
}

// ClearQueue drops batch operations that were not dispatched yet and
// returns their number.
func (e *Engine) ClearQueue() int {
	return e.batch.ClearQueue()
}

// Statistics returns the aggregated batch statistics.
func (e *Engine) Statistics() batch.Stats {
	return e.batch.Stats()
}
