package revocation

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

var (
	ErrRevoked     = errors.New("revocation: certificate is revoked")
	ErrStale       = errors.New("revocation: response is not fresh")
	ErrNoResponder = errors.New("revocation: certificate names no OCSP responder or CRL distribution point")
)

// Cache stores fetched responses by URL.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte)
}

// MemoryCache is a thread-safe in-memory Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string][]byte),
	}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.items[key]
	return data, ok
}

func (c *MemoryCache) Put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = data
}

// Options configures how revocation status is fetched.
type Options struct {
	EmbedOCSP     bool
	EmbedCRL      bool
	PreferCRL     bool // try CRL before OCSP
	StopOnSuccess bool // stop after one status was embedded
	Cache         Cache
	Client        *http.Client
	Timeout       time.Duration // per request, 10s when zero
	Logger        *slog.Logger
}

// Fetcher downloads OCSP responses and CRLs.
type Fetcher struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
}

// NewFetcher returns a Fetcher. With both EmbedOCSP and EmbedCRL unset,
// both sources are used.
func NewFetcher(opts Options) *Fetcher {
	if !opts.EmbedOCSP && !opts.EmbedCRL {
		opts.EmbedOCSP, opts.EmbedCRL = true, true
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fetcher{opts: opts, client: client, logger: logger}
}

func (f *Fetcher) get(ctx context.Context, url string, post []byte) ([]byte, error) {
	if f.opts.Cache != nil {
		if data, ok := f.opts.Cache.Get(url + string(post)); ok {
			return data, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	method, body := http.MethodGet, io.Reader(nil)
	if post != nil {
		method, body = http.MethodPost, bytes.NewReader(post)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if post != nil {
		req.Header.Set("Content-Type", "application/ocsp-request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (f *Fetcher) put(url string, post, data []byte) {
	if f.opts.Cache != nil {
		f.opts.Cache.Put(url+string(post), data)
	}
}

// FetchOCSP asks the responders of cert for its status. Only a good status
// is returned without error.
func (f *Fetcher) FetchOCSP(ctx context.Context, cert, issuer *x509.Certificate) ([]byte, *ocsp.Response, error) {
	if issuer == nil {
		return nil, nil, errors.New("revocation: OCSP needs the issuer certificate")
	}
	if len(cert.OCSPServer) == 0 {
		return nil, nil, ErrNoResponder
	}
	req, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		return nil, nil, err
	}

	var lastErr error
	for _, url := range cert.OCSPServer {
		body, err := f.get(ctx, url, req)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := ocsp.ParseResponseForCert(body, cert, issuer)
		if err != nil {
			lastErr = fmt.Errorf("parse OCSP response from %s: %w", url, err)
			continue
		}
		switch resp.Status {
		case ocsp.Good:
		case ocsp.Revoked:
			return body, resp, fmt.Errorf("%w at %s", ErrRevoked, resp.RevokedAt.Format(time.RFC3339))
		default:
			lastErr = fmt.Errorf("OCSP status from %s is unknown", url)
			continue
		}
		if !resp.NextUpdate.IsZero() && time.Now().After(resp.NextUpdate) {
			lastErr = fmt.Errorf("%w: OCSP response expired at %s", ErrStale, resp.NextUpdate)
			continue
		}
		f.put(url, req, body)
		return body, resp, nil
	}
	return nil, nil, lastErr
}

// FetchCRL downloads the CRL of cert and checks it against issuer when
// given. A CRL listing cert yields ErrRevoked.
func (f *Fetcher) FetchCRL(ctx context.Context, cert, issuer *x509.Certificate) ([]byte, *x509.RevocationList, error) {
	if len(cert.CRLDistributionPoints) == 0 {
		return nil, nil, ErrNoResponder
	}

	var lastErr error
	for _, url := range cert.CRLDistributionPoints {
		body, err := f.get(ctx, url, nil)
		if err != nil {
			lastErr = err
			continue
		}
		crl, err := x509.ParseRevocationList(body)
		if err != nil {
			lastErr = fmt.Errorf("parse CRL from %s: %w", url, err)
			continue
		}
		if issuer != nil {
			if err := crl.CheckSignatureFrom(issuer); err != nil {
				lastErr = fmt.Errorf("CRL from %s has an invalid signature: %w", url, err)
				continue
			}
		}
		if !crl.NextUpdate.IsZero() && time.Now().After(crl.NextUpdate) {
			lastErr = fmt.Errorf("%w: CRL from %s expired at %s", ErrStale, url, crl.NextUpdate)
			continue
		}
		for _, rc := range crl.RevokedCertificateEntries {
			if rc.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return body, crl, fmt.Errorf("%w at %s", ErrRevoked, rc.RevocationTime.Format(time.RFC3339))
			}
		}
		f.put(url, nil, body)
		return body, crl, nil
	}
	return nil, nil, lastErr
}

// Embed adds the revocation status of cert to info, trying OCSP and CRL in
// the configured order. It fails only when no source could be embedded,
// or when a source reports the certificate revoked.
func (f *Fetcher) Embed(ctx context.Context, cert, issuer *x509.Certificate, info *InfoArchival) error {
	tryOCSP := func() (bool, error) {
		if !f.opts.EmbedOCSP || issuer == nil || len(cert.OCSPServer) == 0 {
			return false, nil
		}
		body, _, err := f.FetchOCSP(ctx, cert, issuer)
		if err != nil {
			return false, err
		}
		return true, info.AddOCSP(body)
	}
	tryCRL := func() (bool, error) {
		if !f.opts.EmbedCRL || len(cert.CRLDistributionPoints) == 0 {
			return false, nil
		}
		body, _, err := f.FetchCRL(ctx, cert, issuer)
		if err != nil {
			return false, err
		}
		return true, info.AddCRL(body)
	}

	first, second := tryOCSP, tryCRL
	if f.opts.PreferCRL {
		first, second = tryCRL, tryOCSP
	}

	embedded, err := first()
	if errors.Is(err, ErrRevoked) {
		return err
	}
	if embedded && f.opts.StopOnSuccess {
		return nil
	}
	embedded2, err2 := second()
	if errors.Is(err2, ErrRevoked) {
		return err2
	}
	switch {
	case embedded || embedded2:
		if err != nil || err2 != nil {
			f.logger.Debug("revocation source failed", slog.String("subject", cert.Subject.CommonName), slog.Any("error", errors.Join(err, err2)))
		}
		return nil
	case err != nil || err2 != nil:
		return errors.Join(err, err2)
	}
	return nil
}

// Status is the result of an online revocation check.
type Status struct {
	Source    string // "ocsp" or "crl"
	Revoked   bool
	RevokedAt time.Time
	Checked   time.Time
}

// Check looks up the current status of cert, OCSP first. A revoked
// certificate returns a Status with Revoked set and ErrRevoked.
func (f *Fetcher) Check(ctx context.Context, cert, issuer *x509.Certificate) (Status, error) {
	now := time.Now()
	var errs []error
	if issuer != nil && len(cert.OCSPServer) > 0 {
		_, resp, err := f.FetchOCSP(ctx, cert, issuer)
		switch {
		case err == nil:
			return Status{Source: "ocsp", Checked: now}, nil
		case errors.Is(err, ErrRevoked):
			return Status{Source: "ocsp", Revoked: true, RevokedAt: resp.RevokedAt, Checked: now}, err
		}
		errs = append(errs, err)
	}
	if len(cert.CRLDistributionPoints) > 0 {
		_, crl, err := f.FetchCRL(ctx, cert, issuer)
		switch {
		case err == nil:
			return Status{Source: "crl", Checked: now}, nil
		case errors.Is(err, ErrRevoked):
			st := Status{Source: "crl", Revoked: true, Checked: now}
			for _, rc := range crl.RevokedCertificateEntries {
				if rc.SerialNumber.Cmp(cert.SerialNumber) == 0 {
					st.RevokedAt = rc.RevocationTime
				}
			}
			return st, err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Status{}, ErrNoResponder
	}
	return Status{}, errors.Join(errs...)
}
