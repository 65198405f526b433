package certificate

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/revocation"
)

// maxChainLength bounds path building against issuer loops.
const maxChainLength = 10

// Manager builds and validates certificate chains. The zero value builds
// chains and checks signatures and validity windows only.
type Manager struct {
	anchors    []*x509.Certificate
	revocation *revocation.Fetcher
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTrustAnchors restricts ValidateChain to chains ending in one of
// certs.
func WithTrustAnchors(certs ...*x509.Certificate) Option {
	return func(m *Manager) {
		m.anchors = append(m.anchors, certs...)
	}
}

// WithRevocation makes ValidateChain ask the responders of every
// certificate below the anchor.
func WithRevocation(f *revocation.Fetcher) Option {
	return func(m *Manager) {
		m.revocation = f
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return m.logger
}

// Anchors returns the configured trust anchors.
func (m *Manager) Anchors() []*x509.Certificate {
	return m.anchors
}

// BuildChain links leaf to its issuers taken from pool and the trust
// anchors. The result starts with leaf and stops at a self-signed
// certificate or where no issuer is known.
func (m *Manager) BuildChain(leaf *x509.Certificate, pool []*x509.Certificate) ([]*x509.Certificate, error) {
	if leaf == nil {
		return nil, errors.New("certificate: nil leaf")
	}
	candidates := append(append([]*x509.Certificate{}, pool...), m.anchors...)
	chain := []*x509.Certificate{leaf}
	cur := leaf
	for len(chain) < maxChainLength && !isSelfSigned(cur) {
		issuer := findIssuer(cur, candidates, chain)
		if issuer == nil {
			break
		}
		chain = append(chain, issuer)
		cur = issuer
	}
	if len(chain) == maxChainLength && !isSelfSigned(cur) {
		return nil, &common.ChainValidationError{Index: len(chain) - 1, Subject: cur.Subject.String(), Msg: "chain too long"}
	}
	return chain, nil
}

// findIssuer returns the candidate whose key signed c. Authority and
// subject key identifiers narrow the search when both are present.
func findIssuer(c *x509.Certificate, candidates, used []*x509.Certificate) *x509.Certificate {
	for _, cand := range candidates {
		if containsCert(used, cand) {
			continue
		}
		if !bytes.Equal(c.RawIssuer, cand.RawSubject) {
			continue
		}
		if len(c.AuthorityKeyId) > 0 && len(cand.SubjectKeyId) > 0 && !bytes.Equal(c.AuthorityKeyId, cand.SubjectKeyId) {
			continue
		}
		if c.CheckSignatureFrom(cand) == nil {
			return cand
		}
	}
	return nil
}

func isSelfSigned(c *x509.Certificate) bool {
	return bytes.Equal(c.RawIssuer, c.RawSubject) && c.CheckSignature(c.SignatureAlgorithm, c.RawTBSCertificate, c.Signature) == nil
}

// ValidateChain checks chain, leaf first, at time at. Every link must be
// signed by the next certificate and valid at at. With trust anchors
// configured the last certificate must be one of them, or be signed by
// one. With revocation enabled every certificate below the top is checked
// online. The first broken link is returned as a ChainValidationError.
func (m *Manager) ValidateChain(ctx context.Context, chain []*x509.Certificate, at time.Time) error {
	if len(chain) == 0 {
		return &common.ChainValidationError{Index: 0, Msg: "empty chain"}
	}
	broken := func(i int, msg string, err error) error {
		m.log().Debug("chain link rejected", "op", "validate_chain", "index", i, "subject", chain[i].Subject.CommonName, "reason", msg)
		return &common.ChainValidationError{Index: i, Subject: chain[i].Subject.String(), Msg: msg, Err: err}
	}

	for i, c := range chain {
		if at.Before(c.NotBefore) {
			return broken(i, fmt.Sprintf("not valid before %s", c.NotBefore.UTC().Format(time.RFC3339)), nil)
		}
		if at.After(c.NotAfter) {
			return broken(i, fmt.Sprintf("expired at %s", c.NotAfter.UTC().Format(time.RFC3339)), nil)
		}
		if i+1 < len(chain) {
			issuer := chain[i+1]
			if !issuer.IsCA {
				return broken(i+1, "issuer is not a CA", nil)
			}
			if err := c.CheckSignatureFrom(issuer); err != nil {
				return broken(i, "signature does not verify against the next certificate", err)
			}
		}
	}

	top := chain[len(chain)-1]
	if len(m.anchors) > 0 && !m.anchored(top) {
		return broken(len(chain)-1, "does not chain to a trust anchor", nil)
	}

	if m.revocation != nil {
		for i := 0; i+1 < len(chain); i++ {
			c := chain[i]
			if len(c.OCSPServer) == 0 && len(c.CRLDistributionPoints) == 0 {
				continue
			}
			status, err := m.revocation.Check(ctx, c, chain[i+1])
			switch {
			case errors.Is(err, revocation.ErrRevoked):
				return broken(i, fmt.Sprintf("revoked (%s)", status.Source), err)
			case err != nil:
				return broken(i, "revocation status unavailable", err)
			}
		}
	}
	return nil
}

func (m *Manager) anchored(top *x509.Certificate) bool {
	for _, a := range m.anchors {
		if a.Equal(top) {
			return true
		}
		if bytes.Equal(top.RawIssuer, a.RawSubject) && top.CheckSignatureFrom(a) == nil {
			return true
		}
	}
	return false
}
