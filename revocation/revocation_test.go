package revocation

import (
	"context"
	"crypto/x509"
	"errors"
	"math/big"
	"testing"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/testpki"
)

func TestInfoArchival(t *testing.T) {
	info := InfoArchival{}
	if !info.Empty() {
		t.Error("new archival should be empty")
	}
	if err := info.AddCRL([]byte("crl")); err != nil {
		t.Errorf("AddCRL failed: %v", err)
	}
	if err := info.AddOCSP([]byte("ocsp")); err != nil {
		t.Errorf("AddOCSP failed: %v", err)
	}
	if len(info.CRL) != 1 || len(info.OCSP) != 1 {
		t.Error("responses were not appended")
	}
	if got := info.EncodedLen(); got != 14 {
		t.Errorf("EncodedLen = %d, want 14", got)
	}
	// Unparseable data never counts as revoked.
	if info.IsRevoked(&x509.Certificate{SerialNumber: big.NewInt(1)}) {
		t.Error("garbage reported as revoked")
	}
}

func TestIsRevokedFromCRL(t *testing.T) {
	pki := testpki.New(t)
	pki.StartServer()
	defer pki.Close()

	info := InfoArchival{}
	_ = info.AddCRL(pki.CRLBytes)

	// The test CRL revokes serial 9999.
	if !info.IsRevoked(&x509.Certificate{SerialNumber: big.NewInt(9999)}) {
		t.Error("revoked serial not detected")
	}
	if info.IsRevoked(&x509.Certificate{SerialNumber: big.NewInt(1)}) {
		t.Error("good serial reported as revoked")
	}
}

func TestEmbed(t *testing.T) {
	pki := testpki.New(t)
	pki.StartServer()
	defer pki.Close()
	_, leaf := pki.IssueLeaf("Revocation User")
	issuer := pki.Chain()[0]

	cache := NewMemoryCache()
	f := NewFetcher(Options{Cache: cache})

	var info InfoArchival
	if err := f.Embed(context.Background(), leaf, issuer, &info); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(info.OCSP) != 1 || len(info.CRL) != 1 {
		t.Errorf("embedded %d OCSP and %d CRL, want 1 each", len(info.OCSP), len(info.CRL))
	}

	// Second round is served from the cache.
	ocspBefore, crlBefore := pki.OCSPRequests.Load(), pki.CRLRequests.Load()
	var again InfoArchival
	if err := f.Embed(context.Background(), leaf, issuer, &again); err != nil {
		t.Fatal(err)
	}
	if pki.OCSPRequests.Load() != ocspBefore || pki.CRLRequests.Load() != crlBefore {
		t.Error("cached responses were fetched again")
	}
}

func TestEmbedFallsBackToCRL(t *testing.T) {
	pki := testpki.New(t)
	pki.StartServer()
	defer pki.Close()
	pki.FailOCSP.Store(true)
	_, leaf := pki.IssueLeaf("Fallback User")

	f := NewFetcher(Options{EmbedOCSP: true, EmbedCRL: true, StopOnSuccess: true})
	var info InfoArchival
	if err := f.Embed(context.Background(), leaf, pki.Chain()[0], &info); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(info.OCSP) != 0 || len(info.CRL) != 1 {
		t.Errorf("embedded %d OCSP and %d CRL, want only the CRL", len(info.OCSP), len(info.CRL))
	}
}

func TestCheck(t *testing.T) {
	pki := testpki.New(t)
	pki.StartServer()
	defer pki.Close()
	_, leaf := pki.IssueLeaf("Checked User")
	f := NewFetcher(Options{})

	st, err := f.Check(context.Background(), leaf, pki.Chain()[0])
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if st.Revoked || st.Source != "ocsp" {
		t.Errorf("unexpected status %+v", st)
	}

	// Without responders there is nothing to ask.
	bare := &x509.Certificate{SerialNumber: big.NewInt(5)}
	if _, err := f.Check(context.Background(), bare, nil); !errors.Is(err, ErrNoResponder) {
		t.Errorf("expected ErrNoResponder, got %v", err)
	}
}

func TestCheckRevokedByCRL(t *testing.T) {
	pki := testpki.New(t)
	pki.StartServer()
	defer pki.Close()
	_, leaf := pki.IssueLeaf("Revoked User")

	// Pretend the leaf carries the revoked serial.
	revoked := *leaf
	revoked.SerialNumber = big.NewInt(9999)
	revoked.OCSPServer = nil

	st, err := NewFetcher(Options{}).Check(context.Background(), &revoked, pki.Chain()[0])
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	if !st.Revoked || st.Source != "crl" || st.RevokedAt.IsZero() {
		t.Errorf("unexpected status %+v", st)
	}
}
