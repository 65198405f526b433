package certificate_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/certificate"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/testpki"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/revocation"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/sign"
)

func TestLoadPEMFormats(t *testing.T) {
	rsaPKI := testpki.NewWithConfig(t, testpki.Config{Profile: testpki.RSA2048, IntermediateCAs: 1})
	rsaKey, rsaLeaf := rsaPKI.IssueLeaf("RSA Signer")
	ecPKI := testpki.New(t)
	ecKey, ecLeaf := ecPKI.IssueLeaf("EC Signer")

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey.(*rsa.PrivateKey))})
	sec1DER, err := x509.MarshalECPrivateKey(ecKey.(*ecdsa.PrivateKey))
	require.NoError(t, err)
	sec1 := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1DER})

	tests := []struct {
		name  string
		certs []byte
		key   []byte
		leaf  *x509.Certificate
		chain int
	}{
		{"pkcs8 rsa", testpki.CertPEM(append([]*x509.Certificate{rsaLeaf}, rsaPKI.Chain()...)...), testpki.KeyPEM(t, rsaKey), rsaLeaf, 2},
		{"pkcs1", testpki.CertPEM(rsaLeaf), pkcs1, rsaLeaf, 0},
		{"sec1", testpki.CertPEM(ecLeaf, ecPKI.IntermediateCerts[0]), sec1, ecLeaf, 1},
		{"der certificate", ecLeaf.Raw, testpki.KeyPEM(t, ecKey), ecLeaf, 0},
		{"combined file", append(testpki.CertPEM(ecLeaf), testpki.KeyPEM(t, ecKey)...), nil, ecLeaf, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := certificate.LoadPEM(tt.certs, tt.key, "")
			require.NoError(t, err)
			assert.True(t, b.Certificate.Equal(tt.leaf))
			assert.Len(t, b.Chain, tt.chain)
			assert.NoError(t, sign.ValidateSignerCertificateMatch(b.Signer, b.Certificate))
		})
	}
}

func TestLoadPEMOrdersChain(t *testing.T) {
	pki := testpki.NewWithConfig(t, testpki.Config{Profile: testpki.ECDSAP256, IntermediateCAs: 2})
	key, leaf := pki.IssueLeaf("Ordered")

	// Root first, leaf last: the loader finds the leaf by its key and
	// orders the issuers upwards.
	certs := testpki.CertPEM(pki.RootCert, pki.IntermediateCerts[0], pki.IntermediateCerts[1], leaf)
	b, err := certificate.LoadPEM(certs, testpki.KeyPEM(t, key), "")
	require.NoError(t, err)
	require.Len(t, b.Chain, 3)
	assert.True(t, b.Chain[0].Equal(pki.IntermediateCerts[1]))
	assert.True(t, b.Chain[1].Equal(pki.IntermediateCerts[0]))
	assert.True(t, b.Chain[2].Equal(pki.RootCert))
}

func TestLoadPEMEncrypted(t *testing.T) {
	pki := testpki.NewWithConfig(t, testpki.Config{Profile: testpki.RSA2048})
	key, leaf := pki.IssueLeaf("Encrypted")

	//nolint:staticcheck
	block, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY",
		x509.MarshalPKCS1PrivateKey(key.(*rsa.PrivateKey)), []byte("s3cret"), x509.PEMCipherAES256)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(block)

	b, err := certificate.LoadPEM(testpki.CertPEM(leaf), keyPEM, "s3cret")
	require.NoError(t, err)
	assert.True(t, b.Certificate.Equal(leaf))

	var credErr *common.CredentialError
	_, err = certificate.LoadPEM(testpki.CertPEM(leaf), keyPEM, "")
	require.ErrorAs(t, err, &credErr)
	assert.ErrorIs(t, err, certificate.ErrPasswordRequired)

	_, err = certificate.LoadPEM(testpki.CertPEM(leaf), keyPEM, "wrong")
	assert.ErrorAs(t, err, &credErr)
}

func TestLoadPEMErrors(t *testing.T) {
	pki := testpki.New(t)
	key, leaf := pki.IssueLeaf("Someone")
	otherKey, _ := pki.IssueLeaf("Someone Else")

	var credErr *common.CredentialError

	_, err := certificate.LoadPEM([]byte("not a certificate"), testpki.KeyPEM(t, key), "")
	require.ErrorAs(t, err, &credErr)

	_, err = certificate.LoadPEM(testpki.CertPEM(leaf), []byte("-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n"), "")
	require.ErrorAs(t, err, &credErr)
	assert.ErrorIs(t, err, certificate.ErrNoKeyFound)

	_, err = certificate.LoadPEM(testpki.CertPEM(leaf), testpki.KeyPEM(t, otherKey), "")
	require.ErrorAs(t, err, &credErr)
	assert.ErrorIs(t, err, sign.ErrKeyMismatch)
}

func TestLoadPKCS12(t *testing.T) {
	pki := testpki.New(t)
	key, leaf := pki.IssueLeaf("Container")
	data := testpki.PKCS12(t, key, leaf, pki.Chain(), "changeit")

	b, err := certificate.LoadPKCS12(data, "changeit")
	require.NoError(t, err)
	assert.True(t, b.Certificate.Equal(leaf))
	assert.Len(t, b.Chain, len(pki.Chain()))

	creds := b.Credentials()
	assert.NotEmpty(t, creds.Secret)
	assert.Equal(t, b.Signer, creds.Signer)

	_, err = certificate.LoadPKCS12(data, "wrong")
	var credErr *common.CredentialError
	assert.ErrorAs(t, err, &credErr)
}

func TestLoadFiles(t *testing.T) {
	pki := testpki.New(t)
	key, leaf := pki.IssueLeaf("Files")
	dir := t.TempDir()

	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	p12Path := filepath.Join(dir, "bundle.P12")
	require.NoError(t, os.WriteFile(certPath, testpki.CertPEM(leaf), 0o600))
	require.NoError(t, os.WriteFile(keyPath, testpki.KeyPEM(t, key), 0o600))
	require.NoError(t, os.WriteFile(p12Path, testpki.PKCS12(t, key, leaf, nil, "pw"), 0o600))

	b, err := certificate.LoadFiles(certPath, keyPath, "")
	require.NoError(t, err)
	assert.True(t, b.Certificate.Equal(leaf))

	b, err = certificate.LoadFiles(p12Path, "", "pw")
	require.NoError(t, err)
	assert.True(t, b.Certificate.Equal(leaf))

	_, err = certificate.LoadFiles(filepath.Join(dir, "missing.pem"), keyPath, "")
	var credErr *common.CredentialError
	assert.ErrorAs(t, err, &credErr)
}

func TestDescribe(t *testing.T) {
	pki := testpki.NewWithConfig(t, testpki.Config{Profile: testpki.RSA2048})
	_, leaf := pki.IssueLeaf("Described")

	info := certificate.Describe(leaf)
	assert.Equal(t, "Described", info.CommonName)
	assert.Equal(t, "RSA", info.KeyAlgorithm)
	assert.Equal(t, 2048, info.KeySize)
	assert.Equal(t, []string{"digitalSignature", "nonRepudiation"}, info.KeyUsage)
	assert.Equal(t, []string{"documentSigning"}, info.ExtKeyUsage)
	assert.False(t, info.SelfSigned)
	assert.Len(t, info.FingerprintSHA256, 64)

	root := certificate.Describe(pki.RootCert)
	assert.True(t, root.SelfSigned)
	assert.True(t, root.IsCA)
}

func TestBuildChain(t *testing.T) {
	pki := testpki.NewWithConfig(t, testpki.Config{Profile: testpki.ECDSAP256, IntermediateCAs: 2})
	_, leaf := pki.IssueLeaf("Chained")
	other := testpki.New(t)

	m := certificate.NewManager(certificate.WithTrustAnchors(pki.RootCert))
	pool := []*x509.Certificate{other.RootCert, pki.IntermediateCerts[0], other.IntermediateCerts[0], pki.IntermediateCerts[1]}
	chain, err := m.BuildChain(leaf, pool)
	require.NoError(t, err)
	require.Len(t, chain, 4)
	assert.True(t, chain[0].Equal(leaf))
	assert.True(t, chain[1].Equal(pki.IntermediateCerts[1]))
	assert.True(t, chain[2].Equal(pki.IntermediateCerts[0]))
	assert.True(t, chain[3].Equal(pki.RootCert), "the anchor completes the chain")

	// Without the missing link the chain stops early.
	partial, err := certificate.NewManager().BuildChain(leaf, []*x509.Certificate{pki.IntermediateCerts[1]})
	require.NoError(t, err)
	assert.Len(t, partial, 2)
}

func TestValidateChain(t *testing.T) {
	pki := testpki.New(t)
	_, leaf := pki.IssueLeaf("Validated")
	chain := append([]*x509.Certificate{leaf}, pki.Chain()...)
	ctx := context.Background()

	m := certificate.NewManager(certificate.WithTrustAnchors(pki.RootCert))
	require.NoError(t, m.ValidateChain(ctx, chain, time.Now()))

	var chainErr *common.ChainValidationError

	err := m.ValidateChain(ctx, chain, time.Now().Add(2*time.Hour))
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, 0, chainErr.Index, "the leaf expires first")
	assert.Contains(t, chainErr.Subject, "Validated")

	// A link signed by somebody else.
	other := testpki.New(t)
	broken := []*x509.Certificate{leaf, other.IntermediateCerts[0], other.RootCert}
	err = m.ValidateChain(ctx, broken, time.Now())
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, 0, chainErr.Index)

	err = certificate.NewManager(certificate.WithTrustAnchors(other.RootCert)).ValidateChain(ctx, chain, time.Now())
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, len(chain)-1, chainErr.Index)

	// Without anchors only the links are checked.
	assert.NoError(t, certificate.NewManager().ValidateChain(ctx, chain[:2], time.Now()))
	assert.Error(t, certificate.NewManager().ValidateChain(ctx, nil, time.Now()))
}

func TestValidateChainRevocation(t *testing.T) {
	pki := testpki.New(t)
	pki.StartServer()
	defer pki.Close()
	_, good := pki.IssueLeaf("Good Standing")
	_, revoked := pki.IssueRevokedLeaf("Revoked")

	m := certificate.NewManager(
		certificate.WithTrustAnchors(pki.RootCert),
		certificate.WithRevocation(revocation.NewFetcher(revocation.Options{})),
	)
	ctx := context.Background()
	require.NoError(t, m.ValidateChain(ctx, append([]*x509.Certificate{good}, pki.Chain()...), time.Now()))

	err := m.ValidateChain(ctx, append([]*x509.Certificate{revoked}, pki.Chain()...), time.Now())
	var chainErr *common.ChainValidationError
	require.True(t, errors.As(err, &chainErr), "got %v", err)
	assert.Equal(t, 0, chainErr.Index)
	assert.ErrorIs(t, err, revocation.ErrRevoked)
}
