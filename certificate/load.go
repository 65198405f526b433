// Package certificate loads signing credentials and checks X.509 chains.
package certificate

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/sign"
)

var (
	ErrNoCertFound      = errors.New("no certificate found in data")
	ErrNoKeyFound       = errors.New("no private key found in data")
	ErrUnknownKeyType   = errors.New("unknown private key type")
	ErrDecryptionFailed = errors.New("failed to decrypt private key")
	ErrPasswordRequired = errors.New("private key is encrypted but no password provided")
)

// Bundle is a signing certificate, its key and the issuers that came with
// it.
type Bundle struct {
	Certificate *x509.Certificate
	Signer      crypto.Signer

	// Chain holds the remaining certificates of the input, leaf excluded,
	// ordered from the leaf's issuer upwards where the links are known.
	Chain []*x509.Certificate

	// secret is the decoded key encoding. Credentials hands it to the
	// signing call, which zeroes it.
	secret []byte
}

// Credentials returns the bundle in the form the signer takes.
func (b *Bundle) Credentials() *sign.Credentials {
	return &sign.Credentials{
		Certificate: b.Certificate,
		Signer:      b.Signer,
		Chain:       b.Chain,
		Secret:      b.secret,
	}
}

// LoadPEM reads certificates and a private key. certPEM may hold PEM blocks
// or a single DER certificate; keyPEM may be PKCS#1, PKCS#8, SEC1 or a
// legacy encrypted PEM block. An empty keyPEM makes LoadPEM look for the
// key among the blocks of certPEM.
func LoadPEM(certPEM, keyPEM []byte, password string) (*Bundle, error) {
	certs, err := ParseCertificates(certPEM)
	if err != nil {
		return nil, &common.CredentialError{Msg: "cannot read certificates", Err: err}
	}
	if len(keyPEM) == 0 {
		keyPEM = certPEM
	}
	key, der, err := parsePrivateKey(keyPEM, []byte(password))
	if err != nil {
		return nil, &common.CredentialError{Msg: "cannot read private key", Err: err}
	}
	return newBundle(key, certs, der)
}

// LoadPKCS12 reads a PKCS#12 container.
func LoadPKCS12(data []byte, password string) (*Bundle, error) {
	key, leaf, cas, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, &common.CredentialError{Msg: "cannot decode PKCS#12 container", Err: err}
	}
	signer, err := toSigner(key)
	if err != nil {
		return nil, &common.CredentialError{Msg: "unsupported key in PKCS#12 container", Err: err}
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		der = nil
	}
	return newBundle(signer, append([]*x509.Certificate{leaf}, cas...), der)
}

// LoadFiles reads credentials from disk. A certificate path ending in .p12
// or .pfx is a PKCS#12 container and keyPath is ignored.
func LoadFiles(certPath, keyPath, password string) (*Bundle, error) {
	data, err := os.ReadFile(certPath)
	if err != nil {
		return nil, &common.CredentialError{Msg: "cannot read " + certPath, Err: err}
	}
	switch strings.ToLower(filepath.Ext(certPath)) {
	case ".p12", ".pfx":
		return LoadPKCS12(data, password)
	}
	var keyData []byte
	if keyPath != "" {
		if keyData, err = os.ReadFile(keyPath); err != nil {
			return nil, &common.CredentialError{Msg: "cannot read " + keyPath, Err: err}
		}
	}
	return LoadPEM(data, keyData, password)
}

// newBundle picks the certificate matching key as the leaf and orders the
// rest into a chain.
func newBundle(key crypto.Signer, certs []*x509.Certificate, secret []byte) (*Bundle, error) {
	leafIdx := -1
	for i, c := range certs {
		if sign.ValidateSignerCertificateMatch(key, c) == nil {
			leafIdx = i
			break
		}
	}
	if leafIdx < 0 {
		return nil, &common.CredentialError{Msg: "no certificate matches the private key", Err: sign.ErrKeyMismatch}
	}
	leaf := certs[leafIdx]
	rest := make([]*x509.Certificate, 0, len(certs)-1)
	rest = append(rest, certs[:leafIdx]...)
	rest = append(rest, certs[leafIdx+1:]...)

	chain, err := (&Manager{}).BuildChain(leaf, rest)
	if err != nil {
		// Unlinked extras are passed on as given.
		chain = append([]*x509.Certificate{leaf}, rest...)
	}
	for _, c := range rest {
		if !containsCert(chain, c) {
			chain = append(chain, c)
		}
	}
	return &Bundle{Certificate: leaf, Signer: key, Chain: chain[1:], secret: secret}, nil
}

// ParseCertificates reads every certificate of PEM or DER data.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else if len(data) > 0 {
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}
	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// parsePrivateKey returns the first private key of data and its decoded
// DER bytes.
func parsePrivateKey(data, password []byte) (crypto.Signer, []byte, error) {
	if !isPEM(data) {
		key, err := parseDERKey(data)
		return key, bytes.Clone(data), err
	}
	rest := data
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if !strings.HasSuffix(block.Type, "PRIVATE KEY") {
			continue
		}

		der := block.Bytes
		if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
			if len(password) == 0 {
				return nil, nil, ErrPasswordRequired
			}
			var err error
			der, err = x509.DecryptPEMBlock(block, password) //nolint:staticcheck
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
			}
		}
		key, err := parseKeyByType(block.Type, der)
		return key, der, err
	}
	return nil, nil, ErrNoKeyFound
}

func parseKeyByType(blockType string, der []byte) (crypto.Signer, error) {
	switch blockType {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(der)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(der)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toSigner(key)
	case "ENCRYPTED PRIVATE KEY":
		// PBES2 containers are not decrypted here; PKCS#12 covers them.
		return nil, fmt.Errorf("%w: %s (use a PKCS#12 container)", ErrUnknownKeyType, blockType)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, blockType)
}

func parseDERKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return toSigner(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, ErrNoKeyFound
}

func toSigner(key any) (crypto.Signer, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return nil, fmt.Errorf("%w: Ed25519 is not a PDF signature algorithm", ErrUnknownKeyType)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
}

func isPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN "))
}

func containsCert(certs []*x509.Certificate, c *x509.Certificate) bool {
	for _, x := range certs {
		if x.Equal(c) {
			return true
		}
	}
	return false
}
