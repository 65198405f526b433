package sign

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
)

var (
	ErrNilSigner      = errors.New("sign: signer cannot be nil")
	ErrNilPublicKey   = errors.New("sign: public key cannot be nil")
	ErrNilCertificate = errors.New("sign: certificate cannot be nil")
	ErrUnsupportedKey = errors.New("sign: unsupported key type")
	ErrKeyMismatch    = errors.New("sign: signer public key does not match certificate")
)

// SignatureSize returns the maximum signature size in bytes for the given signer.
// Do not use Certificate.SignatureAlgorithm for this - that's how the CA signed
// the cert, not the size of signatures this key produces.
func SignatureSize(signer crypto.Signer) (int, error) {
	if signer == nil {
		return 0, ErrNilSigner
	}
	return PublicKeySignatureSize(signer.Public())
}

// PublicKeySignatureSize returns the maximum signature size for a public key.
func PublicKeySignatureSize(pub crypto.PublicKey) (int, error) {
	switch k := pub.(type) {
	case nil:
		return 0, ErrNilPublicKey
	case *rsa.PublicKey:
		if k.N == nil {
			return 0, fmt.Errorf("%w: RSA key has nil modulus", ErrUnsupportedKey)
		}
		return k.Size(), nil
	case *ecdsa.PublicKey:
		if k.Curve == nil {
			return 0, fmt.Errorf("%w: ECDSA key has nil curve", ErrUnsupportedKey)
		}
		// DER SEQUENCE { r INTEGER, s INTEGER }: two coordinates plus tag,
		// length and padding bytes.
		coordSize := (k.Curve.Params().BitSize + 7) / 8
		return 2*coordSize + 9, nil
	}
	return 0, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
}

// DefaultSignatureSize is the fallback for unrecognized key types.
const DefaultSignatureSize = 8192

// ValidateSignerCertificateMatch checks that the signer's public key matches the certificate.
func ValidateSignerCertificateMatch(signer crypto.Signer, cert *x509.Certificate) error {
	if signer == nil {
		return ErrNilSigner
	}
	if cert == nil {
		return ErrNilCertificate
	}
	signerPub := signer.Public()
	if signerPub == nil {
		return ErrNilPublicKey
	}

	signerPubBytes, err := x509.MarshalPKIXPublicKey(signerPub)
	if err != nil {
		return fmt.Errorf("sign: marshal signer public key: %w", err)
	}
	certPubBytes, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return fmt.Errorf("sign: marshal certificate public key: %w", err)
	}
	if !bytes.Equal(signerPubBytes, certPubBytes) {
		return ErrKeyMismatch
	}
	return nil
}
