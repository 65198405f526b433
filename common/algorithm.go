package common

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/asn1"
	"fmt"
	"strings"
)

// HashAlgorithm selects the message digest. The zero value means SHA-256.
type HashAlgorithm int

const (
	HashDefault HashAlgorithm = iota
	SHA256
	SHA384
	SHA512
)

var hashNames = map[HashAlgorithm]string{
	SHA256: "SHA-256",
	SHA384: "SHA-384",
	SHA512: "SHA-512",
}

func (h HashAlgorithm) String() string {
	if h == HashDefault {
		return SHA256.String()
	}
	if name, ok := hashNames[h]; ok {
		return name
	}
	return fmt.Sprintf("HashAlgorithm(%d)", int(h))
}

// Hash returns the crypto.Hash, or 0 for unknown values.
func (h HashAlgorithm) Hash() crypto.Hash {
	switch h {
	case HashDefault, SHA256:
		return crypto.SHA256
	case SHA384:
		return crypto.SHA384
	case SHA512:
		return crypto.SHA512
	}
	return 0
}

var hashOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:   asn1.ObjectIdentifier([]int{1, 3, 14, 3, 2, 26}),
	crypto.SHA256: asn1.ObjectIdentifier([]int{2, 16, 840, 1, 101, 3, 4, 2, 1}),
	crypto.SHA384: asn1.ObjectIdentifier([]int{2, 16, 840, 1, 101, 3, 4, 2, 2}),
	crypto.SHA512: asn1.ObjectIdentifier([]int{2, 16, 840, 1, 101, 3, 4, 2, 3}),
}

// HashOID returns the digest algorithm identifier of h.
func HashOID(h crypto.Hash) asn1.ObjectIdentifier {
	return hashOIDs[h]
}

// HashFromOID maps a digest algorithm identifier back to a crypto.Hash.
func HashFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, bool) {
	for h, o := range hashOIDs {
		if o.Equal(oid) {
			return h, true
		}
	}
	return 0, false
}

// ParseHashAlgorithm accepts "SHA-256", "sha256" and similar spellings.
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch strings.ToUpper(strings.ReplaceAll(s, "-", "")) {
	case "":
		return HashDefault, nil
	case "SHA256":
		return SHA256, nil
	case "SHA384":
		return SHA384, nil
	case "SHA512":
		return SHA512, nil
	}
	return 0, fmt.Errorf("unsupported hash algorithm %q", s)
}

// SignatureAlgorithm selects the signature scheme. The zero value picks
// the natural scheme of the signing key.
type SignatureAlgorithm int

const (
	SignatureDefault SignatureAlgorithm = iota
	RSAPKCS1v15
	RSAPSS
	ECDSAP256
	ECDSAP384
	ECDSAP521
)

var signatureNames = map[SignatureAlgorithm]string{
	RSAPKCS1v15: "RSA-PKCS1v15",
	RSAPSS:      "RSA-PSS",
	ECDSAP256:   "ECDSA-P256",
	ECDSAP384:   "ECDSA-P384",
	ECDSAP521:   "ECDSA-P521",
}

func (s SignatureAlgorithm) String() string {
	if s == SignatureDefault {
		return "default"
	}
	if name, ok := signatureNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SignatureAlgorithm(%d)", int(s))
}

// ParseSignatureAlgorithm accepts the names printed by String.
func ParseSignatureAlgorithm(s string) (SignatureAlgorithm, error) {
	if s == "" || strings.EqualFold(s, "default") {
		return SignatureDefault, nil
	}
	for alg, name := range signatureNames {
		if strings.EqualFold(name, s) {
			return alg, nil
		}
	}
	return 0, fmt.Errorf("unsupported signature algorithm %q", s)
}

// Algorithm is a resolved, supported combination.
type Algorithm struct {
	Signature SignatureAlgorithm
	Hash      HashAlgorithm
}

func (a Algorithm) String() string {
	return a.Signature.String() + "/" + a.Hash.String()
}

// ResolveAlgorithm checks the requested combination against the public key
// before any cryptographic work is done.
func ResolveAlgorithm(pub crypto.PublicKey, sig SignatureAlgorithm, hash HashAlgorithm) (Algorithm, error) {
	fail := func(format string, args ...any) (Algorithm, error) {
		return Algorithm{}, &CryptoError{
			Op:        "resolve algorithm",
			Algorithm: Algorithm{Signature: sig, Hash: hash}.String(),
			Err:       fmt.Errorf(format, args...),
		}
	}

	if hash == HashDefault {
		hash = SHA256
	}
	if _, ok := hashNames[hash]; !ok {
		return fail("unknown hash algorithm %d", int(hash))
	}

	switch k := pub.(type) {
	case *rsa.PublicKey:
		switch sig {
		case SignatureDefault:
			sig = RSAPKCS1v15
		case RSAPKCS1v15, RSAPSS:
		default:
			return fail("%s cannot be used with an RSA key", sig)
		}
	case *ecdsa.PublicKey:
		curve, ok := curveAlgorithm(k.Curve)
		if !ok {
			return fail("unsupported curve %s", k.Curve.Params().Name)
		}
		switch sig {
		case SignatureDefault:
			sig = curve
		case curve:
		case ECDSAP256, ECDSAP384, ECDSAP521:
			return fail("%s does not match key curve %s", sig, k.Curve.Params().Name)
		default:
			return fail("%s cannot be used with an ECDSA key", sig)
		}
	case nil:
		return fail("no public key")
	default:
		return fail("unsupported key type %T", pub)
	}

	return Algorithm{Signature: sig, Hash: hash}, nil
}

func curveAlgorithm(c elliptic.Curve) (SignatureAlgorithm, bool) {
	switch c {
	case elliptic.P256():
		return ECDSAP256, true
	case elliptic.P384():
		return ECDSAP384, true
	case elliptic.P521():
		return ECDSAP521, true
	}
	return 0, false
}

// Capabilities of the engine.
func SupportedCapabilities() Capabilities {
	return Capabilities{
		HashAlgorithms: []string{"SHA-256", "SHA-384", "SHA-512"},
		SignatureAlgorithms: []string{
			"RSA-2048", "RSA-3072", "RSA-4096", "RSA-PSS",
			"ECDSA-P256", "ECDSA-P384", "ECDSA-P521",
		},
		PDFVersions: []string{"1.4", "1.5", "1.6", "1.7", "2.0"},
		Standards:   []string{"PDF-1.7", "PAdES-B", "PKCS#7", "X.509", "RFC-3161"},
	}
}
