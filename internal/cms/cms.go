// Package cms rewrites the SignerInfo of a DER encoded CMS SignedData
// container. It is used for the parts the pkcs7 library does not cover:
// RSASSA-PSS signature values and unsigned attributes added after the
// container was finished.
package cms

import (
	"crypto"
	"encoding/asn1"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
)

var (
	OIDSignedData         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDRSAPSS             = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}
	OIDMGF1               = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 8}
	OIDTimestampToken     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
	OIDSigningCertificate = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
)

var ErrMalformed = errors.New("cms: malformed SignedData")

var (
	tagContext0 = cbasn1.Tag(0).ContextSpecific().Constructed()
	tagContext1 = cbasn1.Tag(1).ContextSpecific().Constructed()
	tagContext2 = cbasn1.Tag(2).ContextSpecific().Constructed()
)

// SignerInfo holds the encoded parts of one SignerInfo.
type SignerInfo struct {
	Version            []byte // full INTEGER element
	SID                []byte // full element
	DigestAlgorithm    []byte // full AlgorithmIdentifier element
	SignedAttrs        []byte // full [0] IMPLICIT element, nil when absent
	SignatureAlgorithm []byte // full AlgorithmIdentifier element
	Signature          []byte // content of the OCTET STRING
	UnsignedAttrs      [][]byte
}

// Container is a parsed ContentInfo wrapping SignedData.
type Container struct {
	fields  [][]byte // SignedData elements before signerInfos
	Signers []SignerInfo
}

// Parse splits a DER ContentInfo into its SignerInfos.
func Parse(der []byte) (*Container, error) {
	input := cryptobyte.String(der)
	var ci, explicit, sd cryptobyte.String
	var oid asn1.ObjectIdentifier
	if !input.ReadASN1(&ci, cbasn1.SEQUENCE) ||
		!ci.ReadASN1ObjectIdentifier(&oid) ||
		!ci.ReadASN1(&explicit, tagContext0) ||
		!explicit.ReadASN1(&sd, cbasn1.SEQUENCE) {
		return nil, ErrMalformed
	}
	if !oid.Equal(OIDSignedData) {
		return nil, fmt.Errorf("%w: content type %s", ErrMalformed, oid)
	}

	var elements [][]byte
	for !sd.Empty() {
		var el cryptobyte.String
		if !sd.ReadAnyASN1Element(&el, nil) {
			return nil, ErrMalformed
		}
		elements = append(elements, el)
	}
	if len(elements) < 4 {
		return nil, ErrMalformed
	}

	last := cryptobyte.String(elements[len(elements)-1])
	var set cryptobyte.String
	if !last.ReadASN1(&set, cbasn1.SET) {
		return nil, fmt.Errorf("%w: no signerInfos", ErrMalformed)
	}

	c := &Container{fields: elements[:len(elements)-1]}
	for !set.Empty() {
		var raw cryptobyte.String
		if !set.ReadASN1(&raw, cbasn1.SEQUENCE) {
			return nil, ErrMalformed
		}
		si, err := parseSignerInfo(raw)
		if err != nil {
			return nil, err
		}
		c.Signers = append(c.Signers, si)
	}
	if len(c.Signers) == 0 {
		return nil, fmt.Errorf("%w: no signers", ErrMalformed)
	}
	return c, nil
}

func parseSignerInfo(s cryptobyte.String) (SignerInfo, error) {
	var si SignerInfo
	var version, sid, digestAlg, sigAlg cryptobyte.String
	if !s.ReadASN1Element(&version, cbasn1.INTEGER) ||
		!s.ReadAnyASN1Element(&sid, nil) ||
		!s.ReadASN1Element(&digestAlg, cbasn1.SEQUENCE) {
		return si, ErrMalformed
	}
	si.Version, si.SID, si.DigestAlgorithm = version, sid, digestAlg

	if s.PeekASN1Tag(tagContext0) {
		var attrs cryptobyte.String
		if !s.ReadASN1Element(&attrs, tagContext0) {
			return si, ErrMalformed
		}
		si.SignedAttrs = attrs
	}

	var sig cryptobyte.String
	if !s.ReadASN1Element(&sigAlg, cbasn1.SEQUENCE) || !s.ReadASN1(&sig, cbasn1.OCTET_STRING) {
		return si, ErrMalformed
	}
	si.SignatureAlgorithm, si.Signature = sigAlg, sig

	if s.PeekASN1Tag(tagContext1) {
		var unsigned cryptobyte.String
		if !s.ReadASN1(&unsigned, tagContext1) {
			return si, ErrMalformed
		}
		for !unsigned.Empty() {
			var attr cryptobyte.String
			if !unsigned.ReadASN1Element(&attr, cbasn1.SEQUENCE) {
				return si, ErrMalformed
			}
			si.UnsignedAttrs = append(si.UnsignedAttrs, attr)
		}
	}
	return si, nil
}

// Bytes encodes the container again.
func (c *Container) Bytes() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(OIDSignedData)
		b.AddASN1(tagContext0, func(b *cryptobyte.Builder) {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				for _, f := range c.fields {
					b.AddBytes(f)
				}
				b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
					for _, si := range c.Signers {
						si.marshal(b)
					}
				})
			})
		})
	})
	return b.Bytes()
}

func (si *SignerInfo) marshal(b *cryptobyte.Builder) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(si.Version)
		b.AddBytes(si.SID)
		b.AddBytes(si.DigestAlgorithm)
		if si.SignedAttrs != nil {
			b.AddBytes(si.SignedAttrs)
		}
		b.AddBytes(si.SignatureAlgorithm)
		b.AddASN1OctetString(si.Signature)
		if len(si.UnsignedAttrs) > 0 {
			b.AddASN1(tagContext1, func(b *cryptobyte.Builder) {
				for _, a := range si.UnsignedAttrs {
					b.AddBytes(a)
				}
			})
		}
	})
}

// SignedAttrsDER returns the signed attributes as the DER SET OF that the
// signature value is computed over.
func (si *SignerInfo) SignedAttrsDER() ([]byte, error) {
	if len(si.SignedAttrs) == 0 {
		return nil, fmt.Errorf("%w: no signed attributes", ErrMalformed)
	}
	out := append([]byte(nil), si.SignedAttrs...)
	out[0] = 0x31 // [0] IMPLICIT -> SET
	return out, nil
}

// SignatureAlgorithmOID returns the algorithm of SignatureAlgorithm.
func (si *SignerInfo) SignatureAlgorithmOID() (asn1.ObjectIdentifier, error) {
	s := cryptobyte.String(si.SignatureAlgorithm)
	var alg cryptobyte.String
	var oid asn1.ObjectIdentifier
	if !s.ReadASN1(&alg, cbasn1.SEQUENCE) || !alg.ReadASN1ObjectIdentifier(&oid) {
		return nil, ErrMalformed
	}
	return oid, nil
}

// AddUnsignedAttribute appends an attribute with a single value.
func (si *SignerInfo) AddUnsignedAttribute(oid asn1.ObjectIdentifier, value []byte) error {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oid)
		b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
			b.AddBytes(value)
		})
	})
	attr, err := b.Bytes()
	if err != nil {
		return err
	}
	si.UnsignedAttrs = append(si.UnsignedAttrs, attr)
	return nil
}

// UnsignedAttribute returns the first value of the unsigned attribute oid.
func (si *SignerInfo) UnsignedAttribute(oid asn1.ObjectIdentifier) ([]byte, bool) {
	for _, a := range si.UnsignedAttrs {
		s := cryptobyte.String(a)
		var attr, values, value cryptobyte.String
		var got asn1.ObjectIdentifier
		if !s.ReadASN1(&attr, cbasn1.SEQUENCE) ||
			!attr.ReadASN1ObjectIdentifier(&got) ||
			!attr.ReadASN1(&values, cbasn1.SET) ||
			!values.ReadAnyASN1Element(&value, nil) {
			continue
		}
		if got.Equal(oid) {
			return value, true
		}
	}
	return nil, false
}

// PSSAlgorithm encodes the RSASSA-PSS AlgorithmIdentifier with explicit
// parameters: hash, MGF1 with the same hash, salt length equal to the hash
// length and the default trailer field.
func PSSAlgorithm(h crypto.Hash) ([]byte, error) {
	oid := common.HashOID(h)
	if oid == nil {
		return nil, fmt.Errorf("cms: no identifier for hash %v", h)
	}
	hashAlg := func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oid)
			b.AddASN1NULL()
		})
	}

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(OIDRSAPSS)
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1(tagContext0, hashAlg)
			b.AddASN1(tagContext1, func(b *cryptobyte.Builder) {
				b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(OIDMGF1)
					hashAlg(b)
				})
			})
			b.AddASN1(tagContext2, func(b *cryptobyte.Builder) {
				b.AddASN1Int64(int64(h.Size()))
			})
		})
	})
	return b.Bytes()
}

// ParsePSSAlgorithm reads the hash and salt length of an RSASSA-PSS
// AlgorithmIdentifier. Absent parameters mean SHA-1 and salt length 20.
func ParsePSSAlgorithm(der []byte) (crypto.Hash, int, error) {
	s := cryptobyte.String(der)
	var alg, params cryptobyte.String
	var oid asn1.ObjectIdentifier
	if !s.ReadASN1(&alg, cbasn1.SEQUENCE) || !alg.ReadASN1ObjectIdentifier(&oid) || !oid.Equal(OIDRSAPSS) {
		return 0, 0, fmt.Errorf("%w: not an RSASSA-PSS identifier", ErrMalformed)
	}
	hash, salt := crypto.SHA1, 20
	if alg.Empty() {
		return hash, salt, nil
	}
	if !alg.ReadASN1(&params, cbasn1.SEQUENCE) {
		return 0, 0, ErrMalformed
	}

	if params.PeekASN1Tag(tagContext0) {
		var explicit, hashAlg cryptobyte.String
		var hashOID asn1.ObjectIdentifier
		if !params.ReadASN1(&explicit, tagContext0) ||
			!explicit.ReadASN1(&hashAlg, cbasn1.SEQUENCE) ||
			!hashAlg.ReadASN1ObjectIdentifier(&hashOID) {
			return 0, 0, ErrMalformed
		}
		h, ok := common.HashFromOID(hashOID)
		if !ok {
			return 0, 0, fmt.Errorf("cms: unsupported PSS hash %s", hashOID)
		}
		hash = h
	}
	if params.PeekASN1Tag(tagContext1) {
		var skip cryptobyte.String
		if !params.ReadASN1(&skip, tagContext1) {
			return 0, 0, ErrMalformed
		}
	}
	if params.PeekASN1Tag(tagContext2) {
		var explicit cryptobyte.String
		var n int64
		if !params.ReadASN1(&explicit, tagContext2) || !explicit.ReadASN1Int64WithTag(&n, cbasn1.INTEGER) {
			return 0, 0, ErrMalformed
		}
		salt = int(n)
	}
	return hash, salt, nil
}
