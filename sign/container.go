package sign

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/asn1"
	"fmt"
	"net/http"

	"github.com/digitorus/pkcs7"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/cms"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/revocation"
)

var (
	oidSigningCertificate   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 12}
	oidSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
)

// containerBuilder produces the detached CMS SignedData of one signature.
type containerBuilder struct {
	creds  *Credentials
	alg    common.Algorithm
	rev    *revocation.InfoArchival
	tsa    TSA
	client *http.Client
}

func (b *containerBuilder) cryptoError(op string, err error) error {
	return &common.CryptoError{Op: op, Algorithm: b.alg.String(), Err: err}
}

func (b *containerBuilder) signingCertificateAttribute() (pkcs7.Attribute, error) {
	h := b.alg.Hash.Hash()
	hash := h.New()
	hash.Write(b.creds.Certificate.Raw)

	var cb cryptobyte.Builder
	cb.AddASN1(cryptobyte_asn1.SEQUENCE, func(cb *cryptobyte.Builder) { // SigningCertificate
		cb.AddASN1(cryptobyte_asn1.SEQUENCE, func(cb *cryptobyte.Builder) { // []ESSCertIDv2
			cb.AddASN1(cryptobyte_asn1.SEQUENCE, func(cb *cryptobyte.Builder) { // ESSCertIDv2
				if h != crypto.SHA1 && h != crypto.SHA256 { // default SHA-256
					cb.AddASN1(cryptobyte_asn1.SEQUENCE, func(cb *cryptobyte.Builder) { // AlgorithmIdentifier
						cb.AddASN1ObjectIdentifier(common.HashOID(h))
					})
				}
				cb.AddASN1OctetString(hash.Sum(nil)) // certHash
			})
		})
	})
	sse, err := cb.Bytes()
	if err != nil {
		return pkcs7.Attribute{}, err
	}

	attr := pkcs7.Attribute{
		Type:  oidSigningCertificateV2,
		Value: asn1.RawValue{FullBytes: sse},
	}
	if h == crypto.SHA1 {
		attr.Type = oidSigningCertificate
	}
	return attr, nil
}

// build signs content. Timestamp failures are returned as warnings.
func (b *containerBuilder) build(ctx context.Context, content []byte) ([]byte, []error, error) {
	h := b.alg.Hash.Hash()

	signedData, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, nil, b.cryptoError("new signed data", err)
	}
	signedData.SetDigestAlgorithm(common.HashOID(h))

	signingCertificate, err := b.signingCertificateAttribute()
	if err != nil {
		return nil, nil, b.cryptoError("signing certificate attribute", err)
	}
	config := pkcs7.SignerInfoConfig{
		ExtraSignedAttributes: []pkcs7.Attribute{signingCertificate},
	}
	if b.rev != nil && !b.rev.Empty() {
		config.ExtraSignedAttributes = append(config.ExtraSignedAttributes, pkcs7.Attribute{
			Type:  revocation.OIDRevocationInfoArchival,
			Value: *b.rev,
		})
	}

	if err := signedData.AddSignerChain(b.creds.Certificate, b.creds.Signer, b.creds.Chain, config); err != nil {
		return nil, nil, b.cryptoError("add signer chain", err)
	}

	// PDF needs a detached signature, meaning the content isn't included.
	signedData.Detach()

	pss := b.alg.Signature == common.RSAPSS
	var warnings []error
	if !pss && b.tsa.URL != "" {
		si := &signedData.GetSignedData().SignerInfos[0]
		token, err := fetchTimestamp(ctx, b.client, b.tsa, h, si.EncryptedDigest)
		if err != nil {
			warnings = append(warnings, &common.TimestampError{URL: b.tsa.URL, Err: err})
		} else if err := si.SetUnauthenticatedAttributes([]pkcs7.Attribute{{
			Type:  cms.OIDTimestampToken,
			Value: asn1.RawValue{FullBytes: token},
		}}); err != nil {
			return nil, nil, b.cryptoError("timestamp attribute", err)
		}
	}

	der, err := signedData.Finish()
	if err != nil {
		return nil, nil, b.cryptoError("finish", err)
	}
	if !pss {
		return der, warnings, nil
	}

	der, warnings, err = b.resignPSS(ctx, der)
	if err != nil {
		return nil, nil, err
	}
	return der, warnings, nil
}

// resignPSS replaces the PKCS#1 v1.5 signature value written by the pkcs7
// library with an RSASSA-PSS one over the same signed attributes, then
// adds the timestamp over the new value.
func (b *containerBuilder) resignPSS(ctx context.Context, der []byte) ([]byte, []error, error) {
	h := b.alg.Hash.Hash()
	c, err := cms.Parse(der)
	if err != nil {
		return nil, nil, b.cryptoError("parse container", err)
	}
	if len(c.Signers) != 1 {
		return nil, nil, b.cryptoError("parse container", fmt.Errorf("%d signers", len(c.Signers)))
	}
	si := &c.Signers[0]

	attrs, err := si.SignedAttrsDER()
	if err != nil {
		return nil, nil, b.cryptoError("signed attributes", err)
	}
	digest := h.New()
	digest.Write(attrs)
	sig, err := b.creds.Signer.Sign(rand.Reader, digest.Sum(nil), &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       h,
	})
	if err != nil {
		return nil, nil, b.cryptoError("sign", err)
	}
	algID, err := cms.PSSAlgorithm(h)
	if err != nil {
		return nil, nil, b.cryptoError("encode algorithm", err)
	}
	si.Signature = sig
	si.SignatureAlgorithm = algID

	var warnings []error
	if b.tsa.URL != "" {
		token, err := fetchTimestamp(ctx, b.client, b.tsa, h, sig)
		if err != nil {
			warnings = append(warnings, &common.TimestampError{URL: b.tsa.URL, Err: err})
		} else if err := si.AddUnsignedAttribute(cms.OIDTimestampToken, token); err != nil {
			return nil, nil, b.cryptoError("timestamp attribute", err)
		}
	}

	out, err := c.Bytes()
	if err != nil {
		return nil, nil, b.cryptoError("encode container", err)
	}
	return out, warnings, nil
}
