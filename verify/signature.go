package verify

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/extract"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/cms"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
)

// checked carries what the cryptographic checks learned about one
// signature for the chain and revocation steps.
type checked struct {
	p7      *pkcs7.PKCS7
	signer  *x509.Certificate
	content []byte
}

// verifyContainer runs the checks that only depend on the signed bytes and
// the container. It records problems in res and returns nil when the
// container cannot be used at all.
func (v *Validator) verifyContainer(doc *pdf.Document, sig *extract.Signature, res *Result) *checked {
	wellFormed := byteRangeWellFormed(sig.ByteRange(), doc.Bytes())
	if !wellFormed {
		res.Errors = append(res.Errors, &ValidationError{Msg: "malformed ByteRange: signed ranges must start at 0 and skip exactly the Contents string"})
	}

	rawSignature := sig.Contents()
	p7, err := pkcs7.Parse(rawSignature)
	if err != nil {
		res.Errors = append(res.Errors, &ValidationError{Msg: fmt.Sprintf("failed to parse PKCS#7: %v", err)})
		return nil
	}
	if len(p7.Signers) != 1 {
		res.Errors = append(res.Errors, &ValidationError{Msg: fmt.Sprintf("expected one signer, found %d", len(p7.Signers))})
		return nil
	}

	reader, err := sig.SignedData()
	if err != nil {
		res.Errors = append(res.Errors, &ValidationError{Msg: fmt.Sprintf("failed to process ByteRange: %v", err)})
		return nil
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		res.Errors = append(res.Errors, &ValidationError{Msg: fmt.Sprintf("failed to read signed content: %v", err)})
		return nil
	}

	si := p7.Signers[0]
	h, ok := common.HashFromOID(si.DigestAlgorithm.Algorithm)
	if !ok {
		res.Errors = append(res.Errors, &PolicyError{Msg: fmt.Sprintf("unsupported digest algorithm %s", si.DigestAlgorithm.Algorithm)})
		return nil
	}
	res.HashAlgorithm = hashName(h)

	c := &checked{p7: p7, content: content, signer: signerCertificate(p7)}
	if c.signer == nil {
		res.Errors = append(res.Errors, &InvalidSignatureError{Msg: "no certificate for signer"})
		return c
	}
	res.Signer = c.signer
	res.SignerName = c.signer.Subject.CommonName

	digestOK := checkMessageDigest(p7, h, content)
	if !digestOK {
		res.Errors = append(res.Errors, &InvalidSignatureError{Msg: "message digest does not match the signed byte ranges"})
	}
	res.Intact = digestOK && wellFormed

	if err := processTimestamp(p7, res); err != nil {
		res.Errors = append(res.Errors, &ValidationError{Msg: fmt.Sprintf("failed to process timestamp: %v", err)})
	}

	sigOK, err := verifySignatureValue(p7, rawSignature, c, res)
	if err != nil {
		res.Errors = append(res.Errors, &InvalidSignatureError{Msg: fmt.Sprintf("failed to verify signature: %v", err)})
	}
	res.Valid = digestOK && sigOK

	if err := verifyAlgorithmAndKeySize(c.signer, p7.Certificates, v.options); err != nil {
		res.Errors = append(res.Errors, &PolicyError{Msg: fmt.Sprintf("algorithm verification failed: %v", err)})
	}
	return c
}

func hashName(h crypto.Hash) string {
	switch h {
	case crypto.SHA256:
		return common.SHA256.String()
	case crypto.SHA384:
		return common.SHA384.String()
	case crypto.SHA512:
		return common.SHA512.String()
	}
	return h.String()
}

// byteRangeWellFormed checks that the ranges start at 0, stay inside the
// file and leave out exactly one hex string.
func byteRangeWellFormed(br []int64, data []byte) bool {
	if len(br) != 4 || br[0] != 0 || br[1] <= 0 || br[2] <= br[1]+1 {
		return false
	}
	end := br[2] + br[3]
	if end > int64(len(data)) {
		return false
	}
	if data[br[1]] != '<' || data[br[2]-1] != '>' {
		return false
	}
	for _, c := range data[br[1]+1 : br[2]-1] {
		if !isHex(c) {
			return false
		}
	}
	return true
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

// signerCertificate finds the certificate named by the SignerInfo.
func signerCertificate(p7 *pkcs7.PKCS7) *x509.Certificate {
	if len(p7.Signers) == 0 {
		return nil
	}
	ias := p7.Signers[0].IssuerAndSerialNumber
	for _, cert := range p7.Certificates {
		if cert.SerialNumber.Cmp(ias.SerialNumber) == 0 && bytes.Equal(cert.RawIssuer, ias.IssuerName.FullBytes) {
			return cert
		}
	}
	if len(p7.Certificates) == 1 {
		return p7.Certificates[0]
	}
	return nil
}

func checkMessageDigest(p7 *pkcs7.PKCS7, h crypto.Hash, content []byte) bool {
	var digest []byte
	if err := p7.UnmarshalSignedAttribute(pkcs7.OIDAttributeMessageDigest, &digest); err != nil {
		return false
	}
	hash := h.New()
	hash.Write(content)
	return subtle.ConstantTimeCompare(digest, hash.Sum(nil)) == 1
}

// verifySignatureValue checks the signature over the signed attributes.
// RSASSA-PSS is verified directly because the pkcs7 library only handles
// PKCS#1 v1.5 and ECDSA.
func verifySignatureValue(p7 *pkcs7.PKCS7, raw []byte, c *checked, res *Result) (bool, error) {
	container, err := cms.Parse(raw)
	if err != nil {
		return false, err
	}
	si := &container.Signers[0]
	oid, err := si.SignatureAlgorithmOID()
	if err != nil {
		return false, err
	}

	if oid.Equal(cms.OIDRSAPSS) {
		res.Algorithm = common.RSAPSS.String()
		pub, ok := c.signer.PublicKey.(*rsa.PublicKey)
		if !ok {
			return false, fmt.Errorf("RSASSA-PSS signature with %T key", c.signer.PublicKey)
		}
		h, salt, err := cms.ParsePSSAlgorithm(si.SignatureAlgorithm)
		if err != nil {
			return false, err
		}
		attrs, err := si.SignedAttrsDER()
		if err != nil {
			return false, err
		}
		digest := h.New()
		digest.Write(attrs)
		if err := rsa.VerifyPSS(pub, h, digest.Sum(nil), si.Signature, &rsa.PSSOptions{SaltLength: salt, Hash: h}); err != nil {
			return false, err
		}
		return true, nil
	}

	res.Algorithm = publicKeyAlgorithm(c.signer)
	p7.Content = c.content
	if err := p7.Verify(); err != nil {
		return false, fmt.Errorf("signature verification failed: %v", err)
	}
	return true, nil
}

func publicKeyAlgorithm(cert *x509.Certificate) string {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return fmt.Sprintf("RSA-%d", pub.N.BitLen())
	case *ecdsa.PublicKey:
		return "ECDSA-" + strings.ReplaceAll(pub.Curve.Params().Name, "-", "")
	}
	return cert.PublicKeyAlgorithm.String()
}

// processTimestamp processes timestamp information from the signature.
func processTimestamp(p7 *pkcs7.PKCS7, res *Result) error {
	for _, s := range p7.Signers {
		// Timestamp - RFC 3161 id-aa-timeStampToken
		for _, attr := range s.UnauthenticatedAttributes {
			if !attr.Type.Equal(cms.OIDTimestampToken) {
				continue
			}
			ts, err := timestamp.Parse(attr.Value.Bytes)
			if err != nil {
				return fmt.Errorf("failed to parse timestamp: %v", err)
			}
			res.TimeStamp = ts

			// The token covers the signature value.
			h := ts.HashAlgorithm.New()
			h.Write(s.EncryptedDigest)
			if !bytes.Equal(h.Sum(nil), ts.HashedMessage) {
				return fmt.Errorf("timestamp hash does not match")
			}
			t := ts.Time
			res.TimestampTime = &t
			break
		}
	}
	return nil
}

func verifyAlgorithmAndKeySize(leaf *x509.Certificate, certs []*x509.Certificate, options *VerifyOptions) error {
	// Helper to verify a single certificate
	verifyCert := func(cert *x509.Certificate, isLeaf bool) error {
		if cert == nil {
			return nil
		}

		if len(options.AllowedAlgorithms) > 0 && !slices.Contains(options.AllowedAlgorithms, cert.PublicKeyAlgorithm) {
			return fmt.Errorf("public key algorithm %s is not allowed (isLeaf: %v)", cert.PublicKeyAlgorithm, isLeaf)
		}

		switch pub := cert.PublicKey.(type) {
		case *rsa.PublicKey:
			if options.MinRSAKeySize > 0 && pub.N.BitLen() < options.MinRSAKeySize {
				return fmt.Errorf("RSA key size %d is less than minimum %d (isLeaf: %v)", pub.N.BitLen(), options.MinRSAKeySize, isLeaf)
			}
		case *ecdsa.PublicKey:
			if options.MinECDSAKeySize > 0 && pub.Params().BitSize < options.MinECDSAKeySize {
				return fmt.Errorf("ECDSA key size %d is less than minimum %d (isLeaf: %v)", pub.Params().BitSize, options.MinECDSAKeySize, isLeaf)
			}
		}
		return nil
	}

	if !options.ValidateFullChain {
		return verifyCert(leaf, true)
	}
	for _, cert := range certs {
		if err := verifyCert(cert, cert == leaf); err != nil {
			return err
		}
	}
	return nil
}

// checkDocMDP verifies Document Modification Detection and Prevention permissions.
func checkDocMDP(doc *pdf.Document, sig *extract.Signature, res *Result) error {
	refs, ok := doc.Resolve(sig.Dict["Reference"]).(pdf.Array)
	if !ok {
		return nil
	}

	for _, r := range refs {
		ref, ok := doc.ResolveDict(r)
		if !ok || ref.Name("TransformMethod") != "DocMDP" {
			continue
		}
		perms := int64(2) // Default
		if params, ok := doc.ResolveDict(ref["TransformParams"]); ok {
			if p, ok := params.Int("P"); ok {
				perms = p
			}
		}

		if sig.CoversWholeDocument() {
			continue
		}
		switch perms {
		case 1:
			return fmt.Errorf("incremental update found but P=1 (NoChanges) permits none")
		case 2:
			res.Warnings = append(res.Warnings, "DocMDP P=2: incremental update found, form filling and signing permitted")
		case 3:
			res.Warnings = append(res.Warnings, "DocMDP P=3: incremental update found, annotations permitted")
		}
	}
	return nil
}
