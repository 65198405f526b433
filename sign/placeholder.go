package sign

import (
	"bytes"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/digitorus/pkcs7"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/incremental"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/revocation"
)

const (
	// byteRangePlaceholder has room for three ten digit offsets.
	byteRangePlaceholder = "[0 ********** ********** **********]"

	// baseSize covers the ASN.1 framing and the fixed signed attributes,
	// in hex digits.
	baseSize = 1024

	// timestampSize is reserved for a timestamp token, in bytes.
	timestampSize = 9000
)

// signatureDict returns the signature dictionary with a ByteRange
// placeholder and a Contents string of size zero digits.
func signatureDict(opts *Options, signingTime time.Time, size int) pdf.Dict {
	dict := pdf.Dict{
		"Type":      pdf.Name("Sig"),
		"Filter":    pdf.Name("Adobe.PPKLite"),
		"SubFilter": pdf.Name("adbe.pkcs7.detached"),
		"ByteRange": pdf.Raw(byteRangePlaceholder),
		"Contents":  pdf.Raw("<" + strings.Repeat("0", size) + ">"),
		"M":         pdf.String(pdf.FormatDate(signingTime)),
	}
	if opts.Name != "" {
		dict["Name"] = pdf.TextString(opts.Name)
	}
	if opts.Reason != "" {
		dict["Reason"] = pdf.TextString(opts.Reason)
	}
	if opts.Location != "" {
		dict["Location"] = pdf.TextString(opts.Location)
	}
	if opts.ContactInfo != "" {
		dict["ContactInfo"] = pdf.TextString(opts.ContactInfo)
	}
	return dict
}

// placeholders are the absolute offsets of the two patched parts of a
// written signature dictionary.
type placeholders struct {
	byteRange     int64 // '[' of the ByteRange array
	contentsStart int64 // '<' of Contents
	contentsEnd   int64 // after '>'
}

// locate finds the placeholders of the signature object written at
// objOffset.
func locate(res *incremental.Result, objOffset int64, size int) (placeholders, error) {
	data := res.Bytes()
	if objOffset < res.PrefixLen() || objOffset >= res.Len() {
		return placeholders{}, fmt.Errorf("sign: signature object offset %d outside of the revision", objOffset)
	}
	obj := data[objOffset:]

	br := bytes.Index(obj, []byte(byteRangePlaceholder))
	if br < 0 {
		return placeholders{}, fmt.Errorf("sign: ByteRange placeholder not found")
	}
	contents := bytes.Index(obj, []byte("<"+strings.Repeat("0", size)+">"))
	if contents < 0 {
		return placeholders{}, fmt.Errorf("sign: Contents placeholder not found")
	}
	start := objOffset + int64(contents)
	return placeholders{
		byteRange:     objOffset + int64(br),
		contentsStart: start,
		contentsEnd:   start + int64(size) + 2,
	}, nil
}

// fillByteRange writes the final ByteRange over the placeholder, padded
// with spaces so no offset moves.
func fillByteRange(res *incremental.Result, p placeholders, br [4]int64) error {
	value := fmt.Sprintf("[%d %d %d %d]", br[0], br[1], br[2], br[3])
	if len(value) > len(byteRangePlaceholder) {
		return fmt.Errorf("sign: byte range %s does not fit the placeholder", value)
	}
	value += strings.Repeat(" ", len(byteRangePlaceholder)-len(value))
	return res.Replace(p.byteRange, []byte(byteRangePlaceholder), []byte(value))
}

// fillContents writes the hex encoded container into the Contents string.
// The remaining digits stay zero.
func fillContents(res *incremental.Result, p placeholders, container []byte) error {
	dst := make([]byte, hex.EncodedLen(len(container)))
	hex.Encode(dst, container)
	return res.Replace(p.contentsStart+1, bytes.Repeat([]byte("0"), len(dst)), dst)
}

// signedContent concatenates the two covered ranges.
func signedContent(data []byte, br [4]int64) []byte {
	content := make([]byte, 0, br[1]+br[3])
	content = append(content, data[br[0]:br[0]+br[1]]...)
	return append(content, data[br[2]:br[2]+br[3]]...)
}

// estimateSize returns the number of hex digits to reserve for the
// container.
func estimateSize(creds *Credentials, alg common.Algorithm, rev *revocation.InfoArchival, timestamped bool) (int, error) {
	size := baseSize

	sigSize, err := SignatureSize(creds.Signer)
	if err != nil {
		sigSize = DefaultSignatureSize
	}
	size += hex.EncodedLen(sigSize)

	// message digest and the certificate hash of SigningCertificateV2
	size += hex.EncodedLen(alg.Hash.Hash().Size() * 2)

	leaf, err := pkcs7.DegenerateCertificate(creds.Certificate.Raw)
	if err != nil {
		return 0, fmt.Errorf("sign: degenerate certificate: %w", err)
	}
	size += hex.EncodedLen(len(leaf))
	size += hex.EncodedLen(len(creds.Certificate.RawIssuer))

	for _, c := range creds.Chain {
		size += chainCertSize(c)
	}
	if rev != nil {
		size += rev.EncodedLen()
	}
	if timestamped {
		size += hex.EncodedLen(timestampSize)
	}
	return size, nil
}

func chainCertSize(c *x509.Certificate) int {
	if c == nil {
		return 0
	}
	der, err := pkcs7.DegenerateCertificate(c.Raw)
	if err != nil {
		return hex.EncodedLen(len(c.Raw))
	}
	return hex.EncodedLen(len(der))
}
