// Package extract reads the signature dictionaries of a document and the
// CMS containers embedded in them.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/digitorus/pkcs7"
	"golang.org/x/crypto/cryptobyte"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/cms"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
)

// Signature represents a signature dictionary in the PDF.
type Signature struct {
	Index     int
	FieldName string
	Ref       pdf.Ref
	Dict      pdf.Dict
	File      io.ReaderAt
	Size      int64
}

func (s *Signature) text(key pdf.Name) string {
	str, _ := s.Dict[key].(pdf.String)
	return pdf.DecodeText(str)
}

// Name returns the name of the person or authority signing the document.
func (s *Signature) Name() string { return s.text("Name") }

func (s *Signature) Reason() string      { return s.text("Reason") }
func (s *Signature) Location() string    { return s.text("Location") }
func (s *Signature) ContactInfo() string { return s.text("ContactInfo") }

// Filter returns the name of the preferred signature handler.
func (s *Signature) Filter() string {
	return string(s.Dict.Name("Filter"))
}

// SubFilter returns the encoding format of the signature.
func (s *Signature) SubFilter() string {
	return string(s.Dict.Name("SubFilter"))
}

// SigningTime returns the M entry of the dictionary. It is the claimed
// time of the signer's computer, not a trusted time.
func (s *Signature) SigningTime() (time.Time, bool) {
	m := s.text("M")
	if m == "" {
		return time.Time{}, false
	}
	t, err := pdf.ParseDate(m)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Contents returns the raw PKCS#7/CMS signature envelope without the zero
// padding of the reserved space.
func (s *Signature) Contents() []byte {
	raw, _ := s.Dict["Contents"].(pdf.String)
	return trimPadding(raw)
}

func trimPadding(b []byte) []byte {
	in := cryptobyte.String(b)
	var el cryptobyte.String
	if in.ReadAnyASN1Element(&el, nil) {
		return el
	}
	return bytes.TrimRight(b, "\x00")
}

// ByteRange returns the array of byte offsets that define the range(s) of the file covered by the signature.
func (s *Signature) ByteRange() []int64 {
	br, _ := pdf.ByteRange(s.Dict)
	return br
}

// CoversWholeDocument reports whether the second range ends at the end of
// the file, so nothing was appended after the signature.
func (s *Signature) CoversWholeDocument() bool {
	br := s.ByteRange()
	return len(br) == 4 && br[0] == 0 && br[2]+br[3] == s.Size
}

// SignedData returns a reader that provides the actual bytes of the document covered by the signature.
func (s *Signature) SignedData() (io.Reader, error) {
	ranges := s.ByteRange()
	if len(ranges) == 0 || len(ranges)%2 != 0 {
		return nil, errors.New("invalid or missing ByteRange")
	}
	for i := 0; i < len(ranges); i += 2 {
		if ranges[i]+ranges[i+1] > s.Size {
			return nil, fmt.Errorf("byte range %d+%d exceeds file size %d", ranges[i], ranges[i+1], s.Size)
		}
	}

	return &ByteRangeReader{
		File:   s.File,
		Ranges: ranges,
	}, nil
}

// Pkcs7 decodes the container into the parts a validator needs.
func (s *Signature) Pkcs7() (common.Pkcs7Signature, error) {
	out := common.Pkcs7Signature{
		Index:     s.Index,
		FieldName: s.FieldName,
		ByteRange: s.ByteRange(),
		Contents:  s.Contents(),
	}
	if len(out.Contents) == 0 {
		return out, errors.New("signature has no contents")
	}

	p7, err := pkcs7.Parse(out.Contents)
	if err != nil {
		return out, fmt.Errorf("parse container: %w", err)
	}
	if len(p7.Signers) == 0 {
		return out, errors.New("container has no signers")
	}
	out.DigestAlgorithm = p7.Signers[0].DigestAlgorithm.Algorithm
	out.Certificates = p7.Certificates

	c, err := cms.Parse(out.Contents)
	if err != nil {
		return out, err
	}
	si := c.Signers[0]
	if len(si.SignedAttrs) > 0 {
		if out.SignedAttrs, err = si.SignedAttrsDER(); err != nil {
			return out, err
		}
	}
	out.Signature = si.Signature
	out.TimestampToken, _ = si.UnsignedAttribute(cms.OIDTimestampToken)
	return out, nil
}

// Iter returns an iterator over all signature dictionaries of doc in the
// order they were applied.
func Iter(doc *pdf.Document) iter.Seq2[*Signature, error] {
	return func(yield func(*Signature, error) bool) {
		data := doc.Bytes()
		file := bytes.NewReader(data)
		for i, ref := range doc.Signatures() {
			sig := &Signature{
				Index:     i,
				FieldName: ref.FieldName,
				Ref:       ref.Ref,
				Dict:      ref.Dict,
				File:      file,
				Size:      int64(len(data)),
			}
			var err error
			if _, ok := pdf.ByteRange(ref.Dict); !ok {
				err = fmt.Errorf("signature %d (%s): malformed ByteRange", i, ref.Ref)
			}
			if !yield(sig, err) {
				return
			}
		}
	}
}

// Signatures collects Iter. Signatures with a malformed ByteRange are
// still returned, their errors joined.
func Signatures(doc *pdf.Document) ([]*Signature, error) {
	var out []*Signature
	var errs []error
	for sig, err := range Iter(doc) {
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, sig)
	}
	return out, errors.Join(errs...)
}

// Containers decodes every embedded container. A signature that cannot be
// decoded is skipped and its error joined to the result.
func Containers(doc *pdf.Document) ([]common.Pkcs7Signature, error) {
	var out []common.Pkcs7Signature
	var errs []error
	for sig := range Iter(doc) {
		p, err := sig.Pkcs7()
		if err != nil {
			errs = append(errs, fmt.Errorf("signature %d: %w", sig.Index, err))
			continue
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

// ByteRangeReader implements io.Reader to look like a continuous stream
// over the non-contiguous byte ranges.
type ByteRangeReader struct {
	File      io.ReaderAt
	Ranges    []int64
	rangeIdx  int
	readInCur int64
}

func (r *ByteRangeReader) Read(p []byte) (n int, err error) {
	if r.rangeIdx >= len(r.Ranges) {
		return 0, io.EOF
	}

	totalRead := 0
	for totalRead < len(p) && r.rangeIdx < len(r.Ranges) {
		start := r.Ranges[r.rangeIdx]
		length := r.Ranges[r.rangeIdx+1]

		remainingInCurrent := length - r.readInCur
		if remainingInCurrent <= 0 {
			r.rangeIdx += 2
			r.readInCur = 0
			continue
		}

		toRead := min(int64(len(p)-totalRead), remainingInCurrent)

		bytesRead, readErr := r.File.ReadAt(p[totalRead:totalRead+int(toRead)], start+r.readInCur)
		if bytesRead > 0 {
			totalRead += bytesRead
			r.readInCur += int64(bytesRead)
		}

		if readErr != nil {
			if readErr == io.EOF && r.readInCur == length {
				r.rangeIdx += 2
				r.readInCur = 0
				continue
			}
			return totalRead, readErr
		}
	}

	if totalRead == 0 && r.rangeIdx >= len(r.Ranges) {
		return 0, io.EOF
	}

	return totalRead, nil
}
