package common

import (
	"crypto/x509"
	"encoding/asn1"
	"math"
	"time"

	"golang.org/x/crypto/ocsp"
)

// Rectangle is a box in PDF user space with its origin at the lower left corner.
type Rectangle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RectangleFromCorners converts a PDF /Rect array into a Rectangle.
// The corners may be given in any order.
func RectangleFromCorners(llx, lly, urx, ury float64) Rectangle {
	return Rectangle{
		X:      math.Min(llx, urx),
		Y:      math.Min(lly, ury),
		Width:  math.Abs(urx - llx),
		Height: math.Abs(ury - lly),
	}
}

// Corners returns the rectangle as [llx lly urx ury].
func (r Rectangle) Corners() [4]float64 {
	return [4]float64{r.X, r.Y, r.X + r.Width, r.Y + r.Height}
}

// Usable reports whether the rectangle has a finite, positive area.
func (r Rectangle) Usable() bool {
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.Width > 0 && r.Height > 0
}

// Equal compares two rectangles with the given tolerance.
func (r Rectangle) Equal(o Rectangle, tolerance float64) bool {
	return math.Abs(r.X-o.X) <= tolerance &&
		math.Abs(r.Y-o.Y) <= tolerance &&
		math.Abs(r.Width-o.Width) <= tolerance &&
		math.Abs(r.Height-o.Height) <= tolerance
}

// Color represents an RGB color.
type Color struct {
	R, G, B uint8
}

// SignatureField is a signature form field of a document.
type SignatureField struct {
	Name       string    `json:"name"`
	Page       int       `json:"page"` // 0-based
	Bounds     Rectangle `json:"bounds"`
	Signed     bool      `json:"signed"`
	Predefined bool      `json:"predefined"`
}

// Appearance describes the optional visible part of a signature.
type Appearance struct {
	Visible bool

	// Page and Bounds place a newly created field. They are ignored when
	// signing through an existing field.
	Page   int
	Bounds *Rectangle

	Text     string
	Image    []byte  // JPEG or PNG
	FontData []byte  // optional TrueType font, Helvetica otherwise
	FontSize float64 // 0 picks a size that fits

	TextColor   *Color
	Background  *Color
	Border      *Color
	BorderWidth float64
}

// Capabilities lists what the engine supports.
type Capabilities struct {
	HashAlgorithms      []string `json:"hash_algorithms"`
	SignatureAlgorithms []string `json:"signature_algorithms"`
	PDFVersions         []string `json:"pdf_versions"`
	Standards           []string `json:"standards"`
}

// SupportsHash reports whether name is listed, e.g. "SHA-256".
func (c Capabilities) SupportsHash(name string) bool {
	return contains(c.HashAlgorithms, name)
}

// SupportsSignature reports whether name is listed, e.g. "RSA-2048".
func (c Capabilities) SupportsSignature(name string) bool {
	return contains(c.SignatureAlgorithms, name)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Pkcs7Signature is an embedded CMS SignedData container together with
// the byte range it declares.
type Pkcs7Signature struct {
	Index           int                   `json:"index"`
	FieldName       string                `json:"field_name"`
	ByteRange       []int64               `json:"byte_range"`
	Contents        []byte                `json:"-"`
	DigestAlgorithm asn1.ObjectIdentifier `json:"digest_algorithm"`
	SignedAttrs     []byte                `json:"-"` // DER SET OF Attribute
	Signature       []byte                `json:"-"`
	Certificates    []*x509.Certificate   `json:"-"`
	TimestampToken  []byte                `json:"-"`
}

// DocumentInfo contains document information that can be extracted from any PDF.
type DocumentInfo struct {
	Author   string `json:"author"`
	Creator  string `json:"creator"`
	Producer string `json:"producer"`
	Subject  string `json:"subject"`
	Title    string `json:"title"`
	Version  string `json:"version"`

	Pages        int       `json:"pages"`
	Keywords     []string  `json:"keywords"`
	ModDate      time.Time `json:"mod_date"`
	CreationDate time.Time `json:"creation_date"`
}

// Certificate contains certificate information and validation results.
type Certificate struct {
	Certificate       *x509.Certificate `json:"certificate"`
	VerifyError       string            `json:"verify_error"`
	KeyUsageValid     bool              `json:"key_usage_valid"`
	KeyUsageError     string            `json:"key_usage_error,omitempty"`
	OCSPResponse      *ocsp.Response    `json:"ocsp_response"`
	OCSPEmbedded      bool              `json:"ocsp_embedded"`
	CRLEmbedded       bool              `json:"crl_embedded"`
	RevocationWarning string            `json:"revocation_warning,omitempty"`
	RevocationTime    *time.Time        `json:"revocation_time,omitempty"`
}
