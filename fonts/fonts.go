// Package fonts provides font resources and metrics for signature
// appearances: the standard Helvetica family, which needs no embedding, and
// TrueType fonts whose metrics are read with sfnt.
package fonts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// StandardType represents standard PDF fonts that are available in all PDF readers
// without embedding.
type StandardType int

const (
	Helvetica StandardType = iota
	HelveticaBold
	Courier
)

// Font represents a font resource that can be used in PDF appearances.
type Font struct {
	Name     string   // PostScript name of the font
	Data     []byte   // TrueType font data (nil for standard fonts)
	Hash     string   // SHA-256 of Data
	Embedded bool     // Whether the font must be embedded
	Metrics  *Metrics // nil for standard fonts without a width table
}

// Standard returns a Font for a standard PDF font.
func Standard(ft StandardType) *Font {
	switch ft {
	case HelveticaBold:
		return &Font{Name: "Helvetica-Bold", Metrics: helveticaBoldMetrics}
	case Courier:
		return &Font{Name: "Courier", Metrics: courierMetrics}
	default:
		return &Font{Name: "Helvetica", Metrics: helveticaMetrics}
	}
}

// Load parses a TrueType font for embedding.
func Load(data []byte) (*Font, error) {
	m, err := ParseTTFMetrics(data)
	if err != nil {
		return nil, fmt.Errorf("fonts: parse TrueType data: %w", err)
	}
	sum := sha256.Sum256(data)

	name, err := m.font.Name(nil, sfnt.NameIDPostScript)
	if name = sanitizeName(name); err != nil || name == "" {
		name = "EmbeddedFont"
	}
	return &Font{
		Name:     name,
		Data:     data,
		Hash:     hex.EncodeToString(sum[:]),
		Embedded: true,
		Metrics:  m,
	}, nil
}

// sanitizeName keeps a font name usable as a PDF name.
func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= ' ' || r > '~' || strings.ContainsRune("()<>[]{}/%#", r) {
			return -1
		}
		return r
	}, s)
}

// Metrics contains font metrics for text measurement.
type Metrics struct {
	UnitsPerEm  int
	GlyphWidths map[rune]int // Advance widths in font units

	// Vertical metrics and bounding box in 1/1000 em, for the font
	// descriptor of an embedded font.
	Ascent, Descent, CapHeight int
	BBox                       [4]int

	font *sfnt.Font
}

// ParseTTFMetrics parses a TrueType font file and extracts glyph metrics.
func ParseTTFMetrics(data []byte) (*Metrics, error) {
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, err
	}

	unitsPerEm := f.UnitsPerEm()
	glyphWidths := make(map[rune]int)
	var buf sfnt.Buffer

	// Scale at unitsPerEm so advances come back in font units.
	ppem := fixed.Int26_6(unitsPerEm) << 6

	for r := rune(32); r <= rune(255); r++ {
		idx, err := f.GlyphIndex(&buf, r)
		if err != nil || idx == 0 {
			continue
		}
		advance, err := f.GlyphAdvance(&buf, idx, ppem, font.HintingNone)
		if err != nil {
			continue
		}
		glyphWidths[r] = int(advance >> 6)
	}

	m := &Metrics{
		UnitsPerEm:  int(unitsPerEm),
		GlyphWidths: glyphWidths,
		Ascent:      800,
		Descent:     -200,
		CapHeight:   700,
		BBox:        [4]int{-500, -200, 1000, 900},
		font:        f,
	}

	// Vertical metrics come back with y pointing down.
	toEm := func(v fixed.Int26_6) int {
		return int(v>>6) * 1000 / int(unitsPerEm)
	}
	if vm, err := f.Metrics(&buf, ppem, font.HintingNone); err == nil {
		m.Ascent = toEm(vm.Ascent)
		m.Descent = -toEm(vm.Descent)
		if vm.CapHeight > 0 {
			m.CapHeight = toEm(vm.CapHeight)
		}
	}
	if b, err := f.Bounds(&buf, ppem, font.HintingNone); err == nil {
		m.BBox = [4]int{toEm(b.Min.X), -toEm(b.Max.Y), toEm(b.Max.X), -toEm(b.Min.Y)}
	}
	return m, nil
}

// StringWidth is the width of text in points at fontSize.
func (m *Metrics) StringWidth(text string, fontSize float64) float64 {
	if m == nil || m.UnitsPerEm == 0 {
		return float64(len([]rune(text))) * fontSize * 0.5
	}

	var total int
	for _, r := range text {
		total += m.GlyphWidth(r)
	}
	return float64(total) / float64(m.UnitsPerEm) * fontSize
}

// GlyphWidth returns the width of a single rune in font units.
func (m *Metrics) GlyphWidth(r rune) int {
	if m == nil {
		return 0
	}
	if width, ok := m.GlyphWidths[r]; ok {
		return width
	}
	return m.UnitsPerEm / 2
}

// WidthsArray returns the /Widths of a simple font with FirstChar 32 and
// LastChar 255, scaled to 1000 units per em.
func (m *Metrics) WidthsArray() []int {
	widths := make([]int, 256-32)
	if m == nil || m.UnitsPerEm == 0 {
		for i := range widths {
			widths[i] = 500
		}
		return widths
	}

	scale := 1000.0 / float64(m.UnitsPerEm)
	for i := range widths {
		widths[i] = int(float64(m.GlyphWidth(rune(i+32))) * scale)
	}
	return widths
}
