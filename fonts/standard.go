package fonts

// Advance widths of the printable ASCII range (32..126) from the Adobe
// core font metrics, in 1/1000 em.
var (
	helveticaWidths = [95]int{
		278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278,
		556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556,
		1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778,
		667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556,
		333, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556,
		556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584,
	}
	helveticaBoldWidths = [95]int{
		278, 333, 474, 556, 556, 889, 722, 238, 333, 333, 389, 584, 278, 333, 278, 278,
		556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 333, 333, 584, 584, 584, 611,
		975, 722, 722, 722, 722, 667, 611, 778, 722, 278, 556, 722, 611, 833, 722, 778,
		667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 333, 278, 333, 584, 556,
		333, 556, 611, 556, 611, 556, 333, 611, 611, 278, 278, 556, 278, 889, 611, 611,
		611, 611, 389, 556, 333, 611, 556, 778, 556, 556, 500, 389, 280, 389, 584,
	}
)

var (
	helveticaMetrics     = afmMetrics(helveticaWidths[:], 0)
	helveticaBoldMetrics = afmMetrics(helveticaBoldWidths[:], 0)
	courierMetrics       = afmMetrics(nil, 600)
)

// afmMetrics builds metrics for a core font. Runes outside the table fall
// back to half an em, or to fixed for monospaced fonts.
func afmMetrics(widths []int, fixed int) *Metrics {
	m := &Metrics{UnitsPerEm: 1000, GlyphWidths: make(map[rune]int)}
	for r := rune(32); r <= 255; r++ {
		switch {
		case fixed > 0:
			m.GlyphWidths[r] = fixed
		case int(r-32) < len(widths):
			m.GlyphWidths[r] = widths[r-32]
		}
	}
	return m
}
