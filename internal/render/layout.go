package render

import (
	"strings"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/fonts"
)

// Fit picks the largest font size, starting at size and going down in half
// point steps, at which text wrapped to width fits into height. At
// MinFontSize the text is returned wrapped even if it still overflows.
func Fit(m *fonts.Metrics, text string, width, height, size float64) (float64, []string) {
	if size <= 0 {
		size = DefaultFontSize
	}
	for ; size > MinFontSize; size -= 0.5 {
		lines, ok := Wrap(m, text, width, size)
		if ok && float64(len(lines))*size*lineSpacing <= height+0.001 {
			return size, lines
		}
	}
	size = MinFontSize
	lines, _ := Wrap(m, text, width, size)
	return size, lines
}

// Wrap breaks text into lines no wider than width. Explicit newlines are
// kept. ok is false when a single word is wider than width.
func Wrap(m *fonts.Metrics, text string, width, size float64) (lines []string, ok bool) {
	ok = true
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		line := words[0]
		if m.StringWidth(line, size) > width {
			ok = false
		}
		for _, word := range words[1:] {
			if m.StringWidth(word, size) > width {
				ok = false
			}
			candidate := line + " " + word
			if m.StringWidth(candidate, size) <= width {
				line = candidate
				continue
			}
			lines = append(lines, line)
			line = word
		}
		lines = append(lines, line)
	}
	return lines, ok
}
