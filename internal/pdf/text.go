package pdf

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var utf16BOM = []byte{0xfe, 0xff}

// TextString encodes s as a PDF text string: PDFDocEncoding when it is
// plain ASCII, UTF-16BE with a byte order mark otherwise.
func TextString(s string) String {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return String(s)
	}
	enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
	out, err := enc.Bytes([]byte(s))
	if err != nil {
		return String(s)
	}
	return String(out)
}

// DecodeText decodes a PDF text string.
func DecodeText(s String) string {
	if bytes.HasPrefix(s, utf16BOM) {
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		out, err := dec.Bytes(s)
		if err == nil {
			return string(out)
		}
	}
	// PDFDocEncoding agrees with Latin-1 for the printable range.
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(s)
	if err != nil {
		return string(s)
	}
	return string(out)
}

// FormatDate renders t as a PDF date, D:YYYYMMDDHHmmSS+HH'mm'.
func FormatDate(t time.Time) string {
	_, offset := t.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	if offset == 0 {
		return "D:" + t.Format("20060102150405") + "Z"
	}
	return fmt.Sprintf("D:%s%s%02d'%02d'", t.Format("20060102150405"), sign, offset/3600, (offset%3600)/60)
}

// ParseDate parses a PDF date. Missing trailing fields default to their
// lowest value.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	if len(s) < 4 {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}

	fields := []int{0, 1, 1, 0, 0, 0}
	widths := []int{4, 2, 2, 2, 2, 2}
	pos := 0
	for i, w := range widths {
		if pos+w > len(s) || !isDigits(s[pos:pos+w]) {
			break
		}
		fields[i], _ = strconv.Atoi(s[pos : pos+w])
		pos += w
	}

	loc := time.UTC
	if rest := s[pos:]; rest != "" && rest[0] != 'Z' {
		sign := 1
		switch rest[0] {
		case '+':
		case '-':
			sign = -1
		default:
			return time.Time{}, fmt.Errorf("invalid date %q", s)
		}
		rest = strings.ReplaceAll(rest[1:], "'", "")
		var hh, mm int
		if len(rest) >= 2 {
			hh, _ = strconv.Atoi(rest[:2])
		}
		if len(rest) >= 4 {
			mm, _ = strconv.Atoi(rest[2:4])
		}
		loc = time.FixedZone("", sign*(hh*3600+mm*60))
	}
	return time.Date(fields[0], time.Month(fields[1]), fields[2], fields[3], fields[4], fields[5], 0, loc), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
