package verify

import (
	"bytes"
	"reflect"
	"strings"

	pdflib "github.com/digitorus/pdf"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
)

// DocumentInfo reads the information dictionary and page count. Files the
// reader cannot open fall back to the tolerant parser of doc.
func DocumentInfo(doc *pdf.Document) common.DocumentInfo {
	info := doc.Info()
	data := doc.Bytes()
	rdr, err := newReader(data)
	if err != nil {
		return info
	}

	parsed := common.DocumentInfo{Version: info.Version, Pages: rdr.NumPage()}
	if v := rdr.Trailer().Key("Info"); !v.IsNull() {
		parseDocumentInfo(v, &parsed)
	}
	if parsed.Pages == 0 {
		parsed.Pages = info.Pages
	}
	return parsed
}

// newReader recovers from the panics the reader raises on malformed input.
func newReader(data []byte) (rdr *pdflib.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			rdr, err = nil, &common.DocumentParseError{Offset: -1, Msg: "unreadable document"}
		}
	}()
	return pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
}

// parseDocumentInfo parses document information from PDF Info dictionary.
func parseDocumentInfo(v pdflib.Value, documentInfo *common.DocumentInfo) {
	keys := []string{
		"Author", "CreationDate", "Creator", "Keywords", "ModDate",
		"Producer", "Subject", "Title",
	}

	for _, key := range keys {
		value := v.Key(key)
		if value.IsNull() {
			continue
		}
		// get string value
		valueStr := value.Text()

		// get struct field
		elem := reflect.ValueOf(documentInfo).Elem()
		field := elem.FieldByName(key)

		switch key {
		// parse dates
		case "CreationDate", "ModDate":
			t, _ := pdf.ParseDate(valueStr)
			field.Set(reflect.ValueOf(t))
		case "Keywords":
			documentInfo.Keywords = parseKeywords(valueStr)
		default:
			field.Set(reflect.ValueOf(valueStr))
		}
	}
}

// parseKeywords parses keywords PDF metadata.
func parseKeywords(value string) []string {
	// keywords must be separated by commas or semicolons or could be just separated with spaces, after the semicolon could be a space
	// https://stackoverflow.com/questions/44608608/the-separator-between-keywords-in-pdf-meta-data
	separators := []string{", ", ": ", ",", ":", " ", "; ", ";", " ;"}
	for _, s := range separators {
		if strings.Contains(value, s) {
			return strings.Split(value, s)
		}
	}

	return []string{value}
}
