package pdf

import (
	"bytes"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/testpki"
)

func TestParseGenerated(t *testing.T) {
	data := testpki.GeneratePDF(testpki.PDFOptions{Pages: 3, Info: true})

	doc, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Version() != "1.7" {
		t.Errorf("version = %q, want 1.7", doc.Version())
	}
	if doc.Recovered() {
		t.Error("well-formed document should not need recovery")
	}

	pages, err := doc.Pages()
	if err != nil {
		t.Fatalf("Pages: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(pages))
	}
	if pages[0].MediaBox != (common.Rectangle{Width: 612, Height: 792}) {
		t.Errorf("unexpected media box %+v", pages[0].MediaBox)
	}

	info := doc.Info()
	if info.Producer != "testpki" || info.Pages != 3 {
		t.Errorf("unexpected info %+v", info)
	}
	if !info.CreationDate.Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("creation date = %v", info.CreationDate)
	}

	// Catalog, page tree, three pages with content and the info dictionary.
	if got := doc.NextObjectID(); got != 10 {
		t.Errorf("NextObjectID = %d, want 10", got)
	}
}

func TestParseRejectsNonPDF(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":     nil,
		"text":      []byte("hello world"),
		"no header": bytes.Repeat([]byte("x"), 2048),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(data)
			var perr *common.DocumentParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected DocumentParseError, got %v", err)
			}
		})
	}
}

func TestParseRecoversBrokenXref(t *testing.T) {
	data := testpki.GeneratePDF(testpki.PDFOptions{Pages: 2})
	// Point startxref at garbage.
	i := bytes.LastIndex(data, []byte("startxref"))
	broken := append(bytes.Clone(data[:i]), []byte("startxref\n7\n%%EOF\n")...)

	doc, err := Parse(broken)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !doc.Recovered() {
		t.Error("expected recovery")
	}
	if n := doc.NumPages(); n != 2 {
		t.Errorf("got %d pages, want 2", n)
	}
}

func TestParseRecoversMissingTrailer(t *testing.T) {
	data := testpki.GeneratePDF(testpki.PDFOptions{Pages: 1})
	i := bytes.Index(data, []byte("xref"))

	doc, err := Parse(data[:i])
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.CatalogRef().ID != 1 {
		t.Errorf("catalog = %v, want 1 0 R", doc.CatalogRef())
	}
}

func TestParseXrefStream(t *testing.T) {
	data := testpki.GeneratePDF(testpki.PDFOptions{Pages: 2, XrefStream: true})

	doc, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !doc.XrefStream() {
		t.Error("expected cross-reference stream")
	}
	if doc.Recovered() {
		t.Error("cross-reference stream document was recovered by scanning")
	}
	if _, ok := doc.Trailer().Ref("Root"); !ok {
		t.Errorf("trailer has no /Root reference: %v", doc.Trailer())
	}
	if _, ok := doc.Trailer()["W"]; !ok {
		t.Error("trailer does not carry the stream dictionary")
	}
	if n := doc.NumPages(); n != 2 {
		t.Errorf("got %d pages, want 2", n)
	}
}

func TestFields(t *testing.T) {
	data := testpki.GeneratePDF(testpki.PDFOptions{
		Pages: 2,
		Fields: []testpki.PDFField{
			{Name: "Approval", Page: 1, Rect: [4]float64{100, 100, 300, 150}},
		},
	})
	doc, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	f, err := doc.Field("Approval")
	if err != nil {
		t.Fatalf("Field: %v", err)
	}
	if f.Page != 1 || f.Signed || !f.Predefined {
		t.Errorf("unexpected field %+v", f)
	}
	want := common.Rectangle{X: 100, Y: 100, Width: 200, Height: 50}
	if f.Bounds != want {
		t.Errorf("bounds = %+v, want %+v", f.Bounds, want)
	}

	_, err = doc.Field("Missing")
	var nf *common.FieldNotFoundError
	if !errors.As(err, &nf) || nf.Name != "Missing" {
		t.Errorf("expected FieldNotFoundError for Missing, got %v", err)
	}
}

func TestAppend(t *testing.T) {
	data := testpki.GeneratePDF(testpki.PDFOptions{Pages: 1})
	doc, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}

	offset := len(data)
	inc := []byte("\n4 0 obj\n(replaced)\nendobj\n")
	xref := offset + len(inc)
	inc = append(inc, []byte("xref\n4 1\n")...)
	inc = append(inc, []byte(padOffset(offset+1)+" 00000 n\r\n")...)
	inc = append(inc, []byte("trailer\n<< /Size 5 /Root 1 0 R /Prev "+itoa(int(doc.StartXref()))+" >>\nstartxref\n"+itoa(xref)+"\n%%EOF\n")...)

	next, err := doc.Append(inc)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	obj, err := next.Object(4)
	if err != nil {
		t.Fatal(err)
	}
	if s, ok := obj.(String); !ok || string(s) != "replaced" {
		t.Errorf("object 4 = %#v", obj)
	}
	if len(next.Increments()) != 1 || !bytes.Equal(next.Base(), data) {
		t.Error("increments not tracked")
	}
	// The original document is unchanged.
	if _, ok := mustObject(t, doc, 4).(*Stream); !ok {
		t.Error("original object 4 should still be the content stream")
	}
}

func mustObject(t *testing.T, doc *Document, id uint32) Object {
	t.Helper()
	o, err := doc.Object(id)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func padOffset(n int) string {
	s := itoa(n)
	for len(s) < 10 {
		s = "0" + s
	}
	return s
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
