package incremental

import (
	"bytes"
	"errors"
	"testing"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/testpki"
)

func parse(t *testing.T, data []byte) *pdf.Document {
	t.Helper()
	doc, err := pdf.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func TestWriteKeepsPrefix(t *testing.T) {
	for _, xrefStream := range []bool{false, true} {
		name := "table"
		if xrefStream {
			name = "stream"
		}
		t.Run(name, func(t *testing.T) {
			data := testpki.GeneratePDF(testpki.PDFOptions{Pages: 3, XrefStream: xrefStream})
			doc := parse(t, data)

			u := New(doc)
			ref := u.AddObject([]byte("<< /Type /Test /Value (hello) >>"))
			if ref.ID != doc.NextObjectID() {
				t.Errorf("new object %v, want id %d", ref, doc.NextObjectID())
			}

			catalog, err := doc.Catalog()
			if err != nil {
				t.Fatal(err)
			}
			catalog = catalog.Clone()
			catalog["Test"] = ref
			if err := u.UpdateObject(doc.CatalogRef().ID, pdf.Serialize(catalog)); err != nil {
				t.Fatal(err)
			}

			res, err := u.Write()
			if err != nil {
				t.Fatalf("Write: %v", err)
			}
			out := res.Bytes()
			if !bytes.HasPrefix(out, data) {
				t.Fatal("output does not start with the original bytes")
			}
			if !bytes.HasSuffix(out, []byte("%%EOF\n")) {
				t.Errorf("output does not end with %%%%EOF")
			}

			next := parse(t, out)
			if next.XrefStream() != xrefStream {
				t.Errorf("xref stream = %v, want %v", next.XrefStream(), xrefStream)
			}
			if prev, _ := next.Trailer()["Prev"].(int64); prev != doc.StartXref() {
				t.Errorf("/Prev = %v, want %d", next.Trailer()["Prev"], doc.StartXref())
			}
			cat, err := next.Catalog()
			if err != nil {
				t.Fatal(err)
			}
			got, ok := next.ResolveDict(cat["Test"])
			if !ok || got.Name("Type") != "Test" {
				t.Errorf("new object not reachable from catalog: %#v", cat["Test"])
			}
			if next.NumPages() != 3 {
				t.Errorf("pages = %d, want 3", next.NumPages())
			}
		})
	}
}

func TestXrefSubsections(t *testing.T) {
	data := testpki.GeneratePDF(testpki.PDFOptions{Pages: 1})
	doc := parse(t, data)

	u := New(doc)
	u.AddObject([]byte("(a)"))
	u.AddObject([]byte("(b)"))
	if err := u.UpdateObject(2, []byte("<< /Type /Pages /Kids [3 0 R] /Count 1 >>")); err != nil {
		t.Fatal(err)
	}
	res, err := u.Write()
	if err != nil {
		t.Fatal(err)
	}

	inc := res.Increment()
	for _, want := range []string{"xref\n2 1\n", "\n5 2\n", "/Prev ", "/Root 1 0 R", "/Size 7"} {
		if !bytes.Contains(inc, []byte(want)) {
			t.Errorf("increment lacks %q:\n%s", want, inc)
		}
	}
}

func TestReserve(t *testing.T) {
	doc := parse(t, testpki.GeneratePDF(testpki.PDFOptions{}))
	u := New(doc)
	a := u.Reserve()
	u.AddObject([]byte("<< /Other " + a.String() + " >>"))

	if _, err := u.Write(); !errors.Is(err, ErrUnfilledRef) {
		t.Fatalf("expected ErrUnfilledRef, got %v", err)
	}
	u.SetObject(a, []byte("(filled)"))
	if _, err := u.Write(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateUnknownObject(t *testing.T) {
	doc := parse(t, testpki.GeneratePDF(testpki.PDFOptions{}))
	if err := New(doc).UpdateObject(999, []byte("null")); !errors.Is(err, ErrUnknownObject) {
		t.Errorf("expected ErrUnknownObject, got %v", err)
	}
	if _, err := New(doc).Write(); !errors.Is(err, ErrNoObjects) {
		t.Errorf("expected ErrNoObjects, got %v", err)
	}
}

func TestPatch(t *testing.T) {
	data := testpki.GeneratePDF(testpki.PDFOptions{})
	doc := parse(t, data)
	u := New(doc)
	u.AddObject([]byte("<< /Contents <0000> >>"))
	res, err := u.Write()
	if err != nil {
		t.Fatal(err)
	}
	size := res.Len()

	off := res.Index([]byte("<0000>"))
	if off < 0 {
		t.Fatal("placeholder not found")
	}
	if err := res.Replace(off+1, []byte("0000"), []byte("ABCD")); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(res.Bytes(), []byte("<ABCD>")) || res.Len() != size {
		t.Error("patch changed length or was not applied")
	}

	if err := res.Replace(off+1, []byte("ABCD"), []byte("ABC")); !errors.Is(err, ErrPatchMismatch) {
		t.Errorf("length change accepted: %v", err)
	}
	if err := res.Patch(0, []byte("%")); !errors.Is(err, ErrPatchOutOfRange) {
		t.Errorf("patch of previous revision accepted: %v", err)
	}
	if !bytes.HasPrefix(res.Bytes(), data) {
		t.Error("previous revision modified")
	}
}

func TestPatchKeepsTail(t *testing.T) {
	data := testpki.GeneratePDF(testpki.PDFOptions{})
	u := New(parse(t, data))
	u.AddObject([]byte("<< /ByteRange [0 0000 0000 0000] /Contents <0000> >>"))
	res, err := u.Write()
	if err != nil {
		t.Fatal(err)
	}
	before := bytes.Clone(res.Bytes())

	br := res.Index([]byte("[0 0000"))
	if err := res.Replace(br, []byte("[0 0000"), []byte("[0 1234")); err != nil {
		t.Fatal(err)
	}
	contents := res.Index([]byte("<0000>"))
	if contents < 0 {
		t.Fatal("second placeholder lost after the first patch")
	}
	if err := res.Replace(contents+1, []byte("0000"), []byte("abcd")); err != nil {
		t.Fatal(err)
	}

	if res.Len() != int64(len(before)) {
		t.Errorf("length %d after patching, want %d", res.Len(), len(before))
	}
	if !bytes.HasSuffix(res.Bytes(), []byte("%%EOF\n")) {
		t.Errorf("output does not end with %%%%EOF after patching")
	}
	want := bytes.Replace(before, []byte("[0 0000"), []byte("[0 1234"), 1)
	want = bytes.Replace(want, []byte("<0000>"), []byte("<abcd>"), 1)
	if !bytes.Equal(res.Bytes(), want) {
		t.Error("patching changed bytes outside the patched ranges")
	}
	parse(t, res.Bytes())
}

func TestRecoveredDocumentGetsFullTable(t *testing.T) {
	data := testpki.GeneratePDF(testpki.PDFOptions{Pages: 2})
	i := bytes.LastIndex(data, []byte("startxref"))
	broken := append(bytes.Clone(data[:i]), []byte("startxref\n7\n%%EOF\n")...)
	doc := parse(t, broken)

	u := New(doc)
	u.AddObject([]byte("(x)"))
	res, err := u.Write()
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(res.Increment(), []byte("/Prev")) {
		t.Error("recovered document should not chain to the broken table")
	}
	next := parse(t, res.Bytes())
	if next.Recovered() {
		t.Error("rewritten table should be readable without recovery")
	}
	if next.NumPages() != 2 {
		t.Errorf("pages = %d, want 2", next.NumPages())
	}
}
