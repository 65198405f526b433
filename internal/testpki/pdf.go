package testpki

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"strings"
)

// PDFField describes an empty signature field placed in a generated PDF.
type PDFField struct {
	Name string
	Page int
	Rect [4]float64
}

// PDFOptions controls GeneratePDF.
type PDFOptions struct {
	Pages      int
	Version    string
	Fields     []PDFField
	Info       bool
	XrefStream bool
}

// GeneratePDF writes a small, well-formed PDF. Object numbers are
// deterministic: 1 catalog, 2 page tree, then pages with their content
// streams, then fields, then the information dictionary.
func GeneratePDF(opts PDFOptions) []byte {
	if opts.Pages <= 0 {
		opts.Pages = 1
	}
	if opts.Version == "" {
		opts.Version = "1.7"
	}

	objects := map[int]string{}
	next := 3
	pageIDs := make([]int, opts.Pages)
	for i := range pageIDs {
		pageIDs[i] = next
		next += 2
	}
	fieldIDs := make([]int, len(opts.Fields))
	for i := range fieldIDs {
		fieldIDs[i] = next
		next++
	}
	infoID := 0
	if opts.Info {
		infoID = next
		next++
	}

	annots := make(map[int][]string)
	for i, f := range opts.Fields {
		annots[f.Page] = append(annots[f.Page], fmt.Sprintf("%d 0 R", fieldIDs[i]))
	}

	var kids []string
	for i, id := range pageIDs {
		kids = append(kids, fmt.Sprintf("%d 0 R", id))
		page := fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 << /Type /Font /Subtype /Type1 /BaseFont /Helvetica >> >> >>", id+1)
		if a := annots[i]; len(a) > 0 {
			page += " /Annots [" + strings.Join(a, " ") + "]"
		}
		objects[id] = page + " >>"
		content := fmt.Sprintf("BT /F1 24 Tf 72 700 Td (Page %d) Tj ET", i+1)
		objects[id+1] = fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)
	}

	catalog := "<< /Type /Catalog /Pages 2 0 R"
	if len(opts.Fields) > 0 {
		var refs []string
		for _, id := range fieldIDs {
			refs = append(refs, fmt.Sprintf("%d 0 R", id))
		}
		catalog += " /AcroForm << /Fields [" + strings.Join(refs, " ") + "] /SigFlags 0 >>"
	}
	objects[1] = catalog + " >>"
	objects[2] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), opts.Pages)

	for i, f := range opts.Fields {
		objects[fieldIDs[i]] = fmt.Sprintf(
			"<< /Type /Annot /Subtype /Widget /FT /Sig /T (%s) /Rect [%g %g %g %g] /P %d 0 R /F 4 >>",
			f.Name, f.Rect[0], f.Rect[1], f.Rect[2], f.Rect[3], pageIDs[f.Page])
	}
	if infoID != 0 {
		objects[infoID] = "<< /Producer (testpki) /Title (Fixture) /CreationDate (D:20240101120000Z) >>"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-%s\n%%\xe2\xe3\xcf\xd3\n", opts.Version)
	offsets := make([]int, next)
	for id := 1; id < next; id++ {
		offsets[id] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", id, objects[id])
	}

	trailer := fmt.Sprintf("/Size %d /Root 1 0 R", next)
	if infoID != 0 {
		trailer += fmt.Sprintf(" /Info %d 0 R", infoID)
	}
	trailer += " /ID [<0123456789ABCDEF0123456789ABCDEF> <0123456789ABCDEF0123456789ABCDEF>]"

	if opts.XrefStream {
		writeXrefStream(&buf, offsets, next, trailer)
		return buf.Bytes()
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f\r\n", next)
	for id := 1; id < next; id++ {
		fmt.Fprintf(&buf, "%010d 00000 n\r\n", offsets[id])
	}
	fmt.Fprintf(&buf, "trailer\n<< %s >>\nstartxref\n%d\n%%%%EOF\n", trailer, xref)
	return buf.Bytes()
}

func writeXrefStream(buf *bytes.Buffer, offsets []int, next int, trailer string) {
	id := next
	start := buf.Len()

	var rows bytes.Buffer
	row := func(kind byte, off uint32, gen uint16) {
		rows.WriteByte(kind)
		_ = binary.Write(&rows, binary.BigEndian, off)
		_ = binary.Write(&rows, binary.BigEndian, gen)
	}
	row(0, 0, 65535)
	for i := 1; i < next; i++ {
		row(1, uint32(offsets[i]), 0)
	}
	row(1, uint32(start), 0)

	var z bytes.Buffer
	w := zlib.NewWriter(&z)
	_, _ = w.Write(rows.Bytes())
	_ = w.Close()

	trailer = strings.Replace(trailer, fmt.Sprintf("/Size %d", next), fmt.Sprintf("/Size %d", next+1), 1)
	fmt.Fprintf(buf, "%d 0 obj\n<< /Type /XRef %s /W [1 4 2] /Filter /FlateDecode /Length %d >>\nstream\n", id, trailer, z.Len())
	buf.Write(z.Bytes())
	fmt.Fprintf(buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", start)
}
