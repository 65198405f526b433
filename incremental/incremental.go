// Package incremental appends revisions to a PDF without modifying the
// bytes that are already there.
package incremental

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/mattetti/filebuffer"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
)

var (
	ErrNoObjects       = errors.New("incremental: no objects to write")
	ErrUnknownObject   = errors.New("incremental: object does not exist in the document")
	ErrUnfilledRef     = errors.New("incremental: reserved object was never written")
	ErrPatchOutOfRange = errors.New("incremental: patch outside of the appended revision")
	ErrPatchMismatch   = errors.New("incremental: patch does not match the placeholder")
)

type entry struct {
	id   uint32
	body []byte
}

// Updater collects the objects of one revision.
type Updater struct {
	doc      *pdf.Document
	nextID   uint32
	objects  []entry
	reserved map[uint32]bool
	root     pdf.Ref
	info     pdf.Ref
}

// New starts a revision on top of doc. New object numbers are allocated
// from the trailer /Size.
func New(doc *pdf.Document) *Updater {
	root, _ := doc.Trailer().Ref("Root")
	info, _ := doc.InfoRef()
	return &Updater{
		doc:      doc,
		nextID:   doc.NextObjectID(),
		reserved: make(map[uint32]bool),
		root:     root,
		info:     info,
	}
}

// Document is the revision the updater appends to.
func (u *Updater) Document() *pdf.Document {
	return u.doc
}

// Reserve allocates an object number whose body is supplied later with
// SetObject, for objects that reference each other.
func (u *Updater) Reserve() pdf.Ref {
	id := u.nextID
	u.nextID++
	u.reserved[id] = true
	return pdf.Ref{ID: id}
}

// AddObject appends a new object and returns its reference.
func (u *Updater) AddObject(body []byte) pdf.Ref {
	ref := u.Reserve()
	u.SetObject(ref, body)
	return ref
}

// SetObject supplies the body of a reserved object.
func (u *Updater) SetObject(ref pdf.Ref, body []byte) {
	delete(u.reserved, ref.ID)
	u.put(ref.ID, body)
}

// UpdateObject writes a new version of an existing object.
func (u *Updater) UpdateObject(id uint32, body []byte) error {
	if _, err := u.doc.Object(id); err != nil {
		return fmt.Errorf("%w: %d", ErrUnknownObject, id)
	}
	u.put(id, body)
	return nil
}

func (u *Updater) put(id uint32, body []byte) {
	for i := range u.objects {
		if u.objects[i].id == id {
			u.objects[i].body = body
			return
		}
	}
	u.objects = append(u.objects, entry{id: id, body: body})
}

// SetRoot replaces the catalog reference of the trailer.
func (u *Updater) SetRoot(ref pdf.Ref) {
	u.root = ref
}

// SetInfo replaces the document information reference of the trailer.
func (u *Updater) SetInfo(ref pdf.Ref) {
	u.info = ref
}

// Len is the number of objects collected so far.
func (u *Updater) Len() int {
	return len(u.objects)
}

// Write serializes the revision after the existing bytes.
func (u *Updater) Write() (*Result, error) {
	if len(u.objects) == 0 {
		return nil, ErrNoObjects
	}
	if len(u.reserved) > 0 {
		return nil, ErrUnfilledRef
	}

	prev := u.doc.Bytes()
	out := filebuffer.New(nil)
	if _, err := out.Write(prev); err != nil {
		return nil, err
	}
	// The previous revision may end without a newline after %%EOF.
	if len(prev) > 0 && prev[len(prev)-1] != '\n' && prev[len(prev)-1] != '\r' {
		if _, err := out.Write([]byte("\n")); err != nil {
			return nil, err
		}
	}

	offsets := make(map[uint32]int64, len(u.objects))
	for _, obj := range u.objects {
		offsets[obj.id] = int64(out.Buff.Len())
		if _, err := fmt.Fprintf(out, "%d 0 obj\n", obj.id); err != nil {
			return nil, err
		}
		if _, err := out.Write(obj.body); err != nil {
			return nil, err
		}
		if _, err := out.Write([]byte("\nendobj\n")); err != nil {
			return nil, err
		}
	}

	size := u.nextID
	if s := u.doc.NextObjectID(); s > size {
		size = s
	}

	xrefStart := int64(out.Buff.Len())
	var err error
	if u.doc.XrefStream() {
		err = u.writeXrefStream(out, offsets, xrefStart, size)
	} else {
		err = u.writeXrefTable(out, offsets, size)
	}
	if err != nil {
		return nil, fmt.Errorf("incremental: write xref: %w", err)
	}

	if _, err := fmt.Fprintf(out, "startxref\n%d\n%%%%EOF\n", xrefStart); err != nil {
		return nil, err
	}

	return &Result{
		buf:       out,
		prefix:    int64(len(prev)),
		Offsets:   offsets,
		StartXref: xrefStart,
	}, nil
}

// entries returns the xref entries sorted by object number. A recovered
// document gets a complete table so that readers do not depend on the
// broken one.
func (u *Updater) entries(offsets map[uint32]int64) map[uint32]int64 {
	all := make(map[uint32]int64, len(offsets))
	if u.doc.Recovered() {
		for _, id := range u.doc.ObjectIDs() {
			if off, ok := u.doc.ObjectOffset(id); ok {
				all[id] = off
			}
		}
	}
	for id, off := range offsets {
		all[id] = off
	}
	return all
}

// subsections groups sorted object numbers into contiguous runs.
func subsections(ids []uint32) [][]uint32 {
	var runs [][]uint32
	for i, id := range ids {
		if i == 0 || id != ids[i-1]+1 {
			runs = append(runs, nil)
		}
		runs[len(runs)-1] = append(runs[len(runs)-1], id)
	}
	return runs
}

func sortedIDs(m map[uint32]int64) []uint32 {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (u *Updater) writeXrefTable(w io.Writer, offsets map[uint32]int64, size uint32) error {
	all := u.entries(offsets)
	ids := sortedIDs(all)

	var buf bytes.Buffer
	buf.WriteString("xref\n")
	if u.doc.Recovered() {
		buf.WriteString("0 1\n0000000000 65535 f\r\n")
	}
	for _, run := range subsections(ids) {
		fmt.Fprintf(&buf, "%d %d\n", run[0], len(run))
		for _, id := range run {
			fmt.Fprintf(&buf, "%010d 00000 n\r\n", all[id])
		}
	}

	trailer := u.trailer(size)
	buf.WriteString("trailer\n")
	buf.Write(pdf.Serialize(trailer))
	buf.WriteString("\n")
	_, err := w.Write(buf.Bytes())
	return err
}

func (u *Updater) trailer(size uint32) pdf.Dict {
	t := pdf.Dict{
		"Size": int64(size),
		"Root": u.root,
	}
	if !u.doc.Recovered() {
		t["Prev"] = u.doc.StartXref()
	}
	if !u.info.IsZero() {
		t["Info"] = u.info
	}
	if id, ok := u.doc.Trailer()["ID"].(pdf.Array); ok {
		t["ID"] = id
	}
	return t
}

// writeXrefStream writes a Flate compressed cross-reference stream with
// one-byte type, four-byte offset and one-byte generation columns.
func (u *Updater) writeXrefStream(w io.Writer, offsets map[uint32]int64, start int64, size uint32) error {
	id := size
	size++

	all := u.entries(offsets)
	all[id] = start
	ids := sortedIDs(all)

	var rows bytes.Buffer
	var index pdf.Array
	for _, run := range subsections(ids) {
		index = append(index, int64(run[0]), int64(len(run)))
		for _, oid := range run {
			rows.WriteByte(1)
			_ = binary.Write(&rows, binary.BigEndian, uint32(all[oid]))
			rows.WriteByte(0)
		}
	}

	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	if _, err := zw.Write(rows.Bytes()); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	dict := u.trailer(size)
	dict["Type"] = pdf.Name("XRef")
	dict["W"] = pdf.Array{int64(1), int64(4), int64(1)}
	dict["Index"] = index
	dict["Filter"] = pdf.Name("FlateDecode")
	dict["Length"] = int64(z.Len())

	var buf bytes.Buffer
	buf.WriteString(strconv.FormatUint(uint64(id), 10) + " 0 obj\n")
	buf.Write(pdf.Serialize(&pdf.Stream{Dict: dict, Data: z.Bytes()}))
	buf.WriteString("\nendobj\n")
	_, err := w.Write(buf.Bytes())
	return err
}

// Result is a written revision that can still be patched in place.
type Result struct {
	buf    *filebuffer.Buffer
	prefix int64

	// Offsets maps object numbers to where they were written.
	Offsets   map[uint32]int64
	StartXref int64
}

// Bytes returns the complete output. The slice is shared with the
// result and changes when the result is patched.
func (r *Result) Bytes() []byte {
	return r.buf.Buff.Bytes()
}

// Len is the total length of the output.
func (r *Result) Len() int64 {
	return int64(r.buf.Buff.Len())
}

// PrefixLen is the length of the unchanged previous revision.
func (r *Result) PrefixLen() int64 {
	return r.prefix
}

// Index returns the absolute offset of the first occurrence of marker
// inside the appended revision, or -1.
func (r *Result) Index(marker []byte) int64 {
	i := bytes.Index(r.Bytes()[r.prefix:], marker)
	if i < 0 {
		return -1
	}
	return r.prefix + int64(i)
}

// Patch overwrites bytes of the appended revision in place. The output
// length never changes.
func (r *Result) Patch(offset int64, data []byte) error {
	if offset < r.prefix || offset+int64(len(data)) > r.Len() {
		return fmt.Errorf("%w: %d+%d", ErrPatchOutOfRange, offset, len(data))
	}
	// Writing after a Seek truncates the buffer, so the tail is written
	// back after the patch.
	tail := bytes.Clone(r.Bytes()[offset+int64(len(data)):])
	if _, err := r.buf.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	if _, err := r.buf.Write(data); err != nil {
		return err
	}
	_, err := r.buf.Write(tail)
	return err
}

// Replace patches old with replacement at offset after checking that old is
// really there. Both must have the same length.
func (r *Result) Replace(offset int64, old, replacement []byte) error {
	if len(old) != len(replacement) {
		return fmt.Errorf("%w: length %d != %d", ErrPatchMismatch, len(replacement), len(old))
	}
	if offset < 0 || offset+int64(len(old)) > r.Len() || !bytes.Equal(r.Bytes()[offset:offset+int64(len(old))], old) {
		return fmt.Errorf("%w at %d", ErrPatchMismatch, offset)
	}
	return r.Patch(offset, replacement)
}

// Increment returns the appended bytes.
func (r *Result) Increment() []byte {
	return r.Bytes()[r.prefix:]
}
