// Package pdf parses the part of the PDF object model needed to locate and
// append signature structures. It is tolerant: broken cross-reference data
// is recovered by scanning for object headers.
package pdf

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"sync"

	pdflib "github.com/digitorus/pdf"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
)

type xrefEntry struct {
	offset int64
	gen    uint16
}

// Document is an immutable view of PDF bytes: the original buffer plus the
// increments appended to it.
type Document struct {
	base       []byte
	increments [][]byte
	data       []byte

	version    string
	trailer    Dict
	startXref  int64
	xrefStream bool
	recovered  bool

	xref    map[uint32]xrefEntry
	scanned map[uint32]xrefEntry
	reader  *pdflib.Reader

	mu    sync.Mutex
	cache map[uint32]Object
}

var objHeader = regexp.MustCompile(`(?m)(\d+)[ \t\r\n\f]+(\d+)[ \t\r\n\f]+obj\b`)

// Parse reads the structure of data. The slice is retained and must not be
// modified afterwards.
func Parse(data []byte) (*Document, error) {
	d := &Document{
		base:  data,
		data:  data,
		xref:  make(map[uint32]xrefEntry),
		cache: make(map[uint32]Object),
	}
	if err := d.parse(); err != nil {
		return nil, err
	}
	return d, nil
}

// Append returns a new Document consisting of d followed by increment.
func (d *Document) Append(increment []byte) (*Document, error) {
	data := make([]byte, 0, len(d.data)+len(increment))
	data = append(data, d.data...)
	data = append(data, increment...)

	next := &Document{
		base:       d.base,
		increments: append(slices.Clone(d.increments), increment),
		data:       data,
		xref:       make(map[uint32]xrefEntry),
		cache:      make(map[uint32]Object),
	}
	if err := next.parse(); err != nil {
		return nil, err
	}
	return next, nil
}

func (d *Document) parse() error {
	head := d.data
	if len(head) > 1024 {
		head = head[:1024]
	}
	i := bytes.Index(head, []byte("%PDF-"))
	if i < 0 {
		return &common.DocumentParseError{Offset: 0, Msg: "missing %PDF header"}
	}
	l := newLexer(d.data, i+5)
	d.version = l.keyword()

	start, ok := d.findStartXref()
	if ok {
		d.startXref = start
		if err := d.readXrefChain(start); err != nil {
			d.recovered = true
		}
	} else {
		d.recovered = true
	}

	if d.recovered {
		d.xref = make(map[uint32]xrefEntry)
		d.trailer = nil
		d.reader = nil
		d.xrefStream = false
		d.recover()
	}

	if d.trailer == nil {
		return &common.DocumentParseError{Offset: int64(len(d.data)), Msg: "no trailer or catalog found"}
	}
	if _, ok := d.trailer.Ref("Root"); !ok {
		if _, ok := d.trailer["Root"].(Dict); !ok {
			return &common.DocumentParseError{Offset: d.startXref, Msg: "trailer has no /Root"}
		}
	}
	return nil
}

func (d *Document) findStartXref() (int64, bool) {
	i := bytes.LastIndex(d.data, []byte("startxref"))
	if i < 0 {
		return 0, false
	}
	l := newLexer(d.data, i+len("startxref"))
	n, err := l.readInt()
	if err != nil || n < 0 || n >= int64(len(d.data)) {
		return 0, false
	}
	return n, true
}

// readXrefChain follows /Prev from the newest section. Newer entries win.
func (d *Document) readXrefChain(offset int64) error {
	seen := map[int64]bool{}
	for first := true; ; first = false {
		if seen[offset] {
			return fmt.Errorf("xref loop at %d", offset)
		}
		seen[offset] = true

		l := newLexer(d.data, int(offset))
		if !l.hasKeyword("xref") {
			if !d.isXrefStream(offset) {
				return fmt.Errorf("no xref table at %d", offset)
			}
			if err := d.openXrefStream(offset, first); err != nil {
				return err
			}
			break
		}
		if err := d.readXrefTable(l); err != nil {
			return err
		}
		if !l.hasKeyword("trailer") {
			return fmt.Errorf("no trailer after xref at %d", offset)
		}
		obj, err := l.readObject()
		if err != nil {
			return err
		}
		trailer, ok := obj.(Dict)
		if !ok {
			return fmt.Errorf("trailer at %d is not a dictionary", offset)
		}
		if first {
			d.trailer = trailer
		}

		prev, ok := trailer.Int("Prev")
		if !ok || prev < 0 || prev >= int64(len(d.data)) {
			break
		}
		offset = prev
	}

	// Spot check: the catalog must be where the table says.
	if root, ok := d.trailer.Ref("Root"); ok {
		if _, err := d.Object(root.ID); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) readXrefTable(l *lexer) error {
	for {
		save := l.pos
		first, err := l.readInt()
		if err != nil {
			l.pos = save
			return nil
		}
		count, err := l.readInt()
		if err != nil {
			return fmt.Errorf("malformed xref subsection at %d", save)
		}
		for i := int64(0); i < count; i++ {
			off, err := l.readInt()
			if err != nil {
				return err
			}
			gen, err := l.readInt()
			if err != nil {
				return err
			}
			kind := l.keyword()
			id := uint32(first + i)
			if _, exists := d.xref[id]; exists {
				continue
			}
			switch kind {
			case "n":
				d.xref[id] = xrefEntry{offset: off, gen: uint16(gen)}
			case "f":
				d.xref[id] = xrefEntry{offset: -1, gen: uint16(gen)}
			default:
				return fmt.Errorf("malformed xref entry for object %d", id)
			}
		}
	}
}

func (d *Document) isXrefStream(offset int64) bool {
	l := newLexer(d.data, int(offset))
	if _, err := l.readInt(); err != nil {
		return false
	}
	if _, err := l.readInt(); err != nil {
		return false
	}
	if !l.hasKeyword("obj") {
		return false
	}
	obj, err := l.readObject()
	if err != nil {
		return false
	}
	dict, ok := obj.(Dict)
	return ok && dict.Name("Type") == "XRef"
}

// openXrefStream delegates the revisions up to and including the section at
// offset to digitorus/pdf, which understands cross-reference and object
// streams. Entries read from newer classic tables still take precedence.
func (d *Document) openXrefStream(offset int64, newest bool) error {
	end := len(d.data)
	if i := bytes.Index(d.data[offset:], []byte("%%EOF")); i >= 0 {
		end = int(offset) + i + len("%%EOF")
	}
	r, err := pdflib.NewReader(bytes.NewReader(d.data[:end]), int64(end))
	if err != nil {
		return fmt.Errorf("xref stream at %d: %w", offset, err)
	}
	d.reader = r
	if newest {
		trailer, ok := trailerDict(r.Trailer())
		if !ok {
			return fmt.Errorf("xref stream at %d: trailer is not a dictionary", offset)
		}
		d.xrefStream = true
		d.trailer = trailer
	}
	return nil
}

// recover rebuilds the object table by scanning for "N G obj" headers.
func (d *Document) recover() {
	d.xref = d.scan()

	var trailer Dict
	for _, loc := range bytesIndexAll(d.data, []byte("trailer")) {
		l := newLexer(d.data, loc+len("trailer"))
		obj, err := l.readObject()
		if err != nil {
			continue
		}
		t, ok := obj.(Dict)
		if !ok {
			continue
		}
		if _, ok := t.Ref("Root"); ok {
			trailer = t
		}
	}

	if trailer == nil {
		// Look for the catalog itself.
		ids := make([]uint32, 0, len(d.xref))
		for id := range d.xref {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			obj, err := d.Object(id)
			if err != nil {
				continue
			}
			if dict, ok := obj.(Dict); ok && dict.Name("Type") == "Catalog" {
				trailer = Dict{"Root": Ref{ID: id, Gen: d.xref[id].gen}}
			}
		}
	}
	if trailer == nil {
		return
	}
	trailer = trailer.Clone()
	delete(trailer, "Prev")
	trailer["Size"] = int64(d.maxID() + 1)
	d.trailer = trailer
}

func (d *Document) scan() map[uint32]xrefEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scanned != nil {
		return d.scanned
	}
	found := make(map[uint32]xrefEntry)
	for _, m := range objHeader.FindAllSubmatchIndex(d.data, -1) {
		if m[0] > 0 && isRegular(d.data[m[0]-1]) {
			continue
		}
		id, err1 := strconv.ParseUint(string(d.data[m[2]:m[3]]), 10, 32)
		gen, err2 := strconv.ParseUint(string(d.data[m[4]:m[5]]), 10, 16)
		if err1 != nil || err2 != nil {
			continue
		}
		found[uint32(id)] = xrefEntry{offset: int64(m[0]), gen: uint16(gen)}
	}
	d.scanned = found
	return found
}

func bytesIndexAll(data, sep []byte) []int {
	var out []int
	for i := 0; ; {
		j := bytes.Index(data[i:], sep)
		if j < 0 {
			return out
		}
		out = append(out, i+j)
		i += j + len(sep)
	}
}

func (d *Document) maxID() uint32 {
	var max uint32
	for id := range d.xref {
		if id > max {
			max = id
		}
	}
	for _, id := range d.readerIDs() {
		if id > max {
			max = id
		}
	}
	return max
}

// Object returns the object with the given number.
func (d *Document) Object(id uint32) (Object, error) {
	d.mu.Lock()
	if o, ok := d.cache[id]; ok {
		d.mu.Unlock()
		return o, nil
	}
	d.mu.Unlock()

	obj, err := d.loadObject(id)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cache[id] = obj
	d.mu.Unlock()
	return obj, nil
}

func (d *Document) loadObject(id uint32) (Object, error) {
	entry, ok := d.xref[id]
	if ok && entry.offset >= 0 {
		if obj, err := d.parseObjectAt(entry.offset, id); err == nil {
			return obj, nil
		}
	}
	if d.reader != nil && !ok {
		if obj, ok := d.readerObject(id); ok {
			return obj, nil
		}
	}
	// The table may be stale; fall back to scanning.
	if entry, ok := d.scan()[id]; ok {
		return d.parseObjectAt(entry.offset, id)
	}
	return nil, &common.DocumentParseError{Offset: -1, Msg: fmt.Sprintf("object %d not found", id)}
}

func (d *Document) parseObjectAt(offset int64, want uint32) (Object, error) {
	if offset < 0 || offset >= int64(len(d.data)) {
		return nil, &common.DocumentParseError{Offset: offset, Msg: "object offset out of range"}
	}
	l := newLexer(d.data, int(offset))
	id, err := l.readInt()
	if err != nil || uint32(id) != want {
		return nil, &common.DocumentParseError{Offset: offset, Msg: fmt.Sprintf("object %d header not found", want)}
	}
	if _, err := l.readInt(); err != nil {
		return nil, &common.DocumentParseError{Offset: offset, Msg: "malformed object header", Err: err}
	}
	if !l.hasKeyword("obj") {
		return nil, &common.DocumentParseError{Offset: offset, Msg: "missing obj keyword"}
	}
	obj, err := l.readObject()
	if err != nil {
		return nil, &common.DocumentParseError{Offset: int64(l.pos), Msg: fmt.Sprintf("object %d", want), Err: err}
	}

	dict, ok := obj.(Dict)
	if !ok {
		return obj, nil
	}
	save := l.pos
	if !l.hasKeyword("stream") {
		l.pos = save
		return dict, nil
	}
	return d.readStream(l, dict)
}

func (d *Document) readStream(l *lexer, dict Dict) (*Stream, error) {
	// The keyword is followed by CRLF or LF.
	if l.pos < len(l.data) && l.data[l.pos] == '\r' {
		l.pos++
	}
	if l.pos < len(l.data) && l.data[l.pos] == '\n' {
		l.pos++
	}
	start := l.pos

	length := int64(-1)
	switch v := dict["Length"].(type) {
	case int64:
		length = v
	case Ref:
		if v.ID != 0 {
			if o, err := d.Object(v.ID); err == nil {
				if n, ok := toInt(o); ok {
					length = n
				}
			}
		}
	}
	if length >= 0 && start+int(length) <= len(l.data) {
		tail := newLexer(l.data, start+int(length))
		if tail.hasKeyword("endstream") {
			return &Stream{Dict: dict, Data: l.data[start : start+int(length)]}, nil
		}
	}

	end := bytes.Index(l.data[start:], []byte("endstream"))
	if end < 0 {
		return nil, &common.DocumentParseError{Offset: int64(start), Msg: "unterminated stream"}
	}
	body := bytes.TrimRight(l.data[start:start+end], "\r\n")
	return &Stream{Dict: dict, Data: body}, nil
}

// Resolve follows a reference. Other objects are returned unchanged and
// dangling references resolve to nil.
func (d *Document) Resolve(o Object) Object {
	for i := 0; i < 32; i++ {
		r, ok := o.(Ref)
		if !ok {
			return o
		}
		obj, err := d.Object(r.ID)
		if err != nil {
			return nil
		}
		o = obj
	}
	return nil
}

// ResolveDict resolves o and returns it when it is a dictionary or a
// stream dictionary.
func (d *Document) ResolveDict(o Object) (Dict, bool) {
	switch v := d.Resolve(o).(type) {
	case Dict:
		return v, true
	case *Stream:
		return v.Dict, true
	}
	return nil, false
}

// Bytes returns the complete document. The slice must not be modified.
func (d *Document) Bytes() []byte {
	return d.data
}

// Len is the size of the document in bytes.
func (d *Document) Len() int64 {
	return int64(len(d.data))
}

// Base returns the bytes the document was originally parsed from.
func (d *Document) Base() []byte {
	return d.base
}

// Increments returns the increments appended since Parse.
func (d *Document) Increments() [][]byte {
	return d.increments
}

// Version is the header version, e.g. "1.7".
func (d *Document) Version() string {
	return d.version
}

// Trailer returns the newest trailer dictionary.
func (d *Document) Trailer() Dict {
	return d.trailer
}

// StartXref is the offset of the newest cross-reference section.
func (d *Document) StartXref() int64 {
	return d.startXref
}

// XrefStream reports whether the newest section is a cross-reference stream.
func (d *Document) XrefStream() bool {
	return d.xrefStream
}

// Recovered reports whether the object table had to be rebuilt by scanning.
func (d *Document) Recovered() bool {
	return d.recovered
}

// NextObjectID is the first unused object number.
func (d *Document) NextObjectID() uint32 {
	next := uint32(1)
	if size, ok := d.trailer.Int("Size"); ok && size > 0 {
		next = uint32(size)
	}
	if m := d.maxID() + 1; m > next {
		next = m
	}
	for id := range d.scan() {
		if id+1 > next {
			next = id + 1
		}
	}
	return next
}

// ObjectIDs lists the numbers of all objects in use.
func (d *Document) ObjectIDs() []uint32 {
	seen := map[uint32]bool{}
	for id, e := range d.xref {
		if e.offset >= 0 && id != 0 {
			seen[id] = true
		}
	}
	for _, id := range d.readerIDs() {
		seen[id] = true
	}
	if d.reader == nil {
		for id := range d.scan() {
			seen[id] = true
		}
	}
	ids := make([]uint32, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ObjectOffset returns where object id starts, when known.
func (d *Document) ObjectOffset(id uint32) (int64, bool) {
	if e, ok := d.xref[id]; ok && e.offset >= 0 {
		return e.offset, true
	}
	if e, ok := d.scan()[id]; ok {
		return e.offset, true
	}
	return 0, false
}
