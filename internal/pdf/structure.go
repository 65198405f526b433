package pdf

import (
	"cmp"
	"slices"
	"strings"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
)

// Page is a leaf of the page tree.
type Page struct {
	Ref      Ref
	Dict     Dict
	MediaBox common.Rectangle
}

// Field is a terminal signature field with its widget.
type Field struct {
	common.SignatureField
	// Ref is the field dictionary; Widget is the annotation and may be
	// equal to Ref when field and widget are merged.
	Ref    Ref
	Widget Ref
	Value  Ref
}

var defaultMediaBox = common.Rectangle{Width: 612, Height: 792}

// CatalogRef returns the reference to the document catalog.
func (d *Document) CatalogRef() Ref {
	r, _ := d.trailer.Ref("Root")
	return r
}

// Catalog returns the document catalog.
func (d *Document) Catalog() (Dict, error) {
	if dict, ok := d.trailer["Root"].(Dict); ok {
		return dict, nil
	}
	dict, ok := d.ResolveDict(d.trailer["Root"])
	if !ok {
		return nil, &common.DocumentParseError{Offset: -1, Msg: "catalog is not a dictionary"}
	}
	return dict, nil
}

// InfoRef returns the document information dictionary, if any.
func (d *Document) InfoRef() (Ref, bool) {
	return d.trailer.Ref("Info")
}

// Pages walks the page tree in document order.
func (d *Document) Pages() ([]Page, error) {
	catalog, err := d.Catalog()
	if err != nil {
		return nil, err
	}
	root, ok := catalog.Ref("Pages")
	if !ok {
		return nil, &common.DocumentParseError{Offset: -1, Msg: "catalog has no /Pages"}
	}

	var pages []Page
	seen := map[uint32]bool{}
	var walk func(ref Ref, box *common.Rectangle, depth int) error
	walk = func(ref Ref, box *common.Rectangle, depth int) error {
		if seen[ref.ID] || depth > maxDepth {
			return &common.DocumentParseError{Offset: -1, Msg: "cycle in page tree at " + ref.String()}
		}
		seen[ref.ID] = true

		node, ok := d.ResolveDict(ref)
		if !ok {
			return &common.DocumentParseError{Offset: -1, Msg: "page tree node " + ref.String() + " is not a dictionary"}
		}
		if mb, ok := d.rect(node["MediaBox"]); ok {
			box = &mb
		}

		kids, isTree := d.Resolve(node["Kids"]).(Array)
		if node.Name("Type") == "Page" || !isTree {
			p := Page{Ref: ref, Dict: node, MediaBox: defaultMediaBox}
			if box != nil {
				p.MediaBox = *box
			}
			pages = append(pages, p)
			return nil
		}
		for _, kid := range kids {
			kref, ok := kid.(Ref)
			if !ok {
				continue
			}
			if err := walk(kref, box, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, nil, 0); err != nil {
		return nil, err
	}
	return pages, nil
}

// NumPages returns the number of pages, or zero if the tree is unreadable.
func (d *Document) NumPages() int {
	pages, err := d.Pages()
	if err != nil {
		return 0
	}
	return len(pages)
}

func (d *Document) rect(o Object) (common.Rectangle, bool) {
	arr, ok := d.Resolve(o).(Array)
	if !ok || len(arr) != 4 {
		return common.Rectangle{}, false
	}
	var c [4]float64
	for i, v := range arr {
		n, ok := Number(d.Resolve(v))
		if !ok {
			return common.Rectangle{}, false
		}
		c[i] = n
	}
	return common.RectangleFromCorners(c[0], c[1], c[2], c[3]), true
}

// AcroForm returns the interactive form dictionary and its reference. The
// reference is zero when the form is stored directly in the catalog.
func (d *Document) AcroForm() (Dict, Ref, bool) {
	catalog, err := d.Catalog()
	if err != nil {
		return nil, Ref{}, false
	}
	ref, _ := catalog.Ref("AcroForm")
	form, ok := d.ResolveDict(catalog["AcroForm"])
	return form, ref, ok
}

// Fields returns the signature fields of the form, signed or not.
func (d *Document) Fields() ([]Field, error) {
	form, _, ok := d.AcroForm()
	if !ok {
		return nil, nil
	}
	pages, err := d.Pages()
	if err != nil {
		return nil, err
	}
	pageIndex := make(map[uint32]int, len(pages))
	annotPage := make(map[uint32]int)
	for i, p := range pages {
		pageIndex[p.Ref.ID] = i
		if annots, ok := d.Resolve(p.Dict["Annots"]).(Array); ok {
			for _, a := range annots {
				if r, ok := a.(Ref); ok {
					annotPage[r.ID] = i
				}
			}
		}
	}

	var fields []Field
	seen := map[uint32]bool{}
	var walk func(o Object, parentName string, parentFT Name, depth int)
	walk = func(o Object, parentName string, parentFT Name, depth int) {
		ref, _ := o.(Ref)
		if ref.ID != 0 {
			if seen[ref.ID] {
				return
			}
			seen[ref.ID] = true
		}
		if depth > maxDepth {
			return
		}
		dict, ok := d.ResolveDict(o)
		if !ok {
			return
		}

		name := parentName
		if t, ok := dict["T"].(String); ok {
			partial := DecodeText(t)
			if name != "" {
				name += "." + partial
			} else {
				name = partial
			}
		}
		ft := parentFT
		if n := dict.Name("FT"); n != "" {
			ft = n
		}

		kids, _ := d.Resolve(dict["Kids"]).(Array)
		var fieldKids []Object
		var widgets []Ref
		for _, k := range kids {
			kd, ok := d.ResolveDict(k)
			if !ok {
				continue
			}
			if _, hasT := kd["T"]; hasT {
				fieldKids = append(fieldKids, k)
			} else if kr, ok := k.(Ref); ok {
				widgets = append(widgets, kr)
			}
		}
		for _, k := range fieldKids {
			walk(k, name, ft, depth+1)
		}
		if len(fieldKids) > 0 || ft != "Sig" {
			return
		}

		widget := ref
		widgetDict := dict
		if len(widgets) > 0 {
			widget = widgets[0]
			widgetDict, _ = d.ResolveDict(widget)
		}

		f := Field{
			SignatureField: common.SignatureField{
				Name:       name,
				Page:       -1,
				Predefined: true,
			},
			Ref:    ref,
			Widget: widget,
		}
		if b, ok := d.rect(widgetDict["Rect"]); ok {
			f.Bounds = b
		}
		if p, ok := widgetDict.Ref("P"); ok {
			if i, ok := pageIndex[p.ID]; ok {
				f.Page = i
			}
		}
		if f.Page < 0 {
			if i, ok := annotPage[widget.ID]; ok {
				f.Page = i
			}
		}
		if v := dict["V"]; v != nil {
			f.Signed = true
			f.Value, _ = v.(Ref)
		}
		fields = append(fields, f)
	}

	if arr, ok := d.Resolve(form["Fields"]).(Array); ok {
		for _, o := range arr {
			walk(o, "", "", 0)
		}
	}
	return fields, nil
}

// FieldNames returns the fully qualified names of every form field,
// whatever its type.
func (d *Document) FieldNames() ([]string, error) {
	form, _, ok := d.AcroForm()
	if !ok {
		return nil, nil
	}
	arr, ok := d.Resolve(form["Fields"]).(Array)
	if !ok {
		if form["Fields"] != nil {
			return nil, &common.DocumentParseError{Offset: -1, Msg: "AcroForm /Fields is not an array"}
		}
		return nil, nil
	}

	var names []string
	seen := map[uint32]bool{}
	var walk func(o Object, parentName string, depth int)
	walk = func(o Object, parentName string, depth int) {
		if ref, ok := o.(Ref); ok {
			if seen[ref.ID] {
				return
			}
			seen[ref.ID] = true
		}
		if depth > maxDepth {
			return
		}
		dict, ok := d.ResolveDict(o)
		if !ok {
			return
		}
		name := parentName
		if t, ok := dict["T"].(String); ok {
			if name != "" {
				name += "."
			}
			name += DecodeText(t)
			names = append(names, name)
		}
		kids, _ := d.Resolve(dict["Kids"]).(Array)
		for _, k := range kids {
			walk(k, name, depth+1)
		}
	}
	for _, o := range arr {
		walk(o, "", 0)
	}
	return names, nil
}

// Field looks up a signature field by its fully qualified name.
func (d *Document) Field(name string) (Field, error) {
	fields, err := d.Fields()
	if err != nil {
		return Field{}, err
	}
	for _, f := range fields {
		if f.Name == name {
			return f, nil
		}
	}
	return Field{}, &common.FieldNotFoundError{Name: name}
}

// SignatureRef is a signature dictionary found in the document.
type SignatureRef struct {
	FieldName string
	Ref       Ref
	Dict      Dict
}

// Signatures returns the signature dictionaries, including those not
// reachable from the form, in the order they were applied.
func (d *Document) Signatures() []SignatureRef {
	var out []SignatureRef
	seen := map[uint32]bool{}

	if fields, err := d.Fields(); err == nil {
		for _, f := range fields {
			if !f.Signed {
				continue
			}
			field, _ := d.ResolveDict(f.Ref)
			dict, ok := d.ResolveDict(field["V"])
			if !ok || !isSignatureDict(dict) {
				continue
			}
			if f.Value.ID != 0 {
				seen[f.Value.ID] = true
			}
			out = append(out, SignatureRef{FieldName: f.Name, Ref: f.Value, Dict: dict})
		}
	}

	for _, id := range d.ObjectIDs() {
		if seen[id] {
			continue
		}
		dict, ok := d.ResolveDict(Ref{ID: id})
		if !ok || !isSignatureDict(dict) {
			continue
		}
		out = append(out, SignatureRef{Ref: Ref{ID: id}, Dict: dict})
	}

	sortByOffset(out)
	return out
}

func isSignatureDict(dict Dict) bool {
	if _, ok := dict["ByteRange"].(Array); !ok {
		return false
	}
	if _, ok := dict["Contents"].(String); !ok {
		return false
	}
	t := dict.Name("Type")
	return t == "" || t == "Sig" || t == "DocTimeStamp"
}

// sortByOffset orders signatures by the position of their signed range,
// which is the order in which they were applied.
func sortByOffset(sigs []SignatureRef) {
	key := func(s SignatureRef) int64 {
		br, _ := s.Dict["ByteRange"].(Array)
		if len(br) == 4 {
			if n, ok := toInt(br[2]); ok {
				return n
			}
		}
		return 0
	}
	slices.SortStableFunc(sigs, func(a, b SignatureRef) int {
		return cmp.Compare(key(a), key(b))
	})
}

// ByteRange returns the four integers of a signature dictionary.
func ByteRange(dict Dict) ([]int64, bool) {
	arr, ok := dict["ByteRange"].(Array)
	if !ok || len(arr) != 4 {
		return nil, false
	}
	out := make([]int64, 4)
	for i, v := range arr {
		n, ok := v.(int64)
		if !ok || n < 0 {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

// ByteRanges returns the ByteRange that covers a file of total bytes
// except the Contents hex string from contentsStart (the '<') up to
// contentsEnd (after the '>').
func ByteRanges(contentsStart, contentsEnd, total int64) [4]int64 {
	return [4]int64{0, contentsStart, contentsEnd, total - contentsEnd}
}

// SignatureContentsOffset returns the offset of the '<' opening the
// Contents hex string of the signature whose ByteRange is br.
func SignatureContentsOffset(br []int64) int64 {
	return br[0] + br[1]
}

// Info reads the document information dictionary.
func (d *Document) Info() common.DocumentInfo {
	info := common.DocumentInfo{Version: d.version, Pages: d.NumPages()}
	dict, ok := d.ResolveDict(d.trailer["Info"])
	if !ok {
		return info
	}
	text := func(key Name) string {
		s, _ := d.Resolve(dict[key]).(String)
		return DecodeText(s)
	}
	info.Author = text("Author")
	info.Creator = text("Creator")
	info.Producer = text("Producer")
	info.Subject = text("Subject")
	info.Title = text("Title")
	if kw := strings.TrimSpace(text("Keywords")); kw != "" {
		for _, k := range strings.FieldsFunc(kw, func(r rune) bool { return r == ',' || r == ';' }) {
			info.Keywords = append(info.Keywords, strings.TrimSpace(k))
		}
	}
	info.ModDate, _ = ParseDate(text("ModDate"))
	info.CreationDate, _ = ParseDate(text("CreationDate"))
	return info
}
