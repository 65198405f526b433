package pdf

import (
	"io"

	pdflib "github.com/digitorus/pdf"
)

// readerObject resolves id through digitorus/pdf.
func (d *Document) readerObject(id uint32) (Object, bool) {
	for _, x := range d.reader.Xref() {
		ptr := x.Ptr()
		if ptr.GetID() != id {
			continue
		}
		v, err := d.reader.GetObject(id)
		if err != nil || v.IsNull() {
			return nil, false
		}
		return fromValue(v), true
	}
	return nil, false
}

func (d *Document) readerIDs() []uint32 {
	if d.reader == nil {
		return nil
	}
	var ids []uint32
	for _, x := range d.reader.Xref() {
		if id := x.Ptr().GetID(); id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// trailerDict returns the trailer keys of v. For a cross-reference stream
// the trailer is the stream dictionary, whose data is not needed.
func trailerDict(v pdflib.Value) (Dict, bool) {
	switch v.Kind() {
	case pdflib.Dict, pdflib.Stream:
		return convertDict(v, v.GetPtr().GetID(), 0), true
	}
	return nil, false
}

// fromValue converts a digitorus/pdf value into the local object model.
// Values that live in another indirect object than v become references so
// that cycles such as /Parent are not followed.
func fromValue(v pdflib.Value) Object {
	return convertValue(v, v.GetPtr().GetID(), 0)
}

func convertValue(v pdflib.Value, parent uint32, depth int) Object {
	if depth > maxDepth {
		return nil
	}
	if ptr := v.GetPtr(); ptr.GetID() != 0 && ptr.GetID() != parent {
		return Ref{ID: ptr.GetID(), Gen: ptr.GetGen()}
	}

	switch v.Kind() {
	case pdflib.Null:
		return nil
	case pdflib.Bool:
		return v.Bool()
	case pdflib.Integer:
		return v.Int64()
	case pdflib.Real:
		return v.Float64()
	case pdflib.String:
		return String(v.RawString())
	case pdflib.Name:
		return Name(v.Name())
	case pdflib.Array:
		arr := make(Array, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			arr = append(arr, convertValue(v.Index(i), parent, depth+1))
		}
		return arr
	case pdflib.Dict:
		return convertDict(v, parent, depth)
	case pdflib.Stream:
		dict := convertDict(v, parent, depth)
		// The reader hands out decoded data only.
		delete(dict, "Filter")
		delete(dict, "DecodeParms")
		rc := v.Reader()
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return dict
		}
		dict["Length"] = int64(len(data))
		return &Stream{Dict: dict, Data: data}
	}
	return nil
}

func convertDict(v pdflib.Value, parent uint32, depth int) Dict {
	dict := make(Dict, len(v.Keys()))
	for _, k := range v.Keys() {
		dict[Name(k)] = convertValue(v.Key(k), parent, depth+1)
	}
	return dict
}
