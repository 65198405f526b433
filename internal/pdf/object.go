package pdf

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Object is one of: nil, bool, int64, float64, Name, String, Array, Dict,
// Ref or *Stream.
type Object any

// Name is a PDF name without the leading solidus.
type Name string

// String holds the raw bytes of a literal or hexadecimal string.
type String []byte

// Array is a PDF array.
type Array []Object

// Dict is a PDF dictionary.
type Dict map[Name]Object

// Ref is an indirect reference.
type Ref struct {
	ID  uint32
	Gen uint16
}

func (r Ref) String() string {
	return fmt.Sprintf("%d %d R", r.ID, r.Gen)
}

// IsZero reports whether r does not point anywhere.
func (r Ref) IsZero() bool {
	return r.ID == 0
}

// Stream is a stream object. Data is the raw, still encoded content.
type Stream struct {
	Dict Dict
	Data []byte
}

// Name returns the name stored under key, or "".
func (d Dict) Name(key Name) Name {
	n, _ := d[key].(Name)
	return n
}

// Ref returns the reference stored under key.
func (d Dict) Ref(key Name) (Ref, bool) {
	r, ok := d[key].(Ref)
	return r, ok
}

// Int returns the integer stored under key. Reals are truncated.
func (d Dict) Int(key Name) (int64, bool) {
	return toInt(d[key])
}

// Clone returns a shallow copy of d.
func (d Dict) Clone() Dict {
	c := make(Dict, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

func toInt(o Object) (int64, bool) {
	switch v := o.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Number converts an integer or real object to float64.
func Number(o Object) (float64, bool) {
	switch v := o.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// Serialize writes the PDF syntax of o.
func Serialize(o Object) []byte {
	var buf bytes.Buffer
	writeObject(&buf, o)
	return buf.Bytes()
}

func writeObject(buf *bytes.Buffer, o Object) {
	switch v := o.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case int:
		buf.WriteString(strconv.Itoa(v))
	case int64:
		buf.WriteString(strconv.FormatInt(v, 10))
	case float64:
		buf.WriteString(FormatNumber(v))
	case Name:
		writeName(buf, v)
	case String:
		writeString(buf, v)
	case Ref:
		buf.WriteString(v.String())
	case Array:
		buf.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				buf.WriteByte(' ')
			}
			writeObject(buf, e)
		}
		buf.WriteByte(']')
	case Dict:
		writeDict(buf, v)
	case *Stream:
		writeDict(buf, v.Dict)
		buf.WriteString("\nstream\n")
		buf.Write(v.Data)
		buf.WriteString("\nendstream")
	case Raw:
		buf.Write(v)
	default:
		panic(fmt.Sprintf("pdf: cannot serialize %T", o))
	}
}

// Raw is pre-serialized PDF syntax written verbatim.
type Raw []byte

func writeDict(buf *bytes.Buffer, d Dict) {
	keys := make([]string, 0, len(d))
	for k := range d {
		if k != "Type" {
			keys = append(keys, string(k))
		}
	}
	sort.Strings(keys)
	if _, ok := d["Type"]; ok {
		keys = append([]string{"Type"}, keys...)
	}

	buf.WriteString("<<")
	for _, k := range keys {
		buf.WriteByte(' ')
		writeName(buf, Name(k))
		buf.WriteByte(' ')
		writeObject(buf, d[Name(k)])
	}
	buf.WriteString(" >>")
}

func writeName(buf *bytes.Buffer, n Name) {
	buf.WriteByte('/')
	for i := 0; i < len(n); i++ {
		c := n[i]
		if c < '!' || c > '~' || c == '#' || isDelimiter(c) {
			fmt.Fprintf(buf, "#%02X", c)
			continue
		}
		buf.WriteByte(c)
	}
}

func writeString(buf *bytes.Buffer, s String) {
	printable := true
	for _, c := range s {
		if (c < 0x20 && c != '\n' && c != '\r' && c != '\t') || c > 0x7e {
			printable = false
			break
		}
	}
	if !printable {
		buf.WriteByte('<')
		buf.WriteString(strings.ToUpper(hex.EncodeToString(s)))
		buf.WriteByte('>')
		return
	}

	buf.WriteByte('(')
	for _, c := range s {
		switch c {
		case '\\', '(', ')':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\r':
			buf.WriteString("\\r")
		case '\n':
			buf.WriteString("\\n")
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}

// FormatNumber prints a real without exponent and without trailing zeros.
func FormatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

// RectArray returns a /Rect array for the given corners.
func RectArray(llx, lly, urx, ury float64) Array {
	return Array{llx, lly, urx, ury}
}
