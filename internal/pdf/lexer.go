package pdf

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

var errNotObject = errors.New("not an object")

type lexer struct {
	data []byte
	pos  int
}

func newLexer(data []byte, pos int) *lexer {
	return &lexer{data: data, pos: pos}
}

func isWhitespace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isRegular(c byte) bool {
	return !isWhitespace(c) && !isDelimiter(c)
}

func (l *lexer) eof() bool {
	return l.pos >= len(l.data)
}

// skipSpace skips whitespace and comments.
func (l *lexer) skipSpace() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhitespace(c) {
			l.pos++
			continue
		}
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return
	}
}

// keyword reads a run of regular characters.
func (l *lexer) keyword() string {
	l.skipSpace()
	start := l.pos
	for l.pos < len(l.data) && isRegular(l.data[l.pos]) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

// hasKeyword consumes kw if it is next.
func (l *lexer) hasKeyword(kw string) bool {
	save := l.pos
	if l.keyword() == kw {
		return true
	}
	l.pos = save
	return false
}

func (l *lexer) readInt() (int64, error) {
	save := l.pos
	kw := l.keyword()
	n, err := strconv.ParseInt(kw, 10, 64)
	if err != nil {
		l.pos = save
		return 0, fmt.Errorf("expected integer at %d", save)
	}
	return n, nil
}

// readObject parses the next direct object. Indirect references are
// recognised by look-ahead.
func (l *lexer) readObject() (Object, error) {
	return l.readObjectDepth(0)
}

const maxDepth = 64

func (l *lexer) readObjectDepth(depth int) (Object, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("nesting too deep at %d", l.pos)
	}
	l.skipSpace()
	if l.eof() {
		return nil, fmt.Errorf("unexpected end of data: %w", errNotObject)
	}

	switch c := l.data[l.pos]; {
	case c == '/':
		return l.readName(), nil
	case c == '(':
		return l.readLiteralString()
	case c == '<':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
			return l.readDict(depth)
		}
		return l.readHexString()
	case c == '[':
		return l.readArray(depth)
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		return l.readNumberOrRef()
	case isRegular(c):
		start := l.pos
		switch kw := l.keyword(); kw {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		default:
			l.pos = start
			return nil, fmt.Errorf("unexpected keyword %q at %d: %w", kw, start, errNotObject)
		}
	default:
		return nil, fmt.Errorf("unexpected %q at %d: %w", c, l.pos, errNotObject)
	}
}

func (l *lexer) readName() Name {
	l.pos++ // '/'
	var buf bytes.Buffer
	for l.pos < len(l.data) && isRegular(l.data[l.pos]) {
		c := l.data[l.pos]
		if c == '#' && l.pos+2 < len(l.data) {
			if b, err := hex.DecodeString(string(l.data[l.pos+1 : l.pos+3])); err == nil {
				buf.WriteByte(b[0])
				l.pos += 3
				continue
			}
		}
		buf.WriteByte(c)
		l.pos++
	}
	return Name(buf.String())
}

func (l *lexer) readNumberOrRef() (Object, error) {
	start := l.pos
	kw := l.keyword()

	if n, err := strconv.ParseInt(kw, 10, 64); err == nil {
		// "id gen R"
		save := l.pos
		if n >= 0 {
			gen := l.keyword()
			if g, err := strconv.ParseUint(gen, 10, 16); err == nil {
				if l.keyword() == "R" {
					return Ref{ID: uint32(n), Gen: uint16(g)}, nil
				}
			}
		}
		l.pos = save
		return n, nil
	}

	f, err := strconv.ParseFloat(kw, 64)
	if err != nil {
		l.pos = start
		return nil, fmt.Errorf("malformed number %q at %d", kw, start)
	}
	return f, nil
}

func (l *lexer) readLiteralString() (Object, error) {
	start := l.pos
	l.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '(':
			depth++
			buf.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return String(buf.Bytes()), nil
			}
			buf.WriteByte(c)
		case '\\':
			if l.pos >= len(l.data) {
				break
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '\r':
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			case '0', '1', '2', '3', '4', '5', '6', '7':
				v := int(e - '0')
				for i := 0; i < 2 && l.pos < len(l.data); i++ {
					d := l.data[l.pos]
					if d < '0' || d > '7' {
						break
					}
					v = v*8 + int(d-'0')
					l.pos++
				}
				buf.WriteByte(byte(v))
			default:
				buf.WriteByte(e)
			}
		default:
			buf.WriteByte(c)
		}
	}
	return nil, fmt.Errorf("unterminated string at %d", start)
}

func (l *lexer) readHexString() (Object, error) {
	start := l.pos
	l.pos++ // '<'
	end := bytes.IndexByte(l.data[l.pos:], '>')
	if end < 0 {
		return nil, fmt.Errorf("unterminated hex string at %d", start)
	}
	digits := make([]byte, 0, end)
	for _, c := range l.data[l.pos : l.pos+end] {
		if !isWhitespace(c) {
			digits = append(digits, c)
		}
	}
	l.pos += end + 1
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, hex.DecodedLen(len(digits)))
	if _, err := hex.Decode(out, digits); err != nil {
		return nil, fmt.Errorf("malformed hex string at %d: %w", start, err)
	}
	return String(out), nil
}

func (l *lexer) readArray(depth int) (Object, error) {
	l.pos++ // '['
	arr := Array{}
	for {
		l.skipSpace()
		if l.eof() {
			return nil, errors.New("unterminated array")
		}
		if l.data[l.pos] == ']' {
			l.pos++
			return arr, nil
		}
		o, err := l.readObjectDepth(depth + 1)
		if err != nil {
			return nil, err
		}
		arr = append(arr, o)
	}
}

func (l *lexer) readDict(depth int) (Object, error) {
	start := l.pos
	l.pos += 2 // "<<"
	d := Dict{}
	for {
		l.skipSpace()
		if l.eof() {
			return nil, fmt.Errorf("unterminated dictionary at %d", start)
		}
		if bytes.HasPrefix(l.data[l.pos:], []byte(">>")) {
			l.pos += 2
			return d, nil
		}
		if l.data[l.pos] != '/' {
			return nil, fmt.Errorf("expected name in dictionary at %d", l.pos)
		}
		key := l.readName()
		val, err := l.readObjectDepth(depth + 1)
		if err != nil {
			return nil, err
		}
		d[key] = val
	}
}
