package npy

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Header is the decoded .npy header.
type Header struct {
	DType   DType
	Fortran bool
	Shape   []int
}

// Len returns the number of elements described by the header.
func (h Header) Len() int {
	n, _ := product(h.Shape)
	return n
}

// byteSize returns the number of data bytes the header describes.
func (h Header) byteSize() (int, error) {
	n, err := product(h.Shape)
	if err != nil {
		return 0, err
	}
	return mul(n, h.DType.ItemSize())
}

func (h Header) String() string {
	fortran := "False"
	if h.Fortran {
		fortran = "True"
	}
	return "{'descr': " + h.DType.String() + ", 'fortran_order': " + fortran + ", 'shape': " + formatShape(h.Shape) + ", }"
}

// pyTuple distinguishes tuple literals from lists.
type pyTuple []any

func parseHeader(s string) (Header, error) {
	p := &literalParser{s: s}
	v, err := p.value()
	if err != nil {
		return Header{}, errors.Wrap(err, "npy: parse header")
	}
	dict, ok := v.(map[string]any)
	if !ok {
		return Header{}, errors.New("npy: header is not a dict")
	}

	var h Header
	if h.DType, err = parseDescr(dict["descr"]); err != nil {
		return Header{}, err
	}
	if f, ok := dict["fortran_order"].(bool); ok {
		h.Fortran = f
	}
	if h.Shape, err = parseShape(dict["shape"]); err != nil {
		return Header{}, err
	}
	return h, nil
}

func parseDescr(v any) (DType, error) {
	switch d := v.(type) {
	case string:
		return parseScalar(d)
	case []any:
		var fields []Field
		total := 0
		for _, item := range d {
			t, ok := item.(pyTuple)
			if !ok || len(t) < 2 {
				return DType{}, errors.Errorf("npy: bad field descr %v", item)
			}
			name, ok := t[0].(string)
			if !ok {
				return DType{}, errors.Wrapf(ErrUnsupportedDType, "field title %v", t[0])
			}
			dt, err := parseDescr(t[1])
			if err != nil {
				return DType{}, errors.Wrapf(err, "field %q", name)
			}
			f := Field{Name: name, DType: dt}
			if len(t) > 2 {
				if f.Shape, err = parseShape(t[2]); err != nil {
					return DType{}, errors.Wrapf(err, "field %q", name)
				}
			}
			size, err := f.size()
			if err == nil && size > math.MaxInt-total {
				err = ErrBadShape
			}
			if err != nil {
				return DType{}, errors.Wrapf(err, "field %q", name)
			}
			total += size
			fields = append(fields, f)
		}
		return Structured(fields...), nil
	}
	return DType{}, errors.Errorf("npy: bad descr %v", v)
}

func parseShape(v any) ([]int, error) {
	switch t := v.(type) {
	case pyTuple:
		shape := make([]int, len(t))
		for i, x := range t {
			n, ok := x.(int)
			if !ok || n < 0 {
				return nil, errors.Errorf("npy: bad shape %v", v)
			}
			shape[i] = n
		}
		return shape, nil
	case int:
		// numpy writes sub-array shapes of rank one as a bare int in some versions
		if t < 0 {
			return nil, errors.Errorf("npy: bad shape %v", v)
		}
		return []int{t}, nil
	}
	return nil, errors.Errorf("npy: bad shape %v", v)
}

// literalParser parses the subset of Python literal syntax used by .npy headers.
type literalParser struct {
	s   string
	pos int
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.s) && strings.IndexByte(" \t\r\n", p.s[p.pos]) >= 0 {
		p.pos++
	}
}

func (p *literalParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *literalParser) expect(c byte) error {
	if p.peek() != c {
		return errors.Errorf("expected %q at offset %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *literalParser) value() (any, error) {
	switch c := p.peek(); {
	case c == '{':
		return p.dict()
	case c == '[':
		items, err := p.sequence('[', ']')
		return items, err
	case c == '(':
		items, err := p.sequence('(', ')')
		return pyTuple(items), err
	case c == '\'' || c == '"':
		return p.str()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	case c == 0:
		return nil, errors.New("unexpected end of header")
	default:
		return p.ident()
	}
}

func (p *literalParser) dict() (map[string]any, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	out := make(map[string]any)
	for {
		if p.peek() == '}' {
			p.pos++
			return out, nil
		}
		key, err := p.str()
		if err != nil {
			return nil, err
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out[key] = v
		if p.peek() == ',' {
			p.pos++
		}
	}
}

func (p *literalParser) sequence(open, close byte) ([]any, error) {
	if err := p.expect(open); err != nil {
		return nil, err
	}
	items := []any{}
	for {
		if p.peek() == close {
			p.pos++
			return items, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		switch p.peek() {
		case ',':
			p.pos++
		case close:
		default:
			return nil, errors.Errorf("expected ',' or %q at offset %d", close, p.pos)
		}
	}
}

func (p *literalParser) str() (string, error) {
	q := p.peek()
	if q != '\'' && q != '"' {
		return "", errors.Errorf("expected string at offset %d", p.pos)
	}
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		p.pos++
		switch {
		case c == '\\' && p.pos < len(p.s):
			sb.WriteByte(p.s[p.pos])
			p.pos++
		case c == q:
			return sb.String(), nil
		default:
			sb.WriteByte(c)
		}
	}
	return "", errors.New("unterminated string")
}

func (p *literalParser) number() (int, error) {
	start := p.pos
	if p.s[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	// Python 2 era headers may write longs as 3L
	end := p.pos
	if p.pos < len(p.s) && p.s[p.pos] == 'L' {
		p.pos++
	}
	return strconv.Atoi(p.s[start:end])
}

func (p *literalParser) ident() (any, error) {
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			break
		}
		p.pos++
	}
	switch p.s[start:p.pos] {
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "None":
		return nil, nil
	}
	return nil, errors.Errorf("unexpected token at offset %d", start)
}
