// Package npy reads and writes NumPy .npy arrays and .npz archives.
//
// Only what episode recordings need is supported: little- and big-endian
// numeric scalars, booleans, C-ordered data and structured (record) dtypes
// whose fields may carry a sub-array shape. Object arrays are rejected since
// decoding them would mean unpickling arbitrary Python.
package npy

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrObjectArray      = errors.New("npy: object arrays are not supported")
	ErrUnsupportedDType = errors.New("npy: unsupported dtype")
	ErrBadShape         = errors.New("npy: shape out of range")
)

// Field is one member of a structured dtype.
type Field struct {
	Name  string
	DType DType
	Shape []int // sub-array shape, empty for scalars
}

// Size returns the number of bytes the field occupies in one record.
func (f Field) Size() int {
	n, _ := f.size()
	return n
}

func (f Field) size() (int, error) {
	n, err := product(f.Shape)
	if err != nil {
		return 0, err
	}
	return mul(n, f.DType.ItemSize())
}

// DType describes the element type of an array.
type DType struct {
	Kind   byte // 'b', 'i', 'u', 'f' or 'V'
	Size   int  // bytes per scalar; for 'V' the record size
	Big    bool
	Fields []Field // set for structured dtypes
}

// Common scalar dtypes.
var (
	Bool    = DType{Kind: 'b', Size: 1}
	Uint8   = DType{Kind: 'u', Size: 1}
	Int32   = DType{Kind: 'i', Size: 4}
	Int64   = DType{Kind: 'i', Size: 8}
	Float32 = DType{Kind: 'f', Size: 4}
	Float64 = DType{Kind: 'f', Size: 8}
)

// Structured builds a record dtype from fields, packed without padding.
func Structured(fields ...Field) DType {
	d := DType{Kind: 'V', Fields: fields}
	for _, f := range fields {
		d.Size += f.Size()
	}
	return d
}

// IsStructured reports whether d is a record dtype.
func (d DType) IsStructured() bool {
	return len(d.Fields) > 0
}

// ItemSize returns the number of bytes per array element.
func (d DType) ItemSize() int {
	return d.Size
}

// Lookup returns the named field and its byte offset within a record.
func (d DType) Lookup(name string) (Field, int, bool) {
	off := 0
	for _, f := range d.Fields {
		if f.Name == name {
			return f, off, true
		}
		off += f.Size()
	}
	return Field{}, 0, false
}

// FieldNames lists the named fields of a structured dtype.
func (d DType) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		if f.Name != "" {
			names = append(names, f.Name)
		}
	}
	return names
}

func (d DType) order() binary.ByteOrder {
	if d.Big {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// String renders d as a NumPy descr: '<f4' for scalars, a list literal for records.
func (d DType) String() string {
	if d.IsStructured() {
		parts := make([]string, 0, len(d.Fields))
		for _, f := range d.Fields {
			s := "(" + quote(f.Name) + ", " + f.DType.String()
			if len(f.Shape) > 0 {
				s += ", " + formatShape(f.Shape)
			}
			parts = append(parts, s+")")
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	order := "<"
	switch {
	case d.Size == 1 || d.Kind == 'V':
		order = "|"
	case d.Big:
		order = ">"
	}
	return quote(order + string(d.Kind) + strconv.Itoa(d.Size))
}

// parseScalar parses a descr string like '<f8' or '|u1'.
func parseScalar(s string) (DType, error) {
	if len(s) < 2 {
		return DType{}, errors.Wrapf(ErrUnsupportedDType, "%q", s)
	}
	var d DType
	switch s[0] {
	case '<', '|', '=':
	case '>':
		d.Big = true
	default:
		// numpy also accepts descrs without an order prefix
		s = "|" + s
	}
	d.Kind = s[1]
	if d.Kind == 'O' {
		return DType{}, ErrObjectArray
	}
	size, err := strconv.Atoi(s[2:])
	if err != nil || size < 0 {
		return DType{}, errors.Wrapf(ErrUnsupportedDType, "%q", s)
	}
	d.Size = size

	switch d.Kind {
	case 'b':
		if size != 1 {
			return DType{}, errors.Wrapf(ErrUnsupportedDType, "%q", s)
		}
	case 'i', 'u':
		if size != 1 && size != 2 && size != 4 && size != 8 {
			return DType{}, errors.Wrapf(ErrUnsupportedDType, "%q", s)
		}
	case 'f':
		if size != 4 && size != 8 {
			return DType{}, errors.Wrapf(ErrUnsupportedDType, "%q", s)
		}
	case 'V':
		// unnamed padding inside records
	default:
		return DType{}, errors.Wrapf(ErrUnsupportedDType, "%q", s)
	}
	return d, nil
}

// scalarReader returns a function decoding one scalar of d as float64.
func (d DType) scalarReader() (func([]byte) float64, error) {
	bo := d.order()
	switch {
	case d.Kind == 'f' && d.Size == 4:
		return func(b []byte) float64 { return float64(math.Float32frombits(bo.Uint32(b))) }, nil
	case d.Kind == 'f' && d.Size == 8:
		return func(b []byte) float64 { return math.Float64frombits(bo.Uint64(b)) }, nil
	case d.Kind == 'b', d.Kind == 'u' && d.Size == 1:
		return func(b []byte) float64 { return float64(b[0]) }, nil
	case d.Kind == 'i' && d.Size == 1:
		return func(b []byte) float64 { return float64(int8(b[0])) }, nil
	case d.Kind == 'u' && d.Size == 2:
		return func(b []byte) float64 { return float64(bo.Uint16(b)) }, nil
	case d.Kind == 'i' && d.Size == 2:
		return func(b []byte) float64 { return float64(int16(bo.Uint16(b))) }, nil
	case d.Kind == 'u' && d.Size == 4:
		return func(b []byte) float64 { return float64(bo.Uint32(b)) }, nil
	case d.Kind == 'i' && d.Size == 4:
		return func(b []byte) float64 { return float64(int32(bo.Uint32(b))) }, nil
	case d.Kind == 'u' && d.Size == 8:
		return func(b []byte) float64 { return float64(bo.Uint64(b)) }, nil
	case d.Kind == 'i' && d.Size == 8:
		return func(b []byte) float64 { return float64(int64(bo.Uint64(b))) }, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedDType, "cannot read %s as a number", d)
}

// product returns the number of elements in shape. Negative dimensions and
// counts that do not fit in an int are rejected.
func product(shape []int) (int, error) {
	n := 1
	for _, s := range shape {
		var err error
		if n, err = mul(n, s); err != nil {
			return 0, errors.Wrapf(err, "%v", shape)
		}
	}
	return n, nil
}

func mul(a, b int) (int, error) {
	if a < 0 || b < 0 {
		return 0, ErrBadShape
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt {
		return 0, ErrBadShape
	}
	return int(lo), nil
}

func formatShape(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	}
	parts := make([]string, len(shape))
	for i, s := range shape {
		parts[i] = strconv.Itoa(s)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
