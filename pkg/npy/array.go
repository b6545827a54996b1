package npy

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrShortData is returned when an array holds fewer bytes than its header promises.
var ErrShortData = errors.New("npy: data shorter than header shape")

// Array is a decoded .npy array. Data is kept in its on-disk byte layout.
type Array struct {
	Header
	Data []byte
}

func (a *Array) check() error {
	if a.Fortran && len(a.Shape) > 1 {
		return errors.New("npy: fortran-ordered arrays are not supported")
	}
	n, err := a.byteSize()
	if err != nil {
		return err
	}
	if len(a.Data) < n {
		return ErrShortData
	}
	return nil
}

// Float32s returns every element converted to float32, in C order.
func (a *Array) Float32s() ([]float32, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	read, err := a.DType.scalarReader()
	if err != nil {
		return nil, err
	}
	n, sz := a.Len(), a.DType.ItemSize()
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(read(a.Data[i*sz:]))
	}
	return out, nil
}

// Uint8s returns the raw bytes of a uint8 array.
func (a *Array) Uint8s() ([]uint8, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if a.DType.Kind != 'u' || a.DType.Size != 1 {
		return nil, errors.Errorf("npy: want uint8 data, have %s", a.DType)
	}
	return a.Data[:a.Len()], nil
}

// Field extracts one member of a structured array as a standalone array
// whose shape is the record shape followed by the field's sub-array shape.
func (a *Array) Field(name string) (*Array, error) {
	if !a.DType.IsStructured() {
		return nil, errors.Errorf("npy: %s is not a structured dtype", a.DType)
	}
	if err := a.check(); err != nil {
		return nil, err
	}
	f, off, ok := a.DType.Lookup(name)
	if !ok {
		return nil, errors.Errorf("npy: no field %q", name)
	}

	n, stride, fsize := a.Len(), a.DType.ItemSize(), f.Size()
	data := make([]byte, 0, n*fsize)
	for i := 0; i < n; i++ {
		base := i*stride + off
		data = append(data, a.Data[base:base+fsize]...)
	}

	shape := append(append([]int{}, a.Shape...), f.Shape...)
	return &Array{
		Header: Header{DType: f.DType, Shape: shape},
		Data:   data,
	}, nil
}

// FromUint8 wraps data in an array of the given shape.
func FromUint8(shape []int, data []uint8) *Array {
	return &Array{
		Header: Header{DType: Uint8, Shape: shape},
		Data:   data,
	}
}

// FromFloat32 encodes data as a little-endian float32 array.
func FromFloat32(shape []int, data []float32) *Array {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return &Array{
		Header: Header{DType: Float32, Shape: shape},
		Data:   buf,
	}
}

// FromFloat64 encodes data as a little-endian float64 array.
func FromFloat64(shape []int, data []float64) *Array {
	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return &Array{
		Header: Header{DType: Float64, Shape: shape},
		Data:   buf,
	}
}

// Records interleaves per-field columns into a 1-D structured array of n records.
// Each column's shape must be n followed by the field's sub-array shape.
func Records(n int, fields []Field, columns map[string]*Array) (*Array, error) {
	dt := Structured(fields...)
	data := make([]byte, n*dt.ItemSize())
	off := 0
	for _, f := range fields {
		col, ok := columns[f.Name]
		if !ok {
			return nil, errors.Errorf("npy: no column for field %q", f.Name)
		}
		fsize := f.Size()
		if col.DType.Kind != f.DType.Kind || col.DType.Size != f.DType.Size || len(col.Data) < n*fsize {
			return nil, errors.Errorf("npy: column %q does not match field %s", f.Name, f.DType)
		}
		for i := 0; i < n; i++ {
			copy(data[i*dt.ItemSize()+off:], col.Data[i*fsize:(i+1)*fsize])
		}
		off += fsize
	}
	return &Array{
		Header: Header{DType: dt, Shape: []int{n}},
		Data:   data,
	}, nil
}
