package npy

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		dtype  string
		shape  []int
	}{
		{"float32 matrix", "{'descr': '<f4', 'fortran_order': False, 'shape': (3, 7), }", "'<f4'", []int{3, 7}},
		{"uint8 images", "{'descr': '|u1', 'fortran_order': False, 'shape': (2, 64, 64, 3), }", "'|u1'", []int{2, 64, 64, 3}},
		{"big endian", "{'descr': '>f8', 'fortran_order': False, 'shape': (5,), }", "'>f8'", []int{5}},
		{"scalar", "{'descr': '<i8', 'fortran_order': False, 'shape': (), }", "'<i8'", []int{}},
		{"double quotes", `{"descr": "<f8", "fortran_order": False, "shape": (4L,)}`, "'<f8'", []int{4}},
		{
			"structured",
			"{'descr': [('image', '|u1', (64, 64, 3)), ('state', '<f4', (10,)), ('done', '|b1')], 'fortran_order': False, 'shape': (3,), }",
			"[('image', '|u1', (64, 64, 3)), ('state', '<f4', (10,)), ('done', '|b1')]",
			[]int{3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := parseHeader(tt.header)
			require.NoError(t, err)
			assert.Equal(t, tt.dtype, h.DType.String())
			assert.Equal(t, tt.shape, h.Shape)
			assert.False(t, h.Fortran)
		})
	}
}

func TestParseHeader_Errors(t *testing.T) {
	_, err := parseHeader("{'descr': '|O', 'fortran_order': False, 'shape': (3,), }")
	assert.ErrorIs(t, err, ErrObjectArray)

	_, err = parseHeader("{'descr': '<U10', 'fortran_order': False, 'shape': (3,), }")
	assert.ErrorIs(t, err, ErrUnsupportedDType)

	_, err = parseHeader("{'descr': '<f4', 'shape': (3,")
	assert.Error(t, err)
}

func TestStructuredSize(t *testing.T) {
	h, err := parseHeader("{'descr': [('a', '<f4', (2,)), ('', '|V4'), ('b', '<i8')], 'fortran_order': False, 'shape': (1,), }")
	require.NoError(t, err)
	assert.Equal(t, 8+4+8, h.DType.ItemSize())
	assert.Equal(t, []string{"a", "b"}, h.DType.FieldNames())

	_, off, ok := h.DType.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, 12, off)
}

func TestWriteRead(t *testing.T) {
	in := FromFloat32([]int{3, 2}, []float32{1, 2, 3, 4, 5, 6.5})

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, in))
	// preamble and header are padded to 64 bytes
	hlen := int(binary.LittleEndian.Uint16(buf.Bytes()[8:10]))
	assert.Zero(t, (10+hlen)%64)

	out, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, out.Shape)

	got, err := out.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6.5}, got)
}

func TestFloat32s_Conversion(t *testing.T) {
	f64 := FromFloat64([]int{2}, []float64{0.25, -3})
	got, err := f64.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -3}, got)

	big := &Array{Header: Header{DType: DType{Kind: 'f', Size: 8, Big: true}, Shape: []int{1}}, Data: make([]byte, 8)}
	binary.BigEndian.PutUint64(big.Data, math.Float64bits(1.5))
	got, err = big.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5}, got)

	i16 := &Array{Header: Header{DType: DType{Kind: 'i', Size: 2}, Shape: []int{2}}, Data: []byte{0xff, 0xff, 0x02, 0x00}}
	got, err = i16.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{-1, 2}, got)
}

func TestRead_Short(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FromUint8([]int{4}, []uint8{1, 2, 3, 4})))
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := Read(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, ErrShortData)

	_, err = Read(bytes.NewReader([]byte("not numpy at all")))
	assert.ErrorIs(t, err, ErrNotNPY)
}

// rawNPY encodes header verbatim followed by data, without checking that the two agree.
func rawNPY(header string, data []byte) []byte {
	header += "\n"
	out := []byte("\x93NUMPY\x01\x00")
	out = binary.LittleEndian.AppendUint16(out, uint16(len(header)))
	out = append(out, header...)
	return append(out, data...)
}

func TestRead_ShapeOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		descr string
		shape string
		want  error
	}{
		{"element count overflows", "'<f4'", "(4611686018427387904, 4)", ErrBadShape},
		{"byte count overflows", "'<f4'", "(4611686018427387904,)", ErrBadShape},
		{"field shape overflows", "[('state', '<f4', (4611686018427387904,))]", "(1,)", ErrBadShape},
		{"larger than input", "'|u1'", "(1099511627776,)", ErrShortData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := fmt.Sprintf("{'descr': %s, 'fortran_order': False, 'shape': %s, }", tt.descr, tt.shape)
			raw := rawNPY(header, make([]byte, 16))

			arr, err := Read(bytes.NewReader(raw))
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, arr)

			path := filepath.Join(t.TempDir(), "bad.npy")
			require.NoError(t, os.WriteFile(path, raw, 0644))
			arr, err = ReadFile(path)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, arr)
		})
	}
}

func TestArchive_ShapeOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episode.npz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, shape := range map[string]string{
		"overflow": "(4611686018427387904, 3)",
		"huge":     "(1099511627776, 3)",
	} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name + ".npy", Method: zip.Store})
		require.NoError(t, err)
		header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': %s, }", shape)
		_, err = w.Write(rawNPY(header, make([]byte, 24)))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	ar, err := OpenArchive(path)
	require.NoError(t, err)
	defer ar.Close()

	_, err = ar.Array("overflow")
	assert.ErrorIs(t, err, ErrBadShape)
	_, err = ar.Array("huge")
	assert.ErrorIs(t, err, ErrShortData)
}

func TestRecordsField(t *testing.T) {
	fields := []Field{
		{Name: "pix", DType: Uint8, Shape: []int{2, 2}},
		{Name: "state", DType: Float32, Shape: []int{3}},
	}
	cols := map[string]*Array{
		"pix":   FromUint8([]int{2, 2, 2}, []uint8{1, 2, 3, 4, 5, 6, 7, 8}),
		"state": FromFloat32([]int{2, 3}, []float32{0.1, 0.2, 0.3, 1.1, 1.2, 1.3}),
	}
	rec, err := Records(2, fields, cols)
	require.NoError(t, err)
	assert.Equal(t, 4+12, rec.DType.ItemSize())

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, rec))
	back, err := Read(&buf)
	require.NoError(t, err)

	pix, err := back.Field("pix")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, pix.Shape)
	px, err := pix.Uint8s()
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 2, 3, 4, 5, 6, 7, 8}, px)

	state, err := back.Field("state")
	require.NoError(t, err)
	vals, err := state.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 1.1, 1.2, 1.3}, vals)

	_, err = back.Field("missing")
	assert.Error(t, err)
}

func TestArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episode.npz")
	require.NoError(t, WriteArchive(path, map[string]*Array{
		"control":         FromFloat64([]int{2, 1}, []float64{1, 2}),
		"joint_positions": FromFloat32([]int{2, 1}, []float32{3, 4}),
	}))

	ar, err := OpenArchive(path)
	require.NoError(t, err)
	defer ar.Close()

	assert.Equal(t, []string{"control", "joint_positions"}, ar.Keys())
	assert.True(t, ar.Has("control"))
	assert.False(t, ar.Has("base_rgb"))

	arr, err := ar.Array("joint_positions")
	require.NoError(t, err)
	got, err := arr.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, got)

	_, err = ar.Array("base_rgb")
	assert.Error(t, err)
}
