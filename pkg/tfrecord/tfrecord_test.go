package tfrecord

import (
	"bytes"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskedCRC(t *testing.T) {
	// crc32c("123456789") is the standard check value 0xe3069283
	assert.Equal(t, uint32(0xe3069283), crc32.Checksum([]byte("123456789"), castagnoli))

	crc := uint32(0xe3069283)
	assert.Equal(t, ((crc>>15)|(crc<<17))+0xa282ead8, maskedCRC([]byte("123456789")))
}

func TestWriteRead(t *testing.T) {
	records := [][]byte{[]byte("first"), {}, bytes.Repeat([]byte{0xab}, 1000)}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, rec := range records {
		require.NoError(t, w.Write(rec))
	}
	assert.Equal(t, int64(buf.Len()), w.Written())
	assert.Equal(t, int64(3*16+5+0+1000), w.Written())

	r := NewReader(&buf)
	for _, want := range records {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_Corrupt(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Write([]byte("payload")))
	data := buf.Bytes()

	t.Run("payload", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[14] ^= 0xff
		_, err := NewReader(bytes.NewReader(bad)).Next()
		assert.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("length", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] ^= 0x01
		_, err := NewReader(bytes.NewReader(bad)).Next()
		assert.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := NewReader(bytes.NewReader(data[:len(data)-3])).Next()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}
