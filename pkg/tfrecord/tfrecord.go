// Package tfrecord reads and writes the TFRecord container format:
// each record is framed as
//
//	uint64 length
//	uint32 masked crc32c of length
//	byte   data[length]
//	uint32 masked crc32c of data
//
// with all integers little-endian.
package tfrecord

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrChecksum is returned when a record's length or payload fails its CRC.
var ErrChecksum = errors.New("tfrecord: checksum mismatch")

func maskedCRC(b []byte) uint32 {
	crc := crc32.Checksum(b, castagnoli)
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

// Writer appends records to an io.Writer.
type Writer struct {
	w       io.Writer
	written int64
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write frames and writes one record.
func (w *Writer) Write(record []byte) error {
	var head [12]byte
	binary.LittleEndian.PutUint64(head[:8], uint64(len(record)))
	binary.LittleEndian.PutUint32(head[8:], maskedCRC(head[:8]))

	var foot [4]byte
	binary.LittleEndian.PutUint32(foot[:], maskedCRC(record))

	for _, b := range [][]byte{head[:], record, foot[:]} {
		n, err := w.w.Write(b)
		w.written += int64(n)
		if err != nil {
			return fmt.Errorf("tfrecord: write: %w", err)
		}
	}
	return nil
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.written
}

// Reader reads records from an io.Reader.
type Reader struct {
	r io.Reader
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() ([]byte, error) {
	var head [12]byte
	if _, err := io.ReadFull(r.r, head[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("tfrecord: read header: %w", err)
	}
	if binary.LittleEndian.Uint32(head[8:]) != maskedCRC(head[:8]) {
		return nil, fmt.Errorf("%w in length", ErrChecksum)
	}

	n := binary.LittleEndian.Uint64(head[:8])
	data := make([]byte, n+4)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("tfrecord: read record: %w", err)
	}
	record, foot := data[:n], data[n:]
	if binary.LittleEndian.Uint32(foot) != maskedCRC(record) {
		return nil, fmt.Errorf("%w in data", ErrChecksum)
	}
	return record, nil
}
