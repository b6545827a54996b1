package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

var magic = []byte("\x93NUMPY")

// ErrNotNPY is returned for input that does not start with the .npy magic string.
var ErrNotNPY = errors.New("npy: not a .npy file")

// Read decodes one .npy array from r.
func Read(r io.Reader) (*Array, error) {
	return decode(r, -1)
}

// decode reads one array from r, which holds at most limit bytes.
// A negative limit means the length of r is unknown.
func decode(r io.Reader, limit int64) (*Array, error) {
	var pre [8]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return nil, errors.Wrap(err, "npy: read preamble")
	}
	if !bytes.Equal(pre[:6], magic) {
		return nil, ErrNotNPY
	}

	var hlen int
	consumed := int64(len(pre))
	switch major := pre[6]; major {
	case 1:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, errors.Wrap(err, "npy: read header length")
		}
		hlen = int(binary.LittleEndian.Uint16(b[:]))
		consumed += 2
	case 2, 3:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, errors.Wrap(err, "npy: read header length")
		}
		hlen = int(binary.LittleEndian.Uint32(b[:]))
		consumed += 4
	default:
		return nil, errors.Errorf("npy: unsupported format version %d", major)
	}

	raw, err := readN(r, hlen, remaining(limit, consumed))
	if err != nil {
		return nil, errors.Wrap(err, "npy: read header")
	}
	consumed += int64(hlen)
	h, err := parseHeader(string(raw))
	if err != nil {
		return nil, err
	}

	n, err := h.byteSize()
	if err != nil {
		return nil, err
	}
	data, err := readN(r, n, remaining(limit, consumed))
	if err != nil {
		return nil, errors.Wrapf(err, "shape %v of %s", h.Shape, h.DType)
	}
	return &Array{Header: h, Data: data}, nil
}

func remaining(limit, consumed int64) int64 {
	if limit < 0 {
		return -1
	}
	return max(limit-consumed, 0)
}

// readN reads exactly n bytes. With a known limit, n is checked before
// allocating; otherwise the buffer grows only as data actually arrives.
func readN(r io.Reader, n int, limit int64) ([]byte, error) {
	if limit >= 0 && int64(n) > limit {
		return nil, errors.Wrapf(ErrShortData, "need %d bytes, %d remain", n, limit)
	}
	var (
		buf []byte
		err error
	)
	if limit >= 0 {
		buf = make([]byte, n)
		_, err = io.ReadFull(r, buf)
	} else {
		buf, err = io.ReadAll(io.LimitReader(r, int64(n)))
		if err == nil && len(buf) < n {
			err = io.ErrUnexpectedEOF
		}
	}
	if err != nil {
		return nil, errors.Wrap(ErrShortData, err.Error())
	}
	return buf, nil
}

// ReadFile decodes the .npy file at path.
func ReadFile(path string) (*Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return decode(bufio.NewReader(f), st.Size())
}

// Write encodes a as a .npy array, choosing the oldest format version that fits the header.
func Write(w io.Writer, a *Array) error {
	if len(a.Data) != a.Len()*a.DType.ItemSize() {
		return errors.Errorf("npy: %d data bytes for shape %v of %s", len(a.Data), a.Shape, a.DType)
	}

	header := a.Header
	header.Fortran = false
	text := header.String()

	// preamble + header + newline is padded to a multiple of 64 bytes
	version, prefix := byte(1), 10
	if len(text)+prefix+1 > 0xffff {
		version, prefix = 2, 12
	}
	pad := 64 - (prefix+len(text)+1)%64
	if pad == 64 {
		pad = 0
	}
	text += strings.Repeat(" ", pad) + "\n"

	var buf bytes.Buffer
	buf.Write(magic)
	buf.WriteByte(version)
	buf.WriteByte(0)
	if version == 1 {
		binary.Write(&buf, binary.LittleEndian, uint16(len(text)))
	} else {
		binary.Write(&buf, binary.LittleEndian, uint32(len(text)))
	}
	buf.WriteString(text)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "npy: write header")
	}
	if _, err := w.Write(a.Data); err != nil {
		return errors.Wrap(err, "npy: write data")
	}
	return nil
}

// WriteFile encodes a to a new file at path.
func WriteFile(path string, a *Array) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := Write(bw, a); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
