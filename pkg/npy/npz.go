package npy

import (
	"archive/zip"
	"bufio"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Archive is an open .npz file. Arrays are decoded on demand.
type Archive struct {
	zr    *zip.ReadCloser
	files map[string]*zip.File
}

// OpenArchive opens the .npz file at path.
func OpenArchive(path string) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrap(err, "npz: open")
	}
	a := &Archive{zr: zr, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		a.files[strings.TrimSuffix(f.Name, ".npy")] = f
	}
	return a, nil
}

// Keys returns the array names in the archive, sorted.
func (a *Archive) Keys() []string {
	keys := make([]string, 0, len(a.files))
	for k := range a.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether the archive holds an array called name.
func (a *Archive) Has(name string) bool {
	_, ok := a.files[name]
	return ok
}

// Array decodes the array called name.
func (a *Archive) Array(name string) (*Array, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, errors.Errorf("npz: no array %q", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "npz: open %q", name)
	}
	defer rc.Close()
	limit := int64(-1)
	if f.UncompressedSize64 <= math.MaxInt64 {
		limit = int64(f.UncompressedSize64)
	}
	arr, err := decode(bufio.NewReader(rc), limit)
	if err != nil {
		return nil, errors.Wrapf(err, "npz: array %q", name)
	}
	return arr, nil
}

// Close releases the underlying file.
func (a *Archive) Close() error {
	return a.zr.Close()
}

// ArchiveWriter writes arrays into a .npz archive.
type ArchiveWriter struct {
	zw *zip.Writer
}

// NewArchiveWriter returns a writer producing an uncompressed .npz stream on w,
// matching numpy.savez.
func NewArchiveWriter(w io.Writer) *ArchiveWriter {
	return &ArchiveWriter{zw: zip.NewWriter(w)}
}

// Add appends array a under name.
func (w *ArchiveWriter) Add(name string, a *Array) error {
	fw, err := w.zw.CreateHeader(&zip.FileHeader{Name: name + ".npy", Method: zip.Store})
	if err != nil {
		return errors.Wrapf(err, "npz: create %q", name)
	}
	return Write(fw, a)
}

// Close finishes the archive. It does not close the underlying writer.
func (w *ArchiveWriter) Close() error {
	return w.zw.Close()
}

// WriteArchive writes arrays to a new .npz file at path, in sorted key order.
func WriteArchive(path string, arrays map[string]*Array) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := NewArchiveWriter(f)

	names := make([]string, 0, len(arrays))
	for name := range arrays {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.Add(name, arrays[name]); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
