// Package tensorfile loads and saves network tensors in NumPy .npy
// format, the exchange format for predictions and targets exported
// from the training side. Batch tensors carry the batch as the
// leading dimension; everything behind it is flattened per row.
package tensorfile

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pillars.detect/internal/fsutil"
)

// Float32Tensor is a dense float tensor with its header shape.
type Float32Tensor struct {
	Shape []int
	Data  []float32
}

// Int32Tensor is a dense integer tensor with its header shape.
type Int32Tensor struct {
	Shape []int
	Data  []int32
}

// Rows views the tensor as leading-dimension rows without copying.
// A one-dimensional tensor is a single row.
func (t *Float32Tensor) Rows() [][]float32 {
	if len(t.Shape) < 2 {
		return [][]float32{t.Data}
	}
	rows := t.Shape[0]
	if rows == 0 {
		return nil
	}
	stride := len(t.Data) / rows
	out := make([][]float32, rows)
	for i := range out {
		out[i] = t.Data[i*stride : (i+1)*stride]
	}
	return out
}

// SplitRows views the data as rows of equal length when the batch size
// is known externally rather than from the header shape.
func (t *Int32Tensor) SplitRows(rows int) ([][]int32, error) {
	if rows <= 0 {
		return nil, fmt.Errorf("rows must be positive, got %d", rows)
	}
	if len(t.Data)%rows != 0 {
		return nil, fmt.Errorf("cannot split %d elements into %d equal rows", len(t.Data), rows)
	}
	stride := len(t.Data) / rows
	out := make([][]int32, rows)
	for i := range out {
		out[i] = t.Data[i*stride : (i+1)*stride]
	}
	return out, nil
}

// Store reads and writes tensor files through a FileSystem, so tests
// can round-trip tensors in memory.
type Store struct {
	fs fsutil.FileSystem
}

// NewStore creates a Store over the given filesystem.
func NewStore(fs fsutil.FileSystem) *Store {
	return &Store{fs: fs}
}

// OSStore creates a Store over the real filesystem.
func OSStore() *Store {
	return NewStore(fsutil.OSFileSystem{})
}

// LoadFloat32 reads a float tensor. Both float32 ("<f4") and float64
// ("<f8", numpy's default dtype) files are accepted; float64 values
// are narrowed on load.
func (s *Store) LoadFloat32(path string) (*Float32Tensor, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tensor file: %w", err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read npy header from %s: %w", path, err)
	}
	shape, n, err := headerShape(path, r.Header)
	if err != nil {
		return nil, err
	}

	switch kind(r.Header.Descr.Type) {
	case "f4":
		data := make([]float32, n)
		if err := r.Read(&data); err != nil {
			return nil, fmt.Errorf("failed to read tensor data from %s: %w", path, err)
		}
		return &Float32Tensor{Shape: shape, Data: data}, nil
	case "f8":
		wide := make([]float64, n)
		if err := r.Read(&wide); err != nil {
			return nil, fmt.Errorf("failed to read tensor data from %s: %w", path, err)
		}
		data := make([]float32, n)
		for i, v := range wide {
			data[i] = float32(v)
		}
		return &Float32Tensor{Shape: shape, Data: data}, nil
	default:
		return nil, fmt.Errorf("%s: unsupported dtype %q for a float tensor", path, r.Header.Descr.Type)
	}
}

// LoadInt32 reads an integer tensor. Both int32 ("<i4") and int64
// ("<i8", numpy's default) files are accepted; the values here are
// class ids and anchor counts, which fit easily.
func (s *Store) LoadInt32(path string) (*Int32Tensor, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tensor file: %w", err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read npy header from %s: %w", path, err)
	}
	shape, n, err := headerShape(path, r.Header)
	if err != nil {
		return nil, err
	}

	switch kind(r.Header.Descr.Type) {
	case "i4":
		data := make([]int32, n)
		if err := r.Read(&data); err != nil {
			return nil, fmt.Errorf("failed to read tensor data from %s: %w", path, err)
		}
		return &Int32Tensor{Shape: shape, Data: data}, nil
	case "i8":
		wide := make([]int64, n)
		if err := r.Read(&wide); err != nil {
			return nil, fmt.Errorf("failed to read tensor data from %s: %w", path, err)
		}
		data := make([]int32, n)
		for i, v := range wide {
			data[i] = int32(v)
		}
		return &Int32Tensor{Shape: shape, Data: data}, nil
	default:
		return nil, fmt.Errorf("%s: unsupported dtype %q for an integer tensor", path, r.Header.Descr.Type)
	}
}

// SaveFloat32 writes a float tensor of rank 1 or 2. npyio writes Go
// slices as flat one-dimensional arrays, so a two-dimensional tensor
// goes through gonum's mat.Dense, which carries the row/column shape
// in the header.
func (s *Store) SaveFloat32(path string, shape []int, data []float32) error {
	if err := checkShape(shape, len(data)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	w, err := s.create(path)
	if err != nil {
		return err
	}

	switch len(shape) {
	case 1:
		err = npyio.Write(w, data)
	case 2:
		if shape[0] == 0 || shape[1] == 0 {
			w.Close()
			return fmt.Errorf("%s: empty 2-d tensors are not supported", path)
		}
		wide := make([]float64, len(data))
		for i, v := range data {
			wide[i] = float64(v)
		}
		err = npyio.Write(w, mat.NewDense(shape[0], shape[1], wide))
	default:
		w.Close()
		return fmt.Errorf("%s: rank %d tensors are not supported, flatten to 2", path, len(shape))
	}
	if err != nil {
		w.Close()
		return fmt.Errorf("failed to write tensor to %s: %w", path, err)
	}
	return w.Close()
}

// SaveInt32 writes a flat integer tensor. Callers that need a batch
// split load it back with SplitRows.
func (s *Store) SaveInt32(path string, data []int32) error {
	w, err := s.create(path)
	if err != nil {
		return err
	}
	if err := npyio.Write(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write tensor to %s: %w", path, err)
	}
	return w.Close()
}

// create makes the parent directory and opens the file for writing.
func (s *Store) create(path string) (io.WriteCloser, error) {
	if err := s.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create tensor directory: %w", err)
	}
	w, err := s.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor file: %w", err)
	}
	return w, nil
}

// headerShape validates a header and returns its shape and element
// count. Fortran-order files are rejected; the flat data would not be
// row-major.
func headerShape(path string, hdr npyio.Header) ([]int, int, error) {
	shape := append([]int(nil), hdr.Descr.Shape...)
	if hdr.Descr.Fortran && len(shape) > 1 {
		return nil, 0, fmt.Errorf("%s: fortran-order tensors are not supported", path)
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return shape, n, nil
}

// kind strips the little-endian/no-order prefix from a numpy dtype
// string. Big-endian dtypes keep their '>' so they fall through to the
// unsupported-dtype error.
func kind(descr string) string {
	if len(descr) > 1 {
		switch descr[0] {
		case '<', '|', '=':
			return descr[1:]
		}
	}
	return descr
}

func checkShape(shape []int, n int) error {
	if len(shape) == 0 {
		return fmt.Errorf("shape must have at least one dimension")
	}
	total := 1
	for _, d := range shape {
		if d < 0 {
			return fmt.Errorf("shape dimensions must be non-negative, got %v", shape)
		}
		total *= d
	}
	if total != n {
		return fmt.Errorf("shape %v holds %d elements, data has %d", shape, total, n)
	}
	return nil
}
