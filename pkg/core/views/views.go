// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package views defines the logical 2D matrices the matmul driver multiplies.
//
// A Matrix is a read-only window over some flat storage, addressed by (row, col). The set of
// kinds is closed (Matrix can't be implemented outside this package):
//
//   - Strided: a plain 2D window with arbitrary row and column strides, covering row-major,
//     column-major and transposed operands.
//   - Im2Col: the "virtual" im2col matrix of a convolution input. Each element maps to one
//     element of the source tensor, or to zero for padding positions. Nothing is materialized.
//   - Transposed: the transpose of an Im2Col (or of another Transposed), see Transpose.
//
// The packer (package packing) only needs the logical element values, so it works with any of them.
package views

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/packmm/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// Matrix is a read-only 2D view of elements of type T.
type Matrix[T dtypes.Supported] interface {
	// Shape returns the logical number of rows and columns.
	Shape() (rows, cols int)

	// At returns the element at (row, col). It panics if the position is outside of Shape.
	At(row, col int) T

	// isMatrix seals the interface.
	isMatrix()
}

// Strided is a Matrix over a flat slice: element (row, col) is data[offset + row*rowStride + col*colStride].
type Strided[T dtypes.Supported] struct {
	data                 []T
	offset               int
	rows, cols           int
	rowStride, colStride int
}

// Compile time check that Strided implements Matrix.
var _ Matrix[float32] = (*Strided[float32])(nil)

// NewStrided creates a Strided view. It returns an error if the view would address elements
// outside data, or if any of the arguments is negative.
func NewStrided[T dtypes.Supported](data []T, offset, rows, cols, rowStride, colStride int) (*Strided[T], error) {
	if offset < 0 || rows < 0 || cols < 0 || rowStride < 0 || colStride < 0 {
		return nil, errors.Errorf("views.NewStrided: negative argument in offset=%d, shape=[%d, %d], strides=[%d, %d]",
			offset, rows, cols, rowStride, colStride)
	}
	if rows > 0 && cols > 0 {
		last := offset + (rows-1)*rowStride + (cols-1)*colStride
		if last >= len(data) {
			return nil, errors.Errorf("views.NewStrided: view with offset=%d, shape=[%d, %d], strides=[%d, %d] "+
				"addresses element %d, but data has only %d elements", offset, rows, cols, rowStride, colStride, last, len(data))
		}
	}
	return &Strided[T]{data: data, offset: offset, rows: rows, cols: cols, rowStride: rowStride, colStride: colStride}, nil
}

// RowMajor returns the Strided view of a dense row-major [rows, cols] matrix.
func RowMajor[T dtypes.Supported](data []T, rows, cols int) (*Strided[T], error) {
	return NewStrided(data, 0, rows, cols, cols, 1)
}

// ColMajor returns the Strided view of a dense column-major [rows, cols] matrix.
func ColMajor[T dtypes.Supported](data []T, rows, cols int) (*Strided[T], error) {
	return NewStrided(data, 0, rows, cols, 1, rows)
}

func (s *Strided[T]) isMatrix() {}

// Shape implements Matrix.
func (s *Strided[T]) Shape() (rows, cols int) { return s.rows, s.cols }

// Data returns the underlying storage.
func (s *Strided[T]) Data() []T { return s.data }

// Offset returns the position in Data of element (0, 0).
func (s *Strided[T]) Offset() int { return s.offset }

// Strides returns the row and column strides.
func (s *Strided[T]) Strides() (rowStride, colStride int) { return s.rowStride, s.colStride }

// Index returns the position in Data of element (row, col), without range checking.
func (s *Strided[T]) Index(row, col int) int {
	return s.offset + row*s.rowStride + col*s.colStride
}

// At implements Matrix.
func (s *Strided[T]) At(row, col int) T {
	if row < 0 || row >= s.rows || col < 0 || col >= s.cols {
		exceptions.Panicf("views.Strided.At(%d, %d) out of bounds for shape [%d, %d]", row, col, s.rows, s.cols)
	}
	return s.data[s.offset+row*s.rowStride+col*s.colStride]
}

// Transpose returns the transposed view, sharing the same storage.
func (s *Strided[T]) Transpose() *Strided[T] {
	return &Strided[T]{data: s.data, offset: s.offset, rows: s.cols, cols: s.rows, rowStride: s.colStride, colStride: s.rowStride}
}

// Sub returns the view of the [rows, cols] block starting at (row, col), sharing the same storage.
// It panics if the block is not inside s.
func (s *Strided[T]) Sub(row, col, rows, cols int) *Strided[T] {
	if row < 0 || col < 0 || rows < 0 || cols < 0 || row+rows > s.rows || col+cols > s.cols {
		exceptions.Panicf("views.Strided.Sub(row=%d, col=%d, rows=%d, cols=%d) out of bounds for shape [%d, %d]",
			row, col, rows, cols, s.rows, s.cols)
	}
	return &Strided[T]{data: s.data, offset: s.Index(row, col), rows: rows, cols: cols, rowStride: s.rowStride, colStride: s.colStride}
}
