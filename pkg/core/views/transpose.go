// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package views

import "github.com/gomlx/packmm/pkg/core/dtypes"

// Transposed is the transpose of a Matrix: element (row, col) is element (col, row) of the original.
// Create it with Transpose.
type Transposed[T dtypes.Supported] struct {
	m Matrix[T]
}

// Compile time check that Transposed implements Matrix.
var _ Matrix[float32] = (*Transposed[float32])(nil)

// Transpose returns the transposed view of m, sharing its storage.
//
// Strided views are transposed by swapping their strides, and transposing a Transposed returns
// the original matrix. Other matrices are wrapped in a Transposed.
func Transpose[T dtypes.Supported](m Matrix[T]) Matrix[T] {
	switch v := m.(type) {
	case *Strided[T]:
		return v.Transpose()
	case *Transposed[T]:
		return v.m
	}
	return &Transposed[T]{m: m}
}

func (t *Transposed[T]) isMatrix() {}

// Shape implements Matrix.
func (t *Transposed[T]) Shape() (rows, cols int) {
	cols, rows = t.m.Shape()
	return
}

// At implements Matrix.
func (t *Transposed[T]) At(row, col int) T { return t.m.At(col, row) }

// Matrix returns the matrix t is the transpose of.
func (t *Transposed[T]) Matrix() Matrix[T] { return t.m }
