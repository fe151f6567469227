// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package views

import (
	"slices"

	"github.com/gomlx/packmm/pkg/core/dtypes"
	"github.com/gomlx/packmm/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Tensor is an N-dimensional array over flat storage: element at index (i0, i1, ...) is at
// Data[sum(i_d * Strides[d])]. Strides are in number of elements.
type Tensor[T dtypes.Supported] struct {
	Data    []T
	Dims    []int
	Strides []int
}

// NewTensor returns a dense row-major tensor over data. Use Check to validate it.
func NewTensor[T dtypes.Supported](data []T, dims ...int) Tensor[T] {
	return Tensor[T]{Data: data, Dims: dims, Strides: xslices.RowMajorStrides(dims)}
}

// WithStrides returns a copy of the tensor using the given strides.
func (t Tensor[T]) WithStrides(strides ...int) Tensor[T] {
	t.Strides = slices.Clone(strides)
	return t
}

// Rank returns the number of axes.
func (t Tensor[T]) Rank() int { return len(t.Dims) }

// Size returns the number of elements, the product of the dimensions.
func (t Tensor[T]) Size() int { return xslices.Product(t.Dims) }

// Check returns an error if dims and strides don't match, or if the tensor addresses elements outside Data.
func (t Tensor[T]) Check() error {
	if len(t.Strides) != len(t.Dims) {
		return errors.Errorf("tensor with dims %v has %d strides (%v)", t.Dims, len(t.Strides), t.Strides)
	}
	for axis, dim := range t.Dims {
		if dim < 0 || t.Strides[axis] < 0 {
			return errors.Errorf("tensor with dims %v and strides %v: negative values not supported", t.Dims, t.Strides)
		}
	}
	if t.Size() == 0 {
		return nil
	}
	last := 0
	for axis, dim := range t.Dims {
		last += (dim - 1) * t.Strides[axis]
	}
	if last >= len(t.Data) {
		return errors.Errorf("tensor with dims %v and strides %v addresses element %d, but data has only %d elements",
			t.Dims, t.Strides, last, len(t.Data))
	}
	return nil
}
