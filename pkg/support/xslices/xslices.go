// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide missing functionality to the slices package.
package xslices

import (
	"golang.org/x/exp/constraints"
)

// FillSlice with fill the slice with the given value.
func FillSlice[T any](slice []T, value T) {
	// Apparently, the fastest way is by using copy.
	if len(slice) == 0 {
		return
	}
	slice[0] = value
	filled := 1
	for ; filled < len(slice); filled *= 2 {
		copy(slice[filled:], slice[:filled])
	}
}

// SliceWithValue creates a slice of given size filled with given value.
func SliceWithValue[T any](size int, value T) []T {
	s := make([]T, size)
	FillSlice(s, value)
	return s
}

// Iota returns a slice of incremental int values, starting with start and of length len.
// Eg: Iota(3.0, 2) -> []float64{3.0, 4.0}
func Iota[T interface {
	constraints.Integer | constraints.Float
}](start T, len int) (slice []T) {
	slice = make([]T, len)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// Product returns the product of all values, 1 for an empty slice.
// Used to compute the number of elements of a shape.
func Product[T constraints.Integer](values []T) T {
	p := T(1)
	for _, v := range values {
		p *= v
	}
	return p
}

// RowMajorStrides returns the strides, in number of elements, of a dense row-major layout for the given
// dimensions: the last axis is contiguous.
func RowMajorStrides(dims []int) []int {
	strides := make([]int, len(dims))
	stride := 1
	for axis := len(dims) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dims[axis]
	}
	return strides
}

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}
