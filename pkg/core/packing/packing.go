// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package packing copies blocks of matmul operands into the contiguous panels consumed by the
// micro-kernels in package kernels.
//
// A panel of width tileDim and depth kLen holds tileDim*kLen values laid out [kLen][tileDim]:
//
//   - SideA packs `count` rows of the M×K left operand: panel[p*tileDim + r] = A[start+r, kStart+p].
//   - SideB packs `count` columns of the K×N right operand: panel[p*tileDim + c] = B[kStart+p, start+c].
//
// When count < tileDim the trailing lanes are zero, so they contribute nothing to the
// results the kernel computes for the valid lanes.
package packing

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/packmm/pkg/core/dtypes"
	"github.com/gomlx/packmm/pkg/core/views"
)

// Side of the matrix multiplication being packed.
type Side int

const (
	// SideA is the left operand, M×K, packed by rows.
	SideA Side = iota

	// SideB is the right operand, K×N, packed by columns.
	SideB
)

// String implements fmt.Stringer.
func (s Side) String() string {
	if s == SideA {
		return "SideA"
	}
	return "SideB"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// PanelSize returns the number of elements of a panel.
func PanelSize(tileDim, kLen int) int {
	return tileDim * kLen
}

// PackPanel returns a newly allocated panel, see PackPanelInto.
func PackPanel[T dtypes.Supported](view views.Matrix[T], side Side, start, count, kStart, kLen, tileDim int) []T {
	dst := make([]T, PanelSize(tileDim, kLen))
	PackPanelInto(dst, view, side, start, count, kStart, kLen, tileDim)
	return dst
}

// PackPanelInto packs count rows (SideA) or columns (SideB) of view, starting at start, over the
// contracting range [kStart, kStart+kLen), into dst[:tileDim*kLen].
//
// It panics if count is not in [1, tileDim], if the ranges fall outside the view, or if dst is
// too small.
func PackPanelInto[T dtypes.Supported](dst []T, view views.Matrix[T], side Side, start, count, kStart, kLen, tileDim int) {
	rows, cols := view.Shape()
	crossSize, contractingSize := rows, cols
	if side == SideB {
		crossSize, contractingSize = cols, rows
	} else if side != SideA {
		exceptions.Panicf("packing: invalid side %d", side)
	}
	if count < 1 || count > tileDim {
		exceptions.Panicf("packing %s: count=%d must be in [1, tileDim=%d]", side, count, tileDim)
	}
	if start < 0 || start+count > crossSize {
		exceptions.Panicf("packing %s: range [%d, %d) out of bounds for cross size %d", side, start, start+count, crossSize)
	}
	if kLen < 0 || kStart < 0 || kStart+kLen > contractingSize {
		exceptions.Panicf("packing %s: contracting range [%d, %d) out of bounds for contracting size %d",
			side, kStart, kStart+kLen, contractingSize)
	}
	size := PanelSize(tileDim, kLen)
	if len(dst) < size {
		exceptions.Panicf("packing %s: dst has %d elements, panel requires %d", side, len(dst), size)
	}
	dst = dst[:size]

	switch v := view.(type) {
	case *views.Strided[T]:
		packStrided(dst, v, side, start, count, kStart, kLen, tileDim)
	case *views.Im2Col[T]:
		packIm2Col(dst, v, side, start, count, kStart, kLen, tileDim)
	case *views.Transposed[T]:
		// Rows of a transpose are columns of the inner matrix.
		PackPanelInto(dst, v.Matrix(), side.Opposite(), start, count, kStart, kLen, tileDim)
	default:
		packGeneric(dst, view, side, start, count, kStart, kLen, tileDim)
	}
}

// packStrided reads directly from the storage of a Strided view, and copies whole rows of the
// panel when the view is contiguous along the cross axis being packed.
func packStrided[T dtypes.Supported](dst []T, v *views.Strided[T], side Side, start, count, kStart, kLen, tileDim int) {
	data := v.Data()
	rowStride, colStride := v.Strides()
	crossStride, contractingStride := rowStride, colStride
	if side == SideB {
		crossStride, contractingStride = colStride, rowStride
	}
	var zero T
	base := v.Offset()
	if side == SideA {
		base += start*rowStride + kStart*colStride
	} else {
		base += kStart*rowStride + start*colStride
	}
	for p := range kLen {
		lane := dst[p*tileDim : (p+1)*tileDim]
		srcIdx := base + p*contractingStride
		if crossStride == 1 {
			copy(lane[:count], data[srcIdx:srcIdx+count])
		} else {
			for i := range count {
				lane[i] = data[srcIdx+i*crossStride]
			}
		}
		for i := count; i < tileDim; i++ {
			lane[i] = zero
		}
	}
}

// packIm2Col resolves each element to its position in the source tensor with SourceOffset,
// writing zero for positions in the padding.
func packIm2Col[T dtypes.Supported](dst []T, v *views.Im2Col[T], side Side, start, count, kStart, kLen, tileDim int) {
	data := v.Data()
	var zero T
	for p := range kLen {
		lane := dst[p*tileDim : (p+1)*tileDim]
		k := kStart + p
		for i := range count {
			row, col := start+i, k
			if side == SideB {
				row, col = k, start+i
			}
			if offset, ok := v.SourceOffset(row, col); ok {
				lane[i] = data[offset]
			} else {
				lane[i] = zero
			}
		}
		for i := count; i < tileDim; i++ {
			lane[i] = zero
		}
	}
}

func packGeneric[T dtypes.Supported](dst []T, view views.Matrix[T], side Side, start, count, kStart, kLen, tileDim int) {
	var zero T
	for p := range kLen {
		lane := dst[p*tileDim : (p+1)*tileDim]
		k := kStart + p
		if side == SideA {
			for i := range count {
				lane[i] = view.At(start+i, k)
			}
		} else {
			for i := range count {
				lane[i] = view.At(k, start+i)
			}
		}
		for i := count; i < tileDim; i++ {
			lane[i] = zero
		}
	}
}

// PackAll packs every panel of an operand over the contracting range [kStart, kStart+kLen):
// panel i covers rows (SideA) or columns (SideB) [i*tileDim, min((i+1)*tileDim, size)).
// The panels share one backing allocation.
func PackAll[T dtypes.Supported](view views.Matrix[T], side Side, kStart, kLen, tileDim int) [][]T {
	if tileDim < 1 {
		exceptions.Panicf("packing %s: invalid tileDim=%d", side, tileDim)
	}
	rows, cols := view.Shape()
	crossSize := rows
	if side == SideB {
		crossSize = cols
	}
	numPanels := (crossSize + tileDim - 1) / tileDim
	panelSize := PanelSize(tileDim, kLen)
	backing := make([]T, numPanels*panelSize)
	panels := make([][]T, numPanels)
	for i := range numPanels {
		start := i * tileDim
		panels[i] = backing[i*panelSize : (i+1)*panelSize : (i+1)*panelSize]
		PackPanelInto(panels[i], view, side, start, min(tileDim, crossSize-start), kStart, kLen, tileDim)
	}
	return panels
}
