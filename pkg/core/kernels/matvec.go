// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/packmm/pkg/core/dtypes"
	"github.com/gomlx/packmm/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"
)

// MatVecTile is the tile shape of the generic matrix-vector kernels: one output column of MR rows.
var MatVecTile = TileShape{MR: 8, NR: 1}

// MatVecName is the name of the generic matrix-vector kernel of every DTypePair.
const MatVecName = "generic-matvec"

func init() {
	registerMatVec[float32, float32](matVecSymmetric[float32])
	registerMatVec[float64, float64](matVecSymmetric[float64])
	registerMatVec[int32, int32](matVecSymmetric[int32])
	registerMatVec[int8, int32](matVecWidening[int8])
	registerMatVec[uint8, int32](matVecWidening[uint8])
	registerMatVec[float16.Float16, float16.Float16](matVecFloat16)
	registerMatVec[bfloat16.BFloat16, bfloat16.BFloat16](matVecBFloat16)
}

func registerMatVec[In, Out dtypes.Supported](fn KernelFn[In, Out]) {
	Register(Descriptor{
		Name:     MatVecName,
		DTypes:   PairOf[In, Out](),
		Tile:     MatVecTile,
		Priority: PriorityGeneric,
		MatVec:   true,
		Fn:       fn,
	})
}

// matVecSymmetric computes 8 dot products of the rows of the A panel with the packed vector.
// packedB holds the k vector values contiguously, and colStride is irrelevant.
func matVecSymmetric[T dtypes.Number](k int, packedA, packedB, out []T, rowStride, _ int, accumulate bool) {
	var acc [8]T
	packedA = packedA[:8*k]
	packedB = packedB[:k]
	for p, b := range packedB {
		a := packedA[p*8 : p*8+8]
		for r := range acc {
			acc[r] += a[r] * b
		}
	}
	storeColumn(acc[:], out, rowStride, accumulate)
}

func matVecWidening[T dtypes.Quantized](k int, packedA, packedB []T, out []int32, rowStride, _ int, accumulate bool) {
	var acc [8]int32
	packedA = packedA[:8*k]
	packedB = packedB[:k]
	for p, b := range packedB {
		a := packedA[p*8 : p*8+8]
		b32 := int32(b)
		for r := range acc {
			acc[r] += int32(a[r]) * b32
		}
	}
	storeColumn(acc[:], out, rowStride, accumulate)
}

func storeColumn[T dtypes.Number](acc, out []T, rowStride int, accumulate bool) {
	for r, v := range acc {
		if accumulate {
			out[r*rowStride] += v
		} else {
			out[r*rowStride] = v
		}
	}
}

func matVecFloat16(k int, packedA, packedB, out []float16.Float16, rowStride, colStride int, accumulate bool) {
	var acc [8]float32
	blockedHalf(8, 1, k, packedA, packedB, acc[:], out, rowStride, colStride, accumulate,
		float16.Float16.Float32, float16.Fromfloat32)
}

func matVecBFloat16(k int, packedA, packedB, out []bfloat16.BFloat16, rowStride, colStride int, accumulate bool) {
	var acc [8]float32
	blockedHalf(8, 1, k, packedA, packedB, acc[:], out, rowStride, colStride, accumulate,
		bfloat16.BFloat16.Float32, bfloat16.FromFloat32)
}
