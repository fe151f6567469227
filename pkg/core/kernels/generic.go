// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/packmm/pkg/core/dtypes"
	"github.com/gomlx/packmm/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"
)

// GenericTile is the tile shape of the fallback kernels.
var GenericTile = TileShape{MR: 4, NR: 2}

func init() {
	registerGeneric[float32, float32](genericSymmetric4x2[float32])
	registerGeneric[float64, float64](genericSymmetric4x2[float64])
	registerGeneric[int32, int32](genericSymmetric4x2[int32])
	registerGeneric[int8, int32](genericWidening4x2[int8])
	registerGeneric[uint8, int32](genericWidening4x2[uint8])
	registerGeneric[float16.Float16, float16.Float16](genericFloat16)
	registerGeneric[bfloat16.BFloat16, bfloat16.BFloat16](genericBFloat16)
}

func registerGeneric[In, Out dtypes.Supported](fn KernelFn[In, Out]) {
	Register(Descriptor{
		Name:     GenericName,
		DTypes:   PairOf[In, Out](),
		Tile:     GenericTile,
		Priority: PriorityGeneric,
		Fn:       fn,
	})
}

// genericSymmetric4x2 is the fallback kernel for types whose accumulator is the input type.
// Its eight accumulators are kept in local variables, so the compiler can hold them in registers.
func genericSymmetric4x2[T dtypes.Number](k int, packedA, packedB []T, out []T, rowStride, colStride int, accumulate bool) {
	var c00, c01, c10, c11, c20, c21, c30, c31 T
	packedA = packedA[:4*k]
	packedB = packedB[:2*k]
	for p := range k {
		a := packedA[p*4 : p*4+4]
		b0, b1 := packedB[p*2], packedB[p*2+1]
		c00 += a[0] * b0
		c01 += a[0] * b1
		c10 += a[1] * b0
		c11 += a[1] * b1
		c20 += a[2] * b0
		c21 += a[2] * b1
		c30 += a[3] * b0
		c31 += a[3] * b1
	}
	store4x2(out, rowStride, colStride, accumulate, c00, c01, c10, c11, c20, c21, c30, c31)
}

// genericWidening4x2 multiplies 8-bit quantized values accumulating in int32.
// Products and sums wrap around on overflow.
func genericWidening4x2[T dtypes.Quantized](k int, packedA, packedB []T, out []int32, rowStride, colStride int, accumulate bool) {
	var c00, c01, c10, c11, c20, c21, c30, c31 int32
	packedA = packedA[:4*k]
	packedB = packedB[:2*k]
	for p := range k {
		a := packedA[p*4 : p*4+4]
		a0, a1, a2, a3 := int32(a[0]), int32(a[1]), int32(a[2]), int32(a[3])
		b0, b1 := int32(packedB[p*2]), int32(packedB[p*2+1])
		c00 += a0 * b0
		c01 += a0 * b1
		c10 += a1 * b0
		c11 += a1 * b1
		c20 += a2 * b0
		c21 += a2 * b1
		c30 += a3 * b0
		c31 += a3 * b1
	}
	store4x2(out, rowStride, colStride, accumulate, c00, c01, c10, c11, c20, c21, c30, c31)
}

func store4x2[T dtypes.Number](out []T, rowStride, colStride int, accumulate bool, c00, c01, c10, c11, c20, c21, c30, c31 T) {
	r0, r1, r2, r3 := 0, rowStride, 2*rowStride, 3*rowStride
	if accumulate {
		out[r0] += c00
		out[r0+colStride] += c01
		out[r1] += c10
		out[r1+colStride] += c11
		out[r2] += c20
		out[r2+colStride] += c21
		out[r3] += c30
		out[r3+colStride] += c31
		return
	}
	out[r0] = c00
	out[r0+colStride] = c01
	out[r1] = c10
	out[r1+colStride] = c11
	out[r2] = c20
	out[r2+colStride] = c21
	out[r3] = c30
	out[r3+colStride] = c31
}

func genericFloat16(k int, packedA, packedB []float16.Float16, out []float16.Float16, rowStride, colStride int, accumulate bool) {
	genericHalf4x2(k, packedA, packedB, out, rowStride, colStride, accumulate, float16.Float16.Float32, float16.Fromfloat32)
}

func genericBFloat16(k int, packedA, packedB []bfloat16.BFloat16, out []bfloat16.BFloat16, rowStride, colStride int, accumulate bool) {
	genericHalf4x2(k, packedA, packedB, out, rowStride, colStride, accumulate, bfloat16.BFloat16.Float32, bfloat16.FromFloat32)
}

// genericHalf4x2 accumulates half-precision inputs in float32, and rounds once when storing.
// When accumulating, the previous output value is added in float32 before rounding.
func genericHalf4x2[T dtypes.HalfPrecision](k int, packedA, packedB []T, out []T, rowStride, colStride int, accumulate bool,
	toFloat32 func(T) float32, fromFloat32 func(float32) T) {
	var c [4][2]float32
	packedA = packedA[:4*k]
	packedB = packedB[:2*k]
	for p := range k {
		a := packedA[p*4 : p*4+4]
		b0, b1 := toFloat32(packedB[p*2]), toFloat32(packedB[p*2+1])
		for r := range 4 {
			ar := toFloat32(a[r])
			c[r][0] += ar * b0
			c[r][1] += ar * b1
		}
	}
	for r := range 4 {
		for col := range 2 {
			idx := r*rowStride + col*colStride
			v := c[r][col]
			if accumulate {
				v += toFloat32(out[idx])
			}
			out[idx] = fromFloat32(v)
		}
	}
}
