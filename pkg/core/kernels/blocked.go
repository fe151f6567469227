// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/packmm/pkg/core/dtypes"
	"github.com/gomlx/packmm/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Register-blocked kernel bodies.
//
// Each concrete tile function declares its accumulator block as a fixed size array, so it lives
// in the stack, and passes it to the shared loops below. Tiles are sized so that the block fits
// in the vector register file of the CPU features that gate them (e.g. 16x16 float32 = 16 zmm
// registers for AVX512), but the loops are plain Go: any vectorization is the compiler's.
// Explicit SIMD kernels are in the github.com/gomlx/packmm/highway module.

// blockedSymmetric computes acc[mr][nr] += A×B over k, and stores the block to out.
// acc must be zeroed and hold mr*nr values.
func blockedSymmetric[T dtypes.Number](mr, nr, k int, packedA, packedB, acc, out []T, rowStride, colStride int, accumulate bool) {
	packedA = packedA[:mr*k]
	packedB = packedB[:nr*k]
	for p := range k {
		a := packedA[p*mr : (p+1)*mr]
		b := packedB[p*nr : (p+1)*nr]
		for r, av := range a {
			row := acc[r*nr : (r+1)*nr]
			for c, bv := range b {
				row[c] += av * bv
			}
		}
	}
	storeBlock(mr, nr, acc, out, rowStride, colStride, accumulate)
}

// blockedWidening is blockedSymmetric for 8-bit quantized inputs accumulating in int32.
func blockedWidening[T dtypes.Quantized](mr, nr, k int, packedA, packedB []T, acc, out []int32, rowStride, colStride int, accumulate bool) {
	packedA = packedA[:mr*k]
	packedB = packedB[:nr*k]
	for p := range k {
		a := packedA[p*mr : (p+1)*mr]
		b := packedB[p*nr : (p+1)*nr]
		for r, av := range a {
			row := acc[r*nr : (r+1)*nr]
			av32 := int32(av)
			for c, bv := range b {
				row[c] += av32 * int32(bv)
			}
		}
	}
	storeBlock(mr, nr, acc, out, rowStride, colStride, accumulate)
}

// blockedDot4 is the dot-product (VNNI/SDOT) flavor of blockedWidening: it reduces groups of 4
// consecutive contracting indices into one int32 before adding to the accumulator.
// Integer arithmetic wraps, so the grouping doesn't change the result.
func blockedDot4[T dtypes.Quantized](mr, nr, k int, packedA, packedB []T, acc, out []int32, rowStride, colStride int, accumulate bool) {
	packedA = packedA[:mr*k]
	packedB = packedB[:nr*k]
	p := 0
	for ; p+4 <= k; p += 4 {
		a0 := packedA[p*mr : (p+1)*mr]
		a1 := packedA[(p+1)*mr : (p+2)*mr]
		a2 := packedA[(p+2)*mr : (p+3)*mr]
		a3 := packedA[(p+3)*mr : (p+4)*mr]
		b0 := packedB[p*nr : (p+1)*nr]
		b1 := packedB[(p+1)*nr : (p+2)*nr]
		b2 := packedB[(p+2)*nr : (p+3)*nr]
		b3 := packedB[(p+3)*nr : (p+4)*nr]
		for r := range mr {
			row := acc[r*nr : (r+1)*nr]
			ar0, ar1, ar2, ar3 := int32(a0[r]), int32(a1[r]), int32(a2[r]), int32(a3[r])
			for c := range row {
				row[c] += ar0*int32(b0[c]) + ar1*int32(b1[c]) + ar2*int32(b2[c]) + ar3*int32(b3[c])
			}
		}
	}
	for ; p < k; p++ {
		a := packedA[p*mr : (p+1)*mr]
		b := packedB[p*nr : (p+1)*nr]
		for r, av := range a {
			row := acc[r*nr : (r+1)*nr]
			av32 := int32(av)
			for c, bv := range b {
				row[c] += av32 * int32(bv)
			}
		}
	}
	storeBlock(mr, nr, acc, out, rowStride, colStride, accumulate)
}

// blockedHalf accumulates half-precision inputs in float32 and rounds once on store.
func blockedHalf[T dtypes.HalfPrecision](mr, nr, k int, packedA, packedB []T, acc []float32, out []T, rowStride, colStride int, accumulate bool,
	toFloat32 func(T) float32, fromFloat32 func(float32) T) {
	packedA = packedA[:mr*k]
	packedB = packedB[:nr*k]
	for p := range k {
		a := packedA[p*mr : (p+1)*mr]
		b := packedB[p*nr : (p+1)*nr]
		for r, av := range a {
			row := acc[r*nr : (r+1)*nr]
			av32 := toFloat32(av)
			for c, bv := range b {
				row[c] += av32 * toFloat32(bv)
			}
		}
	}
	for r := range mr {
		row := acc[r*nr : (r+1)*nr]
		for c, v := range row {
			idx := r*rowStride + c*colStride
			if accumulate {
				v += toFloat32(out[idx])
			}
			out[idx] = fromFloat32(v)
		}
	}
}

func storeBlock[T dtypes.Number](mr, nr int, acc, out []T, rowStride, colStride int, accumulate bool) {
	for r := range mr {
		row := acc[r*nr : (r+1)*nr]
		base := r * rowStride
		if colStride == 1 {
			dst := out[base : base+nr]
			if accumulate {
				for c, v := range row {
					dst[c] += v
				}
			} else {
				copy(dst, row)
			}
			continue
		}
		for c, v := range row {
			if accumulate {
				out[base+c*colStride] += v
			} else {
				out[base+c*colStride] = v
			}
		}
	}
}

// Concrete tiles.

func symmetric8x8[T dtypes.Number](k int, packedA, packedB, out []T, rowStride, colStride int, accumulate bool) {
	var acc [8 * 8]T
	blockedSymmetric(8, 8, k, packedA, packedB, acc[:], out, rowStride, colStride, accumulate)
}

func symmetric16x16[T dtypes.Number](k int, packedA, packedB, out []T, rowStride, colStride int, accumulate bool) {
	var acc [16 * 16]T
	blockedSymmetric(16, 16, k, packedA, packedB, acc[:], out, rowStride, colStride, accumulate)
}

func symmetric4x8[T dtypes.Number](k int, packedA, packedB, out []T, rowStride, colStride int, accumulate bool) {
	var acc [4 * 8]T
	blockedSymmetric(4, 8, k, packedA, packedB, acc[:], out, rowStride, colStride, accumulate)
}

func symmetric8x16[T dtypes.Number](k int, packedA, packedB, out []T, rowStride, colStride int, accumulate bool) {
	var acc [8 * 16]T
	blockedSymmetric(8, 16, k, packedA, packedB, acc[:], out, rowStride, colStride, accumulate)
}

func widening8x8[T dtypes.Quantized](k int, packedA, packedB []T, out []int32, rowStride, colStride int, accumulate bool) {
	var acc [8 * 8]int32
	blockedWidening(8, 8, k, packedA, packedB, acc[:], out, rowStride, colStride, accumulate)
}

func dot4Tile8x8[T dtypes.Quantized](k int, packedA, packedB []T, out []int32, rowStride, colStride int, accumulate bool) {
	var acc [8 * 8]int32
	blockedDot4(8, 8, k, packedA, packedB, acc[:], out, rowStride, colStride, accumulate)
}

func dot4Tile16x16[T dtypes.Quantized](k int, packedA, packedB []T, out []int32, rowStride, colStride int, accumulate bool) {
	var acc [16 * 16]int32
	blockedDot4(16, 16, k, packedA, packedB, acc[:], out, rowStride, colStride, accumulate)
}

func float16Tile8x8(k int, packedA, packedB, out []float16.Float16, rowStride, colStride int, accumulate bool) {
	var acc [8 * 8]float32
	blockedHalf(8, 8, k, packedA, packedB, acc[:], out, rowStride, colStride, accumulate,
		float16.Float16.Float32, float16.Fromfloat32)
}

func bfloat16Tile16x16(k int, packedA, packedB, out []bfloat16.BFloat16, rowStride, colStride int, accumulate bool) {
	var acc [16 * 16]float32
	blockedHalf(16, 16, k, packedA, packedB, acc[:], out, rowStride, colStride, accumulate,
		bfloat16.BFloat16.Float32, bfloat16.FromFloat32)
}
