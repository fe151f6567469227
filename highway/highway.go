// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package highway registers SIMD matmul micro-kernels built on go-highway.
// This package requires Go 1.26+ due to its dependency on go-highway.
//
// To enable the kernels, import this package for its side effects:
//
//	import _ "github.com/gomlx/packmm/highway"
//
// Kernels are registered for float32 and float64 with the CPU features of the go-highway dispatch
// level, and they rank above the portable kernels of the same vector width. Nothing is registered
// when go-highway runs without SIMD (e.g. with HWY_NO_SIMD set).
package highway

import (
	"github.com/ajroetker/go-highway/hwy"
	"github.com/ajroetker/go-highway/hwy/contrib/matmul"
	"github.com/gomlx/packmm/pkg/core/cpufeatures"
	"github.com/gomlx/packmm/pkg/core/kernels"
	"k8s.io/klog/v2"
)

// PriorityBonus is added to the priority of the vector width of the dispatch level.
const PriorityBonus = 50

// The go-highway packed micro-kernel computes 4 rows of 2 vectors each.
const tileRows = 4

// maxTile is the largest tile, in elements, the kernels support.
const maxTile = tileRows * 64

type float interface {
	float32 | float64
}

func init() {
	level := hwy.CurrentLevel()
	requires, priority, ok := levelFeatures(level)
	if !ok {
		klog.V(1).Infof("highway: no kernels for dispatch level %s", level)
		return
	}
	register[float32](requires, priority)
	register[float64](requires, priority)
}

// Name of the kernels registered for the current dispatch level, e.g. "highway-avx2".
func Name() string {
	return "highway-" + hwy.CurrentLevel().String()
}

// Tile returns the tile shape of the kernel for T at the current dispatch level.
func Tile[T float]() kernels.TileShape {
	return kernels.TileShape{MR: tileRows, NR: 2 * hwy.MaxLanes[T]()}
}

// levelFeatures maps a go-highway dispatch level to the CPU features it uses and the kernel priority.
// It returns false for levels without vector kernels.
func levelFeatures(level hwy.DispatchLevel) (requires cpufeatures.Set, priority int, ok bool) {
	switch level {
	case hwy.DispatchAVX2:
		return cpufeatures.Of(cpufeatures.AVX2, cpufeatures.FMA), kernels.Priority256 + PriorityBonus, true
	case hwy.DispatchAVX512:
		return cpufeatures.Of(cpufeatures.AVX512F), kernels.Priority512 + PriorityBonus, true
	case hwy.DispatchNEON, hwy.DispatchSME:
		return cpufeatures.Of(cpufeatures.ASIMD), kernels.Priority128 + PriorityBonus, true
	case hwy.DispatchSVE:
		return cpufeatures.Of(cpufeatures.SVE), kernels.Priority128 + PriorityBonus, true
	default:
		return 0, 0, false
	}
}

func register[T float](requires cpufeatures.Set, priority int) {
	tile := Tile[T]()
	if tile.Area() > maxTile {
		klog.Warningf("highway: tile %s for %s at level %s is too large, not registered",
			tile, kernels.PairOf[T, T](), hwy.CurrentLevel())
		return
	}
	kernels.Register(kernels.Descriptor{
		Name:     Name(),
		DTypes:   kernels.PairOf[T, T](),
		Tile:     tile,
		Requires: requires,
		Priority: priority,
		Fn:       kernels.KernelFn[T, T](newKernel[T](tile.NR)),
	})
}

// newKernel adapts matmul.PackedMicroKernel, which adds into a row-major output, to the kernels.KernelFn
// contract. Packed panels have the same [k][MR] and [k][NR] layout in both.
func newKernel[T float](nr int) func(k int, packedA, packedB, out []T, rowStride, colStride int, accumulate bool) {
	return func(k int, packedA, packedB, out []T, rowStride, colStride int, accumulate bool) {
		if colStride == 1 && rowStride >= nr {
			if !accumulate {
				for r := range tileRows {
					clear(out[r*rowStride : r*rowStride+nr])
				}
			}
			matmul.PackedMicroKernel(packedA, packedB, out, rowStride, 0, 0, k, tileRows, nr)
			return
		}

		// Strided output: compute a row-major block and scatter it.
		var block [maxTile]T
		tile := block[:tileRows*nr]
		matmul.PackedMicroKernel(packedA, packedB, tile, nr, 0, 0, k, tileRows, nr)
		for r := range tileRows {
			base := r * rowStride
			for c, v := range tile[r*nr : (r+1)*nr] {
				if accumulate {
					out[base+c*colStride] += v
				} else {
					out[base+c*colStride] = v
				}
			}
		}
	}
}
