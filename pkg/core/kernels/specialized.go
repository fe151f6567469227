// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/packmm/pkg/core/cpufeatures"
	"github.com/gomlx/packmm/pkg/core/dtypes"
	"github.com/gomlx/packmm/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Specialized kernels are registered on every architecture: their Requires set keeps Select
// from choosing them on CPUs without the features, but they can still be forced with Lookup.
// Their bodies are the portable blocked loops, only the tile shapes follow the features.
func init() {
	var (
		avx2FMA  = cpufeatures.Of(cpufeatures.AVX2, cpufeatures.FMA)
		avx2     = cpufeatures.Of(cpufeatures.AVX2)
		avx512   = cpufeatures.Of(cpufeatures.AVX512F)
		vnni     = cpufeatures.Of(cpufeatures.AVX512F, cpufeatures.AVX512VNNI)
		avx512BF = cpufeatures.Of(cpufeatures.AVX512F, cpufeatures.AVX512BF16)
		neon     = cpufeatures.Of(cpufeatures.ASIMD)
		dotProd  = cpufeatures.Of(cpufeatures.ASIMD, cpufeatures.ASIMDDP)
		neonFP16 = cpufeatures.Of(cpufeatures.ASIMD, cpufeatures.ASIMDHP)
	)

	// Float32: 256-bit registers hold 8 lanes, 512-bit hold 16, NEON holds 4 (tiles use 2 registers per row).
	register[float32, float32]("avx2-fma", TileShape{8, 8}, avx2FMA, Priority256, symmetric8x8[float32])
	register[float32, float32]("avx512", TileShape{16, 16}, avx512, Priority512, symmetric16x16[float32])
	register[float32, float32]("neon", TileShape{8, 8}, neon, Priority128, symmetric8x8[float32])

	// Float64: half the lanes per register.
	register[float64, float64]("avx2-fma", TileShape{4, 8}, avx2FMA, Priority256, symmetric4x8[float64])
	register[float64, float64]("avx512", TileShape{8, 16}, avx512, Priority512, symmetric8x16[float64])
	register[float64, float64]("neon", TileShape{4, 8}, neon, Priority128, symmetric4x8[float64])

	// Quantized 8-bit inputs, int32 accumulation.
	register[int8, int32]("avx2", TileShape{8, 8}, avx2, Priority256, widening8x8[int8])
	register[int8, int32]("avx512-vnni", TileShape{16, 16}, vnni, Priority512+PriorityDotProductBonus, dot4Tile16x16[int8])
	register[int8, int32]("neon-dotprod", TileShape{8, 8}, dotProd, Priority128+PriorityDotProductBonus, dot4Tile8x8[int8])
	register[uint8, int32]("avx2", TileShape{8, 8}, avx2, Priority256, widening8x8[uint8])
	register[uint8, int32]("avx512-vnni", TileShape{16, 16}, vnni, Priority512+PriorityDotProductBonus, dot4Tile16x16[uint8])
	register[uint8, int32]("neon-dotprod", TileShape{8, 8}, dotProd, Priority128+PriorityDotProductBonus, dot4Tile8x8[uint8])

	// Half precision, float32 accumulation.
	register[float16.Float16, float16.Float16]("neon-fp16", TileShape{8, 8}, neonFP16, Priority128, float16Tile8x8)
	register[bfloat16.BFloat16, bfloat16.BFloat16]("avx512-bf16", TileShape{16, 16}, avx512BF, Priority512, bfloat16Tile16x16)
}

func register[In, Out dtypes.Supported](name string, tile TileShape, requires cpufeatures.Set, priority int, fn KernelFn[In, Out]) {
	Register(Descriptor{
		Name:     name,
		DTypes:   PairOf[In, Out](),
		Tile:     tile,
		Requires: requires,
		Priority: priority,
		Fn:       fn,
	})
}
