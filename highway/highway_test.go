// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package highway

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/ajroetker/go-highway/hwy"
	"github.com/gomlx/packmm/internal/reference"
	"github.com/gomlx/packmm/pkg/core/cpufeatures"
	"github.com/gomlx/packmm/pkg/core/kernels"
	"github.com/gomlx/packmm/pkg/core/matmul"
	"github.com/gomlx/packmm/pkg/core/packing"
	"github.com/gomlx/packmm/pkg/core/views"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutKernels(t *testing.T) {
	if _, _, ok := levelFeatures(hwy.CurrentLevel()); !ok {
		t.Skipf("no highway kernels at dispatch level %s", hwy.CurrentLevel())
	}
}

func TestLevelFeatures(t *testing.T) {
	for _, level := range []hwy.DispatchLevel{hwy.DispatchScalar, hwy.DispatchSSE2} {
		_, _, ok := levelFeatures(level)
		assert.False(t, ok, "level %s", level)
	}
	requires, priority, ok := levelFeatures(hwy.DispatchAVX2)
	require.True(t, ok)
	assert.Equal(t, cpufeatures.Of(cpufeatures.AVX2, cpufeatures.FMA), requires)
	assert.Greater(t, priority, kernels.Priority256)
	assert.Less(t, priority, kernels.Priority512)
	requires, priority, ok = levelFeatures(hwy.DispatchAVX512)
	require.True(t, ok)
	assert.Equal(t, cpufeatures.Of(cpufeatures.AVX512F), requires)
	assert.Greater(t, priority, kernels.Priority512)
	requires, _, ok = levelFeatures(hwy.DispatchNEON)
	require.True(t, ok)
	assert.Equal(t, cpufeatures.Of(cpufeatures.ASIMD), requires)
}

func TestRegistration(t *testing.T) {
	skipWithoutKernels(t)
	requires, _, _ := levelFeatures(hwy.CurrentLevel())
	for _, pair := range []kernels.DTypePair{kernels.PairOf[float32, float32](), kernels.PairOf[float64, float64]()} {
		desc, found := kernels.Lookup(pair, Name())
		require.True(t, found, "%s kernel for %s", Name(), pair)
		assert.Equal(t, tileRows, desc.Tile.MR)
		assert.Equal(t, requires, desc.Requires)
		if requires.IsSubsetOf(cpufeatures.Detect()) {
			selected, err := kernels.Select(pair, cpufeatures.Detect())
			require.NoError(t, err)
			assert.Equal(t, Name(), selected.Name, "highway kernels rank above the portable ones")
		}
	}
	assert.Equal(t, kernels.TileShape{MR: 4, NR: 2 * hwy.MaxLanes[float32]()}, Tile[float32]())
}

// randomInts returns values that are small integers, so products are exact.
func randomInts[T float](rng *rand.Rand, n int) []T {
	values := make([]T, n)
	for i := range values {
		values[i] = T(rng.IntN(9) - 4)
	}
	return values
}

func TestKernelStridedOutput(t *testing.T) {
	skipWithoutKernels(t)
	tile := Tile[float32]()
	const k = 13
	rng := rand.New(rand.NewPCG(4, 2))
	a, err := views.RowMajor(randomInts[float32](rng, tile.MR*k), tile.MR, k)
	require.NoError(t, err)
	b, err := views.RowMajor(randomInts[float32](rng, k*tile.NR), k, tile.NR)
	require.NoError(t, err)
	packedA := packing.PackPanel[float32](a, packing.SideA, 0, tile.MR, 0, k, tile.MR)
	packedB := packing.PackPanel[float32](b, packing.SideB, 0, tile.NR, 0, k, tile.NR)
	want := reference.MatMul[float32](a, b)

	fn := newKernel[float32](tile.NR)
	layouts := []struct{ rowStride, colStride int }{
		{tile.NR, 1},     // Row-major.
		{tile.NR + 3, 1}, // Row-major with padding.
		{1, tile.MR},     // Column-major.
		{2 * tile.NR, 2}, // Every other column.
	}
	for _, l := range layouts {
		for _, accumulate := range []bool{false, true} {
			out := make([]float32, tile.MR*l.rowStride+tile.NR*l.colStride)
			for i := range out {
				out[i] = 1
			}
			fn(k, packedA, packedB, out, l.rowStride, l.colStride, accumulate)
			for r := range tile.MR {
				for c := range tile.NR {
					expected := want[r*tile.NR+c]
					if accumulate {
						expected++
					}
					require.Equalf(t, expected, float64(out[r*l.rowStride+c*l.colStride]),
						"out[%d, %d], strides=(%d, %d), accumulate=%v", r, c, l.rowStride, l.colStride, accumulate)
				}
			}
		}
	}
}

func checkMatMul[T float](t *testing.T, e *matmul.Engine, m, n, k int, colMajorOutput, accumulate bool) {
	rng := rand.New(rand.NewPCG(uint64(m), uint64(n*k)))
	a, err := views.RowMajor(randomInts[T](rng, m*k), m, k)
	require.NoError(t, err)
	bt, err := views.RowMajor(randomInts[T](rng, n*k), n, k)
	require.NoError(t, err)
	b := bt.Transpose()
	out := matmul.RowMajorOutput(make([]T, m*n), n)
	if colMajorOutput {
		out.RowStride, out.ColStride = 1, m
	}
	for i := range out.Data {
		out.Data[i] = T(i % 3)
	}
	prior := append([]T(nil), out.Data...)
	require.NoError(t, matmul.MatMul(e, matmul.Job[T, T]{M: m, N: n, K: k, A: a, B: b, Output: out, Accumulate: accumulate}))
	want := reference.MatMul[T](a, b)
	for r := range m {
		for c := range n {
			idx := r*out.RowStride + c*out.ColStride
			expected := want[r*n+c]
			if accumulate {
				expected += float64(prior[idx])
			}
			require.Equalf(t, expected, float64(out.Data[idx]), "out[%d, %d] (M=%d, N=%d, K=%d)", r, c, m, n, k)
		}
	}
}

func TestMatMul(t *testing.T) {
	skipWithoutKernels(t)
	for _, parallelism := range []int{0, 4} {
		e, err := matmul.New(fmt.Sprintf("kernel=%s,parallelism=%d", Name(), parallelism))
		require.NoError(t, err)
		desc, err := e.Kernel(kernels.PairOf[float32, float32]())
		require.NoError(t, err)
		require.Equal(t, Name(), desc.Name)
		for _, shape := range [][3]int{{4, 16, 3}, {37, 29, 41}, {64, 70, 9}, {5, 3, 4}} {
			for _, colMajor := range []bool{false, true} {
				for _, accumulate := range []bool{false, true} {
					checkMatMul[float32](t, e, shape[0], shape[1], shape[2], colMajor, accumulate)
					checkMatMul[float64](t, e, shape[0], shape[1], shape[2], colMajor, accumulate)
				}
			}
		}
	}
}
