// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package views

import (
	"testing"

	"github.com/gomlx/packmm/pkg/support/xslices"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// materialize returns the elements of m in row-major order.
func materialize[T float32 | int8](m Matrix[T]) [][]T {
	rows, cols := m.Shape()
	result := make([][]T, rows)
	for r := range rows {
		result[r] = make([]T, cols)
		for c := range cols {
			result[r][c] = m.At(r, c)
		}
	}
	return result
}

func TestStrided(t *testing.T) {
	data := xslices.Iota(float32(0), 12)
	m, err := RowMajor(data, 3, 4)
	require.NoError(t, err)
	rows, cols := m.Shape()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 4, cols)
	assert.Equal(t, float32(6), m.At(1, 2))
	assert.Panics(t, func() { m.At(3, 0) })
	assert.Panics(t, func() { m.At(0, -1) })

	mt := m.Transpose()
	assert.Equal(t, [][]float32{{0, 4, 8}, {1, 5, 9}, {2, 6, 10}, {3, 7, 11}}, materialize[float32](mt))

	cm, err := ColMajor(data, 4, 3)
	require.NoError(t, err)
	if diff := cmp.Diff(materialize[float32](mt), materialize[float32](cm)); diff != "" {
		t.Errorf("column-major view differs from transposed view (-transposed +colMajor):\n%s", diff)
	}

	sub := m.Sub(1, 1, 2, 2)
	assert.Equal(t, [][]float32{{5, 6}, {9, 10}}, materialize[float32](sub))
	assert.Equal(t, 5, sub.Offset())
	assert.Panics(t, func() { m.Sub(2, 0, 2, 1) })

	// Offset and strides padding rows to 5 elements.
	padded, err := NewStrided(data, 1, 2, 3, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2, 3}, {6, 7, 8}}, materialize[float32](padded))

	_, err = NewStrided(data, 1, 3, 4, 4, 1)
	require.Error(t, err, "last element is out of data")
	_, err = NewStrided(data, 0, 2, 2, -1, 1)
	require.Error(t, err)
	empty, err := NewStrided(data[:0], 0, 0, 5, 5, 1)
	require.NoError(t, err)
	rows, _ = empty.Shape()
	assert.Equal(t, 0, rows)
}

func TestTensorCheck(t *testing.T) {
	data := xslices.Iota(float32(0), 24)
	tensor := NewTensor(data, 2, 3, 4)
	assert.Equal(t, []int{12, 4, 1}, tensor.Strides)
	assert.Equal(t, 24, tensor.Size())
	require.NoError(t, tensor.Check())
	require.Error(t, NewTensor(data, 2, 3, 5).Check())
	require.Error(t, tensor.WithStrides(12, 4).Check())
	require.NoError(t, tensor.WithStrides(1, 2, 6).Check())

	// Empty tensors address nothing, but their strides are still checked.
	empty := NewTensor([]float32{}, 0, 2, 4)
	require.NoError(t, empty.Check())
	require.Error(t, empty.WithStrides(8, -4, 1).Check())
	require.Error(t, NewTensor([]float32{}, 0, -1).Check())
}

func TestIm2ColEmptySource(t *testing.T) {
	geom := ConvGeometry{KernelSpatial: []int{2}}
	_, err := NewIm2Col(NewTensor([]float32{}, 0, 2, 4), geom)
	require.Error(t, err)

	_, err = NewIm2Col(NewTensor([]float32{}, 1, 0, 4), geom)
	require.Error(t, err)
	_, err = NewIm2Col(NewTensor([]float32{}, 1, 2, 0), geom)
	require.Error(t, err)

	// A single image is enough, and every element it exposes is within the source.
	src := NewTensor(xslices.Iota(float32(1), 8), 1, 2, 4)
	m, err := NewIm2Col(src, geom)
	require.NoError(t, err)
	rows, cols := m.Shape()
	for row := range rows {
		for col := range cols {
			offset, ok := m.SourceOffset(row, col)
			require.True(t, ok)
			require.Less(t, offset, len(m.Data()))
		}
	}
}

func TestOutputSpatial(t *testing.T) {
	testCases := []struct {
		geom ConvGeometry
		want []int
	}{
		{ConvGeometry{InputSpatial: []int{5}, KernelSpatial: []int{3}}, []int{3}},
		{ConvGeometry{InputSpatial: []int{5}, KernelSpatial: []int{3}, Paddings: [][2]int{{1, 1}}}, []int{5}},
		{ConvGeometry{InputSpatial: []int{7, 6}, KernelSpatial: []int{3, 2}, Strides: []int{2, 3}}, []int{3, 2}},
		{ConvGeometry{InputSpatial: []int{7}, KernelSpatial: []int{3}, Dilations: []int{3}}, []int{1}},
		{ConvGeometry{InputSpatial: []int{4, 4, 4}, KernelSpatial: []int{1, 1, 1}}, []int{4, 4, 4}},
	}
	for _, tc := range testCases {
		got, err := tc.geom.OutputSpatial()
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "geometry %+v", tc.geom)
	}

	for _, bad := range []ConvGeometry{
		{},
		{InputSpatial: []int{2}, KernelSpatial: []int{3}},
		{InputSpatial: []int{7}, KernelSpatial: []int{3}, Dilations: []int{4}},
		{InputSpatial: []int{5}, KernelSpatial: []int{3}, Strides: []int{0}},
		{InputSpatial: []int{5, 5}, KernelSpatial: []int{3}},
		{InputSpatial: []int{5}, KernelSpatial: []int{3}, Paddings: [][2]int{{-1, 0}}},
	} {
		_, err := bad.OutputSpatial()
		assert.Error(t, err, "geometry %+v", bad)
	}
	assert.Error(t, ConvGeometry{InputSpatial: []int{5}, KernelSpatial: []int{3}, Groups: 2}.Validate(3))
	assert.NoError(t, ConvGeometry{InputSpatial: []int{5}, KernelSpatial: []int{3}, Groups: 3}.Validate(3))
}

func TestIm2Col1D(t *testing.T) {
	// One image, one channel, input [1, 2, 3, 4, 5], kernel 3, padding 1, stride 2: outputs at -1, 1, 3.
	src := NewTensor([]float32{1, 2, 3, 4, 5}, 1, 1, 5)
	m, err := NewIm2Col(src, ConvGeometry{KernelSpatial: []int{3}, Strides: []int{2}, Paddings: [][2]int{{1, 1}}})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, m.OutputSpatial())
	want := [][]float32{
		{0, 2, 4},
		{1, 3, 5},
		{2, 4, 0},
	}
	assert.Equal(t, want, materialize[float32](m))
	_, ok := m.SourceOffset(0, 0)
	assert.False(t, ok)
	offset, ok := m.SourceOffset(1, 2)
	assert.True(t, ok)
	assert.Equal(t, 4, offset)
	assert.Panics(t, func() { m.At(3, 0) })
}

func TestIm2Col2DGroupsAndBatch(t *testing.T) {
	// [batch=2, channels=4, 3, 3], values encode their position: 1000*b + 100*c + 10*y + x.
	const batch, channels, h, w = 2, 4, 3, 3
	data := make([]float32, batch*channels*h*w)
	for b := range batch {
		for c := range channels {
			for y := range h {
				for x := range w {
					data[((b*channels+c)*h+y)*w+x] = float32(1000*b + 100*c + 10*y + x)
				}
			}
		}
	}
	src := NewTensor(data, batch, channels, h, w)
	geom := ConvGeometry{KernelSpatial: []int{2, 2}, Groups: 2}
	m, err := NewIm2Col(src, geom)
	require.NoError(t, err)
	rows, cols := m.Shape()
	assert.Equal(t, channels*4, rows)
	assert.Equal(t, 4, cols)
	assert.Equal(t, 2, m.NumBatches())
	assert.Equal(t, 4, m.KernelVolume())

	// Row (c=1, ky=1, kx=0) at output (oy=0, ox=1) reads input (c=1, y=1, x=1).
	assert.Equal(t, float32(111), m.At(1*4+2, 1))

	// Group 1 starts at channel 2; image 1 adds 1000.
	g1 := m.ForBatch(1).ForGroup(1)
	rows, _ = g1.Shape()
	assert.Equal(t, 2*4, rows)
	assert.Equal(t, float32(1000+200+10+1), g1.At(0*4+3, 0))
	assert.Equal(t, float32(1000+300+10+2), g1.At(1*4+3, 1))
	assert.Panics(t, func() { g1.ForGroup(0) })
	assert.Panics(t, func() { m.ForGroup(2) })
	assert.Panics(t, func() { m.ForBatch(2) })

	// The restricted view is the same as the corresponding block of rows of the full view.
	full := materialize[float32](m.ForBatch(1))
	assert.Equal(t, full[8:], materialize[float32](g1))
}

func TestIm2ColChannelsLast(t *testing.T) {
	// The same image in NCHW and NHWC layouts gives the same im2col matrix.
	const channels, h, w = 3, 4, 5
	nchw := make([]int8, channels*h*w)
	nhwc := make([]int8, channels*h*w)
	for c := range channels {
		for y := range h {
			for x := range w {
				v := int8(c*20 + y*5 + x)
				nchw[(c*h+y)*w+x] = v
				nhwc[(y*w+x)*channels+c] = v
			}
		}
	}
	geom := ConvGeometry{
		KernelSpatial: []int{3, 2},
		Strides:       []int{1, 2},
		Dilations:     []int{2, 1},
		Paddings:      [][2]int{{2, 1}, {0, 1}},
	}
	first, err := NewIm2Col(NewTensor(nchw, 1, channels, h, w), geom)
	require.NoError(t, err)
	geom.Layout = ChannelsLast
	last, err := NewIm2Col(NewTensor(nhwc, 1, h, w, channels), geom)
	require.NoError(t, err)
	if diff := cmp.Diff(materialize[int8](first), materialize[int8](last)); diff != "" {
		t.Errorf("im2col of NCHW and NHWC differ (-nchw +nhwc):\n%s", diff)
	}

	// A transposed-strides view of the NCHW data, presented as NHWC, also matches.
	strided := Tensor[int8]{Data: nchw, Dims: []int{1, h, w, channels}, Strides: []int{channels * h * w, w, 1, h * w}}
	view, err := NewIm2Col(strided, geom)
	require.NoError(t, err)
	assert.Equal(t, materialize[int8](first), materialize[int8](view))

	_, err = NewIm2Col(NewTensor(nchw, channels, h*w), geom)
	assert.Error(t, err, "rank 2 source")
	geom.InputSpatial = []int{4, 4}
	_, err = NewIm2Col(NewTensor(nhwc, 1, h, w, channels), geom)
	assert.Error(t, err, "mismatched spatial dims")
}

func TestTranspose(t *testing.T) {
	data := xslices.Iota(float32(0), 6)
	m, err := RowMajor(data, 2, 3)
	require.NoError(t, err)
	st, ok := Transpose[float32](m).(*Strided[float32])
	require.True(t, ok, "transposing a strided view keeps it strided")
	assert.Equal(t, [][]float32{{0, 3}, {1, 4}, {2, 5}}, materialize[float32](st))

	src := NewTensor([]float32{1, 2, 3, 4, 5}, 1, 1, 5)
	im, err := NewIm2Col(src, ConvGeometry{KernelSpatial: []int{3}, Strides: []int{2}, Paddings: [][2]int{{1, 1}}})
	require.NoError(t, err)
	imt := Transpose[float32](im)
	rows, cols := imt.Shape()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 3, cols)
	assert.Equal(t, [][]float32{{0, 1, 2}, {2, 3, 4}, {4, 5, 0}}, materialize[float32](imt))
	wrapped, ok := imt.(*Transposed[float32])
	require.True(t, ok)
	assert.Same(t, im, wrapped.Matrix())
	assert.Same(t, im, Transpose[float32](imt), "transposing twice returns the original")
}
