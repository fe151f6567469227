// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package views

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/packmm/pkg/core/dtypes"
	"github.com/gomlx/packmm/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Im2Col is the virtual im2col matrix of one image of a convolution input.
//
// Rows enumerate (channel, kernel position) pairs: row = channel*kernelVolume + kernelOffset,
// where channel = group*channelsPerGroup + c and kernelOffset is the row-major index over the
// kernel spatial axes. This matches the order of the flattened [Cout, Cin/groups, kernel...]
// weights of a group. Columns enumerate output spatial positions, row-major over the output axes.
//
// Element (row, col) is the input value the kernel position touches at that output position, or
// zero if it falls in the padding.
type Im2Col[T dtypes.Supported] struct {
	src  Tensor[T]
	geom ConvGeometry

	channels, channelsPerGroup int
	numBatches                 int
	outputSpatial              []int
	kernelVolume, outputVolume int

	// Strides of the source tensor, in elements.
	batchStride, channelStride int
	spatialStrides             []int

	// batch is the selected image; group is the selected channel group, or -1 for all groups.
	batch, group int
}

// Compile time check that Im2Col implements Matrix.
var _ Matrix[float32] = (*Im2Col[float32])(nil)

// NewIm2Col creates the im2col view of src, for its first image (see ForBatch).
//
// The source tensor must have shape [batch, channels, spatial...] for ChannelsFirst layout or
// [batch, spatial..., channels] for ChannelsLast, with batch >= 1, and its strides are honored.
// If geom.InputSpatial is nil, it is taken from src.
func NewIm2Col[T dtypes.Supported](src Tensor[T], geom ConvGeometry) (*Im2Col[T], error) {
	if err := src.Check(); err != nil {
		return nil, errors.WithMessage(err, "views.NewIm2Col")
	}
	rank := src.Rank() - 2
	if rank < 1 {
		return nil, errors.Errorf("views.NewIm2Col: source tensor must have rank >= 3, got dims %v", src.Dims)
	}
	if src.Dims[0] == 0 {
		return nil, errors.Errorf("views.NewIm2Col: source tensor with dims %v has no images", src.Dims)
	}
	channelAxis := 1
	spatialStart := 2
	if geom.Layout == ChannelsLast {
		channelAxis = rank + 1
		spatialStart = 1
	}
	srcSpatial := src.Dims[spatialStart : spatialStart+rank]
	if geom.InputSpatial == nil {
		geom.InputSpatial = srcSpatial
	}
	if !slices.Equal(geom.InputSpatial, srcSpatial) {
		return nil, errors.Errorf("views.NewIm2Col: geometry input spatial dims %v don't match source dims %v (layout %s)",
			geom.InputSpatial, src.Dims, geom.Layout)
	}
	geom = geom.normalized()
	channels := src.Dims[channelAxis]
	outputSpatial, err := geom.validated(channels)
	if err != nil {
		return nil, errors.WithMessagef(err, "views.NewIm2Col(dims=%v)", src.Dims)
	}
	return &Im2Col[T]{
		src:              src,
		geom:             geom,
		channels:         channels,
		channelsPerGroup: channels / geom.Groups,
		numBatches:       src.Dims[0],
		outputSpatial:    outputSpatial,
		kernelVolume:     xslices.Product(geom.KernelSpatial),
		outputVolume:     xslices.Product(outputSpatial),
		batchStride:      src.Strides[0],
		channelStride:    src.Strides[channelAxis],
		spatialStrides:   slices.Clone(src.Strides[spatialStart : spatialStart+rank]),
		group:            -1,
	}, nil
}

func (m *Im2Col[T]) isMatrix() {}

// Shape implements Matrix.
func (m *Im2Col[T]) Shape() (rows, cols int) {
	if m.group >= 0 {
		return m.channelsPerGroup * m.kernelVolume, m.outputVolume
	}
	return m.channels * m.kernelVolume, m.outputVolume
}

// Geometry returns the normalized convolution geometry.
func (m *Im2Col[T]) Geometry() ConvGeometry { return m.geom }

// OutputSpatial returns the output spatial dimensions.
func (m *Im2Col[T]) OutputSpatial() []int { return slices.Clone(m.outputSpatial) }

// NumBatches returns the number of images in the source tensor.
func (m *Im2Col[T]) NumBatches() int { return m.numBatches }

// KernelVolume returns the number of positions of the kernel window.
func (m *Im2Col[T]) KernelVolume() int { return m.kernelVolume }

// ForBatch returns the view of image b.
func (m *Im2Col[T]) ForBatch(b int) *Im2Col[T] {
	if b < 0 || b >= m.numBatches {
		exceptions.Panicf("views.Im2Col.ForBatch(%d) out of range for %d images", b, m.numBatches)
	}
	view := *m
	view.batch = b
	return &view
}

// ForGroup returns the view restricted to the rows of channel group g.
// It panics if g is out of range, or if the view is already restricted to a group.
func (m *Im2Col[T]) ForGroup(g int) *Im2Col[T] {
	if m.group >= 0 {
		exceptions.Panicf("views.Im2Col.ForGroup(%d) called on view already restricted to group %d", g, m.group)
	}
	if g < 0 || g >= m.geom.Groups {
		exceptions.Panicf("views.Im2Col.ForGroup(%d) out of range for %d groups", g, m.geom.Groups)
	}
	view := *m
	view.group = g
	return &view
}

// SourceOffset returns the position in the source tensor data of element (row, col), and true,
// or false if the element falls in the padding. It panics if (row, col) is outside of Shape.
func (m *Im2Col[T]) SourceOffset(row, col int) (int, bool) {
	rows, cols := m.Shape()
	if row < 0 || row >= rows || col < 0 || col >= cols {
		exceptions.Panicf("views.Im2Col(%d, %d) out of bounds for shape [%d, %d]", row, col, rows, cols)
	}
	if m.group > 0 {
		row += m.group * m.channelsPerGroup * m.kernelVolume
	}
	channel, kernelOffset := row/m.kernelVolume, row%m.kernelVolume
	offset := m.batch*m.batchStride + channel*m.channelStride
	g := &m.geom
	for axis := len(m.outputSpatial) - 1; axis >= 0; axis-- {
		kernelDim, outputDim := g.KernelSpatial[axis], m.outputSpatial[axis]
		k := kernelOffset % kernelDim
		kernelOffset /= kernelDim
		out := col % outputDim
		col /= outputDim
		pos := out*g.Strides[axis] + k*g.Dilations[axis] - g.Paddings[axis][0]
		if pos < 0 || pos >= g.InputSpatial[axis] {
			return 0, false
		}
		offset += pos * m.spatialStrides[axis]
	}
	return offset, true
}

// Data returns the storage of the source tensor, the slice SourceOffset indexes into.
func (m *Im2Col[T]) Data() []T { return m.src.Data }

// At implements Matrix.
func (m *Im2Col[T]) At(row, col int) T {
	offset, ok := m.SourceOffset(row, col)
	if !ok {
		var zero T
		return zero
	}
	return m.src.Data[offset]
}
