// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package conv implements N-dimensional convolutions as matrix multiplications over a virtual
// im2col view of the input (see views.Im2Col), so the expanded patches matrix is never built.
//
// For each image and each channel group it computes
//
//	output[group channels, output positions] (+)= weights[group channels, Cin/groups * kernel volume] × im2col
//
// writing directly into the output tensor, in the same layout as the input.
package conv

import (
	"slices"

	"github.com/gomlx/packmm/pkg/core/dtypes"
	"github.com/gomlx/packmm/pkg/core/matmul"
	"github.com/gomlx/packmm/pkg/core/views"
	"github.com/gomlx/packmm/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OutputShape returns the dimensions of the output of a convolution of an input with inputDims
// with a kernel with kernelDims ([outChannels, inChannels/groups, kernelSpatial...]).
//
// The output is [batch, outChannels, outputSpatial...] for views.ChannelsFirst and
// [batch, outputSpatial..., outChannels] for views.ChannelsLast.
// geom.InputSpatial and geom.KernelSpatial, if nil, are taken from the dimensions.
func OutputShape(inputDims, kernelDims []int, geom views.ConvGeometry) ([]int, error) {
	geom, err := completeGeometry(inputDims, kernelDims, geom)
	if err != nil {
		return nil, err
	}
	outputSpatial, err := geom.OutputSpatial()
	if err != nil {
		return nil, err
	}
	batch, outChannels := inputDims[0], kernelDims[0]
	if geom.Layout == views.ChannelsLast {
		return append(append([]int{batch}, outputSpatial...), outChannels), nil
	}
	return append([]int{batch, outChannels}, outputSpatial...), nil
}

// completeGeometry checks the input and kernel dimensions against each other and the geometry,
// filling in the spatial dimensions of geom if they are not given.
func completeGeometry(inputDims, kernelDims []int, geom views.ConvGeometry) (views.ConvGeometry, error) {
	rank := len(inputDims) - 2
	if rank < 1 {
		return geom, errors.Errorf("conv: input must have rank >= 3, got dims %v", inputDims)
	}
	if len(kernelDims) != rank+2 {
		return geom, errors.Errorf("conv: kernel dims %v don't match input dims %v: rank must be %d", kernelDims, inputDims, rank+2)
	}
	channelAxis, spatialStart := 1, 2
	if geom.Layout == views.ChannelsLast {
		channelAxis, spatialStart = rank+1, 1
	}
	if geom.InputSpatial == nil {
		geom.InputSpatial = inputDims[spatialStart : spatialStart+rank]
	}
	if geom.KernelSpatial == nil {
		geom.KernelSpatial = kernelDims[2:]
	}
	if !slices.Equal(geom.KernelSpatial, kernelDims[2:]) {
		return geom, errors.Errorf("conv: geometry kernel spatial dims %v don't match kernel dims %v", geom.KernelSpatial, kernelDims)
	}
	inChannels := inputDims[channelAxis]
	if err := geom.Validate(inChannels); err != nil {
		return geom, errors.WithMessagef(err, "conv(input=%v, kernel=%v)", inputDims, kernelDims)
	}
	groups := max(geom.Groups, 1)
	if kernelDims[1]*groups != inChannels {
		return geom, errors.Errorf("conv: kernel dims %v expect %d input channels per group, but input %v has %d channels in %d groups",
			kernelDims, kernelDims[1], inputDims, inChannels, groups)
	}
	if kernelDims[0] < 1 || kernelDims[0]%groups != 0 {
		return geom, errors.Errorf("conv: %d output channels not divisible in %d groups", kernelDims[0], groups)
	}
	return geom, nil
}

// Conv computes the convolution of input with kernel into output, using engine e.
//
// The input layout is given by geom.Layout, the kernel is [outChannels, inChannels/groups,
// kernelSpatial...], and output must hold a dense tensor with the dimensions returned by
// OutputShape. If accumulate is true, the convolution is added to output.
//
// Both tensors' strides are honored. The element types follow the matmul kernels, e.g.
// float32 -> float32 or int8 -> int32.
func Conv[T, Out dtypes.Supported](e *matmul.Engine, input, kernel views.Tensor[T], geom views.ConvGeometry,
	output []Out, accumulate bool) error {
	geom, err := completeGeometry(input.Dims, kernel.Dims, geom)
	if err != nil {
		return err
	}
	if err := kernel.Check(); err != nil {
		return errors.WithMessage(err, "conv: kernel")
	}
	if input.Dims[0] == 0 {
		// No images, nothing to compute.
		return errors.WithMessage(input.Check(), "conv: input")
	}
	patches, err := views.NewIm2Col(input, geom)
	if err != nil {
		return errors.WithMessage(err, "conv: input")
	}
	outputDims, err := OutputShape(input.Dims, kernel.Dims, geom)
	if err != nil {
		return err
	}
	if size := xslices.Product(outputDims); len(output) < size {
		return errors.Errorf("conv: output has %d elements, but output dims %v require %d", len(output), outputDims, size)
	}

	groups := patches.Geometry().Groups
	outChannels := kernel.Dims[0]
	outPerGroup := outChannels / groups
	contracting, outputVolume := patches.ForGroup(0).Shape()
	weights, err := weightsMatrix(kernel, contracting)
	if err != nil {
		return err
	}

	rowStride, colStride := outputVolume, 1
	batchStride, groupStride := outChannels*outputVolume, outPerGroup*outputVolume
	if geom.Layout == views.ChannelsLast {
		rowStride, colStride = 1, outChannels
		groupStride = outPerGroup
	}
	klog.V(2).Infof("conv: input %v, kernel %v, output %v: %d matmuls of [%d, %d] x [%d, %d]",
		input.Dims, kernel.Dims, outputDims, patches.NumBatches()*groups, outPerGroup, contracting, contracting, outputVolume)

	for b := range patches.NumBatches() {
		image := patches.ForBatch(b)
		for g := range groups {
			job := matmul.Job[T, Out]{
				M: outPerGroup, N: outputVolume, K: contracting,
				A: weights.Sub(g*outPerGroup, 0, outPerGroup, contracting),
				B: image.ForGroup(g),
				Output: matmul.Output[Out]{
					Data:      output,
					Offset:    b*batchStride + g*groupStride,
					RowStride: rowStride,
					ColStride: colStride,
				},
				Accumulate: accumulate,
			}
			if err := matmul.MatMul(e, job); err != nil {
				return errors.WithMessagef(err, "conv(batch=%d, group=%d)", b, g)
			}
		}
	}
	return nil
}

// weightsMatrix returns the [outChannels, inChannels/groups * kernelVolume] view of the kernel.
// If the kernel is not dense over its non-leading axes, a dense copy is made.
func weightsMatrix[T dtypes.Supported](kernel views.Tensor[T], cols int) (*views.Strided[T], error) {
	outChannels := kernel.Dims[0]
	innerDims := kernel.Dims[1:]
	if slices.Equal(kernel.Strides[1:], xslices.RowMajorStrides(innerDims)) {
		return views.NewStrided(kernel.Data, 0, outChannels, cols, kernel.Strides[0], 1)
	}
	dense := make([]T, outChannels*cols)
	pos := make([]int, len(kernel.Dims))
	for i := range dense {
		// Decode i into the row-major index of kernel.Dims, and read with the kernel strides.
		rem := i
		for axis := len(pos) - 1; axis >= 0; axis-- {
			pos[axis] = rem % kernel.Dims[axis]
			rem /= kernel.Dims[axis]
		}
		offset := 0
		for axis, p := range pos {
			offset += p * kernel.Strides[axis]
		}
		dense[i] = kernel.Data[offset]
	}
	return views.RowMajor(dense, outChannels, cols)
}
