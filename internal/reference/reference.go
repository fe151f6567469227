// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reference implements naive matrix multiplication and direct convolution, computed in
// float64, to check the packed kernels against in tests.
//
// Results are exact for integer inputs as long as magnitudes stay below 2^53.
package reference

import (
	"github.com/gomlx/packmm/pkg/core/dtypes"
	"github.com/gomlx/packmm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/packmm/pkg/core/views"
	"github.com/gomlx/packmm/pkg/support/xslices"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ToFloat64 converts any supported element value to float64.
func ToFloat64[T dtypes.Supported](v T) float64 {
	switch x := any(v).(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	case int32:
		return float64(x)
	case int8:
		return float64(x)
	case uint8:
		return float64(x)
	case float16.Float16:
		return float64(x.Float32())
	case bfloat16.BFloat16:
		return float64(x.Float32())
	}
	panic(errors.Errorf("reference.ToFloat64: unsupported type %T", v))
}

// ToFloat64s converts a slice with ToFloat64.
func ToFloat64s[T dtypes.Supported](values []T) []float64 {
	return xslices.Map(values, ToFloat64[T])
}

// MatMul returns the row-major [M, N] product of the [M, K] and [K, N] views a and b.
func MatMul[T dtypes.Supported](a, b views.Matrix[T]) []float64 {
	m, k := a.Shape()
	kb, n := b.Shape()
	if k != kb {
		panic(errors.Errorf("reference.MatMul: contracting dimensions don't match: [%d, %d] x [%d, %d]", m, k, kb, n))
	}
	c := make([]float64, m*n)
	for row := range m {
		for col := range n {
			var sum float64
			for p := range k {
				sum += ToFloat64(a.At(row, p)) * ToFloat64(b.At(p, col))
			}
			c[row*n+col] = sum
		}
	}
	return c
}

// Conv computes the direct convolution of input with kernel.
//
// The input has the layout given by geom.Layout, the kernel is [outChannels, inChannels/groups,
// kernelSpatial...], and the output is dense in the same layout as the input. It returns
// the output values and dimensions.
func Conv[T dtypes.Supported](input, kernel views.Tensor[T], geom views.ConvGeometry) ([]float64, []int, error) {
	rank := input.Rank() - 2
	channelAxis, spatialStart := 1, 2
	if geom.Layout == views.ChannelsLast {
		channelAxis, spatialStart = rank+1, 1
	}
	geom.InputSpatial = input.Dims[spatialStart : spatialStart+rank]
	geom.KernelSpatial = kernel.Dims[2:]
	groups := max(geom.Groups, 1)
	inChannels := input.Dims[channelAxis]
	if err := geom.Validate(inChannels); err != nil {
		return nil, nil, err
	}
	outputSpatial, err := geom.OutputSpatial()
	if err != nil {
		return nil, nil, err
	}
	strides := geom.Strides
	if strides == nil {
		strides = xslices.SliceWithValue(rank, 1)
	}
	dilations := geom.Dilations
	if dilations == nil {
		dilations = xslices.SliceWithValue(rank, 1)
	}
	paddings := geom.Paddings
	if paddings == nil {
		paddings = make([][2]int, rank)
	}

	batch, outChannels := input.Dims[0], kernel.Dims[0]
	inPerGroup, outPerGroup := inChannels/groups, outChannels/groups
	var outputDims []int
	if geom.Layout == views.ChannelsLast {
		outputDims = append(append([]int{batch}, outputSpatial...), outChannels)
	} else {
		outputDims = append([]int{batch, outChannels}, outputSpatial...)
	}
	outputStrides := xslices.RowMajorStrides(outputDims)
	output := make([]float64, xslices.Product(outputDims))

	outPos := make([]int, rank)
	kernelPos := make([]int, rank)
	for b := range batch {
		for oc := range outChannels {
			g := oc / outPerGroup
			forEachIndex(outputSpatial, outPos, func() {
				var sum float64
				for ic := range inPerGroup {
					channel := g*inPerGroup + ic
					forEachIndex(geom.KernelSpatial, kernelPos, func() {
						inOffset := b*input.Strides[0] + channel*input.Strides[channelAxis]
						for axis := range rank {
							pos := outPos[axis]*strides[axis] + kernelPos[axis]*dilations[axis] - paddings[axis][0]
							if pos < 0 || pos >= geom.InputSpatial[axis] {
								return
							}
							inOffset += pos * input.Strides[spatialStart+axis]
						}
						kernelOffset := oc*kernel.Strides[0] + ic*kernel.Strides[1]
						for axis := range rank {
							kernelOffset += kernelPos[axis] * kernel.Strides[2+axis]
						}
						sum += ToFloat64(input.Data[inOffset]) * ToFloat64(kernel.Data[kernelOffset])
					})
				}
				outOffset := b*outputStrides[0] + oc*outputStrides[channelAxis]
				for axis := range rank {
					outOffset += outPos[axis] * outputStrides[spatialStart+axis]
				}
				output[outOffset] = sum
			})
		}
	}
	return output, outputDims, nil
}

// forEachIndex calls fn for every index of dims in row-major order, with the current index in pos.
func forEachIndex(dims, pos []int, fn func()) {
	for i := range pos {
		pos[i] = 0
	}
	for {
		fn()
		axis := len(dims) - 1
		for ; axis >= 0; axis-- {
			pos[axis]++
			if pos[axis] < dims[axis] {
				break
			}
			pos[axis] = 0
		}
		if axis < 0 {
			return
		}
	}
}
