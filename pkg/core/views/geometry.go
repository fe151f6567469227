// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package views

import (
	"fmt"
	"slices"

	"github.com/gomlx/packmm/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Layout of the axes of convolution input and output tensors.
type Layout int

const (
	// ChannelsFirst is the [batch, channels, spatial...] layout (NCHW for 2D).
	ChannelsFirst Layout = iota

	// ChannelsLast is the [batch, spatial..., channels] layout (NHWC for 2D).
	ChannelsLast
)

// String implements fmt.Stringer.
func (l Layout) String() string {
	switch l {
	case ChannelsFirst:
		return "ChannelsFirst"
	case ChannelsLast:
		return "ChannelsLast"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// ConvGeometry describes a convolution over any number of spatial axes.
//
// Strides and Dilations default to 1 and Paddings to 0 for every axis when left nil.
// Groups defaults to 1 when 0.
type ConvGeometry struct {
	Layout        Layout
	InputSpatial  []int
	KernelSpatial []int
	Strides       []int
	Dilations     []int

	// Paddings holds for each spatial axis the padding before and after.
	Paddings [][2]int

	// Groups splits the input and output channels into independent groups. Depthwise
	// convolution is Groups equal to the number of input channels.
	Groups int
}

// SpatialRank returns the number of spatial axes.
func (g ConvGeometry) SpatialRank() int { return len(g.InputSpatial) }

// normalized returns a copy of the geometry with defaults filled in.
func (g ConvGeometry) normalized() ConvGeometry {
	rank := g.SpatialRank()
	g.InputSpatial = slices.Clone(g.InputSpatial)
	g.KernelSpatial = slices.Clone(g.KernelSpatial)
	if g.Strides == nil {
		g.Strides = xslices.SliceWithValue(rank, 1)
	} else {
		g.Strides = slices.Clone(g.Strides)
	}
	if g.Dilations == nil {
		g.Dilations = xslices.SliceWithValue(rank, 1)
	} else {
		g.Dilations = slices.Clone(g.Dilations)
	}
	if g.Paddings == nil {
		g.Paddings = make([][2]int, rank)
	} else {
		g.Paddings = slices.Clone(g.Paddings)
	}
	if g.Groups == 0 {
		g.Groups = 1
	}
	return g
}

// Validate checks the geometry for a convolution over the given number of input channels.
func (g ConvGeometry) Validate(inputChannels int) error {
	_, err := g.normalized().validated(inputChannels)
	return err
}

// validated checks a normalized geometry and returns the output spatial dimensions.
func (g ConvGeometry) validated(inputChannels int) ([]int, error) {
	rank := g.SpatialRank()
	if rank < 1 {
		return nil, errors.New("conv geometry requires at least one spatial axis")
	}
	if g.Layout != ChannelsFirst && g.Layout != ChannelsLast {
		return nil, errors.Errorf("conv geometry has invalid layout %s", g.Layout)
	}
	if len(g.KernelSpatial) != rank || len(g.Strides) != rank || len(g.Dilations) != rank || len(g.Paddings) != rank {
		return nil, errors.Errorf("conv geometry with %d spatial axes has %d kernel dims, %d strides, %d dilations and %d paddings",
			rank, len(g.KernelSpatial), len(g.Strides), len(g.Dilations), len(g.Paddings))
	}
	if g.Groups < 1 {
		return nil, errors.Errorf("conv geometry has invalid groups=%d", g.Groups)
	}
	if inputChannels < 1 || inputChannels%g.Groups != 0 {
		return nil, errors.Errorf("conv geometry: %d input channels not divisible in %d groups", inputChannels, g.Groups)
	}
	output := make([]int, rank)
	for axis := range rank {
		in, k, stride, dilation := g.InputSpatial[axis], g.KernelSpatial[axis], g.Strides[axis], g.Dilations[axis]
		padBefore, padAfter := g.Paddings[axis][0], g.Paddings[axis][1]
		if in < 1 || k < 1 || stride < 1 || dilation < 1 || padBefore < 0 || padAfter < 0 {
			return nil, errors.Errorf("conv geometry axis %d: invalid input=%d, kernel=%d, stride=%d, dilation=%d, padding=%v",
				axis, in, k, stride, dilation, g.Paddings[axis])
		}
		span := in + padBefore + padAfter - dilation*(k-1) - 1
		if span < 0 {
			return nil, errors.Errorf("conv geometry axis %d: dilated kernel (%d with dilation %d) larger than padded input %d",
				axis, k, dilation, in+padBefore+padAfter)
		}
		output[axis] = span/stride + 1
	}
	return output, nil
}

// OutputSpatial returns the spatial dimensions of the convolution output, for each axis
// (input + padBefore + padAfter - dilation*(kernel-1) - 1) / stride + 1.
// It returns an error if the spatial geometry is invalid, or if any output dimension would be
// non-positive. Groups are not checked, since the number of channels is not known here.
func (g ConvGeometry) OutputSpatial() ([]int, error) {
	g = g.normalized()
	g.Groups = 1
	return g.validated(1)
}
