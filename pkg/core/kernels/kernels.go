// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels holds the registry of matmul micro-kernels, and the kernels themselves.
//
// A micro-kernel computes one MR×NR tile of the output, C[MR, NR] (+)= A[MR, k] × B[k, NR], from
// operands already packed into panels (see package packing):
//
//   - packedA holds MR*k values laid out [k][MR]: for each contracting index p, the MR values
//     A[0..MR-1, p] are contiguous.
//   - packedB holds NR*k values laid out [k][NR].
//
// The kernel writes the whole tile, at out[r*rowStride + c*colStride], overwriting or adding
// to the previous values. Kernels never allocate and never see ragged tiles: the driver
// zero-pads packed panels, and redirects partial output tiles to a scratch buffer.
//
// Kernels are registered from init() functions with Register, keyed by the (input, output)
// DTypePair, and chosen at runtime with Select given the set of features the host CPU supports.
// Every dtype pair has a generic fallback kernel that requires no CPU features, and a generic
// matrix-vector kernel (see SelectMatVec).
//
// The kernels in this package are portable Go: the ones gated by CPU features only differ in
// their tile shapes, sized for the register file of those features. Vectorized kernels register
// themselves from separate packages, e.g. github.com/gomlx/packmm/highway.
package kernels

import (
	"fmt"
	"reflect"

	"github.com/gomlx/packmm/pkg/core/cpufeatures"
	"github.com/gomlx/packmm/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// KernelFn is the signature of a micro-kernel for input type In and output (accumulator) type Out.
//
// See package documentation for the layout of packedA and packedB.
// If accumulate is true the results are added to out, otherwise out is overwritten.
type KernelFn[In, Out dtypes.Supported] func(k int, packedA, packedB []In, out []Out, rowStride, colStride int, accumulate bool)

// TileShape is the shape of the output tile computed by one kernel call.
type TileShape struct {
	// MR is the number of rows of the output tile: the width of the packed A panel.
	MR int

	// NR is the number of columns of the output tile: the width of the packed B panel.
	NR int
}

// Area returns MR*NR.
func (t TileShape) Area() int { return t.MR * t.NR }

// String implements fmt.Stringer.
func (t TileShape) String() string { return fmt.Sprintf("%dx%d", t.MR, t.NR) }

// DTypePair is the key of the registry: the dtype of the inputs and of the output.
type DTypePair struct {
	Input, Output dtypes.DType
}

// PairOf returns the DTypePair for the Go types In and Out.
func PairOf[In, Out dtypes.Supported]() DTypePair {
	return DTypePair{Input: dtypes.FromGenericsType[In](), Output: dtypes.FromGenericsType[Out]()}
}

// String implements fmt.Stringer.
func (p DTypePair) String() string {
	return fmt.Sprintf("%s->%s", p.Input, p.Output)
}

// Descriptor describes one registered micro-kernel.
type Descriptor struct {
	// Name identifies the kernel within its DTypePair, e.g. "avx2-fma". The generic fallback
	// of every pair is called GenericName.
	Name string

	DTypes DTypePair
	Tile   TileShape

	// Requires is the set of CPU features the kernel needs. The empty set means it runs anywhere.
	Requires cpufeatures.Set

	// Priority orders the kernels that qualify for a CPU: higher priority is preferred.
	// See Select for the tie-breaking rules.
	Priority int

	// MaxK is the longest contracting panel the kernel accepts in one call, or 0 if unlimited.
	// The driver splits K into chunks of at most MaxK.
	MaxK int

	// MatVec marks matrix-vector kernels, which have Tile.NR == 1. Select skips them, and
	// SelectMatVec prefers them, for products with a single output column.
	MatVec bool

	// Fn holds a KernelFn[In, Out] matching DTypes. Use Func to retrieve it typed.
	Fn any
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	if d.MatVec {
		return fmt.Sprintf("%s[%s, %s, matvec, requires=%s]", d.Name, d.DTypes, d.Tile, d.Requires)
	}
	return fmt.Sprintf("%s[%s, %s, requires=%s]", d.Name, d.DTypes, d.Tile, d.Requires)
}

// Func returns the kernel function of the descriptor as a KernelFn[In, Out].
// It panics if In, Out don't match the descriptor's DTypes.
func Func[In, Out dtypes.Supported](d Descriptor) KernelFn[In, Out] {
	switch fn := d.Fn.(type) {
	case KernelFn[In, Out]:
		return fn
	case func(int, []In, []In, []Out, int, int, bool):
		return fn
	}
	panic(errors.Errorf("kernel %s is not a KernelFn[%s, %s] (got %T)",
		d.Name, dtypes.FromGenericsType[In](), dtypes.FromGenericsType[Out](), d.Fn))
}

var (
	intType  = reflect.TypeOf(0)
	boolType = reflect.TypeOf(false)
)

// fnMatchesDTypes checks that desc.Fn can be used as a KernelFn for desc.DTypes.
func fnMatchesDTypes(desc Descriptor) bool {
	if desc.Fn == nil || !desc.DTypes.Input.IsSupported() || !desc.DTypes.Output.IsSupported() {
		return false
	}
	fnValue := reflect.ValueOf(desc.Fn)
	if fnValue.Kind() != reflect.Func || fnValue.IsNil() {
		return false
	}
	inSlice := reflect.SliceOf(desc.DTypes.Input.GoType())
	outSlice := reflect.SliceOf(desc.DTypes.Output.GoType())
	want := reflect.FuncOf([]reflect.Type{intType, inSlice, inSlice, outSlice, intType, intType, boolType}, nil, false)
	return fnValue.Type().AssignableTo(want)
}

// GenericName is the name of the fallback kernel of every DTypePair.
const GenericName = "generic"

// Base priorities by vector register width.
const (
	PriorityGeneric = 0
	Priority128     = 100
	Priority256     = 200
	Priority512     = 300

	// PriorityDotProductBonus is added to integer kernels using dot-product instructions
	// (VNNI or ASIMDDP).
	PriorityDotProductBonus = 10
)

// ErrNoKernel is returned (wrapped) when no kernel is registered for a DTypePair.
var ErrNoKernel = errors.New("no matmul kernel registered")
