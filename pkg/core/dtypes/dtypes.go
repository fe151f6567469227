// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the element types the matmul kernels handle:
// the floats (including the 16-bit Float16 and BFloat16), Int32, and the quantized Int8 and
// Uint8. Values use the XLA/PJRT numbering.
//
// It also includes the constraint interfaces used with generics throughout the engine
// (Supported, Number, Quantized).
package dtypes

import (
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/gomlx/packmm/pkg/core/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when parameters don't follow the specifications.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

func init() {
	// Add a mapping to the lower-case version of dtypes.
	keys := slices.Collect(maps.Keys(MapOfNames))
	for _, key := range keys {
		lowerKey := strings.ToLower(key)
		if _, found := MapOfNames[lowerKey]; found {
			continue
		}
		MapOfNames[lowerKey] = MapOfNames[key]
	}
}

// Supported lists the Go element types the engine has kernels for.
// Used as traits for generics.
type Supported interface {
	float16.Float16 | bfloat16.BFloat16 | float32 | float64 | int8 | int32 | uint8
}

// Number represents the native Go numeric types with symmetric kernels (input and output of the
// same type). It doesn't include the half-precision floats because they are not native number types.
type Number interface {
	float32 | float64 | int32
}

// Quantized are the narrow integer types multiplied with widening into Int32.
type Quantized interface {
	int8 | uint8
}

// HalfPrecision are the 16-bit float types, stored as uint16 and accumulated in float32.
type HalfPrecision interface {
	float16.Float16 | bfloat16.BFloat16
}

// FromGenericsType returns the DType enum for the given type that this package knows about.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case float64:
		return Float64
	case float32:
		return Float32
	case float16.Float16:
		return Float16
	case bfloat16.BFloat16:
		return BFloat16
	case int32:
		return Int32
	case int8:
		return Int8
	case uint8:
		return Uint8
	}
	return InvalidDType
}

// Pre-generate constant reflect.TypeOf for convenience.
var (
	float16Type  = reflect.TypeOf(float16.Float16(0))
	bfloat16Type = reflect.TypeOf(bfloat16.BFloat16(0))
)

// GoType returns the Go `reflect.Type` corresponding to the DType.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Int32:
		return reflect.TypeOf(int32(0))
	case Int8:
		return reflect.TypeOf(int8(0))
	case Uint8:
		return reflect.TypeOf(uint8(0))
	case Float16:
		return float16Type
	case BFloat16:
		return bfloat16Type
	case Float32:
		return reflect.TypeOf(float32(0))
	case Float64:
		return reflect.TypeOf(float64(0))
	default:
		panicf("unknown dtype %q (%d) in DType.GoType", dtype, dtype)
		panic(nil)
	}
}

// Size returns the number of bytes for the given DType.
func (dtype DType) Size() int {
	return int(dtype.GoType().Size())
}

// IsFloat returns whether dtype is one of the supported floats.
func (dtype DType) IsFloat() bool {
	return dtype == Float32 || dtype == Float64 || dtype == Float16 || dtype == BFloat16
}

// IsFloat16 returns whether dtype is a supported float with 16 bits: [Float16] or [BFloat16].
func (dtype DType) IsFloat16() bool {
	return dtype == Float16 || dtype == BFloat16
}

// IsInt returns whether dtype is a supported integer type.
func (dtype DType) IsInt() bool {
	return dtype == Int32 || dtype == Int8 || dtype == Uint8
}

// IsSupported returns whether dtype is known to the engine.
func (dtype DType) IsSupported() bool {
	switch dtype {
	case Int8, Int32, Uint8, Float16, Float32, Float64, BFloat16:
		return true
	}
	return false
}

// Zero returns the additive identity for T, the value used to pad ragged panels.
//
// For every supported type this is the all-zero bit pattern (+0 for floats).
func Zero[T Supported]() T {
	var zero T
	return zero
}
