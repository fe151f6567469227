// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"testing"

	"github.com/gomlx/packmm/pkg/core/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/x448/float16"
)

func TestFromGenericsType(t *testing.T) {
	assert.Equal(t, Float32, FromGenericsType[float32]())
	assert.Equal(t, Float64, FromGenericsType[float64]())
	assert.Equal(t, Float16, FromGenericsType[float16.Float16]())
	assert.Equal(t, BFloat16, FromGenericsType[bfloat16.BFloat16]())
	assert.Equal(t, Int8, FromGenericsType[int8]())
	assert.Equal(t, Uint8, FromGenericsType[uint8]())
	assert.Equal(t, Int32, FromGenericsType[int32]())
}

func TestSizes(t *testing.T) {
	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 8, Float64.Size())
	assert.Equal(t, 2, Float16.Size())
	assert.Equal(t, 2, BFloat16.Size())
	assert.Equal(t, 1, Int8.Size())
	assert.Equal(t, 1, Uint8.Size())
	assert.Panics(t, func() { _ = InvalidDType.Size() })
}

func TestMapOfNames(t *testing.T) {
	assert.Equal(t, Float16, MapOfNames["Float16"])
	assert.Equal(t, Float16, MapOfNames["float16"])
	assert.Equal(t, Float16, MapOfNames["f16"])
	assert.Equal(t, BFloat16, MapOfNames["bf16"])
	assert.Equal(t, Int8, MapOfNames["s8"])
}

func TestPredicatesAndZero(t *testing.T) {
	assert.True(t, Float16.IsFloat16())
	assert.True(t, BFloat16.IsFloat())
	assert.True(t, Uint8.IsInt())
	assert.False(t, Float32.IsInt())
	assert.False(t, InvalidDType.IsSupported())
	assert.Equal(t, "Float32", Float32.String())
	assert.Equal(t, "DType(99)", DType(99).String())

	assert.Equal(t, float32(0), Zero[float32]())
	assert.Equal(t, float16.Float16(0), Zero[float16.Float16]())
	assert.Equal(t, float32(0), Zero[bfloat16.BFloat16]().Float32())
}
