package bfloat16

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	for _, v := range []float32{0, 1, -1, 2, 0.5, 3, 256, -1024} {
		assert.Equal(t, v, FromFloat32(v).Float32(), "value %g should be exactly representable", v)
	}
	assert.True(t, math.IsInf(float64(Inf(1).Float32()), 1))
	assert.True(t, math.IsInf(float64(Inf(-1).Float32()), -1))
	assert.True(t, math.IsNaN(float64(FromFloat32(float32(math.NaN())).Float32())))
}

func TestRoundToNearestEven(t *testing.T) {
	// 1 + 2^-8 is exactly half-way between 1 and the next bfloat16 (1 + 2^-7): ties go to even (1).
	assert.Equal(t, float32(1), FromFloat32(1+1.0/256).Float32())
	// Slightly above half-way rounds up.
	assert.Equal(t, float32(1+1.0/128), FromFloat32(1+1.0/256+1.0/4096).Float32())
	assert.Equal(t, "1.5", FromFloat64(1.5).String())
	assert.Equal(t, uint16(0x3f80), FromFloat32(1).Bits())
	assert.Equal(t, FromBits(0x3f80), FromFloat32(1))
}
