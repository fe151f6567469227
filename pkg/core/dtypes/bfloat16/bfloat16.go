// Package bfloat16 is a trivial implementation for the bfloat16 type,
// based on https://github.com/x448/float16 and the pending issue in
// https://github.com/x448/float16/issues/22
package bfloat16

import (
	"math"
	"strconv"
)

// BFloat16 (brain floating point) format occupies 16 bits: it is the upper half of the 32-bit
// IEEE 754 single-precision float, keeping the full exponent range with only 7 bits of mantissa.
type BFloat16 uint16

// Float32 widens the value to a float32. It is exact.
func (f BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(f) << 16)
}

// FromFloat32 converts a float32 to a BFloat16, rounding to nearest-even.
// NaN inputs stay NaN.
func FromFloat32(x float32) BFloat16 {
	bits := math.Float32bits(x)
	if bits&0x7f800000 == 0x7f800000 && bits&0x007fffff != 0 {
		// NaN: keep it quiet and make sure truncation doesn't turn it into an infinity.
		return BFloat16(bits>>16 | 0x0040)
	}
	rounding := uint32(0x7fff) + (bits>>16)&1
	return BFloat16((bits + rounding) >> 16)
}

// FromFloat64 converts a float64 to a BFloat16.
func FromFloat64(x float64) BFloat16 {
	return FromFloat32(float32(x))
}

// FromBits convert an uint16 to a BFloat16.
func FromBits(bits uint16) BFloat16 {
	return BFloat16(bits)
}

// Bits convert BFloat16 to an uint16.
func (f BFloat16) Bits() uint16 {
	return uint16(f)
}

// String implements fmt.Stringer, and prints a float representation of the BFloat16.
func (f BFloat16) String() string {
	return strconv.FormatFloat(float64(f.Float32()), 'f', -1, 32)
}

// Inf returns a BFloat16 with an infinity value with the specified sign.
// A sign >= returns positive infinity.
// A sign < 0 returns negative infinity.
func Inf(sign int) BFloat16 {
	return FromFloat32(float32(math.Inf(sign)))
}
