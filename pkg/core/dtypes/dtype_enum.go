package dtypes

import "strconv"

// DType is an enum represents the data type of a buffer or a scalar.
//
// The numbering follows the PJRT C API (pjrt_c_api.h), so values can be exchanged with
// XLA-based executors without translation. Only the dtypes the kernel engine knows how to
// multiply are listed.
type DType int32

const (
	// InvalidDType is the zero value, used as a default and to signal errors.
	InvalidDType DType = 0

	// Int8 is a signed 8-bit integer, used for quantized operands.
	Int8 DType = 2

	// Int32 is a signed 32-bit integer, also the accumulator type for quantized matmuls.
	Int32 DType = 4

	// Uint8 is an unsigned 8-bit integer, used for quantized operands.
	Uint8 DType = 6

	// Float16 is the IEEE 754 half-precision float (github.com/x448/float16).
	Float16 DType = 10

	// Float32 is the IEEE 754 single-precision float.
	Float32 DType = 11

	// Float64 is the IEEE 754 double-precision float.
	Float64 DType = 12

	// BFloat16 is the truncated 16 bit floating-point format: 1 bit for the sign, 8 bits for the
	// exponent and 7 bits for the mantissa.
	BFloat16 DType = 13
)

// Aliases from PJRT C API.
const (
	S8   = Int8
	S32  = Int32
	U8   = Uint8
	F16  = Float16
	F32  = Float32
	F64  = Float64
	BF16 = BFloat16
)

// MapOfNames to their dtypes. It includes also aliases to the various dtypes.
// It is also later initialized to include the lower-case version of the names.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"Int8":         Int8,
	"S8":           Int8,
	"Int32":        Int32,
	"S32":          Int32,
	"Uint8":        Uint8,
	"U8":           Uint8,
	"Float16":      Float16,
	"F16":          Float16,
	"Float32":      Float32,
	"F32":          Float32,
	"Float64":      Float64,
	"F64":          Float64,
	"BFloat16":     BFloat16,
	"BF16":         BFloat16,
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	switch dtype {
	case InvalidDType:
		return "InvalidDType"
	case Int8:
		return "Int8"
	case Int32:
		return "Int32"
	case Uint8:
		return "Uint8"
	case Float16:
		return "Float16"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case BFloat16:
		return "BFloat16"
	}
	return "DType(" + strconv.Itoa(int(dtype)) + ")"
}

