// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package matmul implements C[M, N] (+)= A[M, K] × B[K, N] on the CPU, using packed panels and
// the register-blocked micro-kernels of package kernels.
//
// The operands are views (package views), so transposed, strided or convolution (im2col) inputs
// are multiplied without being materialized. The output is written in place with arbitrary
// strides.
//
// Errors come in two flavors:
//
//   - Configuration problems (e.g. no kernel registered for the dtypes) are returned as errors.
//   - Invalid arguments (shapes that don't match, output too small) are bugs in the caller and
//     panic with an error, before any output is written. Use TryMatMul to convert those panics
//     to errors.
package matmul

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/packmm/pkg/core/dtypes"
	"github.com/gomlx/packmm/pkg/core/views"
	"github.com/pkg/errors"
)

// Output is where the result of a multiplication is written: element (row, col) of the
// result goes to Data[Offset + row*RowStride + col*ColStride].
type Output[T dtypes.Supported] struct {
	Data                 []T
	Offset               int
	RowStride, ColStride int
}

// RowMajorOutput returns the Output for a dense row-major matrix with n columns.
func RowMajorOutput[T dtypes.Supported](data []T, n int) Output[T] {
	return Output[T]{Data: data, RowStride: n, ColStride: 1}
}

// Job describes one matrix multiplication: Output[M, N] (+)= A[M, K] × B[K, N].
//
// If Accumulate is true the product is added to the values of Output, otherwise they are overwritten.
type Job[In, Out dtypes.Supported] struct {
	M, N, K    int
	A, B       views.Matrix[In]
	Output     Output[Out]
	Accumulate bool
}

// MatMul runs the job on engine e.
//
// The input and output dtypes must have registered kernels (see package kernels): e.g. float32 x float32
// -> float32, or int8 x int8 -> int32. It returns an error if there is no kernel for them, and it panics
// if the job is inconsistent (see Job), before touching the output.
//
// Degenerate shapes are handled without calling any kernel: if M or N is 0, it does nothing;
// if K is 0, the output is zeroed (or left untouched if accumulating).
func MatMul[In, Out dtypes.Supported](e *Engine, job Job[In, Out]) error {
	validate(&job)
	if job.M == 0 || job.N == 0 {
		return nil
	}
	if job.K == 0 {
		if !job.Accumulate {
			zeroOutput(&job)
		}
		return nil
	}
	return run(e, &job)
}

// Run runs the job on the Default engine.
func Run[In, Out dtypes.Supported](job Job[In, Out]) error {
	return MatMul(Default(), job)
}

// TryMatMul is like MatMul, but returns invalid arguments as an error instead of panicking.
func TryMatMul[In, Out dtypes.Supported](e *Engine, job Job[In, Out]) (err error) {
	exceptionErr := exceptions.TryCatch[error](func() {
		err = MatMul(e, job)
	})
	if exceptionErr != nil {
		return exceptionErr
	}
	return err
}

// MatMulSlices multiplies dense row-major matrices: c[m, n] (+)= a[m, k] × b[k, n].
func MatMulSlices[In, Out dtypes.Supported](e *Engine, a, b []In, c []Out, m, n, k int, accumulate bool) error {
	viewA, err := views.RowMajor(a, m, k)
	if err != nil {
		return errors.WithMessage(err, "matmul.MatMulSlices: operand a")
	}
	viewB, err := views.RowMajor(b, k, n)
	if err != nil {
		return errors.WithMessage(err, "matmul.MatMulSlices: operand b")
	}
	if len(c) < m*n {
		return errors.Errorf("matmul.MatMulSlices: output has %d elements, at least %d*%d=%d required", len(c), m, n, m*n)
	}
	return MatMul(e, Job[In, Out]{
		M: m, N: n, K: k,
		A: viewA, B: viewB,
		Output:     RowMajorOutput(c, n),
		Accumulate: accumulate,
	})
}

// validate panics if the job is not consistent.
func validate[In, Out dtypes.Supported](job *Job[In, Out]) {
	if job.M < 0 || job.N < 0 || job.K < 0 {
		exceptions.Panicf("matmul: negative dimensions M=%d, N=%d, K=%d", job.M, job.N, job.K)
	}
	if job.A == nil || job.B == nil {
		exceptions.Panicf("matmul: operands A and B must be set")
	}
	if rows, cols := job.A.Shape(); rows != job.M || cols != job.K {
		exceptions.Panicf("matmul: A has shape [%d, %d], but job is M=%d, K=%d", rows, cols, job.M, job.K)
	}
	if rows, cols := job.B.Shape(); rows != job.K || cols != job.N {
		exceptions.Panicf("matmul: B has shape [%d, %d], but job is K=%d, N=%d", rows, cols, job.K, job.N)
	}
	if job.M == 0 || job.N == 0 {
		return
	}
	out := &job.Output
	if out.Offset < 0 || out.RowStride < 0 || out.ColStride < 0 {
		exceptions.Panicf("matmul: negative output offset=%d or strides=[%d, %d]", out.Offset, out.RowStride, out.ColStride)
	}
	last := out.Offset + (job.M-1)*out.RowStride + (job.N-1)*out.ColStride
	if last >= len(out.Data) {
		exceptions.Panicf("matmul: output [%d, %d] with offset=%d and strides=[%d, %d] addresses element %d, "+
			"but output data has %d elements", job.M, job.N, out.Offset, out.RowStride, out.ColStride, last, len(out.Data))
	}
	// Tiles are written concurrently, so output elements must not alias: one of the axes must
	// step over the whole extent of the other.
	rowMajor := (job.N == 1 || out.ColStride >= 1) && (job.M == 1 || out.RowStride > (job.N-1)*out.ColStride)
	colMajor := (job.M == 1 || out.RowStride >= 1) && (job.N == 1 || out.ColStride > (job.M-1)*out.RowStride)
	if !rowMajor && !colMajor {
		exceptions.Panicf("matmul: output strides [%d, %d] for shape [%d, %d] make elements overlap",
			out.RowStride, out.ColStride, job.M, job.N)
	}
}

func zeroOutput[In, Out dtypes.Supported](job *Job[In, Out]) {
	var zero Out
	out := &job.Output
	for row := range job.M {
		base := out.Offset + row*out.RowStride
		for col := range job.N {
			out.Data[base+col*out.ColStride] = zero
		}
	}
}
