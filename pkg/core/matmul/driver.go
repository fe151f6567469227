// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matmul

import (
	"github.com/gomlx/packmm/pkg/core/dtypes"
	"github.com/gomlx/packmm/pkg/core/kernels"
	"github.com/gomlx/packmm/pkg/core/packing"
	"github.com/gomlx/packmm/pkg/core/views"
	"github.com/gomlx/packmm/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// plan of a job: the kernel and how the output is split in tiles.
type plan[In, Out dtypes.Supported] struct {
	fn        kernels.KernelFn[In, Out]
	mr, nr    int
	numMTiles int
	numNTiles int
	kChunk    int
	prepackB  bool
}

// run executes a validated job with M, N and K > 0.
//
// Products with a single output column use the matrix-vector kernel. A single output row is
// computed as the transposed product, which has a single column.
func run[In, Out dtypes.Supported](e *Engine, job *Job[In, Out]) error {
	if job.M == 1 && job.N > 1 {
		job = transposeJob(job)
	}
	pair := kernels.PairOf[In, Out]()
	var desc kernels.Descriptor
	var err error
	if job.N == 1 {
		desc, err = e.MatVecKernel(pair)
	} else {
		desc, err = e.Kernel(pair)
	}
	if err != nil {
		return errors.WithMessagef(err, "matmul of %s", pair)
	}
	p := plan[In, Out]{
		fn:       kernels.Func[In, Out](desc),
		mr:       desc.Tile.MR,
		nr:       desc.Tile.NR,
		kChunk:   job.K,
		prepackB: !e.opts.noPrepack,
	}
	p.numMTiles = (job.M + p.mr - 1) / p.mr
	p.numNTiles = (job.N + p.nr - 1) / p.nr
	if desc.MaxK > 0 && desc.MaxK < job.K {
		p.kChunk = desc.MaxK
	}
	if klog.V(2).Enabled() {
		klog.Infof("matmul: M=%d, N=%d, K=%d with kernel %s: %dx%d tiles, K chunks of %d, prepackB=%v, parallelism=%d",
			job.M, job.N, job.K, desc, p.numMTiles, p.numNTiles, p.kChunk, p.prepackB, e.pool.MaxParallelism())
	}

	for kStart := 0; kStart < job.K; kStart += p.kChunk {
		kLen := min(p.kChunk, job.K-kStart)
		// After the first chunk, the output already holds partial sums.
		accumulate := job.Accumulate || kStart > 0
		var packedB [][]In
		var packedBRef *[]In
		if p.prepackB {
			packedB, packedBRef = packAllB(e, job, &p, kStart, kLen)
		}
		runChunk(e, job, &p, kStart, kLen, accumulate, packedB)
		if packedBRef != nil {
			putScratch(e, packedBRef)
		}
	}
	return nil
}

// transposeJob returns the job computing Output^T = B^T × A^T, on the same output storage.
func transposeJob[In, Out dtypes.Supported](job *Job[In, Out]) *Job[In, Out] {
	out := job.Output
	return &Job[In, Out]{
		M: job.N, N: job.M, K: job.K,
		A: views.Transpose(job.B),
		B: views.Transpose(job.A),
		Output: Output[Out]{
			Data:      out.Data,
			Offset:    out.Offset,
			RowStride: out.ColStride,
			ColStride: out.RowStride,
		},
		Accumulate: job.Accumulate,
	}
}

// packAllB packs all panels of B for the contracting range, so they are shared by every M tile.
// Panels are packed concurrently if there are workers available.
func packAllB[In, Out dtypes.Supported](e *Engine, job *Job[In, Out], p *plan[In, Out], kStart, kLen int) (panels [][]In, ref *[]In) {
	if !e.pool.IsEnabled() || p.numNTiles == 1 {
		return packing.PackAll(job.B, packing.SideB, kStart, kLen, p.nr), nil
	}
	panelSize := packing.PanelSize(p.nr, kLen)
	ref = getScratch[In](e, p.numNTiles*panelSize)
	backing := *ref
	panels = make([][]In, p.numNTiles)
	wg := xsync.NewDynamicWaitGroup()
	for nTile := range p.numNTiles {
		start := nTile * p.nr
		panels[nTile] = backing[nTile*panelSize : (nTile+1)*panelSize]
		task := func() {
			packing.PackPanelInto(panels[nTile], job.B, packing.SideB, start, min(p.nr, job.N-start), kStart, kLen, p.nr)
		}
		wg.Add(1)
		if !e.pool.StartIfAvailable(func() {
			defer wg.Done()
			task()
		}) {
			task()
			wg.Done()
		}
	}
	wg.Wait()
	return panels, ref
}

// runChunk computes all output tiles for one contracting chunk. Rows of M tiles are distributed
// among the workers; each worker packs its A panel once and reuses it along N.
func runChunk[In, Out dtypes.Supported](e *Engine, job *Job[In, Out], p *plan[In, Out], kStart, kLen int, accumulate bool, packedB [][]In) {
	work := make(chan int, p.numMTiles)
	for mTile := range p.numMTiles {
		work <- mTile
	}
	close(work)

	e.pool.Saturate(func() {
		panelASize := packing.PanelSize(p.mr, kLen)
		panelARef := getScratch[In](e, panelASize)
		tileRef := getScratch[Out](e, p.mr*p.nr)
		var panelBRef *[]In
		if packedB == nil {
			panelBRef = getScratch[In](e, packing.PanelSize(p.nr, kLen))
		}
		defer func() {
			putScratch(e, panelARef)
			putScratch(e, tileRef)
			if panelBRef != nil {
				putScratch(e, panelBRef)
			}
		}()
		panelA, tile := *panelARef, *tileRef
		out := &job.Output

		for mTile := range work {
			rowStart := mTile * p.mr
			rows := min(p.mr, job.M-rowStart)
			packing.PackPanelInto(panelA, job.A, packing.SideA, rowStart, rows, kStart, kLen, p.mr)
			for nTile := range p.numNTiles {
				colStart := nTile * p.nr
				cols := min(p.nr, job.N-colStart)
				var panelB []In
				if packedB != nil {
					panelB = packedB[nTile]
				} else {
					panelB = *panelBRef
					packing.PackPanelInto(panelB, job.B, packing.SideB, colStart, cols, kStart, kLen, p.nr)
				}
				offset := out.Offset + rowStart*out.RowStride + colStart*out.ColStride
				if rows == p.mr && cols == p.nr {
					p.fn(kLen, panelA, panelB, out.Data[offset:], out.RowStride, out.ColStride, accumulate)
					continue
				}
				// Ragged tile: compute the full tile into scratch, and copy back only the valid part.
				// When accumulating, the valid part of the output is first copied in, so the kernel
				// does the same arithmetic as for full tiles.
				if accumulate {
					copyBlock(out.Data[offset:], out.RowStride, out.ColStride, tile, p.nr, 1, rows, cols)
				}
				p.fn(kLen, panelA, panelB, tile, p.nr, 1, accumulate)
				copyBlock(tile, p.nr, 1, out.Data[offset:], out.RowStride, out.ColStride, rows, cols)
			}
		}
	})
}

// copyBlock copies a [rows, cols] block between two strided layouts.
func copyBlock[T dtypes.Supported](src []T, srcRowStride, srcColStride int, dst []T, dstRowStride, dstColStride, rows, cols int) {
	for r := range rows {
		srcBase, dstBase := r*srcRowStride, r*dstRowStride
		for c := range cols {
			dst[dstBase+c*dstColStride] = src[srcBase+c*srcColStride]
		}
	}
}
