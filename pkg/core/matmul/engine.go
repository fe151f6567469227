// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matmul

import (
	"fmt"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/packmm/internal/workerspool"
	"github.com/gomlx/packmm/pkg/core/cpufeatures"
	"github.com/gomlx/packmm/pkg/core/dtypes"
	"github.com/gomlx/packmm/pkg/core/kernels"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Engine runs matrix multiplications with a fixed configuration: the CPU features kernels may use,
// the parallelism, and optionally a forced kernel.
//
// It caches the kernel selected for each dtype pair and pools of scratch buffers, so it should be
// reused. It is safe for concurrent use.
type Engine struct {
	config string
	opts   options
	pool   *workerspool.Pool

	// selections maps selectionKey to the selected kernels.Descriptor.
	selections sync.Map

	// scratchPools maps scratchKey to a *sync.Pool of buffers.
	scratchPools sync.Map
}

// checkFallbacks verifies once that every dtype pair has a generic kernel.
var checkFallbacks = sync.OnceValue(kernels.CheckFallbacks)

// New creates an Engine from a configuration string: a comma-separated list of options.
//
//   - "parallelism=<n>": maximum number of workers. 0 runs everything in the calling goroutine,
//     -1 is unlimited. Default is runtime.NumCPU().
//   - "nosimd": use no CPU features, only the generic kernels.
//   - "caps=<features>": use the given CPU features instead of the detected ones, e.g. "caps=avx2+fma".
//   - "kernel=<name>": use the kernel of that name for every dtype pair that has one, even if the
//     CPU features don't include the ones it requires.
//   - "noprepack": pack the right operand panels for each tile, instead of once per job.
//
// An empty config uses the defaults.
func New(config string) (*Engine, error) {
	if err := checkFallbacks(); err != nil {
		return nil, err
	}
	opts, err := parseConfig(config)
	if err != nil {
		return nil, err
	}
	e := &Engine{config: config, opts: opts, pool: workerspool.New()}
	e.pool.SetMaxParallelism(opts.parallelism)
	klog.V(1).Infof("matmul: new engine %s", e)
	return e, nil
}

// NewDefault creates an Engine configured by the environment variable PACKMM_CONFIG (ConfigEnv)
// if it is set, or otherwise by DefaultConfig.
func NewDefault() (*Engine, error) {
	config, found := os.LookupEnv(ConfigEnv)
	if !found {
		config = DefaultConfig
	}
	e, err := New(config)
	if err != nil {
		return nil, errors.WithMessagef(err, "while parsing %s=%q", ConfigEnv, config)
	}
	return e, nil
}

// Default returns the process-wide Engine, created with NewDefault on first use.
// If the configuration is invalid, it logs a warning and uses the default configuration.
var Default = sync.OnceValue(func() *Engine {
	e, err := NewDefault()
	if err != nil {
		klog.Warningf("matmul: %+v; using default configuration", err)
		e, err = New("")
		if err != nil {
			panic(err)
		}
	}
	return e
})

// String implements fmt.Stringer.
func (e *Engine) String() string {
	s := fmt.Sprintf("Engine{caps=%s, parallelism=%d", e.opts.caps, e.opts.parallelism)
	if e.opts.forcedKernel != "" {
		s += ", kernel=" + e.opts.forcedKernel
	}
	if e.opts.noPrepack {
		s += ", noprepack"
	}
	return s + "}"
}

// Capabilities returns the CPU features the engine selects kernels for.
func (e *Engine) Capabilities() cpufeatures.Set { return e.opts.caps }

// Parallelism returns the configured maximum parallelism: 0 for none, -1 for unlimited.
func (e *Engine) Parallelism() int { return e.opts.parallelism }

// Kernel returns the kernel the engine uses for the dtype pair. The selection is done once
// per pair and cached.
func (e *Engine) Kernel(pair kernels.DTypePair) (kernels.Descriptor, error) {
	return e.selectKernel(selectionKey{pair: pair})
}

// MatVecKernel returns the kernel the engine uses for products of the dtype pair with a single
// output column. It is a matrix-vector kernel if one is available, see kernels.SelectMatVec.
func (e *Engine) MatVecKernel(pair kernels.DTypePair) (kernels.Descriptor, error) {
	return e.selectKernel(selectionKey{pair: pair, matVec: true})
}

type selectionKey struct {
	pair   kernels.DTypePair
	matVec bool
}

func (e *Engine) selectKernel(key selectionKey) (kernels.Descriptor, error) {
	if desc, found := e.selections.Load(key); found {
		return desc.(kernels.Descriptor), nil
	}
	var desc kernels.Descriptor
	forced := false
	if e.opts.forcedKernel != "" {
		desc, forced = kernels.Lookup(key.pair, e.opts.forcedKernel)
	}
	if !forced {
		var err error
		if key.matVec {
			desc, err = kernels.SelectMatVec(key.pair, e.opts.caps)
		} else {
			desc, err = kernels.Select(key.pair, e.opts.caps)
		}
		if err != nil {
			return kernels.Descriptor{}, err
		}
	}
	actual, loaded := e.selections.LoadOrStore(key, desc)
	if !loaded {
		klog.V(1).Infof("matmul: selected kernel %s for %s (forced=%v)", desc, key.pair, forced)
		if forced && !desc.Requires.IsSubsetOf(e.opts.caps) {
			klog.Warningf("matmul: forced kernel %s requires cpu features not in %s", desc, e.opts.caps)
		}
	}
	return actual.(kernels.Descriptor), nil
}

type scratchKey struct {
	dtype  dtypes.DType
	length int
}

// getScratch returns a buffer of exactly length elements, with undefined contents.
// It must be returned with putScratch.
func getScratch[T dtypes.Supported](e *Engine, length int) *[]T {
	key := scratchKey{dtype: dtypes.FromGenericsType[T](), length: length}
	poolAny, found := e.scratchPools.Load(key)
	if !found {
		poolAny, _ = e.scratchPools.LoadOrStore(key, &sync.Pool{
			New: func() any {
				klog.V(2).Infof("matmul: allocating %s scratch buffer of %d elements (%s)",
					key.dtype, length, humanize.Bytes(uint64(length*key.dtype.Size())))
				buf := make([]T, length)
				return &buf
			},
		})
	}
	return poolAny.(*sync.Pool).Get().(*[]T)
}

func putScratch[T dtypes.Supported](e *Engine, buf *[]T) {
	key := scratchKey{dtype: dtypes.FromGenericsType[T](), length: len(*buf)}
	if poolAny, found := e.scratchPools.Load(key); found {
		poolAny.(*sync.Pool).Put(buf)
	}
}
