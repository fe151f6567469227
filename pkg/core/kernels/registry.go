// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"cmp"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/packmm/pkg/core/cpufeatures"
	"github.com/pkg/errors"
)

var (
	muRegistry sync.RWMutex

	// registry holds the kernels of each DTypePair, kept sorted in preference order.
	registry = make(map[DTypePair][]Descriptor)
)

// Register a micro-kernel. It is meant to be called from init() functions, and the registry
// is append only.
//
// It panics if the descriptor is malformed: empty name, non-positive tile, negative MaxK,
// an Fn that is not a KernelFn of the descriptor's DTypes, or a name already registered for
// the same DTypePair.
func Register(desc Descriptor) {
	if desc.Name == "" {
		exceptions.Panicf("kernels.Register: kernel for %s has no name", desc.DTypes)
	}
	if desc.Tile.MR <= 0 || desc.Tile.NR <= 0 {
		exceptions.Panicf("kernels.Register: kernel %q for %s has invalid tile %s", desc.Name, desc.DTypes, desc.Tile)
	}
	if desc.MatVec && desc.Tile.NR != 1 {
		exceptions.Panicf("kernels.Register: matrix-vector kernel %q for %s has tile %s, NR must be 1", desc.Name, desc.DTypes, desc.Tile)
	}
	if desc.MaxK < 0 {
		exceptions.Panicf("kernels.Register: kernel %q for %s has negative MaxK=%d", desc.Name, desc.DTypes, desc.MaxK)
	}
	if !fnMatchesDTypes(desc) {
		exceptions.Panicf("kernels.Register: kernel %q for %s has Fn of type %T", desc.Name, desc.DTypes, desc.Fn)
	}

	muRegistry.Lock()
	defer muRegistry.Unlock()
	list := registry[desc.DTypes]
	if slices.ContainsFunc(list, func(d Descriptor) bool { return d.Name == desc.Name }) {
		exceptions.Panicf("kernels.Register: kernel %q already registered for %s", desc.Name, desc.DTypes)
	}
	list = append(list, desc)
	slices.SortStableFunc(list, compareDescriptors)
	registry[desc.DTypes] = list
}

// compareDescriptors defines the total order of preference among kernels of the same DTypePair:
// higher Priority first, then more required features, then larger tile area, then Name.
func compareDescriptors(a, b Descriptor) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Requires.Len(), a.Requires.Len()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Tile.Area(), a.Tile.Area()); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

// Select returns the preferred kernel for the pair among those whose required features are all
// in caps. Matrix-vector kernels are not considered.
//
// The generic fallback qualifies for any caps, so an error is only returned if the pair has no
// kernels at all (it wraps ErrNoKernel) or, in a misconfigured build, lacks its fallback.
func Select(pair DTypePair, caps cpufeatures.Set) (Descriptor, error) {
	muRegistry.RLock()
	defer muRegistry.RUnlock()
	list := registry[pair]
	if len(list) == 0 {
		return Descriptor{}, errors.Wrapf(ErrNoKernel, "dtypes %s", pair)
	}
	if desc, found := selectLocked(list, caps, false); found {
		return desc, nil
	}
	return Descriptor{}, errors.Wrapf(ErrNoKernel, "dtypes %s has no kernel for cpu features %q", pair, caps)
}

// SelectMatVec is like Select for products with a single output column: it returns the preferred
// matrix-vector kernel that qualifies for caps, or Select's choice if there is none.
func SelectMatVec(pair DTypePair, caps cpufeatures.Set) (Descriptor, error) {
	muRegistry.RLock()
	desc, found := selectLocked(registry[pair], caps, true)
	muRegistry.RUnlock()
	if found {
		return desc, nil
	}
	return Select(pair, caps)
}

func selectLocked(list []Descriptor, caps cpufeatures.Set, matVec bool) (Descriptor, bool) {
	for _, desc := range list {
		if desc.MatVec == matVec && desc.Requires.IsSubsetOf(caps) {
			return desc, true
		}
	}
	return Descriptor{}, false
}

// MustSelect is like Select, but panics on error.
func MustSelect(pair DTypePair, caps cpufeatures.Set) Descriptor {
	desc, err := Select(pair, caps)
	if err != nil {
		panic(err)
	}
	return desc
}

// Lookup returns the kernel registered under the given name for the pair, regardless of CPU features.
func Lookup(pair DTypePair, name string) (Descriptor, bool) {
	muRegistry.RLock()
	defer muRegistry.RUnlock()
	for _, desc := range registry[pair] {
		if desc.Name == name {
			return desc, true
		}
	}
	return Descriptor{}, false
}

// ForDTypes returns all kernels registered for the pair, in order of preference.
func ForDTypes(pair DTypePair) []Descriptor {
	muRegistry.RLock()
	defer muRegistry.RUnlock()
	return slices.Clone(registry[pair])
}

// DTypePairs returns the pairs with registered kernels, sorted by input and then output dtype.
func DTypePairs() []DTypePair {
	muRegistry.RLock()
	defer muRegistry.RUnlock()
	pairs := make([]DTypePair, 0, len(registry))
	for pair := range registry {
		pairs = append(pairs, pair)
	}
	slices.SortFunc(pairs, func(a, b DTypePair) int {
		if c := cmp.Compare(a.Input, b.Input); c != 0 {
			return c
		}
		return cmp.Compare(a.Output, b.Output)
	})
	return pairs
}

// CheckFallbacks returns an error listing the pairs that have no kernel without CPU requirements.
func CheckFallbacks() error {
	var missing []DTypePair
	for _, pair := range DTypePairs() {
		if _, err := Select(pair, 0); err != nil {
			missing = append(missing, pair)
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("kernels: dtype pairs without a generic fallback kernel: %v", missing)
	}
	return nil
}
