// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cpufeatures reports the instruction-set extensions of the host CPU that matter for
// selecting matmul micro-kernels.
//
// Detect is computed once per process and never fails: on unknown architectures, or when the
// environment variable PACKMM_NO_SIMD is set to a non-empty value, it returns the empty Set, which
// makes the engine use only the generic kernels.
package cpufeatures

import (
	"math/bits"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Feature is one instruction-set extension.
type Feature uint8

const (
	SSE41 Feature = iota
	AVX
	AVX2
	FMA
	AVX512F
	AVX512BW
	AVX512VL
	AVX512VNNI
	AVX512BF16

	// ASIMD is the ARM "Advanced SIMD" extension, also known as NEON.
	ASIMD
	// ASIMDDP is the ARM dot-product extension (SDOT/UDOT).
	ASIMDDP
	// ASIMDHP is the ARM half-precision arithmetic extension.
	ASIMDHP
	SVE
	SVE2

	numFeatures
)

var featureNames = [numFeatures]string{
	SSE41:      "sse4.1",
	AVX:        "avx",
	AVX2:       "avx2",
	FMA:        "fma",
	AVX512F:    "avx512f",
	AVX512BW:   "avx512bw",
	AVX512VL:   "avx512vl",
	AVX512VNNI: "avx512vnni",
	AVX512BF16: "avx512bf16",
	ASIMD:      "asimd",
	ASIMDDP:    "asimddp",
	ASIMDHP:    "asimdhp",
	SVE:        "sve",
	SVE2:       "sve2",
}

// featureAliases are accepted by ParseFeature on top of featureNames.
var featureAliases = map[string]Feature{
	"sse41":   SSE41,
	"neon":    ASIMD,
	"dotprod": ASIMDDP,
	"fp16":    ASIMDHP,
}

// String implements fmt.Stringer.
func (f Feature) String() string {
	if f < numFeatures {
		return featureNames[f]
	}
	return "unknown_feature"
}

// ParseFeature converts a feature name (case-insensitive) to a Feature.
func ParseFeature(name string) (Feature, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, fName := range featureNames {
		if fName == name {
			return Feature(f), nil
		}
	}
	if f, found := featureAliases[name]; found {
		return f, nil
	}
	return 0, errors.Errorf("unknown cpu feature %q", name)
}

// Set is an immutable set of Features. The zero value is the empty set.
type Set uint64

// Of returns the Set with the given features.
func Of(features ...Feature) Set {
	var s Set
	for _, f := range features {
		s = s.With(f)
	}
	return s
}

// Has returns whether f is in the set.
func (s Set) Has(f Feature) bool {
	return s&(1<<f) != 0
}

// With returns a copy of the set with f added.
func (s Set) With(f Feature) Set {
	return s | 1<<f
}

// Union returns the features present in either set.
func (s Set) Union(other Set) Set {
	return s | other
}

// IsSubsetOf returns whether every feature of s is also in other.
// The empty set is a subset of everything.
func (s Set) IsSubsetOf(other Set) bool {
	return s&^other == 0
}

// Len returns the number of features in the set.
func (s Set) Len() int {
	return bits.OnesCount64(uint64(s))
}

// Features returns the features in the set, in enum order.
func (s Set) Features() []Feature {
	features := make([]Feature, 0, s.Len())
	for f := range numFeatures {
		if s.Has(f) {
			features = append(features, f)
		}
	}
	return features
}

// Names returns the names of the features in the set, in enum order.
func (s Set) Names() []string {
	features := s.Features()
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = f.String()
	}
	return names
}

// String implements fmt.Stringer. The format is the one accepted by ParseSet.
func (s Set) String() string {
	if s == 0 {
		return "none"
	}
	return strings.Join(s.Names(), "+")
}

// ParseSet parses a list of feature names separated by "," or "+", as in "avx2+fma".
// The empty string and "none" return the empty set.
func ParseSet(list string) (Set, error) {
	var s Set
	list = strings.TrimSpace(list)
	if list == "" || strings.ToLower(list) == "none" {
		return s, nil
	}
	for _, part := range strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == '+' }) {
		f, err := ParseFeature(part)
		if err != nil {
			return 0, errors.WithMessagef(err, "while parsing cpu features %q", list)
		}
		s = s.With(f)
	}
	return s, nil
}

// NoSIMDEnv is the name of the environment variable that, if set to a non-empty value,
// disables all specialized kernels.
const NoSIMDEnv = "PACKMM_NO_SIMD"

// Detect returns the features of the host CPU. The result is computed once and cached.
var Detect = sync.OnceValue(func() Set {
	if v := os.Getenv(NoSIMDEnv); v != "" {
		klog.V(1).Infof("cpufeatures: %s=%q set, using no cpu features", NoSIMDEnv, v)
		return 0
	}
	s := detectArch()
	klog.V(1).Infof("cpufeatures: detected %s", s)
	return s
})
