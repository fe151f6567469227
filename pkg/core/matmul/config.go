// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matmul

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/gomlx/packmm/pkg/core/cpufeatures"
	"github.com/pkg/errors"
)

// ConfigEnv is the environment variable with the configuration used by NewDefault.
//
// See New for the format of the configuration string.
const ConfigEnv = "PACKMM_CONFIG"

// DefaultConfig is used by NewDefault if ConfigEnv is not set.
var DefaultConfig string

// options parsed from a configuration string.
type options struct {
	parallelism  int
	caps         cpufeatures.Set
	forcedKernel string
	noPrepack    bool
}

// parseConfig parses the comma-separated list of options described in New.
func parseConfig(config string) (options, error) {
	opts := options{
		parallelism: runtime.NumCPU(),
		caps:        cpufeatures.Detect(),
	}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "parallelism":
			if !hasValue {
				return opts, errors.Errorf("matmul config option %q requires a value, e.g. \"parallelism=4\"", key)
			}
			n, err := strconv.Atoi(value)
			if err != nil || n < -1 {
				return opts, errors.Errorf("matmul config: invalid parallelism %q, it must be an integer >= -1", value)
			}
			opts.parallelism = n
		case "nosimd":
			if hasValue {
				return opts, errors.Errorf("matmul config option %q takes no value", key)
			}
			opts.caps = 0
		case "caps":
			caps, err := cpufeatures.ParseSet(value)
			if err != nil {
				return opts, errors.WithMessage(err, "matmul config option \"caps\"")
			}
			opts.caps = caps
		case "kernel":
			if value == "" {
				return opts, errors.Errorf("matmul config option %q requires a kernel name, e.g. \"kernel=generic\"", key)
			}
			opts.forcedKernel = value
		case "noprepack":
			if hasValue {
				return opts, errors.Errorf("matmul config option %q takes no value", key)
			}
			opts.noPrepack = true
		default:
			return opts, errors.Errorf("unknown matmul config option %q in %q: valid options are "+
				"parallelism=<n>, nosimd, caps=<f1+f2...>, kernel=<name> and noprepack", part, config)
		}
	}
	return opts, nil
}
