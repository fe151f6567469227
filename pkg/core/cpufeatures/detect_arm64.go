//go:build arm64

package cpufeatures

import "golang.org/x/sys/cpu"

func detectArch() Set {
	var s Set
	add := func(has bool, f Feature) {
		if has {
			s = s.With(f)
		}
	}
	// ASIMD is part of ARMv8-A, but it is still checked.
	add(cpu.ARM64.HasASIMD, ASIMD)
	add(cpu.ARM64.HasASIMDDP, ASIMDDP)
	add(cpu.ARM64.HasASIMDHP, ASIMDHP)
	add(cpu.ARM64.HasSVE, SVE)
	add(cpu.ARM64.HasSVE2, SVE2)
	return s
}
