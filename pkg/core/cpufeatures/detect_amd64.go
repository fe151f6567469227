//go:build amd64

package cpufeatures

import "golang.org/x/sys/cpu"

func detectArch() Set {
	var s Set
	add := func(has bool, f Feature) {
		if has {
			s = s.With(f)
		}
	}
	add(cpu.X86.HasSSE41, SSE41)
	add(cpu.X86.HasAVX, AVX)
	add(cpu.X86.HasAVX2, AVX2)
	add(cpu.X86.HasFMA, FMA)
	if cpu.X86.HasAVX512 {
		add(cpu.X86.HasAVX512F, AVX512F)
		add(cpu.X86.HasAVX512BW, AVX512BW)
		add(cpu.X86.HasAVX512VL, AVX512VL)
		add(cpu.X86.HasAVX512VNNI, AVX512VNNI)
		add(cpu.X86.HasAVX512BF16, AVX512BF16)
	}
	return s
}
