package fbgemm

import (
	"golang.org/x/sys/cpu"
)

// CPUFeatures tracks the instruction set extensions that matter for tile
// sizing on the CPU backend
type CPUFeatures struct {
	HasAVX     bool
	HasAVX2    bool
	HasAVX512F bool
	HasFMA     bool
	HasNEON    bool
}

// Global CPU feature detection
var cpuFeatures CPUFeatures

func init() {
	detectCPUFeatures()
}

// detectCPUFeatures populates the global cpuFeatures struct
func detectCPUFeatures() {
	cpuFeatures = CPUFeatures{
		HasAVX:     cpu.X86.HasAVX,
		HasAVX2:    cpu.X86.HasAVX2,
		HasAVX512F: cpu.X86.HasAVX512F,
		HasFMA:     cpu.X86.HasFMA,
		HasNEON:    cpu.ARM64.HasASIMD,
	}
}

// hasWideVectors reports whether the host has vector units wide enough that
// the large accumulator tiles stay profitable. Hosts without them get the
// smaller tile shapes from the search grid.
func hasWideVectors() bool {
	return (cpuFeatures.HasAVX2 && cpuFeatures.HasFMA) ||
		cpuFeatures.HasAVX512F ||
		cpuFeatures.HasNEON
}

// deviceName labels the CPU device with its vector capability
func deviceName() string {
	switch {
	case cpuFeatures.HasAVX512F:
		return "CPU (AVX-512)"
	case cpuFeatures.HasAVX2:
		return "CPU (AVX2)"
	case cpuFeatures.HasNEON:
		return "CPU (NEON)"
	default:
		return "CPU"
	}
}
