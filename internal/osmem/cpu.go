package osmem

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// Features are the CPU capabilities the allocator cares about.
type Features struct {
	ERMS         bool // fast REP MOVSB/STOSB, used for block copies and zeroing
	AVX2         bool
	ARM64Atomics bool // LSE atomics
	CacheLine    int
}

// DetectCPU probes the CPU once and caches the result.
func (sys *System) DetectCPU() {
	if sys.features.Load() != nil {
		return
	}
	f := &Features{
		ERMS:         cpu.X86.HasERMS,
		AVX2:         cpu.X86.HasAVX2,
		ARM64Atomics: cpu.ARM64.HasATOMICS,
		CacheLine:    int(unsafe.Sizeof(cpu.CacheLinePad{})),
	}
	sys.features.CompareAndSwap(nil, f)
}

// Features returns the probed CPU features, or the zero value before DetectCPU.
func (sys *System) Features() Features {
	if f := sys.features.Load(); f != nil {
		return *f
	}
	return Features{}
}
