//go:build heapdebug

package heap

// debugBuild turns logic faults into panics.
const debugBuild = true
