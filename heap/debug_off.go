//go:build !heapdebug

package heap

const debugBuild = false
