//go:build !linux

package audio

import "runtime"

// PinToCPU locks the calling goroutine to its OS thread. Processor affinity
// is only applied on linux.
func PinToCPU(cpu int) error {
	runtime.LockOSThread()
	return nil
}
