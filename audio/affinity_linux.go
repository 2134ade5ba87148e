//go:build linux

package audio

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinToCPU locks the calling goroutine to its OS thread and restricts that
// thread to one processor. The lock is never released.
func PinToCPU(cpu int) error {
	runtime.LockOSThread()
	if cpu >= runtime.NumCPU() {
		return fmt.Errorf("cpu %d out of range (have %d)", cpu, runtime.NumCPU())
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity cpu %d: %w", cpu, err)
	}
	return nil
}
