//go:build linux

package dc

import "golang.org/x/sys/unix"

// setThreadAffinity pins the calling OS thread to the given CPU core. The
// caller must have already called runtime.LockOSThread so the pin applies
// to a thread the goroutine will keep running on.
func setThreadAffinity(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}
