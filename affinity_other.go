//go:build !linux

package dc

// setThreadAffinity is a no-op outside Linux; CPU pinning is best-effort
// per spec.md §2 module 2 and no portable affinity syscall exists for the
// other platforms this module targets.
func setThreadAffinity(core int) error {
	return nil
}
