//go:build !darwin

package threadpolicy

// Apply is a no-op on platforms without a real-time time-constraint
// scheduling policy. Workers still run, just under the default scheduler.
func Apply(tc TimeConstraint) error {
	return nil
}

// SetName is a no-op on platforms without a thread-naming syscall binding.
func SetName(name string) error {
	return nil
}

// CurrentCPU always reports unknown on platforms without a cheap way to
// read back the running CPU core, matching the Darwin stub's -1 sentinel
// so callers never have to special-case platform support.
func CurrentCPU() int {
	return -1
}

// lockWorkerThread is a no-op restorer: without a platform thread policy
// to keep attached, there is nothing worth pinning the goroutine for.
func lockWorkerThread() func() {
	return func() {}
}
