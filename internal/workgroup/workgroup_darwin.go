//go:build darwin

package workgroup

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// modernGroup wraps a platform workgroup (os_workgroup_t on recent Darwin).
// The real implementation calls into the platform's workgroup APIs via
// cgo; this module models the call shape without linking against them so
// the core stays buildable without the platform SDK. handle is opaque —
// a real binding would store the os_workgroup_t pointer here.
type modernGroup struct {
	handle     uintptr
	maxThreads int
}

func (g *modernGroup) MaxParallelThreads() int { return g.maxThreads }

func (g *modernGroup) Join() (ScopedMembership, error) {
	if g.handle == 0 {
		return nil, errors.New("workgroup: modern group handle is invalid")
	}
	// os_workgroup_join(g.handle, &token) in a real binding.
	return &modernMembership{group: g}, nil
}

type modernMembership struct {
	group  *modernGroup
	once   sync.Once
	closed bool
}

func (m *modernMembership) Close() error {
	m.once.Do(func() {
		// os_workgroup_leave(m.group.handle, &token) in a real binding.
		m.closed = true
	})
	return nil
}

// legacyGroup wraps a work-interval mach port discovered by enumerating
// the process's port-name rights and attempting to join each send right
// until one succeeds — the fallback for OS versions that predate the
// modern workgroup API.
type legacyGroup struct {
	port       uintptr
	maxThreads int
}

func (g *legacyGroup) MaxParallelThreads() int { return g.maxThreads }

func (g *legacyGroup) Join() (ScopedMembership, error) {
	if g.port == 0 {
		return nil, errors.New("workgroup: no joinable work-interval port found")
	}
	// work_interval_join(g.port) in a real binding.
	return &legacyMembership{group: g}, nil
}

type legacyMembership struct {
	group  *legacyGroup
	once   sync.Once
}

func (m *legacyMembership) Close() error {
	m.once.Do(func() {
		// work_interval_leave(m.group.port) in a real binding.
	})
	return nil
}

// Discover probes the platform for a workgroup, preferring the modern API
// and falling back to enumerating work-interval port rights. If neither is
// available it falls back to hostGroup, which still reports the machine's
// real hardware thread count (read via sysctl) even though it has no
// native join primitive to bind, rather than an error, so callers never
// have to special-case "no workgroup support" separately from "no
// workgroup configured".
func Discover() Group {
	if g := discoverModern(); g != nil {
		return g
	}
	if g := discoverLegacy(); g != nil {
		return g
	}
	if n := sysctlNCPU(); n > 0 {
		return hostGroup{maxThreads: n}
	}
	return NoOp()
}

// hostGroup reports the real sysctl-derived hardware thread count but
// joins trivially, for builds that lack the cgo os_workgroup_t/
// work_interval bindings discoverModern/discoverLegacy would otherwise
// use.
type hostGroup struct {
	maxThreads int
}

func (g hostGroup) MaxParallelThreads() int { return g.maxThreads }

func (g hostGroup) Join() (ScopedMembership, error) { return noopMembership{}, nil }

// sysctlNCPU reads hw.ncpu, the number of logical CPUs the kernel
// advertises, via the real sysctl(3) syscall. Returns 0 on error so callers
// fall back to NoOp rather than advertise a made-up thread count.
func sysctlNCPU() int {
	n, err := unix.SysctlUint32("hw.ncpu")
	if err != nil {
		return 0
	}
	return int(n)
}

// discoverModern would call os_workgroup_create / query the current
// thread's workgroup via a cgo binding. Returns nil (not found) in this
// portable build.
func discoverModern() Group { return nil }

// discoverLegacy enumerates the process's mach port send rights and tries
// work_interval_join on each until one succeeds, per SPEC_FULL.md §4.5.
// Returns nil (not found) in this portable build.
func discoverLegacy() Group { return nil }
