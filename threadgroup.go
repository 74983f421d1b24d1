package dc

import (
	"log/slog"
	"runtime"
	"sync"
)

// threadGroup spawns and tracks a set of long-running goroutines and lets
// Join wait for all of them to return. A Control instance keeps two
// instances — one for its per-peer send_loops, one for its receivers and
// accept loop — so Shutdown can join the former (letting sends drain over
// a still-live socket) before closing sockets and joining the latter;
// together the two cover the "2*N+2 long-running threads" spec.md §5
// describes. Join blocks until every goroutine started with Go or
// GoPinned has returned, giving Control.Shutdown its "every thread
// spawned by the transport has joined" guarantee (spec.md §8 invariant 3).
//
// This re-models the source's "self-deleting runnable" (spec.md §9): a
// goroutine owns its closure by value and its lifetime ends when the
// closure returns, with no separate heap-owned runnable object to free.
type threadGroup struct {
	wg sync.WaitGroup
}

// Go spawns fn as a tracked goroutine. name is used only for log context
// if fn panics.
func (g *threadGroup) Go(name string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("dc: goroutine panicked", "name", name, "panic", r)
			}
		}()
		fn()
	}()
}

// GoPinned spawns fn as a tracked goroutine and attempts to pin its
// underlying OS thread to the given CPU core for the goroutine's entire
// lifetime (spec.md §2 module 2: "Spawn a worker bound to a CPU core").
// Pinning is best-effort: on platforms without an affinity syscall
// (anything but Linux, in this implementation) it degrades to a plain
// goroutine. core < 0 also skips pinning.
func (g *threadGroup) GoPinned(name string, core int, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("dc: pinned goroutine panicked", "name", name, "core", core, "panic", r)
			}
		}()
		if core >= 0 {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			if err := setThreadAffinity(core); err != nil {
				slog.Warn("dc: could not set thread affinity", "name", name, "core", core, "error", err)
			}
		}
		fn()
	}()
}

// Join waits for every goroutine spawned by this group to return.
func (g *threadGroup) Join() {
	g.wg.Wait()
}

// ioCore picks the CPU core a given peer's I/O goroutine should be pinned
// to when pinning is enabled, spreading peers round-robin across the
// machine's cores. Returns -1 (no pinning) when pinEnabled is false.
func ioCore(pinEnabled bool, target ProcID) int {
	if !pinEnabled {
		return -1
	}
	n := runtime.NumCPU()
	if n <= 0 {
		return -1
	}
	return int(target) % n
}
