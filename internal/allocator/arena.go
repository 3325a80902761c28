package allocator

import (
	"fmt"

	"github.com/go-memleak/memleak/internal/errors"
)

// reserveBytes and reservePtrs are carved out of the bootstrap arena up
// front so that, the first time the arena would otherwise overflow, there
// is still room left to format and report an assertion message instead of
// silently corrupting adjacent memory. Both reserves collapse to zero
// exactly once, the moment the overflow is detected, mirroring the
// reference implementation's single-shot relaxation in malloc_bootstrap2.
const (
	reserveBytes = 1024
	reservePtrs  = 6
)

// Arena is a fixed-capacity bump allocator used only while the configured
// UnderlyingAllocator is still being installed. It never frees individual
// allocations (free only decrements a live count so the arena can be
// retired once everything handed out of it has been released) and it
// never stores anything that itself contains a Go pointer, so it is safe
// to back with a plain byte slice outside the GC's pointer-scanning path.
type Arena struct {
	heap []byte
	next int

	reserveBytes int
	reservePtrs  int
	live         int
	handed       int
}

// NewArena creates a bootstrap arena of the given capacity plus the fixed
// reserve carved out for the overflow assertion path.
func NewArena(capacity int) *Arena {
	return &Arena{
		heap:         make([]byte, capacity+reserveBytes),
		reserveBytes: reserveBytes,
		reservePtrs:  reservePtrs,
	}
}

// Alloc returns size bytes from the arena, or an error once the arena
// (including its reserve) is exhausted. The first failure permanently
// relaxes the reserve so the error path itself has room to allocate.
func (a *Arena) Alloc(size int) ([]byte, error) {
	if a.handed >= maxArenaHandles-a.reservePtrs || a.next+size > len(a.heap)-a.reserveBytes {
		a.reserveBytes = 0
		a.reservePtrs = 0
		if a.handed >= maxArenaHandles {
			return nil, errors.ArenaExhausted(fmt.Sprintf("%d live handles", a.handed))
		}
		if a.next+size > len(a.heap) {
			return nil, errors.ArenaExhausted(fmt.Sprintf("%d of %d bytes used", a.next, len(a.heap)))
		}
	}
	buf := a.heap[a.next : a.next+size : a.next+size]
	a.next += size
	a.handed++
	a.live++
	return buf, nil
}

// Free retires one arena allocation. It returns true once every handle
// the arena ever gave out has been freed, signalling the caller that it
// is safe to stop routing through the arena at all.
func (a *Arena) Free() (drained bool) {
	a.live--
	return a.live <= 0
}

// maxArenaHandles bounds the number of concurrent bootstrap allocations,
// matching the reference implementation's fixed allocation_ptrs table.
const maxArenaHandles = 8
