package allocator

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-memleak/memleak/internal/errors"
)

// phase tracks where the Shim is in its bootstrap lifecycle.
type phase int32

const (
	// phaseBootstrap serves every request out of the fixed arena. This is
	// the state a Shim is created in: the real UnderlyingAllocator is not
	// installed yet, mirroring the window in the reference implementation
	// between the very first malloc() call and dlsym(RTLD_NEXT, "malloc")
	// returning.
	phaseBootstrap phase = iota
	// phaseSteady routes every request straight to the installed
	// UnderlyingAllocator. Allocations still outstanding from the arena
	// remain valid and are freed through the arena regardless of phase.
	phaseSteady
)

// UnderlyingAllocator is the real memory source a Shim is installed on
// top of. The default, System, is a thin wrapper over make([]byte, n);
// callers embedding memleak in a larger program may supply their own to
// route traced allocations through a custom arena or pool. Alloc returns
// an error instead of a nil/empty buffer on failure so error kind 2
// (underlying allocator failure) is representable and testable, the Go
// stand-in for libc's malloc returning NULL.
type UnderlyingAllocator interface {
	Alloc(size uintptr) ([]byte, error)
	Free(buf []byte)
}

// System is the default UnderlyingAllocator: ordinary Go-heap buffers,
// reclaimed by the garbage collector once the Shim drops its reference.
// It never fails.
type System struct{}

func (System) Alloc(size uintptr) ([]byte, error) { return make([]byte, size), nil }
func (System) Free([]byte)                        {}

// Allocation is the handle a Shim hands back for one traced allocation.
// Data is the user-visible payload; AlignOffset is non-zero only for
// PosixMemalign results, recording the gap between the underlying buffer
// and the aligned address returned to the caller.
type Allocation struct {
	Data        []byte
	AlignOffset uintptr

	fromArena bool
}

// Shim is the process-wide interposition point every traced Malloc,
// Calloc, Realloc, Free and PosixMemalign call passes through. It exists
// so that accounting bookkeeping performed while an UnderlyingAllocator is
// still being installed (resolving configuration, opening the control
// socket, etc.) has somewhere safe to allocate without depending on that
// not-yet-ready allocator.
type Shim struct {
	ph         atomic.Int32
	underlying UnderlyingAllocator

	mu    sync.Mutex
	arena *Arena
}

// NewShim creates a Shim in the bootstrap phase, backed by an arena of
// the given capacity.
func NewShim(bootstrapCapacity int) *Shim {
	return &Shim{arena: NewArena(bootstrapCapacity)}
}

// Install switches the Shim into steady state, routing all subsequent
// requests to u. It is idempotent-safe to call at most once; a second
// call returns an error rather than silently replacing the allocator
// underneath live allocations.
func (s *Shim) Install(u UnderlyingAllocator) error {
	if !s.ph.CompareAndSwap(int32(phaseBootstrap), int32(phaseSteady)) {
		return fmt.Errorf("allocator: Install called more than once")
	}
	s.underlying = u
	return nil
}

func (s *Shim) phase() phase { return phase(s.ph.Load()) }

// Malloc returns size uninitialised bytes.
func (s *Shim) Malloc(size uintptr) (*Allocation, error) {
	if s.phase() == phaseBootstrap {
		s.mu.Lock()
		buf, err := s.arena.Alloc(int(size))
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return &Allocation{Data: buf, fromArena: true}, nil
	}
	buf, err := s.underlying.Alloc(size)
	if err != nil {
		return nil, errors.AllocatorFailure(err.Error())
	}
	return &Allocation{Data: buf}, nil
}

// Calloc returns nmemb*size zeroed bytes.
func (s *Shim) Calloc(nmemb, size uintptr) (*Allocation, error) {
	a, err := s.Malloc(nmemb * size)
	if err != nil {
		return nil, err
	}
	for i := range a.Data {
		a.Data[i] = 0
	}
	return a, nil
}

// Realloc grows or shrinks a, preserving its leading contents, and
// returns the (possibly new) allocation. On success old has been freed
// and must not be used again; on error old is left untouched and stays
// valid.
func (s *Shim) Realloc(old *Allocation, newSize uintptr) (*Allocation, error) {
	if old == nil {
		return s.Malloc(newSize)
	}
	if newSize == 0 {
		s.Free(old)
		return nil, nil
	}
	next, err := s.Malloc(newSize)
	if err != nil {
		return nil, err
	}
	n := len(old.Data)
	if len(next.Data) < n {
		n = len(next.Data)
	}
	copy(next.Data, old.Data[:n])
	s.Free(old)
	return next, nil
}

// PosixMemalign returns a buffer whose Data slice begins at an address
// that is a multiple of alignment, recording in AlignOffset how many
// bytes of padding were needed. Free does not read AlignOffset: it hands
// the aligned Data slice, not the original padded buffer, to the
// underlying allocator.
func (s *Shim) PosixMemalign(alignment, size uintptr) (*Allocation, error) {
	if alignment == 0 || alignment&(alignment-1) != 0 {
		return nil, errors.InvalidAlignment(alignment)
	}
	raw, err := s.Malloc(size + alignment - 1)
	if err != nil {
		return nil, err
	}
	offset := alignUp(dataAddr(raw.Data), alignment) - dataAddr(raw.Data)
	raw.Data = raw.Data[offset : offset+size : offset+size]
	raw.AlignOffset = offset
	return raw, nil
}

// Free releases a. Arena-backed allocations are returned to the arena's
// live count; steady-state allocations are handed to the underlying
// allocator (a no-op for System, since the GC already owns them).
func (s *Shim) Free(a *Allocation) {
	if a == nil {
		return
	}
	if a.fromArena {
		s.mu.Lock()
		s.arena.Free()
		s.mu.Unlock()
		return
	}
	if s.underlying != nil {
		s.underlying.Free(a.Data)
	}
}

func alignUp(addr, alignment uintptr) uintptr {
	return (addr + alignment - 1) &^ (alignment - 1)
}
