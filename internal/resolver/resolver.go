// Package resolver turns raw program-counter backtraces into human
// readable call stacks. It is the one external collaborator the
// accounting engine never reaches into directly: everything it needs is
// expressed through the Resolver interface, so the engine's hot path
// never pays for symbolication.
package resolver

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
)

// Frame is one resolved stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
	PC       uintptr
}

// Resolver turns backtraces into frames on demand and tracks how often
// that lookup was served from its own cache versus required fresh work,
// mirroring the reference implementation's cache_hit_ratio() diagnostic.
type Resolver interface {
	// Init prepares the resolver for first use; called once before any
	// Resolve call, outside the engine's lock.
	Init() error
	// Resolve returns the frames for pcs, oldest caller first.
	Resolve(pcs []uintptr) []Frame
	// CacheHitRatio reports the fraction of per-PC lookups served without
	// doing fresh symbol-table work, in the range [0, 1].
	CacheHitRatio() float64
}

// Runtime resolves backtraces with runtime.CallersFrames. Since a Go
// binary always carries its own symbol table (no separate-debuginfo or
// position-independent-executable address rebasing to worry about, unlike
// the original tracer's /proc/self/maps heuristics), this is both the
// simplest and the only resolver this package ships: there is no
// ambiguous runtime layout for it to get wrong.
type Runtime struct {
	hits   atomic.Uint64
	misses atomic.Uint64

	mu    sync.Mutex
	cache map[uintptr]Frame
}

// NewRuntime creates a Runtime resolver with an empty per-PC frame cache.
func NewRuntime() *Runtime {
	return &Runtime{cache: make(map[uintptr]Frame)}
}

// Init is a no-op: runtime.CallersFrames needs no setup.
func (r *Runtime) Init() error { return nil }

// Resolve returns one Frame per entry of pcs, in the order given. Callers
// are expected to pass backtraces already in oldest-caller-first order
// (as produced by the engine's capture routine), so Resolve never
// reorders its input.
func (r *Runtime) Resolve(pcs []uintptr) []Frame {
	out := make([]Frame, 0, len(pcs))
	for _, pc := range pcs {
		out = append(out, r.resolveOne(pc))
	}
	return out
}

func (r *Runtime) resolveOne(pc uintptr) Frame {
	r.mu.Lock()
	f, ok := r.cache[pc]
	r.mu.Unlock()
	if ok {
		r.hits.Add(1)
		return f
	}
	r.misses.Add(1)

	frames := runtime.CallersFrames([]uintptr{pc})
	fr, _ := frames.Next()
	f = Frame{
		Function: fr.Function,
		File:     fr.File,
		Line:     fr.Line,
		PC:       pc,
	}
	if f.Function == "" {
		f.Function = fmt.Sprintf("0x%x", pc)
	}

	r.mu.Lock()
	r.cache[pc] = f
	r.mu.Unlock()
	return f
}

// CacheHitRatio returns hits/(hits+misses), or 1 if Resolve has never
// been called.
func (r *Runtime) CacheHitRatio() float64 {
	hits := r.hits.Load()
	misses := r.misses.Load()
	if hits+misses == 0 {
		return 1
	}
	return float64(hits) / float64(hits+misses)
}

// WriteFrames writes frames in the reference tool's backtrace dump
// format, one line per frame, oldest caller first:
//
//	#<frame> <16-hex addr> in <function> at <file>:<line>
//
// A frame the resolver could not place in any file (File == "") falls
// back to just the frame number and raw address, the Go analogue of
// addr2line_print()'s raw backtrace_symbols() fallback when neither the
// DWARF line table nor the range map has an answer.
func WriteFrames(w io.Writer, frames []Frame) {
	for i, f := range frames {
		if f.File == "" {
			fmt.Fprintf(w, " #%d %016x\n", i, f.PC)
			continue
		}
		fmt.Fprintf(w, " #%d %016x in %s at %s:%d\n", i, f.PC, f.Function, f.File, f.Line)
	}
}
