// Package engine wires the backtrace index, the interval recorder and
// the allocation shim together behind a single lock, exposing the
// operations the monitor and the traced program's allocation calls
// actually need.
package engine

import (
	"sync"
	"time"

	"github.com/go-memleak/memleak/internal/accounting"
	"github.com/go-memleak/memleak/internal/allocator"
	"github.com/go-memleak/memleak/internal/resolver"
)

// Config controls how large an Engine's bootstrap arena is before a real
// UnderlyingAllocator is installed and at how many distinct backtraces
// BacktracesLimitHit turns true. MaxBacktraceDepth is not read: Capture
// always records up to accounting.MaxBacktraceSize frames.
type Config struct {
	MaxBacktraceDepth  int
	BootstrapArenaSize int
	MaxBacktraces      int // 0 means unlimited
}

// DefaultConfig returns the configuration the reference tool ships with.
func DefaultConfig() Config {
	return Config{
		MaxBacktraceDepth:  accounting.MaxBacktraceSize,
		BootstrapArenaSize: 2 * 1024,
		MaxBacktraces:      0,
	}
}

// Engine is the accounting system's single point of entry: every
// allocation, deregistration and recorder control command passes through
// it while holding mu, matching the reference implementation's single
// global mutex over all bookkeeping state.
type Engine struct {
	cfg Config

	mu       sync.Mutex
	index    *accounting.Index
	recorder accounting.Recorder
	shim     *allocator.Shim
	resolver resolver.Resolver

	start time.Time
	flags reentrance

	backtracesLimitHit bool
}

// New creates an Engine in bootstrap phase; call Start once an
// UnderlyingAllocator and Resolver are ready.
func New(cfg Config, res resolver.Resolver) *Engine {
	return &Engine{
		cfg:      cfg,
		index:    accounting.NewIndex(),
		shim:     allocator.NewShim(cfg.BootstrapArenaSize),
		resolver: res,
		start:    time.Now(),
		flags:    newReentrance(),
	}
}

// Start resolves the engine out of bootstrap phase: it installs the real
// UnderlyingAllocator and initialises the resolver, mirroring
// init_malloc_function_pointers()'s handoff in the reference
// implementation.
func (e *Engine) Start(underlying allocator.UnderlyingAllocator) error {
	if err := e.resolver.Init(); err != nil {
		return err
	}
	return e.shim.Install(underlying)
}

// clock returns whole seconds since the engine started, the unit every
// interval boundary in this package is expressed in.
func (e *Engine) clock() int64 {
	return int64(time.Since(e.start) / time.Second)
}

// Token is the handle returned by Malloc, Calloc and PosixMemalign and
// consumed by Free and Realloc; it bundles the user-visible payload with the bookkeeping
// the engine needs to find its way back to the right backtrace entry.
type Token struct {
	Alloc  *allocator.Allocation
	header *accounting.Header
	entry  *accounting.Entry
}

// Malloc allocates size bytes and attributes them to the caller's
// backtrace, captured with skip frames elided (skip follows the
// runtime.Callers convention: 0 means Malloc itself).
func (e *Engine) Malloc(size uintptr, skip int) (*Token, error) {
	if e.flags.insideAccounting() {
		a, err := e.shim.Malloc(size)
		if err != nil {
			return nil, err
		}
		return &Token{Alloc: a}, nil
	}
	e.flags.enterAccounting()
	defer e.flags.leaveAccounting()

	a, err := e.shim.Malloc(size)
	if err != nil {
		return nil, err
	}
	pcs := Capture(skip + 1)
	return e.register(a, pcs), nil
}

// Calloc is Malloc's zeroing counterpart.
func (e *Engine) Calloc(nmemb, size uintptr, skip int) (*Token, error) {
	if e.flags.insideAccounting() {
		a, err := e.shim.Calloc(nmemb, size)
		if err != nil {
			return nil, err
		}
		return &Token{Alloc: a}, nil
	}
	e.flags.enterAccounting()
	defer e.flags.leaveAccounting()

	a, err := e.shim.Calloc(nmemb, size)
	if err != nil {
		return nil, err
	}
	pcs := Capture(skip + 1)
	return e.register(a, pcs), nil
}

// PosixMemalign is Malloc's aligned counterpart.
func (e *Engine) PosixMemalign(alignment, size uintptr, skip int) (*Token, error) {
	e.flags.enterAccounting()
	defer e.flags.leaveAccounting()

	a, err := e.shim.PosixMemalign(alignment, size)
	if err != nil {
		return nil, err
	}
	pcs := Capture(skip + 1)
	tok := e.register(a, pcs)
	if tok.header != nil {
		tok.header.PosixMemalignOffset = a.AlignOffset
	}
	return tok, nil
}

func (e *Engine) register(a *allocator.Allocation, pcs []uintptr) *Token {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := e.index.Intern(pcs)
	if e.cfg.MaxBacktraces > 0 && int(e.index.Count()) >= e.cfg.MaxBacktraces {
		e.backtracesLimitHit = true
	}
	h := &accounting.Header{
		Size:      uintptr(len(a.Data)),
		Time:      e.clock(),
		Backtrace: entry,
	}
	accounting.LinkAllocation(entry, h)
	e.recorder.Attribute(entry, h)

	return &Token{Alloc: a, header: h, entry: entry}
}

// Realloc resizes tok's allocation in place (from the engine's point of
// view: deregister the old header, reallocate, register a fresh one
// under a newly captured backtrace). On failure tok is left exactly as
// it was: still live, still attributed to its original backtrace.
func (e *Engine) Realloc(tok *Token, newSize uintptr, skip int) (*Token, error) {
	if tok == nil || tok.header == nil {
		a, err := e.shim.Realloc(tokAlloc(tok), newSize)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, nil
		}
		return &Token{Alloc: a}, nil
	}

	e.deregister(tok)
	next, err := e.shim.Realloc(tok.Alloc, newSize)
	if err != nil {
		// realloc(3) leaves the original block untouched on failure; the
		// reference implementation reverts its own del() by re-add()ing
		// the header. Scenario 5 requires the original pointer to remain
		// live and reported under its *original* backtrace, so tok.entry
		// (never cleared by deregister) is reused rather than capturing a
		// fresh one — tok itself is handed back so the caller keeps a
		// valid handle to it.
		e.reregister(tok)
		return tok, err
	}
	if next == nil {
		return nil, nil
	}
	pcs := Capture(skip + 1)
	return e.register(next, pcs), nil
}

// reregister restores tok.header to live state under its original entry
// after a failed Realloc, the same bookkeeping register() performs for a
// brand new allocation minus the backtrace capture and interning.
func (e *Engine) reregister(tok *Token) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tok.header.Magic = accounting.MagicLive
	accounting.LinkAllocation(tok.entry, tok.header)
	e.recorder.Attribute(tok.entry, tok.header)
	tok.entry.Allocations++
}

func tokAlloc(tok *Token) *allocator.Allocation {
	if tok == nil {
		return nil
	}
	return tok.Alloc
}

// Free deregisters tok (if it carries accounting state) and releases its
// memory back through the shim.
func (e *Engine) Free(tok *Token) {
	if tok == nil {
		return
	}
	e.deregister(tok)
	e.shim.Free(tok.Alloc)
}

func (e *Engine) deregister(tok *Token) {
	if tok.header == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	// Interval bookkeeping must see tok.header.Prev/Next before the live
	// list unlink clears them, matching the reference del()'s ordering:
	// update_interval_del() runs before the prev/next unlink splice.
	accounting.Deregister(tok.entry, tok.header)
	accounting.UnlinkAllocation(tok.header)
	tok.header.Magic = accounting.MagicFreed
	tok.entry.Allocations--
}

// StartRecording, StopRecording, RestartRecording and DeleteOldest
// forward to the shared Recorder under the engine's lock, the Go
// analogue of the reference monitor's interval_start_recording family.
func (e *Engine) StartRecording() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder.Start(e.index, e.clock())
}

func (e *Engine) StopRecording() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder.Stop(e.index, e.clock())
}

func (e *Engine) RestartRecording() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder.Restart(e.index, e.clock())
}

func (e *Engine) DeleteOldest(cutoff int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder.DeleteOldest(e.index, cutoff)
}

// IsRecording reports whether the recorder currently has an open epoch.
func (e *Engine) IsRecording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recorder.Recording
}

// Snapshot returns every interned backtrace entry, scored and ranked,
// for the report package to format. It is the only way outside this
// package to see entry state, keeping accounting.Entry pointers from
// escaping unsynchronised.
func (e *Engine) Snapshot() []*accounting.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, entry := range e.index.Entries() {
		accounting.CombineAndScore(entry)
	}
	e.index.SortByValueN()

	out := make([]*accounting.Entry, 0, e.index.Count())
	for entry := e.index.FirstRank(); entry != nil; entry = entry.NextRank {
		out = append(out, entry)
	}
	return out
}

// Resolver exposes the configured symbol resolver to the report package.
func (e *Engine) Resolver() resolver.Resolver { return e.resolver }

// Clock exposes the engine's seconds-since-start clock to the monitor,
// which needs it to compute delete-oldest cutoffs.
func (e *Engine) Clock() int64 { return e.clock() }

// BacktracesLimitHit reports whether Config.MaxBacktraces has ever been
// reached. It is informational only: the engine keeps accounting for
// every distinct backtrace regardless, since refusing to track a
// backtrace once a cap is hit would itself hide a leak.
func (e *Engine) BacktracesLimitHit() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backtracesLimitHit
}
