// Package memleak is a leak-detecting allocation tracer: it attributes
// every live allocation to its call stack, buckets live time into a
// logarithmic sequence of intervals per backtrace, and ranks backtraces
// by how leak-like their allocation history looks. A host program
// embeds it by calling Start, wrapping its own allocation call sites
// with the returned Tracer's Malloc/Calloc/Realloc/Free/PosixMemalign,
// and serving a Unix-domain control socket an operator can connect to
// with memleakctl.
package memleak

import (
	"context"
	"sync"

	"github.com/go-memleak/memleak/internal/allocator"
	"github.com/go-memleak/memleak/internal/config"
	"github.com/go-memleak/memleak/internal/engine"
	"github.com/go-memleak/memleak/internal/monitor"
	"github.com/go-memleak/memleak/internal/resolver"
)

// Config selects the tracer's tunables. The control socket path (unless
// Sockname is set) and the monitor's timing always come from the
// environment via config.FromEnv, the same defaults memleakd uses; the
// fields below have no environment counterpart.
type Config struct {
	// Sockname overrides LIBMEMLEAK_SOCKNAME when non-empty.
	Sockname string
	// Underlying provides real memory for traced allocations once
	// bootstrap completes. A nil Underlying uses allocator.System.
	Underlying allocator.UnderlyingAllocator
	// Resolver resolves backtraces to source frames. A nil Resolver
	// uses resolver.NewRuntime().
	Resolver resolver.Resolver
	// StartRecording begins recording immediately instead of waiting
	// for an operator to send "start" over the control socket.
	StartRecording bool
}

// Tracer is a running instance of the accounting engine and its control
// socket monitor.
type Tracer struct {
	eng *engine.Engine
	mon *monitor.Monitor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start builds and launches a Tracer: the accounting engine is put into
// steady state and the control socket's accept loop and periodic
// reporting timer are started in a background goroutine. Call Stop to
// shut both down.
func Start(cfg Config) (*Tracer, error) {
	envCfg := config.FromEnv()
	if cfg.Sockname != "" {
		envCfg.Sockname = cfg.Sockname
	}

	res := cfg.Resolver
	if res == nil {
		res = resolver.NewRuntime()
	}
	underlying := cfg.Underlying
	if underlying == nil {
		underlying = allocator.System{}
	}

	eng := engine.New(engine.DefaultConfig(), res)
	if err := eng.Start(underlying); err != nil {
		return nil, err
	}
	if cfg.StartRecording {
		eng.StartRecording()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracer{eng: eng, mon: monitor.New(eng, envCfg), cancel: cancel}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		_ = t.mon.Run(ctx)
	}()

	return t, nil
}

// Stop shuts the control socket down and waits for its goroutine to
// exit. It does not affect allocations already registered; their
// accounting state is simply abandoned along with the Tracer.
func (t *Tracer) Stop() {
	t.cancel()
	t.wg.Wait()
}

// Malloc, Calloc, Realloc, Free and PosixMemalign forward to the
// underlying engine, capturing the caller's backtrace (skip=2 elides
// the engine method's frame and this forwarding frame so the reported
// call stack starts at the host program's own call site).
func (t *Tracer) Malloc(size uintptr) (*engine.Token, error) { return t.eng.Malloc(size, 2) }

func (t *Tracer) Calloc(nmemb, size uintptr) (*engine.Token, error) {
	return t.eng.Calloc(nmemb, size, 2)
}

func (t *Tracer) Realloc(tok *engine.Token, newSize uintptr) (*engine.Token, error) {
	return t.eng.Realloc(tok, newSize, 2)
}

func (t *Tracer) Free(tok *engine.Token) { t.eng.Free(tok) }

func (t *Tracer) PosixMemalign(alignment, size uintptr) (*engine.Token, error) {
	return t.eng.PosixMemalign(alignment, size, 2)
}

// Engine exposes the underlying engine for callers that want direct
// access to StartRecording/StopRecording/Snapshot without going through
// the control socket (e.g. driving recording state from application
// logic, or embedding a custom report endpoint).
func (t *Tracer) Engine() *engine.Engine { return t.eng }
