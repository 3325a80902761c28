package engine

import "github.com/timandy/routine"

// reentrance guards against the engine recursively accounting for its
// own bookkeeping allocations — e.g. the backtrace capture path or a
// future pooled allocator reaching back into Malloc while already inside
// it. It is the Go analogue of the reference implementation's
// __thread-qualified inside_backtrace/inside_realloc flags: one flag per
// goroutine rather than one per OS thread, via routine.ThreadLocal.
type reentrance struct {
	inside routine.ThreadLocal[bool]
}

func newReentrance() reentrance {
	return reentrance{inside: routine.NewThreadLocalWithInitial[bool](func() bool { return false })}
}

func (r *reentrance) insideAccounting() bool {
	return r.inside.Get()
}

func (r *reentrance) enterAccounting() {
	r.inside.Set(true)
}

func (r *reentrance) leaveAccounting() {
	r.inside.Set(false)
}
