// Package accounting holds the core data structures and algorithms of the
// leak-detecting tracer: the allocation header, the backtrace index, the
// per-backtrace live list, and the interval engine. These four pieces are
// kept in one package because each type holds direct, non-owning pointers
// into the others (Header -> Entry, Header -> Interval, Entry -> Interval)
// and splitting them across packages would force either an import cycle
// or interface-based indirection that buys nothing — the coupling mirrors
// the forward-declared C structs in the reference implementation.
package accounting

// Magic distinguishes the state of an allocation's header.
type Magic uint8

const (
	// MagicLive marks a header currently registered with the engine.
	MagicLive Magic = iota
	// MagicFreed marks a header that has been deregistered.
	MagicFreed
	// MagicMeta marks a header allocated by the reporting path itself;
	// it is never linked into any list and is excluded from accounting.
	MagicMeta
)

// Header is the fixed-size record every tracked allocation carries.
//
// Prev/Next form an intrusive doubly-linked circular list ordered
// newest-first, rooted at the owning backtrace Entry's sentinel (Entry.Head).
// Walking Next from the sentinel visits newest-to-oldest; walking Prev
// visits oldest-to-newest.
type Header struct {
	Prev *Header
	Next *Header

	Size                uintptr // byte size of the user payload
	Time                int64   // allocation timestamp, whole seconds since process start
	PosixMemalignOffset uintptr // gap between underlying and user pointer; 0 unless aligned

	Backtrace *Entry    // owning backtrace entry (non-owning reference)
	Interval  *Interval // interval this allocation was recorded into, or nil

	Magic Magic
}

// linkNewest inserts h immediately after sentinel (the newest position).
func linkNewest(sentinel, h *Header) {
	h.Prev = sentinel
	h.Next = sentinel.Next
	h.Prev.Next = h
	h.Next.Prev = h
}

// unlink removes h from whatever circular list it is currently part of.
func unlink(h *Header) {
	h.Prev.Next = h.Next
	h.Next.Prev = h.Prev
	h.Prev = nil
	h.Next = nil
}
