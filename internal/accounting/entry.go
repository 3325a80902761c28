package accounting

import (
	"sync/atomic"
	"unsafe"

	"github.com/dolthub/maphash"
)

// MaxBacktraceSize bounds the number of instruction pointers kept per entry,
// mirroring the reference implementation's backtrace_size_max.
const MaxBacktraceSize = 40

// tableSize is the number of hash-chain buckets in the backtrace index,
// matching the reference implementation's fixed 2**20-slot table.
const tableSize = 1 << 20
const tableMask = tableSize - 1

// Entry is the canonical record for one distinct call-stack: every live
// allocation sharing this backtrace hangs off Head, and every recording
// interval ever opened for this backtrace is linked from Intervals.
//
// Entries are immortal: once interned they live for the process lifetime
// and are never removed from the index or from the creation-ordered list.
type Entry struct {
	PCs  []uintptr // the backtrace, oldest caller first
	hash uint64     // fast fingerprint used to short-circuit chain walks

	Allocations int // number of currently-live allocations with this backtrace
	ID          int // stable small integer ID assigned on first sighting

	Head Header // sentinel root of the circular live-allocation list

	RecordingInterval *Interval // currently-open interval, or nil
	Intervals         *Interval // newest-first list of this entry's intervals

	NeedPrinting bool // set once this entry has a selected interval to report
	Printed      bool // set once this entry has been written to the dump file
	ValueN       float64

	hashNext *Entry // next entry in this bucket's hash chain
	next     *Entry // next entry in creation order (index-owned)
	NextRank *Entry // next entry in the rank-sorted list (report-owned)
}

// Index is the hash-chained backtrace table described in spec §4.B.
type Index struct {
	buckets [tableSize]*Entry
	hasher  maphash.Hasher[string]

	first   *Entry // head of the creation-ordered list
	firstRank *Entry // head of the rank-ordered list
	count   atomic.Uint64
	nextID  atomic.Uint64
}

// NewIndex allocates an empty backtrace index.
func NewIndex() *Index {
	return &Index{hasher: maphash.NewHasher[string]()}
}

// pcsKey views a []uintptr as a string without copying, for hashing only;
// the returned string must not outlive pcs and must never be retained.
func pcsKey(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}
	return unsafe.String((*byte)(unsafe.Pointer(&pcs[0])), len(pcs)*int(unsafe.Sizeof(pcs[0])))
}

// bucketHash computes the reference bucket index: fold the PC sequence and
// its length with the formula from spec §4.B, masked to the table size.
func bucketHash(pcs []uintptr) uint64 {
	sum := uint64(len(pcs))
	for _, pc := range pcs {
		sum += uint64(pc)
	}
	sum *= sum
	sum >>= 8
	return sum & tableMask
}

func equalPCs(a, b []uintptr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Intern canonicalises pcs into a shared Entry, creating one on first
// sighting. The caller's slice is never retained directly; on a miss a
// fresh copy is made so later mutation of the caller's buffer is safe.
func (idx *Index) Intern(pcs []uintptr) *Entry {
	if len(pcs) > MaxBacktraceSize {
		pcs = pcs[:MaxBacktraceSize]
	}
	bucket := bucketHash(pcs)
	fp := idx.hasher.Hash(pcsKey(pcs))

	slot := &idx.buckets[bucket]
	for e := *slot; e != nil; e = e.hashNext {
		if e.hash == fp && equalPCs(e.PCs, pcs) {
			e.Allocations++
			return e
		}
		slot = &e.hashNext
	}

	cp := make([]uintptr, len(pcs))
	copy(cp, pcs)

	e := &Entry{
		PCs:  cp,
		hash: fp,
		ID:   int(idx.nextID.Add(1)),
	}
	e.Head.Prev = &e.Head
	e.Head.Next = &e.Head
	e.Allocations++

	*slot = e
	e.next = idx.first
	idx.first = e
	e.NextRank = idx.firstRank
	idx.firstRank = e
	idx.count.Add(1)

	return e
}

// Entries returns every interned entry in creation order (newest first).
func (idx *Index) Entries() []*Entry {
	out := make([]*Entry, 0, idx.count.Load())
	for e := idx.first; e != nil; e = e.next {
		out = append(out, e)
	}
	return out
}

// First returns the head of the creation-ordered entry list.
func (idx *Index) First() *Entry { return idx.first }

// FirstRank returns the head of the rank-ordered entry list.
func (idx *Index) FirstRank() *Entry { return idx.firstRank }

// SetFirstRank re-splices the rank-ordered list, used after a sort.
func (idx *Index) SetFirstRank(e *Entry) { idx.firstRank = e }

// Count returns the number of distinct backtraces interned so far.
func (idx *Index) Count() uint64 { return idx.count.Load() }

// LinkAllocation inserts h at the newest position of entry's live list.
func LinkAllocation(entry *Entry, h *Header) {
	linkNewest(&entry.Head, h)
}

// UnlinkAllocation removes h from entry's live list.
func UnlinkAllocation(h *Header) {
	unlink(h)
}
