//go:build memleak_debug

package accounting

import (
	"fmt"

	"github.com/go-memleak/memleak/internal/errors"
)

// ValidateInvariants walks entry's live list and interval list checking
// the structural invariants spec'd for the accounting engine: the live
// list is a well-formed circular list, every live header's interval (if
// any) belongs to this entry, and every interval's N matches the number
// of live headers actually pointing at it. It panics on the first
// violation found, and is compiled in only under the memleak_debug
// build tag since it is O(live allocations) per call.
func (entry *Entry) ValidateInvariants() {
	seen := 0
	for h := entry.Head.Next; h != &entry.Head; h = h.Next {
		if h.Magic != MagicLive {
			panic(errors.CorruptHeader(uint8(h.Magic)))
		}
		if h.Next.Prev != h {
			panic(fmt.Sprintf("accounting: live list broken at entry %d", entry.ID))
		}
		if h.Interval != nil && h.Interval.N == 0 {
			panic(fmt.Sprintf("accounting: header references drained interval on entry %d", entry.ID))
		}
		if h.Interval != nil {
			owned := false
			for iv := entry.Intervals; iv != nil; iv = iv.Next {
				if iv == h.Interval {
					owned = true
					break
				}
			}
			if !owned {
				panic(fmt.Sprintf("accounting: header references an interval not owned by entry %d", entry.ID))
			}
		}
		seen++
	}
	if seen != entry.Allocations {
		panic(fmt.Sprintf("accounting: entry %d reports %d allocations but live list has %d", entry.ID, entry.Allocations, seen))
	}

	for iv := entry.Intervals; iv != nil; iv = iv.Next {
		counted := uint64(0)
		for h := iv.First; h != nil && h.Interval == iv; h = h.Prev {
			counted++
		}
		if counted != iv.N {
			panic(fmt.Sprintf("accounting: interval on entry %d reports N=%d but %d headers reference it", entry.ID, iv.N, counted))
		}
	}
}
