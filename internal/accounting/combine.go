package accounting

import "math"

// Class buckets a duration into next_power_of_two(d + d/2), the unit the
// combine policy and the ranking score both reason about. Durations that
// fall in the same class are treated as "the same time scale".
func Class(d int64) int64 {
	if d <= 0 {
		return 1
	}
	return nextPow2(d + d/2)
}

func nextPow2(v int64) int64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}

// combine merges iv's next-newer neighbour into iv, so iv ends up spanning
// both: its own Start unchanged, its End taken from the absorbed neighbour.
// Every live header still pointing at the absorbed interval is repointed.
func combine(entry *Entry, iv *Interval) {
	newer := iv.Prev
	unlinkInterval(entry, newer)

	iv.End = newer.End
	iv.TotalN += newer.TotalN
	iv.N += newer.N
	iv.Size += newer.Size

	if newer.First != nil {
		for h := newer.First; h.Interval == newer; h = h.Prev {
			h.Interval = iv
		}
	}
	if iv.First == nil {
		iv.First = newer.First
	}
}

// extendGap widens iv to close the gap toward its next-newer neighbour
// without merging the two, used when three same-class intervals in a row
// are not contiguous. It returns iv's recomputed class.
func extendGap(iv *Interval, ivc int64) int64 {
	newer := iv.Prev
	newEnd := iv.End + ivc
	iv.End = newer.Start
	if newEnd < newer.Start {
		iv.End = newEnd
		if Class(newer.Start-iv.End) < ivc {
			newer.Start = iv.End
		}
	}
	return Class(iv.End - iv.Start)
}

// CombineAndScore walks entry's interval list newest-to-oldest, applying
// the combine policy (merging or widening runs of three same-class
// intervals to keep the list O(log of the observation span)) and, in the
// same pass, computing the ranking score stored into entry.ValueN: an
// accumulator over interval.N that doubles every time the walk crosses
// into an interval of a larger class, so scores favour backtraces whose
// live allocations persist across many widening time scales.
func CombineAndScore(entry *Entry) {
	iv := entry.Intervals
	combineCount := 0
	var combineClass int64
	var valueN float64
	lastIvc := int64(math.MaxInt64)

	for iv != nil {
		ivc := Class(iv.End - iv.Start)

		if ivc > combineClass {
			combineClass = ivc
			combineCount = 1
		} else {
			combineCount++
			if combineCount == 3 || ivc < combineClass {
				if iv.Prev != nil && iv.Prev.Start == iv.End {
					combine(entry, iv)
					ivc = Class(iv.End - iv.Start)
				} else if iv.Prev != nil {
					ivc = extendGap(iv, ivc)
				}
				combineClass = ivc
				combineCount = 1
			}
		}

		if iv.End != 0 {
			if lastIvc < ivc {
				valueN *= 2
			}
			valueN += float64(iv.N)
		}
		lastIvc = ivc
		iv = iv.Next
	}

	entry.ValueN = valueN
}
