package accounting

// Interval is a half-open time range [Start, End) carrying allocation
// counts for one backtrace entry. End == 0 means "still open" (recording).
//
// Prev points toward the next-newer interval in the owning entry's list
// (nil if this is the newest); Next points toward the next-older one
// (nil if this is the oldest). The owning Entry's Intervals field is the
// newest interval, i.e. the head of this list.
type Interval struct {
	Prev *Interval
	Next *Interval

	Start int64
	End   int64 // 0 means open

	TotalN uint64  // allocations ever recorded in this range
	N      uint64  // of those, still live
	Size   uintptr // total live bytes of the N allocations

	First *Header // oldest still-live allocation referencing this interval, or nil
}

// linkInterval makes iv the new head (newest) of entry's interval list.
func linkInterval(entry *Entry, iv *Interval) {
	iv.Prev = nil
	iv.Next = entry.Intervals
	if iv.Next != nil {
		iv.Next.Prev = iv
	}
	entry.Intervals = iv
}

// unlinkInterval removes iv from entry's interval list.
func unlinkInterval(entry *Entry, iv *Interval) {
	if iv.Prev != nil {
		iv.Prev.Next = iv.Next
	} else {
		entry.Intervals = iv.Next
	}
	if iv.Next != nil {
		iv.Next.Prev = iv.Prev
	}
}

// intervalAdd attaches h to iv, bumping its counters.
func intervalAdd(iv *Interval, h *Header) {
	if iv.N == 0 {
		iv.First = h
	}
	iv.TotalN++
	iv.N++
	iv.Size += h.Size
	h.Interval = iv
}

// intervalDel detaches h from its interval, closing and freeing the
// interval if it has drained and is no longer recording.
func intervalDel(entry *Entry, iv *Interval, h *Header) {
	iv.N--
	iv.Size -= h.Size
	if iv.First == h {
		// h.Prev is the next-still-live allocation toward the newest end of
		// the interval; when none remain this naturally becomes nil once
		// N reaches 0 only after the check below, matching the reference
		// implementation's "header->prev" advance.
		iv.First = h.Prev
	}
	if iv.N == 0 {
		iv.First = nil
		if iv.End != 0 {
			unlinkInterval(entry, iv)
			if entry.RecordingInterval == iv {
				entry.RecordingInterval = nil
			}
		}
	}
}

// Recorder is the global, process-wide recording state shared by every
// backtrace entry: whether recording is active, and the epoch new
// intervals open at. Exactly one Recorder exists per engine.
type Recorder struct {
	Recording     bool
	IntervalStart int64
}

// Attribute implements the attribution algorithm of spec §4.D: on
// registration of h (already linked into entry's live list) with
// timestamp h.Time, find or create the interval it belongs to.
func (r *Recorder) Attribute(entry *Entry, h *Header) {
	if !r.Recording && entry.RecordingInterval == nil {
		return // step 1: nothing is being recorded for this backtrace
	}

	iv := entry.RecordingInterval
	if r.Recording && iv == nil {
		iv = &Interval{Start: r.IntervalStart}
		linkInterval(entry, iv)
		entry.RecordingInterval = iv
		backAttribute(entry, iv, h, r.IntervalStart)
	}

	// step 3: walk older while h arrived before this interval's start.
	for iv != nil && h.Time < iv.Start {
		iv = iv.Next
	}
	if iv != nil && (iv.End == 0 || h.Time < iv.End) {
		intervalAdd(iv, h)
		return
	}
	if iv != nil && r.Recording {
		// step 4: one-second gap correction — the next-newer interval's
		// start is exactly one second ahead of h; pull it down to include h.
		newer := iv.Prev
		if newer != nil {
			newer.Start = h.Time
			intervalAdd(newer, h)
		}
	}
}

// backAttribute sweeps allocations that arrived during the opening second
// of a freshly-created interval and attaches them too, since they raced
// the recorder's epoch assignment. h must already be linked into entry's
// live list (at the newest position) before this is called.
func backAttribute(entry *Entry, iv *Interval, h *Header, intervalStart int64) {
	cur := entry.Head.Next.Next // the allocation just older than h
	for cur != &entry.Head && cur.Time == intervalStart {
		cur = cur.Next
	}
	cur = cur.Prev
	for cur != h {
		intervalAdd(iv, cur)
		cur = cur.Prev
	}
}

// Deregister implements deregistration step 1–3 of spec §4.D for h, which
// must still be linked into entry's live list: advancing the interval's
// First reads h.Prev, so the caller unlinks h only afterwards.
func Deregister(entry *Entry, h *Header) {
	iv := h.Interval
	h.Interval = nil
	if iv != nil {
		intervalDel(entry, iv, h)
	}
}

// Start begins recording from scratch: every existing interval on every
// entry is discarded (matching the "start" control command's help text:
// "Erase all intervals and start recording the first interval").
func (r *Recorder) Start(idx *Index, now int64) {
	r.deleteAll(idx, now)
	r.IntervalStart = now
	r.Recording = true
}

// Stop closes every open interval without discarding closed ones.
func (r *Recorder) Stop(idx *Index, now int64) {
	if !r.Recording {
		return
	}
	end := now + 1
	r.closeOpenIntervals(idx, end)
	r.Recording = false
}

// Restart closes the current top interval and moves the recording epoch
// one second later, so the next interval (opened by the next allocation of
// each backtrace) cannot overlap it, without discarding history.
func (r *Recorder) Restart(idx *Index, now int64) {
	if !r.Recording {
		r.Start(idx, now)
		return
	}
	end := now + 1
	r.closeOpenIntervals(idx, end)
	r.IntervalStart = end
}

func (r *Recorder) closeOpenIntervals(idx *Index, end int64) {
	for _, e := range idx.Entries() {
		iv := e.RecordingInterval
		if iv == nil {
			continue
		}
		iv.End = end
		if iv.N == 0 {
			unlinkInterval(e, iv)
		}
		e.RecordingInterval = nil
	}
}

func (r *Recorder) deleteAll(idx *Index, now int64) {
	r.Stop(idx, now)
	for _, e := range idx.Entries() {
		iv := e.Intervals
		for iv != nil {
			next := iv.Next
			clearHeaderRefs(iv)
			iv = next
		}
		e.Intervals = nil
	}
}

// DeleteOldest drops every interval, on every entry, ending at or before
// cutoff — a supplemented feature grounded on the original's "delete"
// command and interval_delete(time_t).
func (r *Recorder) DeleteOldest(idx *Index, cutoff int64) {
	for _, e := range idx.Entries() {
		if e.Intervals == nil {
			continue
		}
		iv := e.Intervals
		for iv.Next != nil {
			iv = iv.Next
		}
		for iv != nil && iv.End != 0 && iv.End <= cutoff {
			newer := iv.Prev
			clearHeaderRefs(iv)
			unlinkInterval(e, iv)
			if e.RecordingInterval == iv {
				e.RecordingInterval = nil
			}
			iv = newer
		}
	}
}

func clearHeaderRefs(iv *Interval) {
	for h := iv.First; h != nil && h.Interval == iv; h = h.Prev {
		h.Interval = nil
	}
}
