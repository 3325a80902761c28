// Package report formats a snapshot of ranked backtrace entries the way
// the control socket's "stats", "list" and "dump" commands present them,
// and appends their resolved call stacks to the backtrace dump file.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/go-memleak/memleak/internal/accounting"
	"github.com/go-memleak/memleak/internal/resolver"
)

// DefaultBacktraceFile is the dump file's name, matching the reference
// tool's hardcoded "memleak_backtraces" in the working directory.
const DefaultBacktraceFile = "memleak_backtraces"

// Line is one row of a backtrace listing.
type Line struct {
	Rank        int
	ID          int
	ValueN      float64
	Allocations int
	LiveBytes   uintptr
}

// Lines formats the top n ranked entries (0 means all of them) as report
// lines, summing each entry's live interval bytes the same way the
// reference implementation's memleak_stats() does while it walks the
// combined interval list.
func Lines(entries []*accounting.Entry, n int) []Line {
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	out := make([]Line, 0, n)
	for i := 0; i < n; i++ {
		e := entries[i]
		out = append(out, Line{
			Rank:        i + 1,
			ID:          e.ID,
			ValueN:      e.ValueN,
			Allocations: e.Allocations,
			LiveBytes:   liveBytes(e),
		})
	}
	return out
}

func liveBytes(e *accounting.Entry) uintptr {
	var total uintptr
	for iv := e.Intervals; iv != nil; iv = iv.Next {
		total += iv.Size
	}
	return total
}

// WriteStats writes a one-line-per-entry summary table.
func WriteStats(w io.Writer, lines []Line) {
	for _, l := range lines {
		fmt.Fprintf(w, "%4d. id=%-6d value_n=%-10.1f allocations=%-6d live_bytes=%d\n",
			l.Rank, l.ID, l.ValueN, l.Allocations, l.LiveBytes)
	}
}

// MarkNeedsPrinting flags every entry among entries that has at least
// one interval passing memleak_stats()'s own filter for "interesting"
// leaks (n > 1 && end != 0) as needing to be written to the backtrace
// dump file. It does not write anything itself; call a BacktraceWriter's
// AppendNew afterward to actually flush newly-flagged entries.
func MarkNeedsPrinting(entries []*accounting.Entry) {
	for _, e := range entries {
		for iv := e.Intervals; iv != nil; iv = iv.Next {
			if iv.N > 1 && iv.End != 0 {
				e.NeedPrinting = true
				break
			}
		}
	}
}

// DumpOne writes the resolved call stack for the single entry whose ID
// matches id, the Go analogue of the reference monitor's "dump N"
// command (addr2line_print of one BacktraceEntry straight to the
// client's fd). It reports whether a matching entry was found.
func DumpOne(w io.Writer, entries []*accounting.Entry, id int, res resolver.Resolver) bool {
	for _, e := range entries {
		if e.ID == id {
			resolver.WriteFrames(w, res.Resolve(e.PCs))
			return true
		}
	}
	return false
}

// BacktraceWriter owns the backtrace dump file described by spec.md §6:
// truncated on first write, appended to for the remainder of the
// process's life, with only ever one writer (the monitor goroutine).
// Grounded on memleak.c's static FILE* fbacktraces / first_time pattern,
// adapted to a single long-lived *os.File instead of an open-write-close
// per report.
type BacktraceWriter struct {
	path    string
	appName string
	f       *os.File
}

// NewBacktraceWriter creates a BacktraceWriter for path; nothing is
// opened on disk until the first AppendNew call finds something to
// write, matching the reference's lazy first fopen.
func NewBacktraceWriter(path, appName string) *BacktraceWriter {
	return &BacktraceWriter{path: path, appName: appName}
}

func (d *BacktraceWriter) open() (*os.File, error) {
	if d.f != nil {
		return d.f, nil
	}
	f, err := os.Create(d.path)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(f, "Application: %q\n", d.appName)
	d.f = f
	return f, nil
}

// AppendNew writes every entry among entries flagged NeedPrinting that
// has not already been written (Printed false), marking each Printed as
// it goes so a later call never repeats it. It returns how many
// backtraces were newly written.
func (d *BacktraceWriter) AppendNew(entries []*accounting.Entry, res resolver.Resolver) (int, error) {
	var pending []*accounting.Entry
	for _, e := range entries {
		if e.NeedPrinting && !e.Printed {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	f, err := d.open()
	if err != nil {
		return 0, err
	}
	for _, e := range pending {
		fmt.Fprintf(f, "Backtrace %d:\n", e.ID)
		resolver.WriteFrames(f, res.Resolve(e.PCs))
		e.Printed = true
	}
	return len(pending), nil
}

// Close closes the dump file if it was ever opened.
func (d *BacktraceWriter) Close() error {
	if d.f == nil {
		return nil
	}
	return d.f.Close()
}
