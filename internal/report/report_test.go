package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-memleak/memleak/internal/accounting"
	"github.com/go-memleak/memleak/internal/resolver"
)

func TestLinesCapsAtN(t *testing.T) {
	entries := []*accounting.Entry{{ID: 1}, {ID: 2}, {ID: 3}}
	lines := Lines(entries, 2)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Rank != 1 || lines[1].Rank != 2 {
		t.Fatalf("expected ranks 1,2, got %d,%d", lines[0].Rank, lines[1].Rank)
	}
}

func TestLinesZeroOrOversizedNMeansAll(t *testing.T) {
	entries := []*accounting.Entry{{ID: 1}, {ID: 2}}
	if got := len(Lines(entries, 0)); got != 2 {
		t.Fatalf("expected n=0 to mean all entries, got %d", got)
	}
	if got := len(Lines(entries, 50)); got != 2 {
		t.Fatalf("expected oversized n to cap at len(entries), got %d", got)
	}
}

func TestWriteStatsFormatsOneLinePerEntry(t *testing.T) {
	var buf bytes.Buffer
	WriteStats(&buf, []Line{{Rank: 1, ID: 7, ValueN: 12.5, Allocations: 3, LiveBytes: 128}})
	out := buf.String()
	for _, want := range []string{"id=7", "value_n=12.5", "allocations=3", "live_bytes=128"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestDumpOneResolvesMatchingEntrysBacktrace(t *testing.T) {
	idx := accounting.NewIndex()
	entry := idx.Intern([]uintptr{1, 2})
	var buf bytes.Buffer
	if !DumpOne(&buf, []*accounting.Entry{entry}, entry.ID, resolver.NewRuntime()) {
		t.Fatal("expected DumpOne to find the entry by ID")
	}
	if !strings.HasPrefix(buf.String(), " #0 ") {
		t.Fatalf("expected a frame line starting with \" #0 \", got %q", buf.String())
	}
}

func TestDumpOneReportsMissingID(t *testing.T) {
	idx := accounting.NewIndex()
	entry := idx.Intern([]uintptr{1})
	var buf bytes.Buffer
	if DumpOne(&buf, []*accounting.Entry{entry}, entry.ID+1, resolver.NewRuntime()) {
		t.Fatal("expected DumpOne to report no match for an unknown ID")
	}
}

func TestMarkNeedsPrintingFlagsOnlyInterestingIntervals(t *testing.T) {
	idx := accounting.NewIndex()
	leaky := idx.Intern([]uintptr{1})
	leaky.Intervals = &accounting.Interval{N: 2, End: 100}

	boring := idx.Intern([]uintptr{2})
	boring.Intervals = &accounting.Interval{N: 1, End: 100}

	open := idx.Intern([]uintptr{3})
	open.Intervals = &accounting.Interval{N: 5, End: 0}

	MarkNeedsPrinting([]*accounting.Entry{leaky, boring, open})

	if !leaky.NeedPrinting {
		t.Fatal("expected an entry with n>1 and a closed interval to be flagged")
	}
	if boring.NeedPrinting {
		t.Fatal("did not expect an entry with n==1 to be flagged")
	}
	if open.NeedPrinting {
		t.Fatal("did not expect an entry with only an open interval to be flagged")
	}
}

func TestBacktraceWriterAppendsOnlyUnprintedEntries(t *testing.T) {
	idx := accounting.NewIndex()
	first := idx.Intern([]uintptr{1})
	first.NeedPrinting = true
	second := idx.Intern([]uintptr{2})
	second.NeedPrinting = true

	path := filepath.Join(t.TempDir(), "memleak_backtraces")
	w := NewBacktraceWriter(path, "test-app")

	n, err := w.AppendNew([]*accounting.Entry{first, second}, resolver.NewRuntime())
	if err != nil {
		t.Fatalf("AppendNew failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 newly written entries, got %d", n)
	}
	if !first.Printed || !second.Printed {
		t.Fatal("expected both entries to be marked Printed")
	}

	n, err = w.AppendNew([]*accounting.Entry{first, second}, resolver.NewRuntime())
	if err != nil {
		t.Fatalf("second AppendNew failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected already-printed entries not to be rewritten, got %d", n)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading dump file: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, `Application: "test-app"`+"\n") {
		t.Fatalf("expected an Application header line, got %q", content)
	}
	for _, want := range []string{
		fmt.Sprintf("Backtrace %d:\n", first.ID),
		fmt.Sprintf("Backtrace %d:\n", second.ID),
	} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected dump file to contain %q, got %q", want, content)
		}
	}
}
