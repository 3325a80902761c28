package engine

import (
	"runtime"

	"github.com/go-memleak/memleak/internal/accounting"
)

// Capture returns the calling goroutine's backtrace, oldest caller
// first, skipping skip frames the same way runtime.Callers does (0
// means Capture's own frame, 1 the function that called Capture). This is the one place raw
// runtime.Callers output (innermost frame first) gets reversed into the
// convention accounting.Entry.PCs and resolver.Resolve expect.
func Capture(skip int) []uintptr {
	pcs := make([]uintptr, accounting.MaxBacktraceSize)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	for i, j := 0, len(pcs)-1; i < j; i, j = i+1, j-1 {
		pcs[i], pcs[j] = pcs[j], pcs[i]
	}
	return pcs
}
