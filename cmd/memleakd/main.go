// Command memleakd hosts the leak-detecting accounting engine and its
// control socket, driving a small synthetic allocation workload so the
// tracer has something to report on. Embedding memleak as a library in a
// real program looks the same minus the synthetic workload: call
// engine.New, engine.Start, wrap your own allocation call sites with
// engine.Malloc/Free, and run a monitor.Monitor alongside.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-memleak/memleak/internal/allocator"
	"github.com/go-memleak/memleak/internal/config"
	"github.com/go-memleak/memleak/internal/engine"
	"github.com/go-memleak/memleak/internal/monitor"
	"github.com/go-memleak/memleak/internal/resolver"
)

func main() {
	var (
		sockname string
		workload bool
	)
	flag.StringVar(&sockname, "sockname", "", "override LIBMEMLEAK_SOCKNAME for the control socket")
	flag.BoolVar(&workload, "workload", true, "run the built-in synthetic allocation workload")
	flag.Parse()

	cfg := config.FromEnv()
	if sockname != "" {
		cfg.Sockname = sockname
	}

	eng := engine.New(engine.DefaultConfig(), resolver.NewRuntime())
	if err := eng.Start(allocator.System{}); err != nil {
		fmt.Fprintln(os.Stderr, "memleakd: starting engine:", err)
		os.Exit(1)
	}
	eng.StartRecording()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if workload {
		go runWorkload(ctx, eng)
	}

	mon := monitor.New(eng, cfg)
	log.Printf("memleakd: control socket at %s (set LIBMEMLEAK_SOCKNAME to change)", cfg.Sockname)
	if err := mon.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "memleakd:", err)
		os.Exit(1)
	}
}

// runWorkload repeatedly allocates from a handful of fixed call sites,
// freeing most of them quickly but deliberately never freeing a small
// fraction from one call site — a synthetic leak for memleakctl's stats
// and dump commands to surface.
func runWorkload(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var leaked []*engine.Token
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			shortLived(eng)
			if rand.Intn(5) == 0 {
				leaked = append(leaked, leakSlowly(eng))
			}
		}
	}
}

func shortLived(eng *engine.Engine) {
	tok, err := eng.Malloc(128, 0)
	if err != nil {
		return
	}
	eng.Free(tok)
}

func leakSlowly(eng *engine.Engine) *engine.Token {
	tok, err := eng.Malloc(256, 0)
	if err != nil {
		return nil
	}
	return tok
}
