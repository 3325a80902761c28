// Package monitor hosts the periodic reporting timer and the
// Unix-domain control socket through which an operator can start, stop,
// restart and inspect recording, the Go analogue of the reference
// implementation's monitor() thread and memleak_control client.
package monitor

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-memleak/memleak/internal/config"
	"github.com/go-memleak/memleak/internal/engine"
	"github.com/go-memleak/memleak/internal/errors"
	"github.com/go-memleak/memleak/internal/report"
)

// appName is the "Application:" line written at the top of the
// backtrace dump file, the Go stand-in for the reference's exename
// (argv[0] resolved through /proc/self/exe).
func appName() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	return os.Args[0]
}

// Monitor owns the control socket and the periodic report/restart timer
// for one Engine. statsInterval and restartMultiplier start out from cfg
// but are runtime-mutable: the reference monitor() keeps its equivalents
// (sleeptime, restart_multiplier) as locals that "stats N" and
// "restart M" reassign for the life of the process, so a value set by one
// client is still in effect for the next one that connects.
type Monitor struct {
	eng *engine.Engine
	cfg config.Config

	busy atomic.Bool // at most one active client connection, per spec

	mu                sync.Mutex
	lastDeleteCutoff  int64
	statsInterval     time.Duration
	restartMultiplier int
	maxBacktraces     int // 0 means "all", set by "list N"

	reportNow  chan struct{}
	restartNow chan struct{}

	dump *report.BacktraceWriter
}

// New creates a Monitor for eng using cfg's socket path and timing.
func New(eng *engine.Engine, cfg config.Config) *Monitor {
	restartEvery := cfg.RestartMultiplier
	if restartEvery < 2 {
		restartEvery = 2
	}
	backtraceFile := cfg.BacktraceFile
	if backtraceFile == "" {
		backtraceFile = report.DefaultBacktraceFile
	}
	return &Monitor{
		eng:               eng,
		cfg:               cfg,
		statsInterval:     cfg.StatsInterval,
		restartMultiplier: restartEvery,
		reportNow:         make(chan struct{}, 1),
		restartNow:        make(chan struct{}, 1),
		dump:              report.NewBacktraceWriter(backtraceFile, appName()),
	}
}

func (m *Monitor) getStatsInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsInterval
}

func (m *Monitor) getRestartMultiplier() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restartMultiplier
}

func (m *Monitor) getMaxBacktraces() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxBacktraces
}

// Run opens the control socket and blocks, accepting connections and
// ticking the periodic report/restart timer, until ctx is cancelled. It
// removes the socket file on both entry and exit.
func (m *Monitor) Run(ctx context.Context) error {
	_ = os.Remove(m.cfg.Sockname)
	ln, err := net.Listen("unix", m.cfg.Sockname)
	if err != nil {
		return fmt.Errorf("monitor: listen on %s: %w", m.cfg.Sockname, err)
	}
	defer os.Remove(m.cfg.Sockname)
	log.Printf("monitor: control socket listening on %s", m.cfg.Sockname)

	go m.acceptLoop(ctx, ln)

	timer := time.NewTimer(m.getStatsInterval())
	defer timer.Stop()
	ticks := 0

	resetTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(m.getStatsInterval())
	}

	for {
		select {
		case <-ctx.Done():
			_ = ln.Close()
			_ = m.dump.Close()
			return nil
		case <-m.reportNow:
			// Bare "stats": run the periodic report now instead of
			// waiting for the timer. It counts as a tick toward the
			// restart multiplier, mirroring the reference monitor()'s
			// unconditional ++count/memleak_stats() after any command
			// breaks its inner read loop.
			ticks++
			m.printReport(os.Stdout)
			if ticks%m.getRestartMultiplier() == 0 {
				m.eng.RestartRecording()
			}
			resetTimer()
		case <-m.restartNow:
			// Bare "start"/"restart": the tick count is reset to 0 and
			// recording restarts immediately; no report is printed for
			// this event.
			ticks = 0
			log.Printf("monitor: restarting recording")
			m.eng.RestartRecording()
			resetTimer()
		case <-timer.C:
			ticks++
			m.printReport(os.Stdout)
			if ticks%m.getRestartMultiplier() == 0 {
				log.Printf("monitor: restarting recording after %d intervals", m.getRestartMultiplier())
				m.eng.RestartRecording()
			}
			timer.Reset(m.getStatsInterval())
		}
	}
}

func (m *Monitor) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (m *Monitor) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("monitor: accept error: %v", err)
				continue
			}
		}
		go m.handleConn(conn)
	}
}

// handleConn serves one client at a time; a second concurrent connection
// is told the socket is busy and closed immediately, matching the
// reference implementation's single active client.
func (m *Monitor) handleConn(conn net.Conn) {
	defer conn.Close()

	if !m.busy.CompareAndSwap(false, true) {
		fmt.Fprint(conn, "Another client is already connected.\n")
		return
	}
	defer m.busy.Store(false)

	w := bufio.NewWriter(conn)
	fmt.Fprint(w, prompt)
	w.Flush()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		cmd := parseCommand(line)
		if cmd.name == "quit" {
			fmt.Fprint(w, promptQuit)
			w.Flush()
			return
		}
		m.dispatch(w, cmd, line)
		fmt.Fprint(w, prompt)
		w.Flush()
	}
}

func (m *Monitor) dispatch(w *bufio.Writer, cmd command, line string) {
	switch cmd.name {
	case "help", "":
		fmt.Fprint(w, helpText)
	case "start":
		if !cmd.has {
			// RestartRecording falls back to a fresh Start when nothing is
			// currently recording, the same branch interval_restart_recording
			// takes, so "start" and bare "restart" share this path.
			m.signal(m.restartNow)
			fmt.Fprintf(w, "Auto restart interval is %d * %s.\n", m.getRestartMultiplier(), m.getStatsInterval())
			return
		}
		fmt.Fprint(w, unknownCommandMessage)
	case "stop":
		m.eng.StopRecording()
		fmt.Fprint(w, "Stopped.\n")
	case "restart":
		if !cmd.has {
			m.signal(m.restartNow)
			fmt.Fprintf(w, "Auto restart interval is %d * %s.\n", m.getRestartMultiplier(), m.getStatsInterval())
			return
		}
		if cmd.arg < 2 {
			fmt.Fprint(w, "Restart multiplier must be at least 2.\n")
			return
		}
		m.mu.Lock()
		m.restartMultiplier = cmd.arg
		m.mu.Unlock()
		fmt.Fprintf(w, "Restart multiplier set to %d.\n", cmd.arg)
	case "delete":
		m.mu.Lock()
		cutoff := m.lastDeleteCutoff
		m.mu.Unlock()
		fmt.Fprintf(w, "Deleting all intervals that end before %d seconds since application start.\n", cutoff)
		m.eng.DeleteOldest(cutoff)
	case "stats":
		if !cmd.has {
			m.signal(m.reportNow)
			fmt.Fprint(w, "Printing statistics now.\n")
			return
		}
		if cmd.arg < 1 {
			fmt.Fprint(w, "Interval between printing of stats must be at least 1 second.\n")
			return
		}
		m.mu.Lock()
		m.statsInterval = time.Duration(cmd.arg) * time.Second
		m.mu.Unlock()
		fmt.Fprintf(w, "Printing memory statistics every %d seconds.\n", cmd.arg)
	case "list":
		if !cmd.has || cmd.arg < 1 {
			fmt.Fprint(w, "Argument of list must be at least 1.\n")
			return
		}
		m.mu.Lock()
		m.maxBacktraces = cmd.arg
		m.mu.Unlock()
		if cmd.arg == 1 {
			fmt.Fprint(w, "Now printing only the first backtrace.\n")
		} else {
			fmt.Fprintf(w, "Now printing the first %d backtraces.\n", cmd.arg)
		}
	case "dump":
		if !cmd.has || !report.DumpOne(w, m.eng.Snapshot(), cmd.arg, m.eng.Resolver()) {
			fmt.Fprintf(w, "Backtrace %d doesn't exist.\n", cmd.arg)
		}
	default:
		log.Print(errors.UnknownCommand(line))
		fmt.Fprint(w, unknownCommandMessage)
	}
}

// printReport writes an unsolicited full stats report to w, the
// periodic output the reference monitor prints every stats interval,
// records the current clock as the next "delete" command's cutoff, and
// appends any newly-selected backtraces to the dump file.
func (m *Monitor) printReport(w *os.File) {
	entries := m.eng.Snapshot()
	report.WriteStats(w, report.Lines(entries, m.getMaxBacktraces()))

	report.MarkNeedsPrinting(entries)
	if n, err := m.dump.AppendNew(entries, m.eng.Resolver()); err != nil {
		log.Printf("monitor: writing backtrace dump file: %v", err)
	} else if n > 0 {
		fmt.Fprintf(w, "libmemleak: Wrote %d new backtraces.\n", n)
	}

	m.mu.Lock()
	m.lastDeleteCutoff = m.eng.Clock()
	m.mu.Unlock()
}
