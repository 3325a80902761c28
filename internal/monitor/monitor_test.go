package monitor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-memleak/memleak/internal/allocator"
	"github.com/go-memleak/memleak/internal/config"
	"github.com/go-memleak/memleak/internal/engine"
	"github.com/go-memleak/memleak/internal/resolver"
)

func startTestMonitor(t *testing.T) (sockPath string, stop func()) {
	sockPath, _, stop = startTestMonitorWithEngine(t)
	return sockPath, stop
}

func startTestMonitorWithEngine(t *testing.T) (sockPath string, eng *engine.Engine, stop func()) {
	t.Helper()

	eng = engine.New(engine.DefaultConfig(), resolver.NewRuntime())
	if err := eng.Start(allocator.System{}); err != nil {
		t.Fatalf("engine Start failed: %v", err)
	}

	dir := t.TempDir()
	cfg := config.Config{
		Sockname:          filepath.Join(dir, "memleak.sock"),
		StatsInterval:     time.Hour, // keep the ticker from firing during the test
		RestartMultiplier: 10,
		BacktraceFile:     filepath.Join(dir, "memleak_backtraces"),
	}
	m := New(eng, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// Give the listener a moment to bind.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := net.Dial("unix", cfg.Sockname); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("monitor did not start listening in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	return cfg.Sockname, eng, func() {
		cancel()
		<-done
	}
}

func TestMonitorSendsPromptOnConnect(t *testing.T) {
	sockPath, stop := startTestMonitor(t)
	defer stop()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if line != prompt {
		t.Fatalf("expected initial prompt %q, got %q", prompt, line)
	}
}

func TestMonitorStartIgnoredCommandAndQuit(t *testing.T) {
	sockPath, stop := startTestMonitor(t)
	defer stop()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	readUntilPrompt := func() []string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if line == prompt || line == promptQuit {
				return lines
			}
			lines = append(lines, line)
		}
	}

	readUntilPrompt() // initial PROMPT

	fmt.Fprintf(conn, "start\n")
	lines := readUntilPrompt()
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "Auto restart interval is") {
		t.Fatalf("expected start acknowledgement, got %v", lines)
	}

	fmt.Fprintf(conn, "bogus-command\n")
	lines = readUntilPrompt()
	if len(lines) == 0 || lines[0] != unknownCommandMessage {
		t.Fatalf("expected unknown-command message, got %v", lines)
	}

	fmt.Fprintf(conn, "quit\n")
	readUntilPrompt()
}

func TestRestartAndStatsArgumentsReconfigureMonitor(t *testing.T) {
	sockPath, stop := startTestMonitor(t)
	defer stop()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	readUntilPrompt := func() []string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if line == prompt || line == promptQuit {
				return lines
			}
			lines = append(lines, line)
		}
	}
	readUntilPrompt() // initial PROMPT

	fmt.Fprintf(conn, "restart 1\n")
	lines := readUntilPrompt()
	if len(lines) == 0 || lines[0] != "Restart multiplier must be at least 2.\n" {
		t.Fatalf("expected rejection of restart multiplier below 2, got %v", lines)
	}

	fmt.Fprintf(conn, "restart 7\n")
	lines = readUntilPrompt()
	if len(lines) == 0 || lines[0] != "Restart multiplier set to 7.\n" {
		t.Fatalf("expected restart multiplier confirmation, got %v", lines)
	}

	fmt.Fprintf(conn, "stats 0\n")
	lines = readUntilPrompt()
	if len(lines) == 0 || lines[0] != "Interval between printing of stats must be at least 1 second.\n" {
		t.Fatalf("expected rejection of stats interval below 1, got %v", lines)
	}

	fmt.Fprintf(conn, "stats 30\n")
	lines = readUntilPrompt()
	if len(lines) == 0 || lines[0] != "Printing memory statistics every 30 seconds.\n" {
		t.Fatalf("expected stats interval confirmation, got %v", lines)
	}

	fmt.Fprintf(conn, "quit\n")
	readUntilPrompt()

	// A fresh connection must still see the values the previous client set.
	second, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer second.Close()
	reader2 := bufio.NewReader(second)
	reader2.ReadString('\n') // initial PROMPT

	fmt.Fprintf(second, "restart\n")
	line2, err := reader2.ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if line2 != "Auto restart interval is 7 * 30s.\n" {
		t.Fatalf("expected persisted restart/stats settings, got %q", line2)
	}
}

func TestDumpCommandResolvesBacktraceByID(t *testing.T) {
	sockPath, eng, stop := startTestMonitorWithEngine(t)
	defer stop()

	tok, err := eng.Malloc(16, 0)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	entries := eng.Snapshot()
	if len(entries) == 0 {
		t.Fatal("expected at least one backtrace entry")
	}
	id := entries[0].ID

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)
	readUntilPrompt := func() []string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if line == prompt || line == promptQuit {
				return lines
			}
			lines = append(lines, line)
		}
	}
	readUntilPrompt() // initial PROMPT

	fmt.Fprintf(conn, "dump %d\n", id)
	lines := readUntilPrompt()
	if len(lines) == 0 || !strings.HasPrefix(lines[0], " #0 ") {
		t.Fatalf("expected a resolved frame line, got %v", lines)
	}

	fmt.Fprintf(conn, "dump %d\n", id+1000)
	lines = readUntilPrompt()
	if len(lines) == 0 || !strings.Contains(lines[0], "doesn't exist") {
		t.Fatalf("expected a not-found message for an unknown ID, got %v", lines)
	}

	eng.Free(tok)
}

func TestMonitorRejectsSecondConcurrentClient(t *testing.T) {
	sockPath, stop := startTestMonitor(t)
	defer stop()

	first, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer first.Close()
	bufio.NewReader(first).ReadString('\n') // drain initial prompt

	second, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer second.Close()

	line, err := bufio.NewReader(second).ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if line != "Another client is already connected.\n" {
		t.Fatalf("expected busy message, got %q", line)
	}
}
