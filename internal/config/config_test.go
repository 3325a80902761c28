package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaultsWhenUnset(t *testing.T) {
	t.Setenv("LIBMEMLEAK_SOCKNAME", "")
	t.Setenv("LIBMEMLEAK_STATS_INTERVAL", "")
	t.Setenv("LIBMEMLEAK_RESTART_MULTIPLIER", "")
	t.Setenv("LIBMEMLEAK_MAX_BACKTRACES", "")
	t.Setenv("LIBMEMLEAK_BACKTRACE_FILE", "")

	c := FromEnv()
	if c.Sockname != DefaultSockname {
		t.Fatalf("expected default sockname %q, got %q", DefaultSockname, c.Sockname)
	}
	if c.StatsInterval != DefaultStatsInterval {
		t.Fatalf("expected default stats interval %v, got %v", DefaultStatsInterval, c.StatsInterval)
	}
	if c.RestartMultiplier != DefaultRestartMultiplier {
		t.Fatalf("expected default restart multiplier %d, got %d", DefaultRestartMultiplier, c.RestartMultiplier)
	}
	if c.BacktraceFile != DefaultBacktraceFile {
		t.Fatalf("expected default backtrace file %q, got %q", DefaultBacktraceFile, c.BacktraceFile)
	}
}

func TestFromEnvHonoursOverrides(t *testing.T) {
	t.Setenv("LIBMEMLEAK_SOCKNAME", "/tmp/custom.sock")
	t.Setenv("LIBMEMLEAK_STATS_INTERVAL", "5")
	t.Setenv("LIBMEMLEAK_RESTART_MULTIPLIER", "3")
	t.Setenv("LIBMEMLEAK_MAX_BACKTRACES", "100")
	t.Setenv("LIBMEMLEAK_BACKTRACE_FILE", "/tmp/custom_backtraces")

	c := FromEnv()
	if c.Sockname != "/tmp/custom.sock" {
		t.Fatalf("expected overridden sockname, got %q", c.Sockname)
	}
	if c.StatsInterval != 5*time.Second {
		t.Fatalf("expected 5s stats interval, got %v", c.StatsInterval)
	}
	if c.RestartMultiplier != 3 {
		t.Fatalf("expected restart multiplier 3, got %d", c.RestartMultiplier)
	}
	if c.MaxBacktraces != 100 {
		t.Fatalf("expected max backtraces 100, got %d", c.MaxBacktraces)
	}
	if c.BacktraceFile != "/tmp/custom_backtraces" {
		t.Fatalf("expected overridden backtrace file, got %q", c.BacktraceFile)
	}
}

func TestFromEnvIgnoresUnparsableValues(t *testing.T) {
	t.Setenv("LIBMEMLEAK_STATS_INTERVAL", "not-a-number")
	t.Setenv("LIBMEMLEAK_RESTART_MULTIPLIER", "not-a-number")

	c := FromEnv()
	if c.StatsInterval != DefaultStatsInterval {
		t.Fatalf("expected fallback to default stats interval, got %v", c.StatsInterval)
	}
	if c.RestartMultiplier != DefaultRestartMultiplier {
		t.Fatalf("expected fallback to default restart multiplier, got %d", c.RestartMultiplier)
	}
}

func TestRestartIntervalMultipliesStatsInterval(t *testing.T) {
	c := Config{StatsInterval: 10 * time.Second, RestartMultiplier: 6}
	if got := c.RestartInterval(); got != 60*time.Second {
		t.Fatalf("expected restart interval 60s, got %v", got)
	}
}
