// Package config resolves the tracer's tunables from environment
// variables, the same mechanism the reference implementation uses (no
// config file, no flags it didn't already get from the host program).
package config

import (
	"os"
	"strconv"
	"time"
)

// Default values, used whenever the corresponding environment variable
// is absent or fails to parse.
const (
	DefaultSockname          = "/tmp/memleak"
	DefaultStatsInterval     = 60 * time.Second
	DefaultRestartMultiplier = 10
	DefaultMaxBacktraces     = 0 // unlimited
	DefaultBacktraceFile     = "memleak_backtraces"
)

// Config holds everything the monitor and engine need that an operator
// might reasonably want to override without recompiling.
type Config struct {
	// Sockname is the path of the Unix-domain control socket.
	Sockname string
	// StatsInterval is how often the monitor prints an unsolicited
	// report and, once StatsInterval*RestartMultiplier has elapsed,
	// restarts recording.
	StatsInterval time.Duration
	// RestartMultiplier scales StatsInterval into the restart period.
	RestartMultiplier int
	// MaxBacktraces is read from LIBMEMLEAK_MAX_BACKTRACES. 0 is
	// unlimited. Neither memleak.Start nor memleakd passes it on to the
	// engine; engine.Config.MaxBacktraces, which BacktracesLimitHit
	// checks, keeps its own default.
	MaxBacktraces int
	// BacktraceFile is the path the monitor appends resolved, not-yet-
	// dumped backtraces to. The reference tool hardcodes this to
	// "memleak_backtraces" in the working directory; it is made
	// overridable here (like every other knob in this struct) so tests
	// don't have to write into the process's actual working directory.
	BacktraceFile string
}

// FromEnv reads LIBMEMLEAK_SOCKNAME, LIBMEMLEAK_STATS_INTERVAL (seconds),
// LIBMEMLEAK_RESTART_MULTIPLIER, LIBMEMLEAK_MAX_BACKTRACES and
// LIBMEMLEAK_BACKTRACE_FILE, falling back to their defaults whenever
// unset or unparsable.
func FromEnv() Config {
	return Config{
		Sockname:          envString("LIBMEMLEAK_SOCKNAME", DefaultSockname),
		StatsInterval:     envSeconds("LIBMEMLEAK_STATS_INTERVAL", DefaultStatsInterval),
		RestartMultiplier: envInt("LIBMEMLEAK_RESTART_MULTIPLIER", DefaultRestartMultiplier),
		MaxBacktraces:     envInt("LIBMEMLEAK_MAX_BACKTRACES", DefaultMaxBacktraces),
		BacktraceFile:     envString("LIBMEMLEAK_BACKTRACE_FILE", DefaultBacktraceFile),
	}
}

// RestartInterval is the period after which the monitor closes the
// current intervals and starts a fresh recording epoch; closed intervals
// are kept.
func (c Config) RestartInterval() time.Duration {
	return c.StatsInterval * time.Duration(c.RestartMultiplier)
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envSeconds(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
