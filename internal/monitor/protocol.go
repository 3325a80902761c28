package monitor

import (
	"strconv"
	"strings"
)

// command is one parsed control-socket request.
type command struct {
	name string
	arg  int // meaning depends on name; 0 if not supplied
	has  bool
}

// parseCommand splits a line of input into a command and optional
// trailing integer argument, the protocol the reference tool's
// memleak_control speaks: "stats", "stats 20", "list 5", "dump 100",
// "restart 3", "start", "stop", "restart", "delete", "help", "quit".
func parseCommand(line string) command {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{name: ""}
	}
	c := command{name: strings.ToLower(fields[0])}
	if len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil {
			c.arg = n
			c.has = true
		}
	}
	return c
}

const helpText = `Commands:
  help             show this text
  start            erase all intervals and start recording (same as restart if already recording)
  stop             stop recording (keep existing intervals)
  restart          close the current interval and open a fresh one
  restart M        auto-restart every M printed stats (M >= 2)
  delete           delete intervals older than the last report
  stats            print stats now
  stats N          auto-print stats every N seconds (N >= 1)
  list N           print only the first N backtraces in stats (N >= 1)
  dump N           print the resolved call stack for backtrace N
  quit             close this connection
`

// prompt is appended after every command's output, and promptQuit is
// sent instead when the connection is about to close — both newline
// terminated tokens the reference implementation's client waits for.
const (
	prompt     = "PROMPT\n"
	promptQuit = "QUIT\n"
)

const unknownCommandMessage = "Ignored.\n"
