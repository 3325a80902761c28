// Command memleakctl is an interactive client for a running memleakd's
// control socket, the Go counterpart of the reference implementation's
// memleak_control.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"

	"github.com/go-memleak/memleak/internal/config"
)

func main() {
	cfg := config.FromEnv()

	conn, err := net.Dial("unix", cfg.Sockname)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: connect: %s: %v\n", os.Args[0], cfg.Sockname, err)
		fmt.Fprintf(os.Stderr, "%s: set LIBMEMLEAK_SOCKNAME to connect to a different socket.\n", os.Args[0])
		os.Exit(1)
	}
	defer conn.Close()

	if err := repl(conn, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// repl alternates between draining server output up to the next PROMPT
// or QUIT marker and, on PROMPT, reading one line of input to send back.
// It mirrors rl_gets()'s loop in the reference client, minus the
// readline history (no readline-equivalent appears anywhere in the
// example pack this was built from, so input is read with bufio.Scanner
// instead).
func repl(conn net.Conn, in *os.File, out *os.File) error {
	server := bufio.NewScanner(conn)
	stdin := bufio.NewScanner(in)

	for server.Scan() {
		line := server.Text()
		switch line {
		case "PROMPT":
			fmt.Fprint(out, "libmemleak> ")
			if !stdin.Scan() {
				return nil
			}
			fmt.Fprintf(conn, "%s\n", stdin.Text())
		case "QUIT":
			fmt.Fprintln(out, "Application terminated.")
			return nil
		default:
			fmt.Fprintln(out, line)
		}
	}
	fmt.Fprintln(out, "Application terminated.")
	return server.Err()
}
