// Command disorderc is a thin command-line client for the jukebox wire
// protocol (spec.md §4.6): it authenticates, sends one command line built
// from argv, and prints whatever the server responds with — a single
// status line, or a status line plus a body terminated by ".". Grounded on
// the teacher's cmd/rtmp-server flag-parsing style. It does not import
// internal/protocol: it uses internal/auth for the challenge response and
// does its own line quoting and response parsing.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/crazyscot/disorder/internal/auth"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	conn, err := dial(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer conn.Close()

	r := bufio.NewReader(conn)

	greeting, err := readLine(r)
	if err != nil {
		fmt.Fprintln(os.Stderr, "greeting:", err)
		os.Exit(1)
	}
	algo, nonce, err := parseGreeting(greeting)
	if err != nil {
		fmt.Fprintln(os.Stderr, "greeting:", err)
		os.Exit(1)
	}

	if cfg.cookie != "" {
		if err := sendCommand(conn, r, "cookie", cfg.cookie); err != nil {
			fmt.Fprintln(os.Stderr, "auth:", err)
			os.Exit(1)
		}
	} else if cfg.username != "" {
		response, err := auth.Response(algo, cfg.password, nonce)
		if err != nil {
			fmt.Fprintln(os.Stderr, "auth:", err)
			os.Exit(1)
		}
		if err := sendCommand(conn, r, "user", cfg.username, response); err != nil {
			fmt.Fprintln(os.Stderr, "auth:", err)
			os.Exit(1)
		}
	}

	if err := sendCommand(conn, r, cfg.command...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dial(cfg *cliConfig) (net.Conn, error) {
	if cfg.unix != "" {
		return net.Dial("unix", cfg.unix)
	}
	return net.Dial("tcp", cfg.addr)
}

// parseGreeting extracts the hash algorithm and nonce from the server's
// "231 2 <algo> <nonce>" banner.
func parseGreeting(line string) (auth.HashAlgo, string, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[0] != "231" {
		return "", "", fmt.Errorf("unexpected greeting %q", line)
	}
	return auth.HashAlgo(fields[2]), fields[3], nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// sendCommand writes a quoted command line, reads the status line, and —
// for a body-follows (253) response — reads and prints lines up to the
// lone "." terminator. Any status code >= 500 is surfaced as an error.
func sendCommand(conn net.Conn, r *bufio.Reader, args ...string) error {
	if _, err := fmt.Fprintf(conn, "%s\n", quoteLine(args)); err != nil {
		return err
	}
	status, err := readLine(r)
	if err != nil {
		return err
	}
	fmt.Println(status)

	code, _ := strconv.Atoi(strings.Fields(status)[0])
	if code == 253 {
		for {
			line, err := readLine(r)
			if err != nil {
				return err
			}
			if line == "." {
				break
			}
			fmt.Println(unescapeBodyLine(line))
		}
	}
	if code >= 500 {
		return fmt.Errorf("command failed: %s", status)
	}
	return nil
}

func unescapeBodyLine(line string) string {
	if strings.HasPrefix(line, "..") {
		return line[1:]
	}
	return line
}

// quoteLine renders args using the same grammar internal/protocol.SplitArgs
// parses: a token containing whitespace or a quote is wrapped in double
// quotes, with only `"` and `\` backslash-escaped.
func quoteLine(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if !strings.ContainsAny(a, " \t\"") {
			parts[i] = a
			continue
		}
		var b strings.Builder
		b.WriteByte('"')
		for _, r := range a {
			if r == '"' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('"')
		parts[i] = b.String()
	}
	return strings.Join(parts, " ")
}
