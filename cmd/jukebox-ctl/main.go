package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// ============================================================================
// jukebox-ctl - Command-line IPC Client
// ============================================================================
// Sends commands to the rfidjukebox daemon via its Unix socket. Mostly used
// with the virtual reader on a bench without card hardware.
//
// Usage:
//   jukebox-ctl place C1:98:CC:E4
//   jukebox-ctl lift
//   jukebox-ctl ping
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/rfidjukebox.sock)
// ============================================================================

const (
	defaultSocketPath = "/tmp/rfidjukebox.sock"
	ipcTimeout        = 3 * time.Second
)

// Wire types (duplicated from the daemon for a standalone binary)

type cardPlace struct {
	UID string `json:"uid"`
}

// eventEnvelope wraps events for JSON
type eventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ipcResponse represents the daemon's response
type ipcResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func main() {
	socketPath := defaultSocketPath

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	env, err := buildEnvelope(args)
	if err != nil {
		if errors.Is(err, errHelp) {
			printUsage()
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	if err := send(socketPath, env); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}

var errHelp = errors.New("help requested")

// buildEnvelope turns command-line arguments into an IPC envelope.
func buildEnvelope(args []string) (eventEnvelope, error) {
	switch args[0] {
	case "place", "insert":
		if len(args) < 2 {
			return eventEnvelope{}, fmt.Errorf("%s requires a card UID", args[0])
		}
		data, err := json.Marshal(cardPlace{UID: args[1]})
		if err != nil {
			return eventEnvelope{}, fmt.Errorf("marshal card_place: %w", err)
		}
		return eventEnvelope{Type: "card_place", Data: data}, nil

	case "lift", "remove":
		return eventEnvelope{Type: "card_lift"}, nil

	case "ping":
		return eventEnvelope{Type: "ping"}, nil

	case "help", "-h", "--help":
		return eventEnvelope{}, errHelp

	default:
		return eventEnvelope{}, fmt.Errorf("unknown command: %s", args[0])
	}
}

func send(socketPath string, env eventEnvelope) error {
	conn, err := net.DialTimeout("unix", socketPath, ipcTimeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ipcTimeout))

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	var response ipcResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if response.Status != "ok" {
		return fmt.Errorf("daemon error: %s", response.Error)
	}

	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `jukebox-ctl - Control the rfidjukebox daemon via IPC

Usage:
  jukebox-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: %s)

Commands:
  place, insert <uid>     Put a card on the virtual reader (e.g. C1:98:CC:E4)
  lift, remove            Take the card off the virtual reader
  ping                    Check the daemon is alive
  help, -h, --help        Show this help message

Examples:
  jukebox-ctl place c198cce4
  jukebox-ctl lift
  jukebox-ctl -socket /run/rfidjukebox.sock ping
`, defaultSocketPath)
}
