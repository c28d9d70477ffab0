package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// isTerminal reports whether stdin is interactive. Prompts are only printed
// for a terminal so piped scripts produce clean output.
var isTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Capture(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Retry(ctx context.Context) error
	Cleanup(ctx context.Context) error
	Remove(ctx context.Context, args []string) error
	Reset(ctx context.Context) error
	Ticket(ctx context.Context, args []string) error
	Status(ctx context.Context) error
}

const helpText = "Available commands: capture <ticket> <stage> <path> [lat lon], (l)ist [status], retry, cleanup, remove <id>, reset, ticket <id>, status, exit"

// runREPL reads commands from scanner and dispatches them to a until EOF,
// "exit"/"quit" or ctx cancellation. Handler errors are reported by the
// handlers themselves.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	interactive := isTerminal()
	for {
		if ctx.Err() != nil {
			return
		}
		if interactive {
			printlnFn(fmt.Sprintf("fs> %s > ", statusFn()))
		}
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			printlnFn(helpText)

		case "capture":
			_ = a.Capture(ctx, args)

		case "l", "list":
			_ = a.List(ctx, args)

		case "retry", "sync":
			_ = a.Retry(ctx)

		case "cleanup":
			_ = a.Cleanup(ctx)

		case "remove":
			_ = a.Remove(ctx, args)

		case "reset":
			_ = a.Reset(ctx)

		case "ticket":
			_ = a.Ticket(ctx, args)

		case "status":
			_ = a.Status(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
