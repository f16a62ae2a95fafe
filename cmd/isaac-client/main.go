package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"isaac-client/internal/adapter/tui/uxerror"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd, args := splitCommand(os.Args[1:])

	var err error
	switch cmd {
	case "help":
		showUsage()
		return
	case "version":
		fmt.Println("isaac-client", version)
		return
	case "run":
		err = withSignals(func(ctx context.Context) error { return runSession(ctx, args) })
	case "probe":
		err = withSignals(func(ctx context.Context) error { return runProbe(ctx, args) })
	case "watch":
		err = withSignals(func(ctx context.Context) error { return runWatch(ctx, args) })
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'isaac-client --help' for usage information.\n", cmd)
		os.Exit(1)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "%s: %s\n", cmd, uxerror.Humanize(err).Render())
		os.Exit(1)
	}
}

// splitCommand returns the subcommand and its arguments. A missing command,
// or one that starts with a flag, means "run".
func splitCommand(args []string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		for _, a := range args {
			if a == "-h" || a == "--help" {
				return "help", nil
			}
		}
		return "run", args
	}
	return args[0], args[1:]
}

func withSignals(fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx)
}

func showUsage() {
	fmt.Println(`isaac-client - viewer client for ISAAC in-situ visualization servers

USAGE:
    isaac-client [COMMAND] [FLAGS]

COMMANDS:
    run         Connect, observe a stream and steer the camera (default)
    probe       Connect, print the session info as JSON and exit
    watch       Connect and show a live terminal view of the session
    version     Print the version

FLAGS:
    -c, --config PATH      Config file (default: ./isaac-client.yaml)
        --host HOST        Server host (default: 127.0.0.1)
    -p, --port PORT        Server port (default: 2459)
    -s, --stream ID        Stream id to observe (default: 0)
        --stream-name NAME Observe the stream with this name
        --dropable         Let the server drop frames for this observer
        --observer-id ID   Observer id sent with every message
    -t, --timeout DUR      Connection open timeout (default: 10s)

CONFIGURATION:
    Environment: ISAAC_* variables override the config file,
    flags override both.

EXAMPLES:
    isaac-client probe --host 10.0.0.5
    isaac-client run --stream-name "volume" --dropable
    isaac-client watch -s 1`)
}
