package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ModeGateway = "tracking-gateway"
	ModeMonitor = "monitor-client"
	ModeDriver  = "driver-client"
)

// isKnownMode checks if the provided mode name is known.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModeGateway, "gateway", "server", "g":
		return ModeGateway, true
	case ModeMonitor, "monitor", "m":
		return ModeMonitor, true
	case ModeDriver, "driver", "d":
		return ModeDriver, true
	default:
		return "", false
	}
}

// ParseMode supports:
//
//	--mode=<value>
//	<value> (subcommand shorthand), e.g., `monitor --token=...`
func ParseMode(args []string) (string, []string, error) {
	var mode string
	var out []string

	for _, arg := range args {
		if after, ok := strings.CutPrefix(arg, "--mode="); ok {
			mode = after
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return "", out, errors.New("no mode specified: use --mode=<mode>")
	}

	m, ok := isKnownMode(mode)
	if !ok {
		return "", out, fmt.Errorf("unknown mode %q", mode)
	}
	return m, out, nil
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, "\033[36m") // cyan

	fmt.Fprintln(w, `Usage:
  ./fleet-tracking --mode=<mode> [flags]

Modes:
  tracking-gateway     WebSocket tracking channel, REST backup endpoints and metrics
  monitor-client       Terminal fleet dashboard connected as a monitor
  driver-client        Driver device simulator reporting a random walk

Examples:
  ./fleet-tracking --mode=tracking-gateway --config=./config/config.yaml
  ./fleet-tracking monitor --token=$TOKEN --refresh=2s
  ./fleet-tracking driver --token=$TOKEN --lat=-25.2637 --lng=-57.5759`)

	fmt.Fprint(w, "\033[0m") // reset
}

// AttachUsage wires a concise per-mode usage to a FlagSet.
func AttachUsage(fs *flag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ./fleet-tracking --mode=%s [flags]\n", mode)
		fs.PrintDefaults()
	}
}
