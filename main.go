package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	driverclient "fleet-tracking/cmd/driver_client"
	monitorclient "fleet-tracking/cmd/monitor_client"
	trackinggateway "fleet-tracking/cmd/tracking_gateway"
	"fleet-tracking/internal/cli"
)

const defaultConfigPath = "./config/config.yaml"

func main() {
	// quick path for global help
	if len(os.Args) == 2 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		cli.PrintUsage(os.Stdout)
		os.Exit(0)
	}

	// parse mode and collect the remaining args for that mode
	mode, modeArgs, err := cli.ParseMode(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	// context cancelled on SIGINT/SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch mode {

	case cli.ModeGateway:
		fs := flag.NewFlagSet(cli.ModeGateway, flag.ContinueOnError)
		configPath := fs.String("config", defaultConfigPath, "Path to the YAML configuration file")
		maxConc := fs.Int("max-concurrent", 0, "Maximum concurrent HTTP requests and channel sessions (0 = server.max_concurrent)")
		cli.AttachUsage(fs, cli.ModeGateway)
		parseOrExit(fs, modeArgs)

		if *maxConc < 0 {
			fmt.Fprintln(os.Stderr, "Error: --max-concurrent must be >= 0")
			fs.Usage()
			os.Exit(2)
		}
		exitOnError(trackinggateway.Run(ctx, *configPath, *maxConc))

	case cli.ModeMonitor:
		fs := flag.NewFlagSet(cli.ModeMonitor, flag.ContinueOnError)
		configPath := fs.String("config", defaultConfigPath, "Path to the YAML configuration file")
		token := fs.String("token", "", "Bearer token (defaults to client.token)")
		refresh := fs.Duration("refresh", 2*time.Second, "Dashboard redraw interval")
		cli.AttachUsage(fs, cli.ModeMonitor)
		parseOrExit(fs, modeArgs)

		if *refresh <= 0 {
			fmt.Fprintln(os.Stderr, "Error: --refresh must be > 0")
			fs.Usage()
			os.Exit(2)
		}
		exitOnError(monitorclient.Run(ctx, *configPath, *token, *refresh))

	case cli.ModeDriver:
		fs := flag.NewFlagSet(cli.ModeDriver, flag.ContinueOnError)
		configPath := fs.String("config", defaultConfigPath, "Path to the YAML configuration file")
		token := fs.String("token", "", "Bearer token (defaults to client.token)")
		lat := fs.Float64("lat", -25.2637, "Starting latitude")
		lng := fs.Float64("lng", -57.5759, "Starting longitude")
		every := fs.Duration("every", 2*time.Second, "Simulated GPS reading interval")
		cli.AttachUsage(fs, cli.ModeDriver)
		parseOrExit(fs, modeArgs)

		if *lat < -90 || *lat > 90 || *lng < -180 || *lng > 180 {
			fmt.Fprintln(os.Stderr, "Error: --lat/--lng out of range")
			fs.Usage()
			os.Exit(2)
		}
		exitOnError(driverclient.Run(ctx, *configPath, driverclient.Options{
			Token:    *token,
			StartLat: *lat,
			StartLng: *lng,
			Every:    *every,
		}))

	default:
		// should not happen because ParseMode validates known modes
		fmt.Fprintln(os.Stderr, "Error: unknown mode")
		os.Exit(2)
	}

	// tiny delay to let deferred logs flush on very fast exits
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Millisecond):
	}
}

func parseOrExit(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
