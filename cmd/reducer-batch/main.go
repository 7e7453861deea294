// Package main implements the reducer-batch CLI for running a catch-up
// directly, bypassing Lambda and the HTTP server.
//
// This tool is intended for local development, manual backfilling, and
// operational debugging.
//
// Usage:
//
//	go run ./cmd/reducer-batch
//	go run ./cmd/reducer-batch --today=2022-05-04
//	go run ./cmd/reducer-batch --today=2022-05-04 --dry-run
//
// Configuration comes from the environment (or a .env file via godotenv),
// exactly as for the deployed function. In --dry-run mode, rows are assembled
// and counted but never pushed. --no-requeue suppresses the next-day requeue
// even when REQUEUE is set.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reducer/internal/app"
	"reducer/internal/config"
	"reducer/internal/core"
	"reducer/internal/types"
)

// cliOptions are the parsed command-line flags.
type cliOptions struct {
	Today     string
	DryRun    bool
	NoRequeue bool
}

func parseFlags(args []string, now time.Time, stderr io.Writer) (cliOptions, error) {
	fs := flag.NewFlagSet("reducer-batch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts cliOptions
	fs.StringVar(&opts.Today, "today", now.UTC().Format(types.DateLayout), "Run date (YYYY-MM-DD)")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Assemble rows without pushing them")
	fs.BoolVar(&opts.NoRequeue, "no-requeue", false, "Do not schedule the next day's run")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: reducer-batch [flags]\n\n")
		fmt.Fprintf(stderr, "Run one reducer catch-up directly, bypassing Lambda.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if _, err := types.ParseDate(opts.Today); err != nil {
		return cliOptions{}, fmt.Errorf("invalid --today %q: expected YYYY-MM-DD", opts.Today)
	}
	return opts, nil
}

// execute runs one catch-up and prints the result as indented JSON on out.
// The returned error is non-nil when the run did not succeed.
func execute(ctx context.Context, runner core.Runner, today string, out io.Writer) error {
	result, runErr := runner.Run(ctx, types.RunInput{Today: today})
	if result != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if result != nil && result.Status == types.RunStatusSkipped {
		return fmt.Errorf("run for %s skipped: another worker holds the lock", today)
	}
	return nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], time.Now(), os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	provider := config.NewProvider(os.Getenv("APP_ENV"), os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stderr, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: connecting clients: %v\n", err)
		os.Exit(1)
	}
	rt := app.New(cfg, logger, clients, app.Options{DryRun: opts.DryRun, NoRequeue: opts.NoRequeue})

	err = execute(ctx, rt, opts.Today, os.Stdout)
	_ = rt.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
