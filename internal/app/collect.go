package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/curator/internal/cli"
	"horse.fit/curator/internal/globaltime"
	"horse.fit/curator/internal/telegram"
)

func runCollect(args []string) int {
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	channels := fs.String("channels", "", "Comma-separated channels (defaults to active channels in the database)")
	window := fs.Duration("window", 24*time.Hour, "Keep posts newer than this (0 keeps every post on the page)")
	concurrency := fs.Int("concurrency", 0, "Parallel channel scrapes (defaults to COLLECTOR_CONCURRENCY)")
	out := fs.String("out", "-", "Batch output file (- for stdout)")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "collect does not accept positional arguments")
		return 2
	}
	if *window < 0 || *concurrency < 0 {
		fmt.Fprintln(os.Stderr, "--window and --concurrency must be >= 0")
		return 2
	}

	cfg, logger, ok := setupCommand(envLoader)
	if !ok {
		return 1
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, *timeout)
	defer timeoutCancel()

	pool, err := openPool(cfg, 10*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if pool != nil {
		defer pool.Close()
	}

	names, err := resolveChannels(ctx, *channels, pool)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	_, recorder, err := newRecorder(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize metrics: %v\n", err)
		return 1
	}

	started := globaltime.UTC()
	results := newCollector(cfg, logger, recorder, *concurrency).Collect(ctx, names, globaltime.Cutoff(*window))
	recordScrapes(ctx, pool, results, started, logger)

	batch := telegram.Batch(results, started)
	if err := writeOutput(*out, batch); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write batch: %v\n", err)
		return 1
	}

	failed := telegram.Failed(results)
	for _, result := range failed {
		fmt.Fprintf(os.Stderr, "FAILED %s: %v\n", result.Channel, result.Err)
	}
	fmt.Fprintf(os.Stderr, "collect channels=%d failed=%d posts=%d window=%s\n", len(results), len(failed), len(batch.Posts), *window)

	if len(results) > 0 && len(failed) == len(results) {
		return 1
	}
	return 0
}
