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

// runOnce scrapes the channels and curates the result without an
// intermediate batch file.
func runOnce(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	channels := fs.String("channels", "", "Comma-separated channels (defaults to active channels in the database)")
	window := fs.Duration("window", 24*time.Hour, "Keep posts newer than this (0 keeps every post on the page)")
	concurrency := fs.Int("concurrency", 0, "Parallel channel scrapes (defaults to COLLECTOR_CONCURRENCY)")
	limit := fs.Int("limit", 0, "Maximum ranked posts to keep (0 keeps all)")
	languages := fs.String("languages", "", "Comma-separated language allow-list, e.g. ru,en")
	out := fs.String("out", "-", "Feed output file (- for stdout)")
	format := fs.String("format", outputFormatJSON, "Output format: json or table")
	noStore := fs.Bool("no-store", false, "Skip database and sink delivery")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "run does not accept positional arguments")
		return 2
	}
	if *window < 0 || *concurrency < 0 || *limit < 0 {
		fmt.Fprintln(os.Stderr, "--window, --concurrency and --limit must be >= 0")
		return 2
	}
	outputFormat, err := parseOutputFormat(*format, outputFormatJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
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

	backend, err := openBackends(ctx, cfg, *noStore)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer backend.Close()

	names, err := resolveChannels(ctx, *channels, backend.pool)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	_, recorder, err := newRecorder(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize metrics: %v\n", err)
		return 1
	}
	service, err := newService(cfg, logger, recorder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		return 1
	}

	started := globaltime.UTC()
	results := newCollector(cfg, logger, recorder, *concurrency).Collect(ctx, names, globaltime.Cutoff(*window))
	recordScrapes(ctx, backend.pool, results, started, logger)

	failed := telegram.Failed(results)
	for _, result := range failed {
		fmt.Fprintf(os.Stderr, "FAILED %s: %v\n", result.Channel, result.Err)
	}
	if len(results) > 0 && len(failed) == len(results) {
		fmt.Fprintln(os.Stderr, "Every channel scrape failed")
		return 1
	}

	req := telegram.Request(results)
	req.Limit = *limit
	req.Languages = splitCSV(*languages)

	feed := service.Curate(ctx, req)
	delivered, err := deliverFeed(ctx, feed, backend.pool, backend.sink, cfg.S3Prefix)
	if err != nil {
		logger.Error().Err(err).Str("run_id", feed.Metadata.RunID).Msg("feed delivery failed")
		fmt.Fprintf(os.Stderr, "Failed to deliver feed: %v\n", err)
		return 1
	}

	if err := writeFeed(*out, outputFormat, feed); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write feed: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "collect channels=%d failed=%d\n", len(results), len(failed))
	printFeedSummary(feed, delivered)
	return 0
}
