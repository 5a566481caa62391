package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/curator/internal/cli"
	"horse.fit/curator/internal/pipeline"
	payloadschema "horse.fit/curator/schema"
)

func runCurate(args []string) int {
	fs := flag.NewFlagSet("curate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	in := fs.String("in", "-", "Post batch JSON file (- for stdin)")
	out := fs.String("out", "-", "Feed output file (- for stdout)")
	limit := fs.Int("limit", 0, "Maximum ranked posts to keep (0 keeps all)")
	languages := fs.String("languages", "", "Comma-separated language allow-list, e.g. ru,en")
	format := fs.String("format", outputFormatJSON, "Output format: json or table")
	noStore := fs.Bool("no-store", false, "Skip database and sink delivery")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "curate does not accept positional arguments")
		return 2
	}
	if *limit < 0 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 0")
		return 2
	}
	outputFormat, err := parseOutputFormat(*format, outputFormatJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	raw, err := readInput(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read batch: %v\n", err)
		return 1
	}
	batch, rejections, err := payloadschema.ValidateBatchPayload(json.RawMessage(raw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid batch: %v\n", err)
		return 1
	}
	for _, rejection := range rejections {
		fmt.Fprintf(os.Stderr, "REJECTED post[%d]: %s\n", rejection.Index, rejection.Reason)
	}

	cfg, logger, ok := setupCommand(envLoader)
	if !ok {
		return 1
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, *timeout)
	defer timeoutCancel()

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

	backend, err := openBackends(ctx, cfg, *noStore)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer backend.Close()

	req := pipeline.Request{
		Posts:     pipeline.PostsFromPayload(batch.Posts),
		Channels:  pipeline.ChannelsFromPayload(batch.Channels),
		Limit:     *limit,
		Languages: splitCSV(*languages),
		Malformed: len(rejections),
	}
	if err := fillChannelMetadata(ctx, backend.pool, &req); err != nil {
		logger.Warn().Err(err).Msg("load stored channel metadata failed")
	}

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
	printFeedSummary(feed, delivered)
	return 0
}
