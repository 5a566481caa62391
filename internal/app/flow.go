package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/pipeline"
	"horse.fit/curator/internal/storage"
	"horse.fit/curator/internal/telegram"
)

type deliveredFeed struct {
	RunUUID  string
	Location string
}

// deliverFeed stores the feed in the database and publishes it to the sink,
// skipping whichever is not configured.
func deliverFeed(ctx context.Context, feed pipeline.Feed, pool *db.Pool, sink storage.Sink, prefix string) (deliveredFeed, error) {
	var out deliveredFeed
	if pool != nil {
		runUUID, err := pool.SaveFeed(ctx, feed)
		if err != nil {
			return out, err
		}
		out.RunUUID = runUUID
	}
	if sink != nil {
		location, err := sink.Publish(ctx, storage.FeedKey(prefix, feed), feed)
		if err != nil {
			return out, err
		}
		out.Location = location
	}
	return out, nil
}

// fillChannelMetadata adds stored channel signals for channels the request
// carries posts for but no metadata.
func fillChannelMetadata(ctx context.Context, pool *db.Pool, req *pipeline.Request) error {
	if pool == nil {
		return nil
	}
	records, err := pool.ListChannels(ctx, true)
	if err != nil {
		return err
	}
	if req.Channels == nil {
		req.Channels = make(map[string]pipeline.ChannelMetadata, len(records))
	}
	for _, record := range records {
		if _, ok := req.Channels[record.Name]; ok {
			continue
		}
		if meta, ok := record.Metadata(); ok {
			req.Channels[record.Name] = meta
		}
	}
	return nil
}

// resolveChannels uses the --channels list when given and the active
// channels in the database otherwise.
func resolveChannels(ctx context.Context, raw string, pool *db.Pool) ([]string, error) {
	var channels []string
	for _, part := range strings.Split(raw, ",") {
		if name := telegram.NormalizeChannel(part); name != "" {
			channels = append(channels, name)
		}
	}
	if len(channels) > 0 {
		return channels, nil
	}
	if pool == nil {
		return nil, fmt.Errorf("no channels: pass --channels or configure DATABASE_URL with tracked channels")
	}

	records, err := pool.ListChannels(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		channels = append(channels, record.Name)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("no active channels in the database, add some with \"curator channels add\"")
	}
	return channels, nil
}

func recordScrapes(ctx context.Context, pool *db.Pool, results []telegram.Result, at time.Time, logger zerolog.Logger) {
	if pool == nil {
		return
	}
	for _, result := range results {
		if result.Page == nil {
			continue
		}
		if err := pool.RecordChannelScrape(ctx, result.Channel, result.Page.Metadata, at); err != nil {
			logger.Warn().Err(err).Str("channel", result.Channel).Msg("record channel scrape failed")
		}
	}
}

func readInput(path string) ([]byte, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(trimmed)
}

// writeOutput writes value as indented JSON to path, or to stdout for "" and
// "-".
func writeOutput(path string, value any) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "-" {
		return printJSON(value)
	}

	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if dir := filepath.Dir(trimmed); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(trimmed, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", trimmed, err)
	}
	return nil
}

func writeFeed(path, format string, feed pipeline.Feed) error {
	if format == outputFormatTable {
		return writeFeedTable(feed)
	}
	return writeOutput(path, feed)
}

func writeFeedTable(feed pipeline.Feed) error {
	rows := make([][]string, 0, len(feed.Posts))
	for _, post := range feed.Posts {
		weight := ""
		if post.Weight != nil {
			weight = fmt.Sprintf("%.3f", *post.Weight)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", post.Rank),
			post.Channel,
			post.PostType,
			weight,
			fmt.Sprintf("%d", post.Views),
			fmt.Sprintf("%d", post.MergedFrom),
			truncateForTable(strings.ReplaceAll(post.Text, "\n", " "), 80),
		})
	}
	return writeTable([]string{"rank", "channel", "post_type", "weight", "views", "merged_from", "text"}, rows)
}

func printFeedSummary(feed pipeline.Feed, delivered deliveredFeed) {
	meta := feed.Metadata
	fmt.Fprintf(
		os.Stderr,
		"curate run_id=%s raw=%d malformed=%d unique=%d merged=%d ads_filtered=%d ranked=%d provider=%t clustering=%s",
		meta.RunID,
		meta.Stages.Raw,
		meta.Stages.Malformed,
		meta.UniquePosts,
		meta.Stages.Merged,
		meta.AdPostsFiltered,
		meta.PostsCount,
		meta.ProviderAvailable,
		meta.Clustering,
	)
	if delivered.RunUUID != "" {
		fmt.Fprintf(os.Stderr, " run_uuid=%s", delivered.RunUUID)
	}
	if delivered.Location != "" {
		fmt.Fprintf(os.Stderr, " location=%s", delivered.Location)
	}
	fmt.Fprintln(os.Stderr)
}

func splitCSV(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
