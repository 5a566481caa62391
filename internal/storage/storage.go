package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"horse.fit/curator/internal/globaltime"
	"horse.fit/curator/internal/pipeline"
)

const DefaultPrefix = "feeds"

// Sink publishes a finished feed under a key and returns where it landed.
type Sink interface {
	Publish(ctx context.Context, key string, feed pipeline.Feed) (string, error)
}

// FeedKey builds prefix/YYYY/MM/DD/<run_id>.json from the feed timestamp.
func FeedKey(prefix string, feed pipeline.Feed) string {
	trimmed := strings.Trim(strings.TrimSpace(prefix), "/")
	if trimmed == "" {
		trimmed = DefaultPrefix
	}
	runID := strings.TrimSpace(feed.Metadata.RunID)
	if runID == "" {
		runID = "unnamed"
	}
	return path.Join(trimmed, globaltime.DayPath(feed.Metadata.LastUpdate), runID+".json")
}

func encodeFeed(feed pipeline.Feed) ([]byte, error) {
	raw, err := json.MarshalIndent(feed, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode feed: %w", err)
	}
	return append(raw, '\n'), nil
}

// FileSink writes feeds below a base directory.
type FileSink struct {
	baseDir string
}

func NewFileSink(baseDir string) (*FileSink, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("feed directory is required")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("create feed directory %s: %w", trimmed, err)
	}
	return &FileSink{baseDir: trimmed}, nil
}

// Publish writes the feed through a temporary file and a rename, so readers
// never see a partial document.
func (s *FileSink) Publish(ctx context.Context, key string, feed pipeline.Feed) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := encodeFeed(feed)
	if err != nil {
		return "", err
	}

	target := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create feed directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".feed-*.json")
	if err != nil {
		return "", fmt.Errorf("create temp feed file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write feed file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close feed file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename feed file: %w", err)
	}
	return target, nil
}

// MultiSink publishes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, key string, feed pipeline.Feed) (string, error) {
	locations := make([]string, 0, len(m))
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		location, err := sink.Publish(ctx, key, feed)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		locations = append(locations, location)
	}
	return strings.Join(locations, ","), errors.Join(errs...)
}
