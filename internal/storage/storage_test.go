package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"horse.fit/curator/internal/pipeline"
)

func testFeed() pipeline.Feed {
	return pipeline.Feed{
		Metadata: pipeline.FeedMetadata{
			RunID:      "5b0d7a52-6c1e-4d53-a4f8-3f2d7e0c9b11",
			LastUpdate: time.Date(2026, 10, 14, 23, 30, 0, 0, time.FixedZone("MSK", 3*3600)),
			PostsCount: 1,
		},
		Posts: []pipeline.ScoredPost{{
			Post: pipeline.Post{Channel: "rbc", Text: "ЦБ сохранил ключевую ставку"},
			Rank: 1,
		}},
	}
}

func TestFeedKey(t *testing.T) {
	t.Parallel()

	feed := testFeed()
	if got := FeedKey("", feed); got != "feeds/2026/10/14/5b0d7a52-6c1e-4d53-a4f8-3f2d7e0c9b11.json" {
		t.Fatalf("unexpected key: %s", got)
	}
	feed.Metadata.RunID = ""
	if got := FeedKey("/archive/", feed); got != "archive/2026/10/14/unnamed.json" {
		t.Fatalf("unexpected key: %s", got)
	}
}

func TestFileSinkPublishesIndentedJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	if err != nil {
		t.Fatalf("new file sink: %v", err)
	}

	feed := testFeed()
	location, err := sink.Publish(context.Background(), FeedKey(DefaultPrefix, feed), feed)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !strings.HasPrefix(location, dir) {
		t.Fatalf("expected location under %s, got %s", dir, location)
	}

	raw, err := os.ReadFile(location)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	if !strings.Contains(string(raw), "\n  \"metadata\"") {
		t.Fatalf("expected indented JSON, got %s", raw)
	}
	var decoded pipeline.Feed
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	if decoded.Metadata.RunID != feed.Metadata.RunID || len(decoded.Posts) != 1 {
		t.Fatalf("unexpected decoded feed: %+v", decoded.Metadata)
	}

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(location), ".feed-*"))
	if err != nil || len(leftovers) != 0 {
		t.Fatalf("expected no temp files, got %v (%v)", leftovers, err)
	}
}

func TestFileSinkRejectsCanceledContext(t *testing.T) {
	t.Parallel()

	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("new file sink: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sink.Publish(ctx, "feeds/x.json", testFeed()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if _, err := NewFileSink("  "); err == nil {
		t.Fatalf("expected error for blank directory")
	}
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3SinkUploadsFeed(t *testing.T) {
	t.Parallel()

	putter := &fakePutter{}
	sink := newS3Sink(putter, " curated ")
	feed := testFeed()
	key := FeedKey(DefaultPrefix, feed)

	location, err := sink.Publish(context.Background(), key, feed)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if location != "s3://curated/"+key {
		t.Fatalf("unexpected location: %s", location)
	}
	if *putter.input.Bucket != "curated" || *putter.input.Key != key {
		t.Fatalf("unexpected put input: bucket=%s key=%s", *putter.input.Bucket, *putter.input.Key)
	}
	if !strings.HasPrefix(*putter.input.ContentType, "application/json") {
		t.Fatalf("unexpected content type %s", *putter.input.ContentType)
	}
	if !json.Valid(putter.body) {
		t.Fatalf("expected JSON body")
	}
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	t.Parallel()

	file, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("new file sink: %v", err)
	}
	failing := newS3Sink(&fakePutter{err: errors.New("access denied")}, "curated")

	location, err := MultiSink{file, nil, failing}.Publish(context.Background(), "feeds/a.json", testFeed())
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("expected joined upload error, got %v", err)
	}
	if !strings.HasSuffix(location, filepath.Join("feeds", "a.json")) {
		t.Fatalf("expected file location to be reported, got %q", location)
	}
}

func TestNewS3SinkValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewS3Sink(context.Background(), S3Config{Region: "us-east-1"}); err == nil {
		t.Fatalf("expected bucket error")
	}
	if _, err := NewS3Sink(context.Background(), S3Config{Bucket: "b"}); err == nil {
		t.Fatalf("expected region error")
	}
}
