package telegram

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/curator/internal/metrics"
	"horse.fit/curator/internal/pipeline"
	payloadschema "horse.fit/curator/schema"
)

const DefaultConcurrency = 4

type Fetcher interface {
	FetchChannel(ctx context.Context, channel string, cutoff time.Time) (*ChannelPage, error)
}

// Result is the outcome for one channel. Exactly one of Page and Err is set.
type Result struct {
	Channel string
	Page    *ChannelPage
	Err     error
}

type Collector struct {
	fetcher     Fetcher
	concurrency int
	recorder    *metrics.Recorder
	logger      zerolog.Logger
}

func NewCollector(fetcher Fetcher, concurrency int, recorder *metrics.Recorder, logger zerolog.Logger) *Collector {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Collector{
		fetcher:     fetcher,
		concurrency: concurrency,
		recorder:    recorder,
		logger:      logger,
	}
}

// Collect scrapes every channel with bounded parallelism. A failing channel
// is reported in its Result and never stops the others. Results follow the
// order of channels after normalisation and deduplication.
func (c *Collector) Collect(ctx context.Context, channels []string, cutoff time.Time) []Result {
	names := uniqueChannels(channels)
	results := make([]Result, len(names))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)
	for i, name := range names {
		group.Go(func() error {
			started := time.Now()
			page, err := c.fetcher.FetchChannel(groupCtx, name, cutoff)
			results[i] = Result{Channel: name, Page: page, Err: err}

			if err != nil {
				c.recorder.ObserveScrape("error")
				c.logger.Warn().Err(err).Str("channel", name).Msg("channel scrape failed")
				return nil
			}
			c.recorder.ObserveScrape("ok")
			c.logger.Debug().
				Str("channel", name).
				Int("messages", page.Messages).
				Int("posts", len(page.Posts)).
				Dur("duration", time.Since(started)).
				Msg("channel scraped")
			return nil
		})
	}
	_ = group.Wait()
	return results
}

func uniqueChannels(channels []string) []string {
	names := make([]string, 0, len(channels))
	seen := make(map[string]struct{}, len(channels))
	for _, raw := range channels {
		name := NormalizeChannel(raw)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Request turns successful results into a curation request.
func Request(results []Result) pipeline.Request {
	req := pipeline.Request{Channels: make(map[string]pipeline.ChannelMetadata)}
	for _, result := range results {
		if result.Page == nil {
			continue
		}
		req.Posts = append(req.Posts, result.Page.Posts...)
		req.Channels[result.Channel] = result.Page.Metadata
	}
	return req
}

// Batch renders successful results in the wire format the validate and
// curate commands read.
func Batch(results []Result, collectedAt time.Time) payloadschema.Batch {
	batch := payloadschema.Batch{
		Posts:    make([]payloadschema.PostPayload, 0),
		Channels: make(map[string]payloadschema.ChannelPayload),
	}
	for _, result := range results {
		if result.Page == nil {
			continue
		}
		page := result.Page
		for _, post := range page.Posts {
			batch.Posts = append(batch.Posts, payloadschema.PostPayload{
				Channel: post.Channel,
				PostID:  post.PostID,
				PostURL: post.PostURL,
				Text:    post.Text,
				Date:    post.Date.UTC().Format(time.RFC3339),
				Views:   post.Views,
				Links:   post.Links,
				Images:  post.Images,
			})
		}
		batch.Channels[result.Channel] = payloadschema.ChannelPayload{
			Name:                page.Title,
			URL:                 page.URL,
			Subscribers:         page.Metadata.Subscribers,
			PostFrequencyPerDay: page.Metadata.PostFrequencyPerDay,
			HasLinksRatio:       page.Metadata.HasLinksRatio,
			AverageViews:        page.Metadata.AverageViews,
		}
	}

	sort.SliceStable(batch.Posts, func(i, j int) bool {
		return batch.Posts[i].Date > batch.Posts[j].Date
	})
	count := len(batch.Posts)
	batch.PostsCount = &count
	stamp := collectedAt.UTC().Format(time.RFC3339)
	batch.CollectedAt = &stamp
	return batch
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if result.Err != nil {
			failed = append(failed, result)
		}
	}
	return failed
}
