package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/curator/internal/metrics"
)

// Batcher splits large requests into batches. Either every batch succeeds or
// the whole call fails.
type Batcher struct {
	inner Provider
	size  int
}

func NewBatcher(inner Provider, size int) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{inner: inner, size: size}
}

func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if b == nil || b.inner == nil {
		return nil, ErrUnavailable
	}
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += b.size {
		end := min(start+b.size, len(texts))
		batch, err := b.inner.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if err := checkCount(end-start, batch); err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

type Options struct {
	Endpoint       string
	Model          string
	APIKeys        []string
	BatchSize      int
	MaxLength      int
	MinInterval    time.Duration
	RequestTimeout time.Duration
}

// New assembles the provider chain: batching, key rotation, rate limiting
// and the HTTP client. It returns nil when no endpoint is configured.
func New(opts Options, logger zerolog.Logger, recorder *metrics.Recorder) Provider {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil
	}

	keys := opts.APIKeys
	if len(keys) == 0 {
		keys = []string{""}
	}

	limiter := NewLimiter(opts.MinInterval, recorder)
	clients := make([]Provider, 0, len(keys))
	for _, key := range keys {
		clients = append(clients, limiter.Wrap(NewClient(ClientOptions{
			Endpoint:       opts.Endpoint,
			Model:          opts.Model,
			APIKey:         key,
			MaxLength:      opts.MaxLength,
			RequestTimeout: opts.RequestTimeout,
		})))
	}

	logger.Info().
		Str("endpoint", normalizeEndpoint(opts.Endpoint)).
		Int("api_keys", len(opts.APIKeys)).
		Int("batch_size", max(opts.BatchSize, 0)).
		Msg("embedding provider configured")

	return NewBatcher(NewRotating(clients, logger), opts.BatchSize)
}
