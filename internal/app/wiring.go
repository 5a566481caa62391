package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"horse.fit/curator/internal/cli"
	"horse.fit/curator/internal/config"
	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/embedding"
	"horse.fit/curator/internal/langdetect"
	"horse.fit/curator/internal/logging"
	"horse.fit/curator/internal/metrics"
	"horse.fit/curator/internal/pipeline"
	"horse.fit/curator/internal/storage"
	"horse.fit/curator/internal/telegram"
)

// loadConfig applies the .env file, if any, and reads the environment.
func loadConfig(envLoader *cli.EnvLoader) (*config.Config, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// setupCommand loads config and a stderr logger, keeping stdout free for
// command output.
func setupCommand(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, bool) {
	cfg, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, zerolog.Nop(), false
	}

	logger, err := logging.NewStderr(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), false
	}
	return cfg, logger, true
}

func newRecorder(withRuntime bool) (*prometheus.Registry, *metrics.Recorder, error) {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	recorder, err := metrics.NewRecorder(reg)
	if err != nil {
		return nil, nil, err
	}
	return reg, recorder, nil
}

func newProvider(cfg *config.Config, logger zerolog.Logger, recorder *metrics.Recorder) embedding.Provider {
	return embedding.New(embedding.Options{
		Endpoint:       cfg.EmbeddingEndpoint,
		Model:          cfg.EmbeddingModel,
		APIKeys:        cfg.EmbeddingAPIKeyList(),
		BatchSize:      cfg.EmbeddingBatchSize,
		MaxLength:      cfg.EmbeddingMaxLength,
		MinInterval:    cfg.EmbeddingMinInterval,
		RequestTimeout: cfg.EmbeddingRequestTimeout,
	}, logger, recorder)
}

func newService(cfg *config.Config, logger zerolog.Logger, recorder *metrics.Recorder) (*pipeline.Service, error) {
	scoring, err := pipeline.LoadConfig(cfg.ScoringConfig)
	if err != nil {
		return nil, err
	}

	provider := newProvider(cfg, logger, recorder)
	if provider == nil {
		logger.Warn().Msg("EMBEDDING_ENDPOINT not set, semantic clustering and topic detection are disabled")
	}

	return pipeline.NewService(pipeline.Options{
		Config:          scoring,
		Provider:        provider,
		ProviderTimeout: cfg.ProviderTimeout,
		BatchSize:       cfg.EmbeddingBatchSize,
		MinInterval:     providerPacing(cfg),
		Workers:         cfg.Workers,
		Languages:       langdetect.NewDetector(cfg.LanguageList()),
		Recorder:        recorder,
	}, logger)
}

// providerPacing mirrors the limiter default for a zero interval.
func providerPacing(cfg *config.Config) time.Duration {
	if cfg.EmbeddingMinInterval <= 0 {
		return embedding.DefaultMinInterval
	}
	return cfg.EmbeddingMinInterval
}

// newSink returns the configured feed sinks, or nil when neither a feed
// directory nor a bucket is set.
func newSink(ctx context.Context, cfg *config.Config) (storage.Sink, error) {
	var sinks storage.MultiSink
	if dir := strings.TrimSpace(cfg.FeedDir); dir != "" {
		fileSink, err := storage.NewFileSink(dir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileSink)
	}
	if cfg.HasS3() {
		s3Sink, err := storage.NewS3Sink(ctx, storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s3Sink)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// openPool connects to the database when DATABASE_URL is set and returns nil
// otherwise.
func openPool(cfg *config.Config, timeout time.Duration) (*db.Pool, error) {
	if !cfg.HasDatabase() {
		return nil, nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

func newCollector(cfg *config.Config, logger zerolog.Logger, recorder *metrics.Recorder, concurrency int) *telegram.Collector {
	scraper := telegram.NewScraper(telegram.Options{
		BaseURL:   cfg.CollectorBaseURL,
		UserAgent: cfg.CollectorUserAgent,
		Timeout:   cfg.CollectorTimeout,
	})
	if concurrency <= 0 {
		concurrency = cfg.CollectorConcurrency
	}
	return telegram.NewCollector(scraper, concurrency, recorder, logger)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

type backends struct {
	pool *db.Pool
	sink storage.Sink
}

// openBackends connects the optional database and feed sinks. With skip set
// both stay nil.
func openBackends(ctx context.Context, cfg *config.Config, skip bool) (*backends, error) {
	if skip {
		return &backends{}, nil
	}
	pool, err := openPool(cfg, 10*time.Second)
	if err != nil {
		return nil, err
	}
	sink, err := newSink(ctx, cfg)
	if err != nil {
		if pool != nil {
			_ = pool.Close()
		}
		return nil, fmt.Errorf("failed to configure feed sink: %w", err)
	}
	return &backends{pool: pool, sink: sink}, nil
}

func (s *backends) Close() {
	if s != nil && s.pool != nil {
		_ = s.pool.Close()
	}
}
