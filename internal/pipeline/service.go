package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/curator/internal/embedding"
	"horse.fit/curator/internal/globaltime"
	"horse.fit/curator/internal/langdetect"
	"horse.fit/curator/internal/metrics"
)

const (
	DefaultProviderTimeout = 60 * time.Second
	defaultWorkerLimit     = 8
)

type Options struct {
	Config          Config
	Provider        embedding.Provider
	// ProviderTimeout is the per-stage allowance on top of the pacing the
	// provider imposes. Each stage waits ceil(texts/BatchSize) * MinInterval
	// plus ProviderTimeout before giving up on the provider.
	ProviderTimeout time.Duration
	BatchSize       int
	MinInterval     time.Duration
	Workers         int
	Languages       LanguageDetector
	Recorder        *metrics.Recorder
	Now             func() time.Time
	NewRunID        func() string
}

// Request is one batch to curate.
type Request struct {
	Posts    []Post
	Channels map[string]ChannelMetadata
	// Limit caps the number of ranked posts; 0 keeps all of them.
	Limit int
	// Now is the reference time for freshness; zero uses the service clock.
	Now time.Time
	// Languages, when set, keeps only posts detected in one of these codes.
	Languages []string
	// Malformed counts posts already rejected at the ingestion boundary.
	Malformed int
}

type Service struct {
	cfg             Config
	clusterer       *SemanticClusterer
	merger          *Merger
	ads             *AdDetector
	topics          *TopicDetector
	providerTimeout time.Duration
	batchSize       int
	minInterval     time.Duration
	workers         int
	languages       LanguageDetector
	recorder        *metrics.Recorder
	now             func() time.Time
	newRunID        func() string
	logger          zerolog.Logger
}

func NewService(options Options, logger zerolog.Logger) (*Service, error) {
	opts := normalizeServiceOptions(options)
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}

	ads, err := NewAdDetector(opts.Config.Ads, opts.Config.AdThreshold)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:             opts.Config,
		clusterer:       NewSemanticClusterer(opts.Provider, opts.Config.SimilarityThreshold, logger),
		merger:          NewMerger(opts.Config.MergeThreshold),
		ads:             ads,
		topics:          NewTopicDetector(opts.Provider, opts.Config.Topics, opts.Config.TopicRelevanceThreshold),
		providerTimeout: opts.ProviderTimeout,
		batchSize:       opts.BatchSize,
		minInterval:     opts.MinInterval,
		workers:         opts.Workers,
		languages:       opts.Languages,
		recorder:        opts.Recorder,
		now:             opts.Now,
		newRunID:        opts.NewRunID,
		logger:          logger,
	}, nil
}

func normalizeServiceOptions(opts Options) Options {
	normalized := opts
	if normalized.ProviderTimeout <= 0 {
		normalized.ProviderTimeout = DefaultProviderTimeout
	}
	if normalized.BatchSize <= 0 {
		normalized.BatchSize = embedding.DefaultBatchSize
	}
	if normalized.MinInterval < 0 {
		normalized.MinInterval = 0
	}
	if normalized.Workers <= 0 {
		normalized.Workers = min(runtime.NumCPU(), defaultWorkerLimit)
	}
	if normalized.Now == nil {
		normalized.Now = globaltime.UTC
	}
	if normalized.NewRunID == nil {
		normalized.NewRunID = uuid.NewString
	}
	return normalized
}

// stageTimeout is the deadline for one provider-backed stage embedding the
// given number of texts. The parent context still caps it.
func (s *Service) stageTimeout(texts int) time.Duration {
	calls := (texts + s.batchSize - 1) / s.batchSize
	return s.providerTimeout + time.Duration(calls)*s.minInterval
}

// Config returns the scoring configuration the service was built with.
func (s *Service) Config() Config {
	return s.cfg
}

// Curate runs the whole pipeline over one batch. It always produces a feed:
// provider failures degrade clustering and topic detection instead of
// failing the run.
func (s *Service) Curate(ctx context.Context, req Request) Feed {
	runID := s.newRunID()
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}
	logger := s.logger.With().Str("run_id", runID).Logger()

	feed := Feed{
		Metadata: FeedMetadata{
			RunID:          runID,
			LastUpdate:     now,
			RequestedCount: max(req.Limit, 0),
			Thresholds:     s.cfg,
			PostTypes:      s.cfg.PostTypeDescriptions(),
			Clustering:     clusteringExactOnly,
			TopicDetection: topicsSkipped,
		},
		Posts: []ScoredPost{},
	}
	stages := &feed.Metadata.Stages
	stages.Raw = len(req.Posts) + max(req.Malformed, 0)

	started := time.Now()
	admitted, malformed, languageFiltered := s.admit(req.Posts, req.Languages)
	stages.Malformed = malformed + max(req.Malformed, 0)
	stages.LanguageFiltered = languageFiltered
	feed.Metadata.TotalPosts = len(admitted)
	s.recorder.AddPosts("malformed", stages.Malformed)
	s.recorder.ObserveStage("ingest", time.Since(started))

	started = time.Now()
	deduped := exactDedup(admitted)
	stages.ExactDeduped = len(deduped)
	s.recorder.AddPosts("exact_duplicate", len(admitted)-len(deduped))
	s.recorder.ObserveStage("exact_dedup", time.Since(started))

	weights := ResolveChannelWeights(deduped, req.Channels, s.cfg.ChannelWeights, s.cfg.DefaultChannelWeight)

	started = time.Now()
	represented, groups, clustered := s.represent(ctx, deduped, weights, logger)
	stages.Groups = groups
	stages.Represented = len(represented)
	if clustered {
		feed.Metadata.Clustering = clusteringSemantic
	}
	s.recorder.AddPosts("clustered_away", len(deduped)-len(represented))
	s.recorder.ObserveStage("cluster", time.Since(started))

	started = time.Now()
	scored := s.score(represented, weights, now)
	s.recorder.ObserveStage("score", time.Since(started))

	started = time.Now()
	s.detectAds(scored)
	merged := s.merger.Merge(scored)
	stages.Merged = len(merged)
	feed.Metadata.UniquePosts = len(merged)
	s.recorder.AddPosts("merged_away", len(scored)-len(merged))
	s.recorder.ObserveStage("merge", time.Since(started))

	started = time.Now()
	topicsOK := s.classify(ctx, merged, logger)
	if topicsOK {
		feed.Metadata.TopicDetection = topicsClassified
	}
	s.recorder.ObserveStage("classify", time.Since(started))

	kept := make([]ScoredPost, 0, len(merged))
	for _, post := range merged {
		if post.IsAdvertisement && post.AdScore > s.cfg.AdFilterThreshold {
			continue
		}
		kept = append(kept, post)
	}
	stages.Filtered = len(kept)
	feed.Metadata.AdPostsFiltered = len(merged) - len(kept)
	s.recorder.AddPosts("filtered_ad", feed.Metadata.AdPostsFiltered)

	if req.Limit > 0 && len(kept) > req.Limit {
		kept = kept[:req.Limit]
	}
	for i := range kept {
		kept[i].Rank = i + 1
	}
	stages.Ranked = len(kept)
	feed.Posts = kept
	feed.Metadata.PostsCount = len(kept)
	feed.Metadata.ProviderAvailable = clustered && topicsOK
	feed.Channels = channelSummaries(deduped, req.Channels, weights)
	s.recorder.AddPosts("ranked", len(kept))
	s.recorder.ObserveRun(feed.Metadata.ProviderAvailable)

	logger.Info().
		Int("raw", stages.Raw).
		Int("malformed", stages.Malformed).
		Int("exact_deduped", stages.ExactDeduped).
		Int("groups", stages.Groups).
		Int("merged", stages.Merged).
		Int("ads_filtered", feed.Metadata.AdPostsFiltered).
		Int("ranked", stages.Ranked).
		Str("clustering", feed.Metadata.Clustering).
		Str("topic_detection", feed.Metadata.TopicDetection).
		Msg("curation run complete")

	return feed
}

func (s *Service) admit(posts []Post, languages []string) ([]Post, int, int) {
	allowed := make(map[string]struct{}, len(languages))
	for _, code := range languages {
		if c := langdetect.NormalizeCode(code); c != "" {
			allowed[c] = struct{}{}
		}
	}

	admitted := make([]Post, 0, len(posts))
	malformed, filtered := 0, 0
	for _, post := range posts {
		if !admitPost(&post) {
			malformed++
			continue
		}
		if post.Language == "" && s.languages != nil {
			post.Language = s.languages.Detect(post.Text)
		}
		if len(allowed) > 0 && post.Language != "" {
			if _, ok := allowed[post.Language]; !ok {
				filtered++
				continue
			}
		}
		admitted = append(admitted, post)
	}
	return admitted, malformed, filtered
}

// represent clusters posts semantically and keeps one post per group. When
// the provider is unavailable every exact-deduped post represents itself.
func (s *Service) represent(ctx context.Context, posts []Post, weights map[string]float64, logger zerolog.Logger) ([]Post, int, bool) {
	if len(posts) == 0 {
		return nil, 0, true
	}

	deadline := s.stageTimeout(len(posts))
	clusterCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	groups, err := s.clusterer.Cluster(clusterCtx, posts)
	if err != nil || len(groups) == 0 {
		logger.Warn().Err(err).Int("posts", len(posts)).Dur("deadline", deadline).Msg("semantic clustering unavailable, using exact dedup only")
		return posts, len(posts), false
	}

	represented := make([]Post, 0, len(groups))
	for _, group := range groups {
		represented = append(represented, SelectRepresentative(group, posts, weights, s.cfg.Representative))
	}
	logger.Debug().Int("posts", len(posts)).Int("groups", len(groups)).Msg("posts clustered")
	return represented, len(groups), true
}

// score attaches relevance weights and sorts descending. Equal weights keep
// their input order.
func (s *Service) score(posts []Post, weights map[string]float64, now time.Time) []ScoredPost {
	var maxViews int64
	for _, post := range posts {
		maxViews = max(maxViews, post.Views)
	}

	scored := make([]ScoredPost, 0, len(posts))
	for _, post := range posts {
		relevance := Relevance(post, weights[post.Channel], maxViews, now, s.cfg.Relevance)
		scored = append(scored, ScoredPost{
			Post:       post,
			Weight:     floatPtr(relevance),
			MergedFrom: 1,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		wi, _ := scored[i].weightValue()
		wj, _ := scored[j].weightValue()
		return wi > wj
	})
	return scored
}

// classify runs ad detection alongside topic detection through the provider.
// It reports whether topic detection succeeded.
func (s *Service) classify(ctx context.Context, posts []ScoredPost, logger zerolog.Logger) bool {
	if len(posts) == 0 {
		return true
	}

	texts := make([]string, len(posts))
	for i, post := range posts {
		texts[i] = post.Text
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.detectAds(posts)
	}()

	deadline := s.stageTimeout(len(texts) + s.topics.ExemplarCount())
	topicCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	verdicts, topicErr := s.topics.Detect(topicCtx, texts)
	<-done

	order := s.topics.Names()
	if topicErr != nil {
		logger.Warn().Err(topicErr).Int("posts", len(posts)).Dur("deadline", deadline).Msg("topic detection unavailable")
	}
	for i := range posts {
		if topicErr != nil {
			posts[i].IsTopicRelated = false
			posts[i].TopicScore = 0
			posts[i].CategoryScores = map[string]float64{}
			posts[i].PostType = PostTypeGeneral
			continue
		}
		posts[i].IsTopicRelated = verdicts[i].IsRelated
		posts[i].TopicScore = verdicts[i].Score
		posts[i].CategoryScores = verdicts[i].Scores
		posts[i].PostType = PostType(verdicts[i].Scores, order, s.cfg.PostTypeThreshold, s.cfg.MixedFactor)
	}
	return topicErr == nil
}

// detectAds flags every post on a bounded worker group. Merged records are
// flagged again after merge, since their links are the union of the group.
func (s *Service) detectAds(posts []ScoredPost) {
	var group errgroup.Group
	group.SetLimit(s.workers)
	for i := range posts {
		group.Go(func() error {
			verdict := s.ads.Detect(posts[i].Text, posts[i].Links)
			posts[i].IsAdvertisement = verdict.IsAd
			posts[i].AdScore = verdict.Score
			return nil
		})
	}
	_ = group.Wait()
}

func channelSummaries(posts []Post, metadata map[string]ChannelMetadata, weights map[string]float64) map[string]ChannelSummary {
	if len(weights) == 0 {
		return nil
	}
	counts := make(map[string]int, len(weights))
	for _, post := range posts {
		counts[post.Channel]++
	}

	out := make(map[string]ChannelSummary, len(weights))
	for channel, weight := range weights {
		summary := ChannelSummary{Weight: weight, Posts: counts[channel]}
		if meta, ok := metadata[channel]; ok {
			summary.HasMetadata = true
			summary.Subscribers = meta.Subscribers
			summary.PostFrequencyPerDay = meta.PostFrequencyPerDay
			summary.HasLinksRatio = meta.HasLinksRatio
			summary.AverageViews = meta.AverageViews
		}
		out[channel] = summary
	}
	return out
}
