package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"horse.fit/curator/internal/pipeline"
)

const (
	defaultRunListLimit = 20
	maxRunListLimit     = 500
)

// RunSummary is the read model for run listings.
type RunSummary struct {
	RunUUID           string    `json:"run_uuid"`
	LastUpdate        time.Time `json:"last_update"`
	TotalPosts        int       `json:"total_posts"`
	UniquePosts       int       `json:"unique_posts"`
	AdPostsFiltered   int       `json:"ad_posts_filtered"`
	PostsCount        int       `json:"posts_count"`
	RequestedCount    int       `json:"requested_posts_count"`
	ProviderAvailable bool      `json:"provider_available"`
	Clustering        string    `json:"clustering"`
	TopicDetection    string    `json:"topic_detection"`
	CreatedAt         time.Time `json:"created_at"`
}

type curatedPostRow struct {
	Rank            int
	Channel         string
	PostURL         *string
	Text            string
	PublishedAt     time.Time
	Views           int64
	Weight          *float64
	IsAdvertisement bool
	AdScore         float64
	IsTopicRelated  bool
	TopicScore      float64
	PostType        string
	MergedFrom      int
	CategoryScores  []byte
	Links           []byte
	OriginalPosts   []byte
}

// SaveFeed stores a run and its ranked posts in one transaction and returns
// the run UUID. A feed run ID that is not a UUID gets a generated one.
func (p *Pool) SaveFeed(ctx context.Context, feed pipeline.Feed) (string, error) {
	stages, err := json.Marshal(feed.Metadata.Stages)
	if err != nil {
		return "", fmt.Errorf("marshal stage counts: %w", err)
	}
	document, err := json.Marshal(feed)
	if err != nil {
		return "", fmt.Errorf("marshal feed: %w", err)
	}
	rows := make([]curatedPostRow, 0, len(feed.Posts))
	for _, post := range feed.Posts {
		row, err := newCuratedPostRow(post)
		if err != nil {
			return "", err
		}
		rows = append(rows, row)
	}

	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return "", fmt.Errorf("begin save feed tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const insertRun = `
INSERT INTO curator.curation_runs (
	run_uuid,
	last_update,
	total_posts,
	unique_posts,
	ad_posts_filtered,
	posts_count,
	requested_count,
	provider_available,
	clustering,
	topic_detection,
	stages,
	feed
)
VALUES (COALESCE($1::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12::jsonb)
RETURNING run_id, run_uuid::text
`

	meta := feed.Metadata
	var (
		runID   int64
		runUUID string
	)
	if err := tx.QueryRow(
		ctx,
		insertRun,
		runUUIDArg(meta.RunID),
		meta.LastUpdate.UTC(),
		meta.TotalPosts,
		meta.UniquePosts,
		meta.AdPostsFiltered,
		meta.PostsCount,
		meta.RequestedCount,
		meta.ProviderAvailable,
		meta.Clustering,
		meta.TopicDetection,
		string(stages),
		string(document),
	).Scan(&runID, &runUUID); err != nil {
		return "", fmt.Errorf("insert curation run: %w", err)
	}

	const insertPost = `
INSERT INTO curator.curated_posts (
	run_id,
	rank,
	channel,
	post_url,
	text,
	published_at,
	views,
	weight,
	is_advertisement,
	ad_score,
	is_topic_related,
	topic_score,
	post_type,
	merged_from,
	category_scores,
	links,
	original_posts
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb, $16::jsonb, $17::jsonb)
`

	for _, row := range rows {
		if _, err := tx.Exec(
			ctx,
			insertPost,
			runID,
			row.Rank,
			row.Channel,
			row.PostURL,
			row.Text,
			row.PublishedAt,
			row.Views,
			row.Weight,
			row.IsAdvertisement,
			row.AdScore,
			row.IsTopicRelated,
			row.TopicScore,
			row.PostType,
			row.MergedFrom,
			string(row.CategoryScores),
			string(row.Links),
			nullableJSON(row.OriginalPosts),
		); err != nil {
			return "", fmt.Errorf("insert curated post rank=%d: %w", row.Rank, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit save feed tx: %w", err)
	}
	return runUUID, nil
}

// ListRuns returns the most recent runs first.
func (p *Pool) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	const q = `
SELECT
	run_uuid::text,
	last_update,
	total_posts,
	unique_posts,
	ad_posts_filtered,
	posts_count,
	requested_count,
	provider_available,
	clustering,
	topic_detection,
	created_at
FROM curator.curation_runs
ORDER BY last_update DESC, run_id DESC
LIMIT $1
`

	normalized := normalizeRunLimit(limit)
	rows, err := p.Query(ctx, q, normalized)
	if err != nil {
		return nil, fmt.Errorf("query curation runs: %w", err)
	}
	defer rows.Close()

	items := make([]RunSummary, 0, normalized)
	for rows.Next() {
		var item RunSummary
		if err := rows.Scan(
			&item.RunUUID,
			&item.LastUpdate,
			&item.TotalPosts,
			&item.UniquePosts,
			&item.AdPostsFiltered,
			&item.PostsCount,
			&item.RequestedCount,
			&item.ProviderAvailable,
			&item.Clustering,
			&item.TopicDetection,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan curation run: %w", err)
		}
		item.LastUpdate = item.LastUpdate.UTC()
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate curation runs: %w", err)
	}
	return items, nil
}

// GetRunFeed loads the stored feed document of one run. A missing run wraps
// ErrNoRows.
func (p *Pool) GetRunFeed(ctx context.Context, runUUID string) (*pipeline.Feed, error) {
	trimmed := strings.TrimSpace(runUUID)
	if _, err := uuid.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid run UUID %q: %w", runUUID, err)
	}

	var raw []byte
	if err := p.QueryRow(ctx, `SELECT feed FROM curator.curation_runs WHERE run_uuid = $1::uuid`, trimmed).Scan(&raw); err != nil {
		if errors.Is(err, ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", trimmed, ErrNoRows)
		}
		return nil, fmt.Errorf("query run feed: %w", err)
	}

	var feed pipeline.Feed
	if err := json.Unmarshal(raw, &feed); err != nil {
		return nil, fmt.Errorf("decode run feed %s: %w", trimmed, err)
	}
	return &feed, nil
}

func newCuratedPostRow(post pipeline.ScoredPost) (curatedPostRow, error) {
	categoryScores := post.CategoryScores
	if categoryScores == nil {
		categoryScores = map[string]float64{}
	}
	scores, err := json.Marshal(categoryScores)
	if err != nil {
		return curatedPostRow{}, fmt.Errorf("marshal category scores: %w", err)
	}

	links := post.Links
	if links == nil {
		links = []string{}
	}
	linksJSON, err := json.Marshal(links)
	if err != nil {
		return curatedPostRow{}, fmt.Errorf("marshal links: %w", err)
	}

	var originals []byte
	if len(post.OriginalPosts) > 0 {
		originals, err = json.Marshal(post.OriginalPosts)
		if err != nil {
			return curatedPostRow{}, fmt.Errorf("marshal original posts: %w", err)
		}
	}

	return curatedPostRow{
		Rank:            post.Rank,
		Channel:         post.Channel,
		PostURL:         post.PostURL,
		Text:            post.Text,
		PublishedAt:     post.Date.UTC(),
		Views:           post.Views,
		Weight:          post.Weight,
		IsAdvertisement: post.IsAdvertisement,
		AdScore:         post.AdScore,
		IsTopicRelated:  post.IsTopicRelated,
		TopicScore:      post.TopicScore,
		PostType:        post.PostType,
		MergedFrom:      post.MergedFrom,
		CategoryScores:  scores,
		Links:           linksJSON,
		OriginalPosts:   originals,
	}, nil
}

func runUUIDArg(runID string) *string {
	parsed, err := uuid.Parse(strings.TrimSpace(runID))
	if err != nil {
		return nil
	}
	value := parsed.String()
	return &value
}

func nullableJSON(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	value := string(raw)
	return &value
}

func normalizeRunLimit(limit int) int {
	if limit <= 0 {
		return defaultRunListLimit
	}
	return min(limit, maxRunListLimit)
}
