package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"horse.fit/curator/internal/pipeline"
)

// ChannelRecord is a tracked source channel.
type ChannelRecord struct {
	Name                string     `json:"name"`
	URL                 *string    `json:"url,omitempty"`
	IsActive            bool       `json:"is_active"`
	Subscribers         int64      `json:"subscribers"`
	PostFrequencyPerDay float64    `json:"post_frequency_per_day"`
	HasLinksRatio       float64    `json:"has_links_ratio"`
	AverageViews        float64    `json:"average_views"`
	LastScrapedAt       *time.Time `json:"last_scraped_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Metadata returns the scraped signals, or false when the channel was never
// scraped.
func (c ChannelRecord) Metadata() (pipeline.ChannelMetadata, bool) {
	if c.LastScrapedAt == nil {
		return pipeline.ChannelMetadata{}, false
	}
	return pipeline.ChannelMetadata{
		Subscribers:         c.Subscribers,
		PostFrequencyPerDay: c.PostFrequencyPerDay,
		HasLinksRatio:       c.HasLinksRatio,
		AverageViews:        c.AverageViews,
	}, true
}

const channelColumns = `
	name,
	url,
	is_active,
	subscribers,
	post_frequency_per_day,
	has_links_ratio,
	average_views,
	last_scraped_at,
	created_at,
	updated_at
`

func (p *Pool) ListChannels(ctx context.Context, includeInactive bool) ([]ChannelRecord, error) {
	q := `SELECT` + channelColumns + `FROM curator.channels
WHERE ($1 OR is_active)
ORDER BY name ASC`

	rows, err := p.Query(ctx, q, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	items := make([]ChannelRecord, 0, 32)
	for rows.Next() {
		item, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return items, nil
}

// UpsertChannel adds a channel or reactivates an existing one.
func (p *Pool) UpsertChannel(ctx context.Context, name, url string, now time.Time) (*ChannelRecord, error) {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return nil, fmt.Errorf("channel name is required")
	}
	var urlValue *string
	if trimmed := strings.TrimSpace(url); trimmed != "" {
		urlValue = &trimmed
	}

	q := `
INSERT INTO curator.channels (name, url, is_active, created_at, updated_at)
VALUES ($1, $2, TRUE, $3, $3)
ON CONFLICT (name) DO UPDATE
SET
	url = COALESCE(EXCLUDED.url, curator.channels.url),
	is_active = TRUE,
	updated_at = EXCLUDED.updated_at
RETURNING` + channelColumns

	rows, err := p.Query(ctx, q, trimmedName, urlValue, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("upsert channel %s: %w", trimmedName, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("upsert channel %s: %w", trimmedName, err)
		}
		return nil, fmt.Errorf("upsert channel %s: %w", trimmedName, ErrNoRows)
	}
	item, err := scanChannel(rows)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeactivateChannel stops collecting a channel. It reports whether a row changed.
func (p *Pool) DeactivateChannel(ctx context.Context, name string, now time.Time) (bool, error) {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return false, fmt.Errorf("channel name is required")
	}

	tag, err := p.Exec(ctx, `
UPDATE curator.channels
SET is_active = FALSE, updated_at = $2
WHERE name = $1 AND is_active
`, trimmedName, now.UTC())
	if err != nil {
		return false, fmt.Errorf("deactivate channel %s: %w", trimmedName, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordChannelScrape stores the latest scraped signals for a channel,
// creating it when it is not tracked yet.
func (p *Pool) RecordChannelScrape(ctx context.Context, name string, meta pipeline.ChannelMetadata, at time.Time) error {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return fmt.Errorf("channel name is required")
	}

	_, err := p.Exec(ctx, `
INSERT INTO curator.channels (
	name,
	is_active,
	subscribers,
	post_frequency_per_day,
	has_links_ratio,
	average_views,
	last_scraped_at,
	created_at,
	updated_at
)
VALUES ($1, TRUE, $2, $3, $4, $5, $6, $6, $6)
ON CONFLICT (name) DO UPDATE
SET
	subscribers = EXCLUDED.subscribers,
	post_frequency_per_day = EXCLUDED.post_frequency_per_day,
	has_links_ratio = EXCLUDED.has_links_ratio,
	average_views = EXCLUDED.average_views,
	last_scraped_at = EXCLUDED.last_scraped_at,
	updated_at = EXCLUDED.updated_at
`, trimmedName, meta.Subscribers, meta.PostFrequencyPerDay, meta.HasLinksRatio, meta.AverageViews, at.UTC())
	if err != nil {
		return fmt.Errorf("record channel scrape %s: %w", trimmedName, err)
	}
	return nil
}

type channelScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row channelScanner) (ChannelRecord, error) {
	var item ChannelRecord
	if err := row.Scan(
		&item.Name,
		&item.URL,
		&item.IsActive,
		&item.Subscribers,
		&item.PostFrequencyPerDay,
		&item.HasLinksRatio,
		&item.AverageViews,
		&item.LastScrapedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		if errors.Is(err, ErrNoRows) {
			return ChannelRecord{}, err
		}
		return ChannelRecord{}, fmt.Errorf("scan channel: %w", err)
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	if item.LastScrapedAt != nil {
		utc := item.LastScrapedAt.UTC()
		item.LastScrapedAt = &utc
	}
	return item, nil
}
