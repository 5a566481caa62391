package db

import (
	"encoding/json"
	"time"
)

// CurationRun maps curator.curation_runs.
type CurationRun struct {
	RunID             int64           `gorm:"column:run_id;primaryKey;autoIncrement"`
	RunUUID           string          `gorm:"column:run_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	LastUpdate        time.Time       `gorm:"column:last_update;type:timestamptz;not null"`
	TotalPosts        int             `gorm:"column:total_posts;type:integer;not null;default:0"`
	UniquePosts       int             `gorm:"column:unique_posts;type:integer;not null;default:0"`
	AdPostsFiltered   int             `gorm:"column:ad_posts_filtered;type:integer;not null;default:0"`
	PostsCount        int             `gorm:"column:posts_count;type:integer;not null;default:0"`
	RequestedCount    int             `gorm:"column:requested_count;type:integer;not null;default:0"`
	ProviderAvailable bool            `gorm:"column:provider_available;type:boolean;not null;default:false"`
	Clustering        string          `gorm:"column:clustering;type:text;not null"`
	TopicDetection    string          `gorm:"column:topic_detection;type:text;not null"`
	Stages            json.RawMessage `gorm:"column:stages;type:jsonb;not null"`
	Feed              json.RawMessage `gorm:"column:feed;type:jsonb;not null"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (CurationRun) TableName() string { return "curator.curation_runs" }

// CuratedPost maps curator.curated_posts.
type CuratedPost struct {
	CuratedPostID   int64           `gorm:"column:curated_post_id;primaryKey;autoIncrement"`
	RunID           int64           `gorm:"column:run_id;type:bigint;not null;index"`
	Rank            int             `gorm:"column:rank;type:integer;not null"`
	Channel         string          `gorm:"column:channel;type:text;not null"`
	PostURL         *string         `gorm:"column:post_url;type:text"`
	Text            string          `gorm:"column:text;type:text;not null"`
	PublishedAt     time.Time       `gorm:"column:published_at;type:timestamptz;not null"`
	Views           int64           `gorm:"column:views;type:bigint;not null;default:0"`
	Weight          *float64        `gorm:"column:weight;type:double precision"`
	IsAdvertisement bool            `gorm:"column:is_advertisement;type:boolean;not null;default:false"`
	AdScore         float64         `gorm:"column:ad_score;type:double precision;not null;default:0"`
	IsTopicRelated  bool            `gorm:"column:is_topic_related;type:boolean;not null;default:false"`
	TopicScore      float64         `gorm:"column:topic_score;type:double precision;not null;default:0"`
	PostType        string          `gorm:"column:post_type;type:text;not null"`
	MergedFrom      int             `gorm:"column:merged_from;type:integer;not null;default:1"`
	CategoryScores  json.RawMessage `gorm:"column:category_scores;type:jsonb;not null"`
	Links           json.RawMessage `gorm:"column:links;type:jsonb;not null"`
	OriginalPosts   json.RawMessage `gorm:"column:original_posts;type:jsonb"`
	CreatedAt       time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (CuratedPost) TableName() string { return "curator.curated_posts" }

// Channel maps curator.channels.
type Channel struct {
	ChannelID           int64      `gorm:"column:channel_id;primaryKey;autoIncrement"`
	Name                string     `gorm:"column:name;type:text;not null;unique"`
	URL                 *string    `gorm:"column:url;type:text"`
	IsActive            bool       `gorm:"column:is_active;type:boolean;not null;default:true"`
	Subscribers         int64      `gorm:"column:subscribers;type:bigint;not null;default:0"`
	PostFrequencyPerDay float64    `gorm:"column:post_frequency_per_day;type:double precision;not null;default:0"`
	HasLinksRatio       float64    `gorm:"column:has_links_ratio;type:double precision;not null;default:0"`
	AverageViews        float64    `gorm:"column:average_views;type:double precision;not null;default:0"`
	LastScrapedAt       *time.Time `gorm:"column:last_scraped_at;type:timestamptz"`
	CreatedAt           time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Channel) TableName() string { return "curator.channels" }

func autoMigrateModels() []any {
	return []any{
		&CurationRun{},
		&CuratedPost{},
		&Channel{},
	}
}
