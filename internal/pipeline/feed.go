package pipeline

import "time"

// Feed is the ranked output of one curation run.
type Feed struct {
	Metadata FeedMetadata              `json:"metadata"`
	Channels map[string]ChannelSummary `json:"channels,omitempty"`
	Posts    []ScoredPost              `json:"posts"`
}

type FeedMetadata struct {
	RunID             string            `json:"run_id"`
	LastUpdate        time.Time         `json:"last_update"`
	TotalPosts        int               `json:"total_posts"`
	UniquePosts       int               `json:"unique_posts"`
	AdPostsFiltered   int               `json:"ad_posts_filtered"`
	PostsCount        int               `json:"posts_count"`
	RequestedCount    int               `json:"requested_posts_count"`
	ProviderAvailable bool              `json:"provider_available"`
	Clustering        string            `json:"clustering"`
	TopicDetection    string            `json:"topic_detection"`
	Stages            StageCounts       `json:"stages"`
	Thresholds        Config            `json:"thresholds"`
	PostTypes         map[string]string `json:"post_types"`
}

// StageCounts records how many items left each stage.
type StageCounts struct {
	Raw              int `json:"raw"`
	Malformed        int `json:"malformed"`
	LanguageFiltered int `json:"language_filtered"`
	ExactDeduped     int `json:"exact_deduped"`
	Groups           int `json:"groups"`
	Represented      int `json:"represented"`
	Merged           int `json:"merged"`
	Filtered         int `json:"filtered"`
	Ranked           int `json:"ranked"`
}

type ChannelSummary struct {
	Weight              float64 `json:"weight"`
	HasMetadata         bool    `json:"has_metadata"`
	Subscribers         int64   `json:"subscribers"`
	PostFrequencyPerDay float64 `json:"post_frequency_per_day"`
	HasLinksRatio       float64 `json:"has_links_ratio"`
	AverageViews        float64 `json:"average_views"`
	Posts               int     `json:"posts"`
}

const (
	clusteringSemantic  = "semantic"
	clusteringExactOnly = "exact_only"
	topicsClassified    = "classified"
	topicsSkipped       = "skipped"
)
