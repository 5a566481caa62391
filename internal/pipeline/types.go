package pipeline

import "time"

// Post is one channel message accepted at the ingestion boundary.
type Post struct {
	Channel  string    `json:"channel"`
	PostID   *string   `json:"post_id,omitempty"`
	PostURL  *string   `json:"post_url,omitempty"`
	Text     string    `json:"text"`
	Date     time.Time `json:"date"`
	Views    int64     `json:"views"`
	Links    []string  `json:"links"`
	Images   []string  `json:"images"`
	Language string    `json:"language,omitempty"`
}

// ChannelMetadata carries the per-channel signals used by the weight estimator.
type ChannelMetadata struct {
	Subscribers         int64   `json:"subscribers"`
	PostFrequencyPerDay float64 `json:"post_frequency_per_day"`
	HasLinksRatio       float64 `json:"has_links_ratio"`
	AverageViews        float64 `json:"average_views"`
}

// Group holds indices into the post slice a grouping pass ran over.
type Group []int

// OriginalPost describes one constituent of a merged record.
type OriginalPost struct {
	Channel         string    `json:"channel"`
	Date            time.Time `json:"date"`
	Views           int64     `json:"views"`
	PostURL         *string   `json:"post_url,omitempty"`
	IsAdvertisement bool      `json:"is_advertisement"`
}

// ScoredPost is a post annotated by the scoring, merge and classification stages.
type ScoredPost struct {
	Post

	Rank            int                `json:"rank,omitempty"`
	Weight          *float64           `json:"weight,omitempty"`
	IsAdvertisement bool               `json:"is_advertisement"`
	AdScore         float64            `json:"ad_score"`
	IsTopicRelated  bool               `json:"is_topic_related"`
	TopicScore      float64            `json:"topic_score"`
	CategoryScores  map[string]float64 `json:"category_scores"`
	PostType        string             `json:"post_type"`
	MergedFrom      int                `json:"merged_from"`
	OriginalPosts   []OriginalPost     `json:"original_posts,omitempty"`
}

func (p ScoredPost) weightValue() (float64, bool) {
	if p.Weight == nil {
		return 0, false
	}
	return *p.Weight, true
}

func floatPtr(v float64) *float64 {
	return &v
}
