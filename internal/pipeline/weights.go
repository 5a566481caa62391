package pipeline

import (
	"math"
	"time"
)

// ChannelWeight estimates channel credibility from its metadata. The result
// is rounded to three decimals and always lies in [0,1].
func ChannelWeight(meta ChannelMetadata, cfg ChannelWeightConfig) float64 {
	subscribers := saturate(float64(meta.Subscribers), cfg.SubscribersNorm)
	frequency := saturate(meta.PostFrequencyPerDay, cfg.FrequencyNorm)
	links := clamp01(meta.HasLinksRatio)
	views := saturate(meta.AverageViews, cfg.ViewsNorm)

	weight := weightedSum(
		[]float64{subscribers, frequency, links, views},
		[]float64{cfg.SubscribersWeight, cfg.FrequencyWeight, cfg.LinksWeight, cfg.ViewsWeight},
	)
	return roundTo(clamp01(weight), 3)
}

// ResolveChannelWeights computes a weight for every channel seen in posts.
// Channels without metadata get fallback.
func ResolveChannelWeights(posts []Post, metadata map[string]ChannelMetadata, cfg ChannelWeightConfig, fallback float64) map[string]float64 {
	weights := make(map[string]float64, len(metadata))
	for channel, meta := range metadata {
		weights[channel] = ChannelWeight(meta, cfg)
	}
	for _, post := range posts {
		if _, ok := weights[post.Channel]; !ok {
			weights[post.Channel] = fallback
		}
	}
	return weights
}

// Relevance scores one post against the batch: freshness, channel weight,
// views relative to the batch maximum and link count.
func Relevance(post Post, channelWeight float64, maxViews int64, now time.Time, cfg RelevanceConfig) float64 {
	hours := now.Sub(post.Date).Hours()
	if hours < 0 {
		hours = 0
	}
	timeScore := math.Max(0, 1-hours/cfg.HorizonHours)

	viewsScore := 0.0
	if maxViews > 0 {
		viewsScore = clamp01(float64(post.Views) / float64(maxViews))
	}
	linksScore := saturate(float64(len(post.Links)), cfg.LinksNorm)

	return weightedSum(
		[]float64{timeScore, channelWeight, viewsScore, linksScore},
		[]float64{cfg.TimeWeight, cfg.ChannelWeight, cfg.ViewsWeight, cfg.LinksWeight},
	)
}

// SelectRepresentative picks the best post of a group: channel weight, views
// relative to the group maximum and link count. The first post wins ties.
func SelectRepresentative(group Group, posts []Post, weights map[string]float64, cfg RepresentativeConfig) Post {
	if len(group) == 1 {
		return posts[group[0]]
	}

	var maxViews int64
	for _, idx := range group {
		maxViews = max(maxViews, posts[idx].Views)
	}

	best := group[0]
	bestScore := math.Inf(-1)
	for _, idx := range group {
		post := posts[idx]
		viewsScore := 0.0
		if maxViews > 0 {
			viewsScore = float64(post.Views) / float64(maxViews)
		}
		score := weightedSum(
			[]float64{weights[post.Channel], viewsScore, saturate(float64(len(post.Links)), cfg.LinksNorm)},
			[]float64{cfg.ChannelWeight, cfg.ViewsWeight, cfg.LinksWeight},
		)
		if score > bestScore {
			best = idx
			bestScore = score
		}
	}
	return posts[best]
}

func weightedSum(values, weights []float64) float64 {
	var total float64
	for i := range values {
		total += values[i] * weights[i]
	}
	return total
}

// saturate maps value/norm into [0,1].
func saturate(value, norm float64) float64 {
	if norm <= 0 {
		return 0
	}
	return clamp01(value / norm)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func roundTo(value float64, precision int) float64 {
	scale := math.Pow(10, float64(precision))
	return math.Round(value*scale) / scale
}
