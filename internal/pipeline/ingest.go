package pipeline

import (
	"net/url"
	"strings"

	"horse.fit/curator/internal/langdetect"
	payloadschema "horse.fit/curator/schema"
)

// LanguageDetector returns an ISO 639-1 code for text, or "" when unsure.
type LanguageDetector interface {
	Detect(text string) string
}

// PostsFromPayload converts validated wire posts into pipeline posts.
func PostsFromPayload(payloads []payloadschema.PostPayload) []Post {
	posts := make([]Post, 0, len(payloads))
	for _, payload := range payloads {
		post := Post{
			Channel: strings.TrimSpace(payload.Channel),
			PostID:  trimmedPtr(payload.PostID),
			PostURL: trimmedPtr(payload.PostURL),
			Text:    payload.Text,
			Date:    payload.ParsedDate(),
			Views:   payload.Views,
			Links:   payload.Links,
			Images:  payload.Images,
		}
		if payload.Language != nil {
			post.Language = langdetect.NormalizeCode(*payload.Language)
		}
		posts = append(posts, post)
	}
	return posts
}

// ChannelsFromPayload converts wire channel metadata.
func ChannelsFromPayload(payloads map[string]payloadschema.ChannelPayload) map[string]ChannelMetadata {
	if len(payloads) == 0 {
		return nil
	}
	channels := make(map[string]ChannelMetadata, len(payloads))
	for name, payload := range payloads {
		channels[strings.TrimSpace(name)] = ChannelMetadata{
			Subscribers:         payload.Subscribers,
			PostFrequencyPerDay: payload.PostFrequencyPerDay,
			HasLinksRatio:       payload.HasLinksRatio,
			AverageViews:        payload.AverageViews,
		}
	}
	return channels
}

// admitPost normalises a post in place and reports whether it is usable.
func admitPost(post *Post) bool {
	post.Channel = strings.TrimSpace(post.Channel)
	if post.Channel == "" || strings.TrimSpace(post.Text) == "" || post.Date.IsZero() {
		return false
	}
	if post.Views < 0 {
		post.Views = 0
	}
	post.Links = normalizeLinks(post.Links)
	post.Images = dedupeStrings(post.Images)
	return true
}

func normalizeLinks(links []string) []string {
	out := make([]string, 0, len(links))
	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		trimmed := strings.TrimSpace(link)
		parsed, err := url.Parse(trimmed)
		if err != nil || !parsed.IsAbs() || parsed.Host == "" {
			continue
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func dedupeStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// exactDedup keeps the first post of every byte-identical text.
func exactDedup(posts []Post) []Post {
	seen := make(map[string]struct{}, len(posts))
	out := make([]Post, 0, len(posts))
	for _, post := range posts {
		if _, ok := seen[post.Text]; ok {
			continue
		}
		seen[post.Text] = struct{}{}
		out = append(out, post)
	}
	return out
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
