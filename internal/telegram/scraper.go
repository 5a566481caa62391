package telegram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html/charset"

	"horse.fit/curator/internal/globaltime"
	"horse.fit/curator/internal/pipeline"
)

const (
	DefaultBaseURL   = "https://t.me"
	DefaultTimeout   = 20 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (compatible; curator/1.0)"
)

// ErrChannelNotFound is returned when the preview page has neither messages
// nor channel information, which is what t.me serves for unknown or private
// channels.
var ErrChannelNotFound = errors.New("channel preview not found")

var (
	backgroundImageRe = regexp.MustCompile(`background-image:\s*url\(['"]?([^'")]+)['"]?\)`)
	subscribersRe     = regexp.MustCompile(`(?i)(\d[\d\s.,]*[km]?)\s*(?:subscribers|members|подписчик)`)
	imageExtensions   = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}
)

type StatusError struct {
	Channel string
	Code    int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("channel %s: unexpected status %d", e.Channel, e.Code)
}

type Options struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Now        func() time.Time
}

// Scraper reads the public web preview of a channel.
type Scraper struct {
	baseURL   string
	userAgent string
	client    *http.Client
	now       func() time.Time
}

// ChannelPage is what one preview page yields after cutoff filtering.
type ChannelPage struct {
	Channel  string
	Title    string
	URL      string
	Messages int
	Posts    []pipeline.Post
	Metadata pipeline.ChannelMetadata
}

func NewScraper(opts Options) *Scraper {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	now := opts.Now
	if now == nil {
		now = globaltime.UTC
	}
	return &Scraper{baseURL: baseURL, userAgent: userAgent, client: client, now: now}
}

// PreviewURL returns the web preview address of channel.
func (s *Scraper) PreviewURL(channel string) string {
	return s.baseURL + "/s/" + url.PathEscape(channel)
}

// FetchChannel downloads the preview page of channel and extracts the posts
// published at or after cutoff. A zero cutoff keeps every post on the page.
func (s *Scraper) FetchChannel(ctx context.Context, channel string, cutoff time.Time) (*ChannelPage, error) {
	name := NormalizeChannel(channel)
	if name == "" {
		return nil, fmt.Errorf("channel name is required")
	}

	pageURL := s.PreviewURL(name)
	doc, err := s.fetchDocument(ctx, name, pageURL)
	if err != nil {
		return nil, err
	}

	page, err := parseChannelPage(doc, name, cutoff, s.now())
	if err != nil {
		return nil, err
	}
	page.URL = pageURL
	return page, nil
}

func (s *Scraper) fetchDocument(ctx context.Context, channel string, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", channel, err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch channel %s: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Channel: channel, Code: resp.StatusCode}
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decode channel %s: %w", channel, err)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse channel %s: %w", channel, err)
	}
	return doc, nil
}

func parseChannelPage(doc *goquery.Document, channel string, cutoff time.Time, now time.Time) (*ChannelPage, error) {
	messages := doc.Find("div.tgme_widget_message")
	if messages.Length() == 0 && doc.Find(".tgme_channel_info, .tgme_page_additional").Length() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channel)
	}

	page := &ChannelPage{
		Channel:  channel,
		Title:    strings.TrimSpace(doc.Find(".tgme_channel_info_header_title").First().Text()),
		Messages: messages.Length(),
		Posts:    make([]pipeline.Post, 0, messages.Length()),
	}

	var (
		withLinks  int
		totalViews int64
		recent     int
		oldest     time.Time
		newest     time.Time
	)
	messages.Each(func(_ int, msg *goquery.Selection) {
		post := extractPost(msg, channel)
		totalViews += post.Views
		if len(post.Links) > 0 {
			withLinks++
		}
		if post.Date.IsZero() {
			return
		}
		if oldest.IsZero() || post.Date.Before(oldest) {
			oldest = post.Date
		}
		if post.Date.After(newest) {
			newest = post.Date
		}
		if !cutoff.IsZero() && post.Date.Before(cutoff) {
			return
		}
		recent++
		if strings.TrimSpace(post.Text) == "" {
			return
		}
		page.Posts = append(page.Posts, post)
	})

	meta := pipeline.ChannelMetadata{Subscribers: subscriberCount(doc)}
	if n := messages.Length(); n > 0 {
		meta.HasLinksRatio = float64(withLinks) / float64(n)
		meta.AverageViews = float64(totalViews) / float64(n)
	}
	meta.PostFrequencyPerDay = float64(recent) / windowDays(cutoff, now, oldest, newest)
	page.Metadata = meta
	return page, nil
}

// windowDays is the length of the analysed window in days, never below one.
func windowDays(cutoff, now, oldest, newest time.Time) float64 {
	var span time.Duration
	switch {
	case !cutoff.IsZero():
		span = now.Sub(cutoff)
	case !oldest.IsZero():
		span = newest.Sub(oldest)
	}
	return max(span.Hours()/24, 1)
}

func extractPost(msg *goquery.Selection, channel string) pipeline.Post {
	post := pipeline.Post{
		Channel: channel,
		Text:    messageText(msg),
		Views:   ParseCount(msg.Find("span.tgme_widget_message_views").First().Text()),
	}

	if raw, ok := msg.Find("time[datetime]").First().Attr("datetime"); ok {
		if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(raw)); err == nil {
			post.Date = parsed.UTC()
		}
	}

	if href, ok := msg.Find("a.tgme_widget_message_date").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		href = strings.TrimSpace(href)
		post.PostURL = &href
		if id := lastPathSegment(href); id != "" {
			post.PostID = &id
		}
	} else if dataPost, ok := msg.Attr("data-post"); ok {
		if id := lastPathSegment(dataPost); id != "" {
			post.PostID = &id
		}
	}

	post.Links = outboundLinks(msg, channel)
	post.Images = messageImages(msg)
	return post
}

func messageText(msg *goquery.Selection) string {
	text := msg.Find("div.tgme_widget_message_text").First()
	if text.Length() == 0 {
		return ""
	}
	text = text.Clone()
	text.Find("br").ReplaceWithHtml("\n")
	return strings.TrimSpace(text.Text())
}

func outboundLinks(msg *goquery.Selection, channel string) []string {
	links := make([]string, 0)
	seen := make(map[string]struct{})
	msg.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return
		}
		if a.HasClass("tgme_widget_message_date") || isChannelLink(href, channel) {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		links = append(links, href)
	})
	return links
}

// isChannelLink reports whether href points at channel itself, including its
// own posts.
func isChannelLink(href, channel string) bool {
	parsed, err := url.Parse(href)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	if host != "t.me" && host != "telegram.me" {
		return false
	}
	path := strings.Trim(parsed.Path, "/")
	path = strings.TrimPrefix(path, "s/")
	first, _, _ := strings.Cut(path, "/")
	return strings.EqualFold(first, channel)
}

func messageImages(msg *goquery.Selection) []string {
	images := make([]string, 0)
	add := func(src string) {
		src = strings.TrimSpace(src)
		if src != "" {
			images = append(images, src)
		}
	}

	msg.Find("a.tgme_widget_message_photo_wrap").Each(func(_ int, wrap *goquery.Selection) {
		if match := backgroundImageRe.FindStringSubmatch(wrap.AttrOr("style", "")); match != nil {
			add(match[1])
		}
	})
	msg.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		if isAvatar(img) {
			return
		}
		add(img.AttrOr("src", ""))
	})
	msg.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if isAvatar(a) {
			return
		}
		href := a.AttrOr("href", "")
		lower := strings.ToLower(href)
		for _, ext := range imageExtensions {
			if strings.HasSuffix(lower, ext) {
				add(href)
				return
			}
		}
	})
	return images
}

func isAvatar(sel *goquery.Selection) bool {
	if sel.HasClass("tgme_widget_message_author_photo") || sel.HasClass("tgme_widget_message_user_photo") {
		return true
	}
	return sel.Closest("i.tgme_page_photo_image, i.tgme_widget_message_user_photo, .tgme_widget_message_user").Length() > 0
}

func subscriberCount(doc *goquery.Document) int64 {
	var count int64
	doc.Find(".tgme_channel_info_counter").EachWithBreak(func(_ int, counter *goquery.Selection) bool {
		kind := strings.ToLower(counter.Find(".counter_type").Text())
		if strings.Contains(kind, "subscriber") || strings.Contains(kind, "member") || strings.Contains(kind, "подписчик") {
			count = ParseCount(counter.Find(".counter_value").Text())
			return false
		}
		return true
	})
	if count > 0 {
		return count
	}

	header := doc.Find(".tgme_header_counter, .tgme_page_extra").First().Text()
	if match := subscribersRe.FindStringSubmatch(header); match != nil {
		return ParseCount(match[1])
	}
	return 0
}

// ParseCount reads counters such as "15", "1.2K" or "3M". Characters other
// than digits, the first dot and a K/M suffix are ignored.
func ParseCount(raw string) int64 {
	var (
		digits     strings.Builder
		hasDecimal bool
		multiplier = 1.0
	)
scan:
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '.' && !hasDecimal:
			hasDecimal = true
			digits.WriteRune(r)
		case r == 'k':
			multiplier = 1_000
			break scan
		case r == 'm':
			multiplier = 1_000_000
			break scan
		}
	}

	value, err := strconv.ParseFloat(strings.TrimSuffix(digits.String(), "."), 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(value * multiplier))
}

// NormalizeChannel turns "@name", "t.me/name" or a preview URL into the
// lowercase channel name.
func NormalizeChannel(raw string) string {
	name := strings.TrimSpace(raw)
	for _, prefix := range []string{"https://", "http://", "www."} {
		name = strings.TrimPrefix(name, prefix)
	}
	for _, prefix := range []string{"t.me/s/", "t.me/", "telegram.me/s/", "telegram.me/"} {
		if strings.HasPrefix(strings.ToLower(name), prefix) {
			name = name[len(prefix):]
			break
		}
	}
	name = strings.TrimPrefix(name, "@")
	name, _, _ = strings.Cut(name, "/")
	name, _, _ = strings.Cut(name, "?")
	return strings.ToLower(strings.TrimSpace(name))
}

func lastPathSegment(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
