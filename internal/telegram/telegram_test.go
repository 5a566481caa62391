package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"horse.fit/curator/internal/pipeline"
	payloadschema "horse.fit/curator/schema"
)

var scrapeNow = time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)

const rbcPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>РБК</title></head><body>
<div class="tgme_channel_info">
  <div class="tgme_channel_info_header_title"><span>РБК</span></div>
  <div class="tgme_channel_info_counters">
    <div class="tgme_channel_info_counter"><span class="counter_value">2.1M</span> <span class="counter_type">subscribers</span></div>
    <div class="tgme_channel_info_counter"><span class="counter_value">5K</span> <span class="counter_type">photos</span></div>
  </div>
</div>
<div class="tgme_widget_message_wrap">
  <div class="tgme_widget_message" data-post="rbc/101">
    <i class="tgme_widget_message_user_photo"><img src="https://cdn.example/avatar.jpg"></i>
    <a class="tgme_widget_message_owner_name" href="https://t.me/rbc">РБК</a>
    <a class="tgme_widget_message_photo_wrap" href="https://t.me/rbc/101?single" style="width:100px;background-image:url('https://cdn.example/p1.jpg')"></a>
    <div class="tgme_widget_message_text js-message_text">ЦБ сохранил ставку<br>на уровне 16% <a href="https://www.cbr.ru/press/">cbr.ru</a> <a href="https://www.cbr.ru/press/">ещё</a></div>
    <span class="tgme_widget_message_views">1.2K</span>
    <a class="tgme_widget_message_date" href="https://t.me/rbc/101"><time datetime="2026-05-02T10:00:00+00:00">10:00</time></a>
  </div>
</div>
<div class="tgme_widget_message_wrap">
  <div class="tgme_widget_message" data-post="rbc/102">
    <div class="tgme_widget_message_text">Рубль укрепился</div>
    <span class="tgme_widget_message_views">950</span>
    <a class="tgme_widget_message_date" href="https://t.me/rbc/102"><time datetime="2026-05-01T16:00:00+00:00">16:00</time></a>
  </div>
</div>
<div class="tgme_widget_message_wrap">
  <div class="tgme_widget_message" data-post="rbc/103">
    <div class="tgme_widget_message_text">Старый пост <a href="https://old.example/">old</a></div>
    <span class="tgme_widget_message_views">2M</span>
    <a class="tgme_widget_message_date" href="https://t.me/rbc/103"><time datetime="2026-04-30T08:00:00+00:00">08:00</time></a>
  </div>
</div>
<div class="tgme_widget_message_wrap">
  <div class="tgme_widget_message" data-post="rbc/104">
    <a class="tgme_widget_message_photo_wrap" href="https://t.me/rbc/104?single" style="background-image:url('https://cdn.example/p4.jpg')"></a>
    <span class="tgme_widget_message_views">300</span>
    <a class="tgme_widget_message_date" href="https://t.me/rbc/104"><time datetime="2026-05-02T11:00:00+00:00">11:00</time></a>
  </div>
</div>
</body></html>`

func newPreviewServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/s/rbc", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			http.Error(w, "missing user agent", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(rbcPage))
	})
	mux.HandleFunc("/s/ghost", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><div class="tgme_page">nothing here</div></body></html>`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestScraper(server *httptest.Server) *Scraper {
	return NewScraper(Options{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Now:        func() time.Time { return scrapeNow },
	})
}

func TestFetchChannelExtractsPostsAndMetadata(t *testing.T) {
	t.Parallel()

	server := newPreviewServer(t)
	page, err := newTestScraper(server).FetchChannel(context.Background(), "@RBC", scrapeNow.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if page.Channel != "rbc" || page.Title != "РБК" || page.URL != server.URL+"/s/rbc" {
		t.Fatalf("unexpected page identity: %+v", page)
	}
	if page.Messages != 4 || len(page.Posts) != 2 {
		t.Fatalf("expected 4 messages and 2 fresh text posts, got %d/%d", page.Messages, len(page.Posts))
	}

	first := page.Posts[0]
	if first.Text != "ЦБ сохранил ставку\nна уровне 16% cbr.ru ещё" {
		t.Fatalf("unexpected text: %q", first.Text)
	}
	if first.Views != 1200 || !first.Date.Equal(time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected views/date: %d %s", first.Views, first.Date)
	}
	if first.PostID == nil || *first.PostID != "101" || first.PostURL == nil || *first.PostURL != "https://t.me/rbc/101" {
		t.Fatalf("unexpected post identity: %v %v", first.PostID, first.PostURL)
	}
	if len(first.Links) != 1 || first.Links[0] != "https://www.cbr.ru/press/" {
		t.Fatalf("expected one deduplicated outbound link, got %v", first.Links)
	}
	if len(first.Images) != 1 || first.Images[0] != "https://cdn.example/p1.jpg" {
		t.Fatalf("expected photo without avatar, got %v", first.Images)
	}
	if page.Posts[1].Views != 950 || len(page.Posts[1].Links) != 0 {
		t.Fatalf("unexpected second post: %+v", page.Posts[1])
	}

	meta := page.Metadata
	if meta.Subscribers != 2_100_000 {
		t.Fatalf("unexpected subscribers: %d", meta.Subscribers)
	}
	if meta.HasLinksRatio != 0.5 {
		t.Fatalf("unexpected links ratio: %f", meta.HasLinksRatio)
	}
	if meta.AverageViews != 500_612.5 {
		t.Fatalf("unexpected average views: %f", meta.AverageViews)
	}
	if meta.PostFrequencyPerDay != 3 {
		t.Fatalf("unexpected frequency: %f", meta.PostFrequencyPerDay)
	}
}

func TestDefaultClientPropagatesTraces(t *testing.T) {
	t.Parallel()

	scraper := NewScraper(Options{})
	if _, ok := scraper.client.Transport.(*otelhttp.Transport); !ok {
		t.Fatalf("expected otelhttp transport, got %T", scraper.client.Transport)
	}
	if scraper.client.Timeout != DefaultTimeout {
		t.Fatalf("expected default timeout %s, got %s", DefaultTimeout, scraper.client.Timeout)
	}
}

func TestFetchChannelErrors(t *testing.T) {
	t.Parallel()

	server := newPreviewServer(t)
	scraper := newTestScraper(server)

	_, err := scraper.FetchChannel(context.Background(), "missing", time.Time{})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}

	if _, err := scraper.FetchChannel(context.Background(), "ghost", time.Time{}); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}

	if _, err := scraper.FetchChannel(context.Background(), " @ ", time.Time{}); err == nil {
		t.Fatalf("expected error for empty channel name")
	}
}

func TestFetchChannelZeroCutoffKeepsEverything(t *testing.T) {
	t.Parallel()

	page, err := newTestScraper(newPreviewServer(t)).FetchChannel(context.Background(), "rbc", time.Time{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page.Posts) != 3 {
		t.Fatalf("expected every text post, got %d", len(page.Posts))
	}
	// Four dated messages spread over 51 hours.
	if got := page.Metadata.PostFrequencyPerDay; got < 1.88 || got > 1.89 {
		t.Fatalf("unexpected frequency over page span: %f", got)
	}
}

func TestParseCount(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"15":               15,
		"1.2K":             1200,
		"3M":               3_000_000,
		"2.1M subscribers": 2_100_000,
		"12 345":           12345,
		"":                 0,
		"views":            0,
	}
	for raw, want := range cases {
		if got := ParseCount(raw); got != want {
			t.Fatalf("ParseCount(%q) = %d, want %d", raw, got, want)
		}
	}
}

func TestNormalizeChannel(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"@RBC":                        "rbc",
		"https://t.me/s/rbc_news":     "rbc_news",
		"t.me/tass/123":               "tass",
		" rbc ":                       "rbc",
		"https://telegram.me/Foo?x=1": "foo",
		"@":                           "",
	}
	for raw, want := range cases {
		if got := NormalizeChannel(raw); got != want {
			t.Fatalf("NormalizeChannel(%q) = %q, want %q", raw, got, want)
		}
	}
}

func testScrapedPost(channel, text string, age time.Duration) pipeline.Post {
	id := strings.TrimSuffix(age.String(), "0m0s")
	url := "https://t.me/" + channel + "/" + id
	return pipeline.Post{
		Channel: channel,
		PostID:  &id,
		PostURL: &url,
		Text:    text,
		Date:    scrapeNow.Add(-age),
		Views:   10,
		Links:   []string{},
		Images:  []string{},
	}
}

type fakeFetcher struct {
	pages map[string]*ChannelPage
}

func (f fakeFetcher) FetchChannel(_ context.Context, channel string, _ time.Time) (*ChannelPage, error) {
	page, ok := f.pages[channel]
	if !ok {
		return nil, &StatusError{Channel: channel, Code: http.StatusNotFound}
	}
	return page, nil
}

func fakePage(channel string, posts ...string) *ChannelPage {
	page := &ChannelPage{Channel: channel, Title: strings.ToUpper(channel), URL: "https://t.me/s/" + channel}
	for i, text := range posts {
		page.Posts = append(page.Posts, testScrapedPost(channel, text, time.Duration(i+1)*time.Hour))
	}
	page.Messages = len(posts)
	page.Metadata.Subscribers = 1000
	page.Metadata.HasLinksRatio = 0.25
	return page
}

func TestCollectKeepsOrderAndReportsFailures(t *testing.T) {
	t.Parallel()

	fetcher := fakeFetcher{pages: map[string]*ChannelPage{
		"rbc":  fakePage("rbc", "ЦБ сохранил ставку", "Рубль укрепился"),
		"tass": fakePage("tass", "Минфин разместил ОФЗ"),
	}}
	collector := NewCollector(fetcher, 2, nil, zerolog.Nop())

	results := collector.Collect(context.Background(), []string{"@rbc", "broken", "TASS", "", "t.me/rbc"}, time.Time{})
	if len(results) != 3 {
		t.Fatalf("expected 3 unique channels, got %d", len(results))
	}
	for i, want := range []string{"rbc", "broken", "tass"} {
		if results[i].Channel != want {
			t.Fatalf("result %d: got %q, want %q", i, results[i].Channel, want)
		}
	}
	if results[1].Err == nil || results[1].Page != nil {
		t.Fatalf("expected failure for broken channel, got %+v", results[1])
	}
	if failed := Failed(results); len(failed) != 1 || failed[0].Channel != "broken" {
		t.Fatalf("unexpected failures: %+v", failed)
	}

	req := Request(results)
	if len(req.Posts) != 3 || len(req.Channels) != 2 || req.Channels["rbc"].Subscribers != 1000 {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestBatchRoundTripsThroughValidation(t *testing.T) {
	t.Parallel()

	results := []Result{
		{Channel: "rbc", Page: fakePage("rbc", "Старое", "Новое")},
		{Channel: "broken", Err: errors.New("boom")},
		{Channel: "tass", Page: fakePage("tass", "Самое новое")},
	}
	batch := Batch(results, scrapeNow)
	if batch.PostsCount == nil || *batch.PostsCount != 3 || batch.CollectedAt == nil || *batch.CollectedAt != "2026-05-02T12:00:00Z" {
		t.Fatalf("unexpected envelope: %+v", batch)
	}
	if batch.Posts[0].Date < batch.Posts[1].Date || batch.Posts[1].Date < batch.Posts[2].Date {
		t.Fatalf("expected newest first: %+v", batch.Posts)
	}
	if _, ok := batch.Channels["broken"]; ok || batch.Channels["rbc"].URL != "https://t.me/s/rbc" {
		t.Fatalf("unexpected channels: %+v", batch.Channels)
	}

	raw, err := json.Marshal(batch)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	validated, rejections, err := payloadschema.ValidateBatchPayload(raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(rejections) != 0 || len(validated.Posts) != 3 {
		t.Fatalf("expected clean batch, got %d posts and %v", len(validated.Posts), rejections)
	}
}
