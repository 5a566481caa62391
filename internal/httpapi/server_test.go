package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/pipeline"
)

const knownRunUUID = "5b0c2f7e-8d7d-4f4e-9a51-3f1f1f8c2a10"

type testEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type memoryStore struct {
	mu    sync.Mutex
	feeds []pipeline.Feed
}

func (m *memoryStore) Ping(context.Context) error { return nil }

func (m *memoryStore) SaveFeed(_ context.Context, feed pipeline.Feed) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds = append(m.feeds, feed)
	return knownRunUUID, nil
}

func (m *memoryStore) ListRuns(_ context.Context, limit int) ([]db.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]db.RunSummary, 0, len(m.feeds))
	for _, feed := range m.feeds {
		runs = append(runs, db.RunSummary{RunUUID: knownRunUUID, PostsCount: feed.Metadata.PostsCount})
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *memoryStore) GetRunFeed(_ context.Context, runUUID string) (*pipeline.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if runUUID != knownRunUUID || len(m.feeds) == 0 {
		return nil, fmt.Errorf("run %s: %w", runUUID, db.ErrNoRows)
	}
	feed := m.feeds[len(m.feeds)-1]
	return &feed, nil
}

type recordingSink struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingSink) Publish(_ context.Context, key string, _ pipeline.Feed) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return "mem://" + key, nil
}

func newTestCurator(t *testing.T) *pipeline.Service {
	t.Helper()

	service, err := pipeline.NewService(pipeline.Options{
		Config:   pipeline.DefaultConfig(),
		Workers:  1,
		Now:      func() time.Time { return time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC) },
		NewRunID: func() string { return "run-1" },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func newTestServer(t *testing.T, store RunStore, opts Options) *Server {
	t.Helper()
	return NewServer(newTestCurator(t), store, zerolog.Nop(), opts)
}

func serve(t *testing.T, server *Server, req *http.Request) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()

	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)

	var env testEnvelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response: %v body=%s", err, rec.Body.String())
		}
	}
	return rec, env
}

const testBatch = `{
  "posts": [
    {"channel": "rbc", "text": "ЦБ сохранил ключевую ставку на уровне 16%", "date": "2026-10-14T10:00:00Z", "views": 1000},
    {"channel": "tass", "text": "Минфин разместил облигации на 40 млрд рублей", "date": "2026-10-14T09:00:00Z", "views": 400},
    {"channel": "broken", "date": "2026-10-14T09:00:00Z"}
  ],
  "channels": {"rbc": {"subscribers": 2000000, "post_frequency_per_day": 40, "has_links_ratio": 1, "average_views": 200000}}
}`

func curateRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/curate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthReportsDatabaseState(t *testing.T) {
	t.Parallel()

	rec, env := serve(t, newTestServer(t, nil, Options{}), httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(string(env.Data), `"database":"disabled"`) {
		t.Fatalf("expected disabled database, got %s", env.Data)
	}

	_, env = serve(t, newTestServer(t, &memoryStore{}, Options{}), httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if !strings.Contains(string(env.Data), `"database":"ok"`) {
		t.Fatalf("expected ok database, got %s", env.Data)
	}
}

func TestCurateStoresAndPublishesFeed(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	sink := &recordingSink{}
	server := newTestServer(t, store, Options{Sink: sink, FeedPrefix: "daily"})

	rec, env := serve(t, server, curateRequest(testBatch))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	var resp curateResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode curate response: %v", err)
	}
	if resp.RunUUID != knownRunUUID || resp.Location != "mem://daily/2026/10/14/run-1.json" {
		t.Fatalf("unexpected persistence result: %+v", resp)
	}
	if len(resp.Rejections) != 1 || resp.Rejections[0].Index != 2 {
		t.Fatalf("expected the textless post to be rejected, got %+v", resp.Rejections)
	}
	stages := resp.Feed.Metadata.Stages
	if stages.Raw != 3 || stages.Malformed != 1 || len(resp.Feed.Posts) != 2 {
		t.Fatalf("unexpected feed: %+v", resp.Feed.Metadata)
	}
	if resp.Feed.Posts[0].Channel != "rbc" {
		t.Fatalf("expected heavier channel first, got %q", resp.Feed.Posts[0].Channel)
	}
	if len(store.feeds) != 1 || len(sink.keys) != 1 {
		t.Fatalf("expected one stored and one published feed, got %d/%d", len(store.feeds), len(sink.keys))
	}
}

func TestCurateRejectsBadRequests(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil, Options{})

	rec, env := serve(t, server, curateRequest(`{"items": []}`))
	if rec.Code != http.StatusBadRequest || env.Status != "fail" {
		t.Fatalf("expected invalid envelope to fail, got %d %s", rec.Code, rec.Body.String())
	}

	req := curateRequest(testBatch)
	req.URL.RawQuery = "limit=abc"
	if rec, _ := serve(t, server, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad limit to fail, got %d", rec.Code)
	}
}

func TestCurateLimitAndLanguagesQuery(t *testing.T) {
	t.Parallel()

	req := curateRequest(testBatch)
	req.URL.RawQuery = "limit=1"
	_, env := serve(t, newTestServer(t, nil, Options{}), req)

	var resp curateResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode curate response: %v", err)
	}
	if len(resp.Feed.Posts) != 1 || resp.Feed.Metadata.RequestedCount != 1 || resp.RunUUID != "" {
		t.Fatalf("unexpected limited feed: %+v", resp.Feed.Metadata)
	}
}

func TestRunHistoryEndpoints(t *testing.T) {
	t.Parallel()

	noStore := newTestServer(t, nil, Options{})
	if rec, _ := serve(t, noStore, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without store, got %d", rec.Code)
	}

	store := &memoryStore{}
	server := newTestServer(t, store, Options{})
	if rec, _ := serve(t, server, curateRequest(testBatch)); rec.Code != http.StatusOK {
		t.Fatalf("seed run failed: %d", rec.Code)
	}

	rec, env := serve(t, server, httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=5", nil))
	if rec.Code != http.StatusOK || !strings.Contains(string(env.Data), knownRunUUID) {
		t.Fatalf("unexpected run list: %d %s", rec.Code, rec.Body.String())
	}
	if rec, _ := serve(t, server, httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=0", nil)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected limit validation, got %d", rec.Code)
	}

	rec, env = serve(t, server, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+knownRunUUID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected run detail status %d", rec.Code)
	}
	var feed pipeline.Feed
	if err := json.Unmarshal(env.Data, &feed); err != nil || feed.Metadata.RunID != "run-1" {
		t.Fatalf("unexpected run detail: %v %s", err, env.Data)
	}

	if rec, _ := serve(t, server, httptest.NewRequest(http.MethodGet, "/api/v1/runs/not-a-uuid", nil)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed uuid, got %d", rec.Code)
	}
	missing := "0f8fad5b-d9cb-469f-a165-70867728950e"
	if rec, _ := serve(t, server, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+missing, nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "curator_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	rec, _ := serve(t, newTestServer(t, nil, Options{Gatherer: reg}), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "curator_test_total 1") {
		t.Fatalf("unexpected metrics output: %d %s", rec.Code, rec.Body.String())
	}

	if rec, _ := serve(t, newTestServer(t, nil, Options{}), httptest.NewRequest(http.MethodGet, "/metrics", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("expected metrics to be off without a gatherer, got %d", rec.Code)
	}
}
