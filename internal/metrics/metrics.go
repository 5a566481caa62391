package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "curator"

// Recorder holds the Prometheus collectors for the curation pipeline. A nil
// Recorder is valid and records nothing.
type Recorder struct {
	runs             *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	posts            *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	providerLatency  prometheus.Histogram
	providerWait     prometheus.Histogram
	scrapes          *prometheus.CounterVec
}

func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Curation runs by provider availability.",
		}, []string{"provider"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		posts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_total",
			Help:      "Posts by pipeline outcome.",
		}, []string{"outcome"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding provider requests by outcome.",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding provider request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		providerWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_rate_limit_wait_seconds",
			Help:      "Time spent waiting for the embedding rate limiter.",
			Buckets:   prometheus.DefBuckets,
		}),
		scrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_scrapes_total",
			Help:      "Channel page scrapes by outcome.",
		}, []string{"outcome"}),
	}

	if reg == nil {
		return r, nil
	}
	collectors := []prometheus.Collector{
		r.runs, r.stageDuration, r.posts, r.providerRequests, r.providerLatency, r.providerWait, r.scrapes,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics collector: %w", err)
		}
	}
	return r, nil
}

func (r *Recorder) ObserveRun(providerAvailable bool) {
	if r == nil {
		return
	}
	label := "available"
	if !providerAvailable {
		label = "unavailable"
	}
	r.runs.WithLabelValues(label).Inc()
}

func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Recorder) AddPosts(outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.posts.WithLabelValues(outcome).Add(float64(n))
}

func (r *Recorder) ObserveProviderRequest(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.providerRequests.WithLabelValues(outcome).Inc()
	r.providerLatency.Observe(d.Seconds())
}

func (r *Recorder) ObserveProviderWait(d time.Duration) {
	if r == nil {
		return
	}
	r.providerWait.Observe(d.Seconds())
}

func (r *Recorder) ObserveScrape(outcome string) {
	if r == nil {
		return
	}
	r.scrapes.WithLabelValues(outcome).Inc()
}
