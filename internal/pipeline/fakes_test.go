package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"
)

// vectorProvider returns a fixed vector per text and fallback for the rest.
type vectorProvider struct {
	mu       sync.Mutex
	vectors  map[string][]float64
	fallback []float64
	calls    int
}

func (p *vectorProvider) Embed(_ context.Context, texts []string) ([][]float64, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	out := make([][]float64, len(texts))
	for i, text := range texts {
		if v, ok := p.vectors[text]; ok {
			out[i] = v
			continue
		}
		out[i] = p.fallback
	}
	return out, nil
}

type nilProvider struct{}

func (nilProvider) Embed(context.Context, []string) ([][]float64, error) {
	return nil, nil
}

type failingProvider struct{}

func (failingProvider) Embed(context.Context, []string) ([][]float64, error) {
	return nil, errors.New("connection refused")
}

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func testPost(channel, text string, views int64, age time.Duration) Post {
	return Post{
		Channel: channel,
		Text:    text,
		Date:    testNow.Add(-age),
		Views:   views,
		Links:   []string{},
		Images:  []string{},
	}
}
