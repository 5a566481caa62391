package embedding

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"horse.fit/curator/internal/metrics"
)

// Limiter serialises provider calls and keeps a minimum gap between the
// starts of consecutive calls. One Limiter is shared by every provider it
// wraps.
type Limiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	recorder *metrics.Recorder
}

func NewLimiter(minInterval time.Duration, recorder *metrics.Recorder) *Limiter {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Limiter{
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		recorder: recorder,
	}
}

// Wrap returns a Provider whose calls go through the limiter.
func (l *Limiter) Wrap(inner Provider) Provider {
	return &limitedProvider{limiter: l, inner: inner}
}

type limitedProvider struct {
	limiter *Limiter
	inner   Provider
}

func (p *limitedProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	l := p.limiter
	l.mu.Lock()
	defer l.mu.Unlock()

	waitStarted := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, AsUnavailable(err)
	}
	l.recorder.ObserveProviderWait(time.Since(waitStarted))

	started := time.Now()
	vectors, err := p.inner.Embed(ctx, texts)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	l.recorder.ObserveProviderRequest(outcome, time.Since(started))
	return vectors, err
}
