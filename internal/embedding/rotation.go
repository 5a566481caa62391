package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Rotating tries one provider per API key. A failure moves the active key to
// the next one and retries, at most once per key.
type Rotating struct {
	mu        sync.Mutex
	providers []Provider
	current   int
	logger    zerolog.Logger
}

func NewRotating(providers []Provider, logger zerolog.Logger) *Rotating {
	kept := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Rotating{providers: kept, logger: logger}
}

func (r *Rotating) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if r == nil || len(r.providers) == 0 {
		return nil, ErrUnavailable
	}

	var errs []error
	for attempt := 0; attempt < len(r.providers); attempt++ {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		idx := r.active()
		vectors, err := r.providers[idx].Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}

		errs = append(errs, fmt.Errorf("key #%d: %w", idx+1, err))
		next := r.advance(idx)
		r.logger.Warn().
			Err(err).
			Int("key", idx+1).
			Int("next_key", next+1).
			Int("keys", len(r.providers)).
			Msg("embedding request failed, rotating api key")
	}

	return nil, AsUnavailable(errors.Join(errs...))
}

func (r *Rotating) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// advance moves past failed unless another caller already rotated.
func (r *Rotating) advance(failed int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == failed {
		r.current = (r.current + 1) % len(r.providers)
	}
	return r.current
}
