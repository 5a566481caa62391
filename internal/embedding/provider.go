package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable reports that no usable embeddings could be obtained. Callers
// treat it as a signal to skip the stages that need vectors.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider turns texts into vectors, one per text and in the same order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, texts []string) ([][]float64, error)

func (f ProviderFunc) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return f(ctx, texts)
}

// AsUnavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func AsUnavailable(err error) error {
	if err == nil {
		return ErrUnavailable
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func checkCount(requested int, vectors [][]float64) error {
	if len(vectors) != requested {
		return fmt.Errorf("embedding response count mismatch: requested=%d returned=%d", requested, len(vectors))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("embedding response has empty vector at index %d", i)
		}
	}
	return nil
}
