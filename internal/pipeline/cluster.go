package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"horse.fit/curator/internal/embedding"
)

// groupBySeed partitions n items in one greedy pass. Each unassigned item in
// order seeds a group and absorbs every later unassigned item whose
// similarity to the seed passes accept. Members are never compared with each
// other, so the grouping is not transitive.
func groupBySeed(n int, similarity func(i, j int) float64, accept func(score float64) bool) []Group {
	if n <= 0 {
		return nil
	}

	assigned := make([]bool, n)
	groups := make([]Group, 0, n)
	for seed := 0; seed < n; seed++ {
		if assigned[seed] {
			continue
		}
		assigned[seed] = true
		group := Group{seed}
		for candidate := seed + 1; candidate < n; candidate++ {
			if assigned[candidate] {
				continue
			}
			if accept(similarity(seed, candidate)) {
				assigned[candidate] = true
				group = append(group, candidate)
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// SemanticClusterer groups posts whose embeddings are close to a seed post.
type SemanticClusterer struct {
	provider  embedding.Provider
	threshold float64
	logger    zerolog.Logger
}

func NewSemanticClusterer(provider embedding.Provider, threshold float64, logger zerolog.Logger) *SemanticClusterer {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &SemanticClusterer{
		provider:  provider,
		threshold: threshold,
		logger:    logger,
	}
}

// Cluster embeds every post text once and groups by cosine similarity to the
// seed, strictly above the threshold. Any provider failure yields no groups
// and an error wrapping embedding.ErrUnavailable.
func (c *SemanticClusterer) Cluster(ctx context.Context, posts []Post) ([]Group, error) {
	if len(posts) == 0 {
		return nil, nil
	}
	if c == nil || c.provider == nil {
		return nil, fmt.Errorf("cluster posts: %w", embedding.ErrUnavailable)
	}

	texts := make([]string, len(posts))
	for i, post := range posts {
		texts[i] = post.Text
	}

	vectors, err := c.provider.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("cluster posts: %w", embedding.AsUnavailable(err))
	}
	if !usableVectors(vectors, len(posts)) {
		return nil, fmt.Errorf("cluster posts: %w: requested=%d returned=%d", embedding.ErrUnavailable, len(posts), len(vectors))
	}

	matrix := cosineMatrix(vectors)
	groups := groupBySeed(len(posts), func(i, j int) float64 {
		return matrix[i][j]
	}, func(score float64) bool {
		return score > c.threshold
	})

	c.logger.Debug().
		Int("posts", len(posts)).
		Int("groups", len(groups)).
		Float64("threshold", c.threshold).
		Msg("semantic clustering complete")
	return groups, nil
}

// usableVectors reports whether the provider returned one non-empty vector
// per requested text.
func usableVectors(vectors [][]float64, requested int) bool {
	if len(vectors) != requested {
		return false
	}
	for _, v := range vectors {
		if len(v) == 0 {
			return false
		}
	}
	return true
}

func cosineMatrix(vectors [][]float64) [][]float64 {
	norms := make([]float64, len(vectors))
	for i, v := range vectors {
		norms[i] = vectorNorm(v)
	}

	matrix := make([][]float64, len(vectors))
	for i := range vectors {
		matrix[i] = make([]float64, len(vectors))
	}
	for i := range vectors {
		matrix[i][i] = 1
		for j := i + 1; j < len(vectors); j++ {
			score := cosineWithNorms(vectors[i], vectors[j], norms[i], norms[j])
			matrix[i][j] = score
			matrix[j][i] = score
		}
	}
	return matrix
}

func cosine(a, b []float64) float64 {
	return cosineWithNorms(a, b, vectorNorm(a), vectorNorm(b))
}

func cosineWithNorms(a, b []float64, normA, normB float64) float64 {
	if normA == 0 || normB == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	score := dot / (normA * normB)
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(-1, math.Min(1, score))
}

func vectorNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
