package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"

	"horse.fit/curator/internal/embedding"
)

// TopicVerdict is the topical relevance of one text.
type TopicVerdict struct {
	IsRelated bool
	Score     float64
	Scores    map[string]float64
}

type topicIndex struct {
	name      string
	weight    float64
	exemplars [][]float64
}

// TopicDetector compares text embeddings with per-topic exemplar embeddings.
type TopicDetector struct {
	provider  embedding.Provider
	topics    []TopicConfig
	threshold float64
}

func NewTopicDetector(provider embedding.Provider, topics []TopicConfig, threshold float64) *TopicDetector {
	copied := make([]TopicConfig, len(topics))
	copy(copied, topics)
	return &TopicDetector{
		provider:  provider,
		topics:    copied,
		threshold: threshold,
	}
}

// Names lists the configured topics in order.
func (d *TopicDetector) Names() []string {
	if d == nil {
		return nil
	}
	names := make([]string, len(d.topics))
	for i, topic := range d.topics {
		names[i] = topic.Name
	}
	return names
}

// ExemplarCount is the number of exemplar texts embedded alongside every
// Detect call.
func (d *TopicDetector) ExemplarCount() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, topic := range d.topics {
		n += len(topic.Exemplars)
	}
	return n
}

// Detect scores each text against every topic. Exemplars and texts share one
// provider call; if it fails no verdicts are returned and the error wraps
// embedding.ErrUnavailable.
func (d *TopicDetector) Detect(ctx context.Context, texts []string) ([]TopicVerdict, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if d == nil || d.provider == nil || len(d.topics) == 0 {
		return nil, fmt.Errorf("detect topics: %w", embedding.ErrUnavailable)
	}

	inputs := make([]string, 0, len(texts)+len(d.topics)*3)
	for _, topic := range d.topics {
		inputs = append(inputs, topic.Exemplars...)
	}
	exemplarCount := len(inputs)
	inputs = append(inputs, texts...)

	vectors, err := d.provider.Embed(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("detect topics: %w", embedding.AsUnavailable(err))
	}
	if !usableVectors(vectors, len(inputs)) {
		return nil, fmt.Errorf("detect topics: %w: requested=%d returned=%d", embedding.ErrUnavailable, len(inputs), len(vectors))
	}

	index := make([]topicIndex, 0, len(d.topics))
	offset := 0
	for _, topic := range d.topics {
		n := len(topic.Exemplars)
		index = append(index, topicIndex{
			name:      topic.Name,
			weight:    topic.Weight,
			exemplars: vectors[offset : offset+n],
		})
		offset += n
	}

	verdicts := make([]TopicVerdict, len(texts))
	for i := range texts {
		verdicts[i] = d.score(index, vectors[exemplarCount+i])
	}
	return verdicts, nil
}

func (d *TopicDetector) score(index []topicIndex, vector []float64) TopicVerdict {
	scores := make(map[string]float64, len(index))
	var total float64
	for _, topic := range index {
		best := 0.0
		for _, exemplar := range topic.exemplars {
			best = math.Max(best, cosine(vector, exemplar))
		}
		best = clamp01(best)
		scores[topic.name] = roundTo(best, 3)
		total += topic.weight * best
	}
	total = roundTo(clamp01(total), 3)
	return TopicVerdict{
		IsRelated: total > d.threshold,
		Score:     total,
		Scores:    scores,
	}
}

// PostType labels a post by its per-topic scores: the top topic when it
// clears threshold, "mixed" when several topics clear mixedFactor*threshold,
// otherwise "general". Ties go to the topic listed first in order; scored
// topics missing from order follow alphabetically.
func PostType(scores map[string]float64, order []string, threshold, mixedFactor float64) string {
	if len(scores) == 0 {
		return PostTypeGeneral
	}

	names := make([]string, 0, len(scores))
	listed := make(map[string]struct{}, len(order))
	for _, name := range order {
		if _, ok := scores[name]; !ok {
			continue
		}
		if _, dup := listed[name]; dup {
			continue
		}
		listed[name] = struct{}{}
		names = append(names, name)
	}
	var extra []string
	for name := range scores {
		if _, ok := listed[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	names = append(names, extra...)

	top := names[0]
	for _, name := range names[1:] {
		if scores[name] > scores[top] {
			top = name
		}
	}
	if scores[top] > threshold {
		return top
	}

	bar := mixedFactor * threshold
	above := 0
	for _, name := range names {
		if scores[name] > bar {
			above++
		}
	}
	if above > 1 {
		return PostTypeMixed
	}
	return PostTypeGeneral
}
