package pipeline

import "strings"

// Merger folds lexically similar posts into one record.
type Merger struct {
	threshold float64
}

func NewMerger(threshold float64) *Merger {
	if threshold <= 0 {
		threshold = DefaultMergeThreshold
	}
	return &Merger{threshold: threshold}
}

// Merge groups posts by lexical similarity to a seed (at or above the
// threshold) and folds every multi-post group into one record. Records whose
// text is blank are dropped.
func (m *Merger) Merge(posts []ScoredPost) []ScoredPost {
	if len(posts) == 0 {
		return nil
	}

	threshold := DefaultMergeThreshold
	if m != nil {
		threshold = m.threshold
	}

	groups := groupBySeed(len(posts), func(i, j int) float64 {
		return LexicalSimilarity(posts[i].Text, posts[j].Text)
	}, func(score float64) bool {
		return score >= threshold
	})

	merged := make([]ScoredPost, 0, len(groups))
	for _, group := range groups {
		if len(group) == 1 {
			post := posts[group[0]]
			if strings.TrimSpace(post.Text) == "" {
				continue
			}
			post.MergedFrom = 1
			merged = append(merged, post)
			continue
		}

		members := make([]ScoredPost, len(group))
		for i, idx := range group {
			members[i] = posts[idx]
		}
		record, ok := foldGroup(members)
		if !ok {
			continue
		}
		merged = append(merged, record)
	}
	return merged
}

func foldGroup(members []ScoredPost) (ScoredPost, bool) {
	base := members[mergeBaseIndex(members)]
	if strings.TrimSpace(base.Text) == "" {
		return ScoredPost{}, false
	}

	record := base
	record.Views = 0
	record.Links = nil
	record.Images = nil

	linkSet := newOrderedSet()
	imageSet := newOrderedSet()
	linkSet.add(base.Links...)
	imageSet.add(base.Images...)

	originals := make([]OriginalPost, 0, len(members))
	for _, member := range members {
		record.Views += member.Views
		linkSet.add(member.Links...)
		imageSet.add(member.Images...)
		originals = append(originals, OriginalPost{
			Channel:         member.Channel,
			Date:            member.Date,
			Views:           member.Views,
			PostURL:         member.PostURL,
			IsAdvertisement: member.IsAdvertisement,
		})
	}

	record.Links = linkSet.values()
	record.Images = imageSet.values()
	record.MergedFrom = len(members)
	record.OriginalPosts = originals
	return record, true
}

// mergeBaseIndex returns the member with the highest weight when every member
// carries one, otherwise the member with the most views. First wins ties.
func mergeBaseIndex(members []ScoredPost) int {
	allWeighted := true
	for _, member := range members {
		if member.Weight == nil {
			allWeighted = false
			break
		}
	}

	best := 0
	for i := 1; i < len(members); i++ {
		if allWeighted {
			current, _ := members[i].weightValue()
			top, _ := members[best].weightValue()
			if current > top {
				best = i
			}
			continue
		}
		if members[i].Views > members[best].Views {
			best = i
		}
	}
	return best
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(values ...string) {
	for _, v := range values {
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.items = append(s.items, v)
	}
}

func (s *orderedSet) values() []string {
	if len(s.items) == 0 {
		return []string{}
	}
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}
