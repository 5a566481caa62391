package pipeline

import (
	"testing"
	"time"
)

func scored(post Post, weight float64) ScoredPost {
	return ScoredPost{Post: post, Weight: floatPtr(weight), MergedFrom: 1}
}

func TestMergeFoldsSimilarPosts(t *testing.T) {
	t.Parallel()

	first := testPost("rbc", "Сбербанк повысил ставки по вкладам до 18% годовых", 300, time.Hour)
	first.Links = []string{"https://sberbank.ru/a", "https://rbc.ru/1"}
	first.Images = []string{"https://cdn/1.jpg"}
	second := testPost("tass", "Сбербанк повысил ставки по вкладам до 18% годовых с понедельника", 700, 2*time.Hour)
	second.Links = []string{"https://sberbank.ru/a", "https://tass.ru/2"}
	other := testPost("oil", "Нефть Brent подешевела до 62 долларов за баррель", 50, time.Hour)

	merged := NewMerger(DefaultMergeThreshold).Merge([]ScoredPost{
		scored(first, 0.4),
		scored(other, 0.35),
		scored(second, 0.6),
	})

	if len(merged) != 2 {
		t.Fatalf("expected 2 records, got %d", len(merged))
	}

	record := merged[0]
	if record.Channel != "tass" {
		t.Fatalf("expected highest-weight post as base, got %q", record.Channel)
	}
	if record.Views != 1000 {
		t.Fatalf("expected summed views 1000, got %d", record.Views)
	}
	if record.MergedFrom != 2 || len(record.OriginalPosts) != 2 {
		t.Fatalf("unexpected merge bookkeeping: merged_from=%d originals=%d", record.MergedFrom, len(record.OriginalPosts))
	}
	wantLinks := []string{"https://sberbank.ru/a", "https://tass.ru/2", "https://rbc.ru/1"}
	if len(record.Links) != len(wantLinks) {
		t.Fatalf("unexpected links: %v", record.Links)
	}
	for i := range wantLinks {
		if record.Links[i] != wantLinks[i] {
			t.Fatalf("unexpected links: %v", record.Links)
		}
	}
	if len(record.Images) != 1 {
		t.Fatalf("unexpected images: %v", record.Images)
	}
	if record.Text != second.Text {
		t.Fatalf("expected base text to be kept")
	}

	if merged[1].Channel != "oil" || merged[1].MergedFrom != 1 || merged[1].OriginalPosts != nil {
		t.Fatalf("expected singleton to pass through, got %+v", merged[1])
	}
}

func TestMergeBaseFallsBackToViews(t *testing.T) {
	t.Parallel()

	members := []ScoredPost{
		{Post: testPost("a", "x", 10, 0)},
		{Post: testPost("b", "y", 90, 0), Weight: floatPtr(0.1)},
		{Post: testPost("c", "z", 40, 0), Weight: floatPtr(0.9)},
	}
	if got := mergeBaseIndex(members); got != 1 {
		t.Fatalf("expected most-viewed member when weights are missing, got %d", got)
	}

	weighted := []ScoredPost{
		scored(testPost("a", "x", 10, 0), 0.7),
		scored(testPost("b", "y", 90, 0), 0.7),
	}
	if got := mergeBaseIndex(weighted); got != 0 {
		t.Fatalf("expected first member to win a weight tie, got %d", got)
	}
}

func TestMergeDropsBlankRecords(t *testing.T) {
	t.Parallel()

	merged := NewMerger(DefaultMergeThreshold).Merge([]ScoredPost{
		scored(testPost("a", "   ", 1, 0), 0.9),
		scored(testPost("b", "Минфин повысил прогноз роста ВВП", 1, 0), 0.5),
	})
	if len(merged) != 1 || merged[0].Channel != "b" {
		t.Fatalf("expected blank record to be dropped, got %+v", merged)
	}

	if got := NewMerger(0).Merge(nil); got != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestMergeFlagsAdvertisementPerOriginal(t *testing.T) {
	t.Parallel()

	ad := scored(testPost("promo", "Сбербанк повысил ставки по вкладам до 18% годовых", 5, 0), 0.3)
	ad.IsAdvertisement = true
	news := scored(testPost("rbc", "Сбербанк повысил ставки по вкладам до 18% годовых с понедельника", 5, 0), 0.8)

	merged := NewMerger(DefaultMergeThreshold).Merge([]ScoredPost{news, ad})
	if len(merged) != 1 {
		t.Fatalf("expected one merged record, got %d", len(merged))
	}
	originals := merged[0].OriginalPosts
	if originals[0].IsAdvertisement || !originals[1].IsAdvertisement {
		t.Fatalf("expected per-original ad flags, got %+v", originals)
	}
}
