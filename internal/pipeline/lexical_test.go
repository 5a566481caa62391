package pipeline

import (
	"math"
	"testing"
)

func TestLexicalSimilarityIdenticalText(t *testing.T) {
	t.Parallel()

	text := "ЦБ сохранил ключевую ставку на уровне 16% годовых"
	if got := LexicalSimilarity(text, text); math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected similarity 1 for identical text, got %f", got)
	}
}

func TestLexicalSimilarityDegenerateInputs(t *testing.T) {
	t.Parallel()

	cases := [][2]string{
		{"", ""},
		{"a b c", "a b c"},
		{"", "рост ВВП"},
		{"!!! ...", "рост ВВП"},
	}
	for _, tc := range cases {
		if got := LexicalSimilarity(tc[0], tc[1]); got != 0 {
			t.Fatalf("expected 0 for %q vs %q, got %f", tc[0], tc[1], got)
		}
	}
}

func TestLexicalSimilarityKnownValue(t *testing.T) {
	t.Parallel()

	got := LexicalSimilarity("рост ВВП замедлился", "рост ВВП ускорился")
	if math.Abs(got-0.5031) > 1e-4 {
		t.Fatalf("unexpected similarity: %f", got)
	}
	if reverse := LexicalSimilarity("рост ВВП ускорился", "рост ВВП замедлился"); math.Abs(reverse-got) > 1e-12 {
		t.Fatalf("expected symmetric similarity, got %f and %f", got, reverse)
	}
}

func TestLexicalSimilarityDisjointTexts(t *testing.T) {
	t.Parallel()

	if got := LexicalSimilarity("нефть дорожает", "золото дешевеет"); got != 0 {
		t.Fatalf("expected 0 for disjoint vocabularies, got %f", got)
	}
}

func TestTokenizeDropsSingleCharacters(t *testing.T) {
	t.Parallel()

	tokens := tokenize("В 2026 г. ВВП-рост: 3 x_y")
	want := []string{"2026", "ввп", "рост", "x_y"}
	if len(tokens) != len(want) {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("unexpected tokens: %v", tokens)
		}
	}
}
