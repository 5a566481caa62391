package pipeline

import (
	"math"
	"strings"
	"unicode"
)

// LexicalSimilarity returns the TF-IDF cosine similarity of two texts, where
// the vocabulary and document frequencies are built from exactly these two
// texts. Tokens are lower-cased runs of at least two letters, digits or
// underscores. The result is 0 when either text has no tokens.
func LexicalSimilarity(a, b string) float64 {
	tokensA := tokenize(a)
	tokensB := tokenize(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	countsA := termCounts(tokensA)
	countsB := termCounts(tokensB)

	const documents = 2.0
	idf := func(term string) float64 {
		df := 0.0
		if _, ok := countsA[term]; ok {
			df++
		}
		if _, ok := countsB[term]; ok {
			df++
		}
		return math.Log((1+documents)/(1+df)) + 1
	}

	weightsA := make(map[string]float64, len(countsA))
	weightsB := make(map[string]float64, len(countsB))
	var normA, normB float64
	for term, count := range countsA {
		w := float64(count) * idf(term)
		weightsA[term] = w
		normA += w * w
	}
	for term, count := range countsB {
		w := float64(count) * idf(term)
		weightsB[term] = w
		normB += w * w
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	var dot float64
	for term, wa := range weightsA {
		if wb, ok := weightsB[term]; ok {
			dot += wa * wb
		}
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return clamp01(similarity)
}

func tokenize(text string) []string {
	lowered := strings.ToLower(text)
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		return !isWordRune(r)
	})

	tokens := fields[:0]
	for _, field := range fields {
		if len([]rune(field)) < 2 {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

func termCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	return counts
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}
