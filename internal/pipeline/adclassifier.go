package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	wordChars        = `\p{L}\p{N}_`
	boundaryStart    = `(?:^|[^` + wordChars + `])`
	boundaryEnd      = `(?:[^` + wordChars + `]|$)`
	boundaryGap      = `[^` + wordChars + `](?:.*[^` + wordChars + `])?`
	// After a non-word atom a boundary needs a word character next.
	boundaryWordNext = `[` + wordChars + `]`
)

var (
	numberPattern   = regexp.MustCompile(`\d+(?:\.\d+)?%?`)
	currencyPattern = regexp.MustCompile(`[$€£₽₴]`)
)

// AdVerdict is the outcome of scanning one text for advertising signals.
type AdVerdict struct {
	IsAd           bool
	Score          float64
	CategoryScores map[string]float64
	LinkScore      float64
	PatternScore   float64
	NumberScore    float64
}

type keywordCategory struct {
	name     string
	keywords []string
}

// AdDetector scores texts with keyword, pattern, link and number heuristics.
type AdDetector struct {
	cfg        AdConfig
	threshold  float64
	categories []keywordCategory
	patterns   []*regexp.Regexp
}

func NewAdDetector(cfg AdConfig, threshold float64) (*AdDetector, error) {
	patterns, err := compileAdPatterns(cfg.Patterns)
	if err != nil {
		return nil, err
	}

	categories := make([]keywordCategory, 0, len(cfg.Categories))
	for _, category := range cfg.Categories {
		keywords := make([]string, 0, len(category.Keywords))
		for _, keyword := range category.Keywords {
			if k := strings.ToLower(strings.TrimSpace(keyword)); k != "" {
				keywords = append(keywords, k)
			}
		}
		categories = append(categories, keywordCategory{name: category.Name, keywords: keywords})
	}

	return &AdDetector{
		cfg:        cfg,
		threshold:  threshold,
		categories: categories,
		patterns:   patterns,
	}, nil
}

// Detect scores text and its outbound links. The score is rounded to three
// decimals and lies in [0,1].
func (d *AdDetector) Detect(text string, links []string) AdVerdict {
	lowered := strings.ToLower(text)

	categoryScores := make(map[string]float64, len(d.categories))
	var categorySum, categoryMax float64
	for _, category := range d.categories {
		if len(category.keywords) == 0 {
			categoryScores[category.name] = 0
			continue
		}
		matched := 0
		for _, keyword := range category.keywords {
			if strings.Contains(lowered, keyword) {
				matched++
			}
		}
		score := float64(matched) / float64(len(category.keywords))
		categoryScores[category.name] = score
		categorySum += score
		categoryMax = math.Max(categoryMax, score)
	}

	categoryMean := 0.0
	if len(d.categories) > 0 {
		categoryMean = categorySum / float64(len(d.categories))
	}

	linkScore := saturate(float64(len(links)), d.cfg.LinksNorm)

	patternScore := 0.0
	if len(d.patterns) > 0 {
		matched := 0
		for _, pattern := range d.patterns {
			if pattern.MatchString(text) {
				matched++
			}
		}
		patternScore = float64(matched) / float64(len(d.patterns))
	}

	numbers := len(numberPattern.FindAllString(text, -1)) + len(currencyPattern.FindAllString(text, -1))
	numberScore := saturate(float64(numbers), d.cfg.NumbersNorm)

	score := weightedSum(
		[]float64{categoryMean, linkScore, patternScore, numberScore, categoryMax},
		[]float64{d.cfg.CategoryMeanWeight, d.cfg.LinksWeight, d.cfg.PatternsWeight, d.cfg.NumbersWeight, d.cfg.CategoryMaxWeight},
	)
	score = roundTo(clamp01(score), 3)

	isAd := score > d.threshold ||
		(linkScore > d.cfg.LinkBar && patternScore > d.cfg.PatternBar) ||
		(numberScore > d.cfg.NumberBar && categorySum > d.cfg.CategorySumBar) ||
		categoryMax > d.cfg.CategoryMaxBar

	return AdVerdict{
		IsAd:           isAd,
		Score:          score,
		CategoryScores: categoryScores,
		LinkScore:      linkScore,
		PatternScore:   patternScore,
		NumberScore:    numberScore,
	}
}

// compileAdPatterns compiles case-insensitive patterns. RE2 treats \b as an
// ASCII boundary, so \b is rewritten into letter-aware boundaries: a leading
// \b, a "\b.*\b" gap between two words, and any other \b as a boundary
// after the atom before it.
func compileAdPatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + rewriteWordBoundaries(pattern))
		if err != nil {
			return nil, fmt.Errorf("compile ad pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func rewriteWordBoundaries(pattern string) string {
	rest := strings.ReplaceAll(pattern, `\b.*\b`, "\x00")
	if strings.HasPrefix(rest, `\b`) {
		rest = boundaryStart + strings.TrimPrefix(rest, `\b`)
	}

	rewritten := ""
	for {
		i := strings.Index(rest, `\b`)
		if i < 0 {
			rewritten += rest
			break
		}
		rewritten = boundaryAfter(rewritten + rest[:i])
		rest = rest[i+2:]
	}
	return strings.ReplaceAll(rewritten, "\x00", boundaryGap)
}

// boundaryAfter appends a \b to prefix. A word atom gets a word end and a
// non-word atom needs a word character next. A (?:...) group mixing both
// carries the boundary inside each alternative.
func boundaryAfter(prefix string) string {
	if strings.HasSuffix(prefix, ")") {
		open := matchingParen(prefix)
		if open >= 0 && strings.HasPrefix(prefix[open:], "(?:") {
			alternatives := splitAlternatives(prefix[open+3 : len(prefix)-1])
			mixed := false
			for _, alt := range alternatives[1:] {
				if endsInWord(alt) != endsInWord(alternatives[0]) {
					mixed = true
					break
				}
			}
			if !mixed {
				return prefix + boundaryFor(endsInWord(alternatives[0]))
			}
			parts := make([]string, len(alternatives))
			for i, alt := range alternatives {
				parts[i] = alt + boundaryFor(endsInWord(alt))
			}
			return prefix[:open] + "(?:" + strings.Join(parts, "|") + ")"
		}
	}
	return prefix + boundaryFor(endsInWord(prefix))
}

func boundaryFor(word bool) string {
	if word {
		return boundaryEnd
	}
	return boundaryWordNext
}

// endsInWord reports whether the last atom of a pattern matches a word
// character. Metacharacters it cannot judge count as word atoms.
func endsInWord(atom string) bool {
	r, size := utf8.DecodeLastRuneInString(atom)
	if size == 0 {
		return true
	}
	if escapedAt(atom, len(atom)-size) {
		return r == 'd' || r == 'w'
	}
	switch r {
	case ')', ']', '*', '+', '?', '}', '.', '$':
		return true
	}
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// escapedAt reports whether the byte at i follows an odd run of backslashes.
func escapedAt(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

// matchingParen returns the index of the "(" closing at the end of s, or -1.
func matchingParen(s string) int {
	depth := 0
	for i := len(s) - 1; i >= 0; i-- {
		if escapedAt(s, i) {
			continue
		}
		switch s[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func splitAlternatives(body string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(body); i++ {
		if escapedAt(body, i) {
			continue
		}
		switch body[i] {
		case '(':
			depth++
		case ')':
			depth--
		case '|':
			if depth == 0 {
				parts = append(parts, body[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, body[start:])
}
