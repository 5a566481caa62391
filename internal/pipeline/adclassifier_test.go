package pipeline

import (
	"math"
	"regexp"
	"strings"
	"testing"
)

const (
	promoText = "Только сегодня скидка 50% купи сейчас! Акция действует до 31.10: цены от 990 руб, 2 по цене 1, " +
		"3 дня доставка, 24/7 поддержка. Получи бонус 500 ₽ и подарок. Подпишись на наш канал. " +
		"Регистрация бесплатно. Инвестируй сейчас."
	heavyPromoText = "Эксклюзивно только сейчас! 70% скидка на брокерский счет, 12% годовых по вкладу, кэшбэк 5% по карте. " +
		"Только сегодня: акция действует до 31.10, цены от 990 руб. Купи подписку бесплатно, получи бонус 1000 ₽ и подарок. " +
		"Подпишись на канал t.me/promo. Регистрация бесплатно. Инвестируй сейчас, не упусти шанс. Промокод SALE2026 для 3 друзей."
	newsText = "ЦБ сохранил ключевую ставку на уровне 16% годовых, сообщил регулятор по итогам заседания."
)

func testLinks(n int) []string {
	links := make([]string, n)
	for i := range links {
		links[i] = "https://shop.example/" + strings.Repeat("p", i+1)
	}
	return links
}

func newTestAdDetector(t *testing.T) *AdDetector {
	t.Helper()

	cfg := DefaultConfig()
	detector, err := NewAdDetector(cfg.Ads, cfg.AdThreshold)
	if err != nil {
		t.Fatalf("new ad detector: %v", err)
	}
	return detector
}

func TestAdDetectorFlagsPromotion(t *testing.T) {
	t.Parallel()

	detector := newTestAdDetector(t)
	verdict := detector.Detect(promoText, testLinks(6))
	if !verdict.IsAd || verdict.Score <= 0.5 {
		t.Fatalf("expected advertisement above 0.5, got is_ad=%v score=%.3f", verdict.IsAd, verdict.Score)
	}
	if verdict.LinkScore != 1 {
		t.Fatalf("expected saturated link score, got %f", verdict.LinkScore)
	}
	if len(verdict.CategoryScores) != 4 {
		t.Fatalf("expected 4 category scores, got %v", verdict.CategoryScores)
	}
}

func TestAdDetectorBarePromoPhraseStaysBelowThreshold(t *testing.T) {
	t.Parallel()

	detector := newTestAdDetector(t)
	verdict := detector.Detect("скидка 50% купи сейчас", testLinks(6))
	if verdict.IsAd {
		t.Fatalf("expected bare phrase to pass, got score %.3f", verdict.Score)
	}
	if math.Abs(verdict.Score-0.232) > 0.002 {
		t.Fatalf("expected score near 0.232, got %.4f", verdict.Score)
	}
	if verdict.LinkScore != 1 || verdict.PatternScore != 0 || math.Abs(verdict.NumberScore-0.1) > 1e-9 {
		t.Fatalf("unexpected components: link=%.3f pattern=%.3f number=%.3f", verdict.LinkScore, verdict.PatternScore, verdict.NumberScore)
	}
}

func TestAdDetectorHeavyPromotionClearsFilterBar(t *testing.T) {
	t.Parallel()

	detector := newTestAdDetector(t)
	verdict := detector.Detect(heavyPromoText, testLinks(7))
	if !verdict.IsAd || verdict.Score <= DefaultAdFilterThreshold {
		t.Fatalf("expected score above filter bar, got is_ad=%v score=%.3f", verdict.IsAd, verdict.Score)
	}
	if verdict.PatternScore != 1 {
		t.Fatalf("expected every pattern to match, got %f", verdict.PatternScore)
	}
}

func TestAdDetectorLeavesNewsAlone(t *testing.T) {
	t.Parallel()

	detector := newTestAdDetector(t)
	verdict := detector.Detect(newsText, testLinks(1))
	if verdict.IsAd {
		t.Fatalf("expected news to pass, got score %.3f", verdict.Score)
	}
	if verdict.Score < 0 || verdict.Score > 0.2 {
		t.Fatalf("unexpected news score %.3f", verdict.Score)
	}

	empty := detector.Detect("", nil)
	if empty.IsAd || empty.Score != 0 {
		t.Fatalf("expected empty text to score 0, got %+v", empty)
	}
}

func TestAdPatternsUseLetterAwareBoundaries(t *testing.T) {
	t.Parallel()

	patterns := defaultAdPatterns()
	cases := []struct {
		pattern int
		text    string
		want    bool
	}{
		{pattern: 0, text: "70% скидка на всё", want: true},
		{pattern: 0, text: "70% скидкаmax", want: false},
		{pattern: 1, text: "цены от 990 руб.", want: true},
		{pattern: 1, text: "поворот990 руб", want: false},
		{pattern: 1, text: "от 500 ₽ сегодня", want: false},
		{pattern: 1, text: "от 500 р. сегодня", want: false},
		{pattern: 1, text: "от 500 ₽", want: false},
		{pattern: 1, text: "от 500 ₽бонусом", want: true},
		{pattern: 1, text: "до 300 рублей", want: false},
		{pattern: 2, text: "купи бесплатно", want: true},
		{pattern: 2, text: "купите бесплатно", want: false},
		{pattern: 2, text: "Закажи сегодня и получи в подарок", want: true},
		{pattern: 3, text: "Подпишись на наш канал", want: true},
		{pattern: 3, text: "подписка на каналах", want: false},
		{pattern: 4, text: "инвестируй сейчас", want: true},
		{pattern: 7, text: "получи бонус", want: true},
		{pattern: 8, text: "регистрация бесплатно", want: true},
	}

	for _, tc := range cases {
		re := regexp.MustCompile("(?i)" + rewriteWordBoundaries(patterns[tc.pattern]))
		if got := re.MatchString(tc.text); got != tc.want {
			t.Fatalf("pattern %d on %q: got %v, want %v", tc.pattern, tc.text, got, tc.want)
		}
	}
}

func TestBoundaryAfterNonWordAtom(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pattern string
		text    string
		want    bool
	}{
		{pattern: `цена\b`, text: "цена 5", want: true},
		{pattern: `цена\b`, text: "ценам", want: false},
		{pattern: `5\.\b`, text: "5.x", want: true},
		{pattern: `5\.\b`, text: "5. x", want: false},
		{pattern: `(?:евро|€)\b`, text: "100 € сейчас", want: false},
		{pattern: `(?:евро|€)\b`, text: "100 евро сейчас", want: true},
		{pattern: `(?:\$|€)\b`, text: "$5", want: true},
		{pattern: `(?:\$|€)\b`, text: "5$", want: false},
	}

	for _, tc := range cases {
		re := regexp.MustCompile("(?i)" + rewriteWordBoundaries(tc.pattern))
		if got := re.MatchString(tc.text); got != tc.want {
			t.Fatalf("%s on %q: got %v, want %v", tc.pattern, tc.text, got, tc.want)
		}
	}
}

func TestNewAdDetectorRejectsBadPattern(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig().Ads
	cfg.Patterns = []string{`(unclosed`}
	if _, err := NewAdDetector(cfg, DefaultAdThreshold); err == nil {
		t.Fatalf("expected compile error")
	}
}
