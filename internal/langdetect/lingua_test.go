package langdetect

import "testing"

func TestNormalizeCode(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		" EN-us ": "en",
		"ru_RU":   "ru",
		"zh":      "zh",
		" ":       "",
		"en_123":  "en",
		"12":      "",
	}
	for raw, want := range cases {
		if got := NormalizeCode(raw); got != want {
			t.Fatalf("NormalizeCode(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestDetectorRestrictedLanguages(t *testing.T) {
	t.Parallel()

	detector := NewDetector([]string{"RU", "en-GB", "xx"})
	if len(detector.languages) != 2 {
		t.Fatalf("expected two candidate languages, got %d", len(detector.languages))
	}

	if got := detector.Detect("Центральный банк сохранил ключевую ставку без изменений"); got != "ru" {
		t.Fatalf("expected ru, got %q", got)
	}
	if got := detector.Detect("The central bank kept its key rate unchanged"); got != "en" {
		t.Fatalf("expected en, got %q", got)
	}
	if got := detector.Detect("ok 42"); got != "" {
		t.Fatalf("expected no verdict for short text, got %q", got)
	}
}

func TestDetectorFallsBackToAllLanguages(t *testing.T) {
	t.Parallel()

	if detector := NewDetector([]string{"ru"}); detector.languages != nil {
		t.Fatalf("expected single language to fall back to all languages")
	}
}
