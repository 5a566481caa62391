package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

const minLetters = 6

// Detector annotates text with an ISO 639-1 code. It is safe for concurrent use;
// language models load on first use.
type Detector struct {
	languages []lingua.Language
	once      sync.Once
	detector  lingua.LanguageDetector
}

// NewDetector restricts detection to the given codes. lingua needs at least two
// candidates, so fewer known codes fall back to every supported language.
func NewDetector(codes []string) *Detector {
	wanted := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if normalized := NormalizeCode(code); normalized != "" {
			wanted[normalized] = struct{}{}
		}
	}

	var languages []lingua.Language
	for _, language := range lingua.AllLanguages() {
		if _, ok := wanted[isoCode(language)]; ok {
			languages = append(languages, language)
		}
	}
	if len(languages) < 2 {
		languages = nil
	}
	return &Detector{languages: languages}
}

func (d *Detector) Detect(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}

	language, exists := d.get().DetectLanguageOf(sample)
	if !exists {
		return ""
	}
	code := isoCode(language)
	if len(code) != 2 {
		return ""
	}
	return code
}

func (d *Detector) get() lingua.LanguageDetector {
	d.once.Do(func() {
		if len(d.languages) > 0 {
			d.detector = lingua.NewLanguageDetectorBuilder().
				FromLanguages(d.languages...).
				WithPreloadedLanguageModels().
				Build()
			return
		}
		d.detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			WithPreloadedLanguageModels().
			Build()
	})
	return d.detector
}

func isoCode(language lingua.Language) string {
	return strings.ToLower(language.IsoCode639_1().String())
}

// NormalizeCode returns the primary subtag of a language tag in lowercase
// ("en" from "en_US"), or "" for blank or non-alphabetic input.
func NormalizeCode(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	trimmed = strings.ReplaceAll(trimmed, "_", "-")
	primary, _, _ := strings.Cut(trimmed, "-")
	primary = strings.TrimSpace(primary)
	if primary == "" {
		return ""
	}
	for _, r := range primary {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return primary
}
