package pipeline

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSimilarityThreshold     = 0.6
	DefaultMergeThreshold          = 0.65
	DefaultAdThreshold             = 0.5
	DefaultAdFilterThreshold       = 0.6
	DefaultTopicRelevanceThreshold = 0.4
	DefaultPostTypeThreshold       = 0.5
	DefaultMixedFactor             = 0.8
	DefaultChannelWeight           = 0.5

	PostTypeMixed   = "mixed"
	PostTypeGeneral = "general"
)

// Config is the full scoring configuration. Components copy what they need at
// construction time, so a Config value is never mutated by the pipeline.
type Config struct {
	SimilarityThreshold     float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	MergeThreshold          float64 `yaml:"merge_threshold" json:"merge_threshold"`
	AdThreshold             float64 `yaml:"ad_threshold" json:"ad_threshold"`
	AdFilterThreshold       float64 `yaml:"ad_filter_threshold" json:"ad_filter_threshold"`
	TopicRelevanceThreshold float64 `yaml:"topic_relevance_threshold" json:"topic_relevance_threshold"`
	PostTypeThreshold       float64 `yaml:"post_type_threshold" json:"post_type_threshold"`
	MixedFactor             float64 `yaml:"mixed_factor" json:"mixed_factor"`
	DefaultChannelWeight    float64 `yaml:"default_channel_weight" json:"default_channel_weight"`

	ChannelWeights ChannelWeightConfig  `yaml:"channel_weights" json:"-"`
	Relevance      RelevanceConfig      `yaml:"relevance" json:"-"`
	Representative RepresentativeConfig `yaml:"representative" json:"-"`
	Ads            AdConfig             `yaml:"ads" json:"-"`
	Topics         []TopicConfig        `yaml:"topics" json:"-"`
}

type ChannelWeightConfig struct {
	SubscribersWeight float64 `yaml:"subscribers_weight"`
	FrequencyWeight   float64 `yaml:"frequency_weight"`
	LinksWeight       float64 `yaml:"links_weight"`
	ViewsWeight       float64 `yaml:"views_weight"`
	SubscribersNorm   float64 `yaml:"subscribers_norm"`
	FrequencyNorm     float64 `yaml:"frequency_norm"`
	ViewsNorm         float64 `yaml:"views_norm"`
}

type RelevanceConfig struct {
	TimeWeight    float64 `yaml:"time_weight"`
	ChannelWeight float64 `yaml:"channel_weight"`
	ViewsWeight   float64 `yaml:"views_weight"`
	LinksWeight   float64 `yaml:"links_weight"`
	HorizonHours  float64 `yaml:"horizon_hours"`
	LinksNorm     float64 `yaml:"links_norm"`
}

type RepresentativeConfig struct {
	ChannelWeight float64 `yaml:"channel_weight"`
	ViewsWeight   float64 `yaml:"views_weight"`
	LinksWeight   float64 `yaml:"links_weight"`
	LinksNorm     float64 `yaml:"links_norm"`
}

type KeywordCategory struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type AdConfig struct {
	Categories []KeywordCategory `yaml:"categories"`
	Patterns   []string          `yaml:"patterns"`

	CategoryMeanWeight float64 `yaml:"category_mean_weight"`
	LinksWeight        float64 `yaml:"links_weight"`
	PatternsWeight     float64 `yaml:"patterns_weight"`
	NumbersWeight      float64 `yaml:"numbers_weight"`
	CategoryMaxWeight  float64 `yaml:"category_max_weight"`
	LinksNorm          float64 `yaml:"links_norm"`
	NumbersNorm        float64 `yaml:"numbers_norm"`

	LinkBar        float64 `yaml:"link_bar"`
	PatternBar     float64 `yaml:"pattern_bar"`
	NumberBar      float64 `yaml:"number_bar"`
	CategorySumBar float64 `yaml:"category_sum_bar"`
	CategoryMaxBar float64 `yaml:"category_max_bar"`
}

type TopicConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Weight      float64  `yaml:"weight"`
	Exemplars   []string `yaml:"exemplars"`
}

// DefaultConfig returns a fresh copy of the built-in scoring configuration.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:     DefaultSimilarityThreshold,
		MergeThreshold:          DefaultMergeThreshold,
		AdThreshold:             DefaultAdThreshold,
		AdFilterThreshold:       DefaultAdFilterThreshold,
		TopicRelevanceThreshold: DefaultTopicRelevanceThreshold,
		PostTypeThreshold:       DefaultPostTypeThreshold,
		MixedFactor:             DefaultMixedFactor,
		DefaultChannelWeight:    DefaultChannelWeight,
		ChannelWeights: ChannelWeightConfig{
			SubscribersWeight: 0.3,
			FrequencyWeight:   0.3,
			LinksWeight:       0.2,
			ViewsWeight:       0.2,
			SubscribersNorm:   1_000_000,
			FrequencyNorm:     20,
			ViewsNorm:         100_000,
		},
		Relevance: RelevanceConfig{
			TimeWeight:    0.4,
			ChannelWeight: 0.3,
			ViewsWeight:   0.2,
			LinksWeight:   0.1,
			HorizonHours:  24,
			LinksNorm:     5,
		},
		Representative: RepresentativeConfig{
			ChannelWeight: 0.4,
			ViewsWeight:   0.4,
			LinksWeight:   0.2,
			LinksNorm:     5,
		},
		Ads: AdConfig{
			Categories:         defaultAdCategories(),
			Patterns:           defaultAdPatterns(),
			CategoryMeanWeight: 0.3,
			LinksWeight:        0.2,
			PatternsWeight:     0.2,
			NumbersWeight:      0.15,
			CategoryMaxWeight:  0.15,
			LinksNorm:          5,
			NumbersNorm:        10,
			LinkBar:            0.8,
			PatternBar:         0.3,
			NumberBar:          0.8,
			CategorySumBar:     0.3,
			CategoryMaxBar:     0.7,
		},
		Topics: defaultTopics(),
	}
}

// LoadConfig overlays a YAML file on top of DefaultConfig. Lists present in the
// file replace the defaults as a whole.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return Config{}, fmt.Errorf("read scoring config %s: %w", trimmed, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode scoring config %s: %w", trimmed, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("scoring config %s: %w", trimmed, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	unit := map[string]float64{
		"similarity_threshold":      c.SimilarityThreshold,
		"merge_threshold":           c.MergeThreshold,
		"ad_threshold":              c.AdThreshold,
		"ad_filter_threshold":       c.AdFilterThreshold,
		"topic_relevance_threshold": c.TopicRelevanceThreshold,
		"post_type_threshold":       c.PostTypeThreshold,
		"mixed_factor":              c.MixedFactor,
		"default_channel_weight":    c.DefaultChannelWeight,
	}
	for name, value := range unit {
		if value < 0 || value > 1 || math.IsNaN(value) {
			return fmt.Errorf("%s must be within [0,1], got %v", name, value)
		}
	}

	weights := []float64{
		c.ChannelWeights.SubscribersWeight, c.ChannelWeights.FrequencyWeight, c.ChannelWeights.LinksWeight, c.ChannelWeights.ViewsWeight,
		c.Relevance.TimeWeight, c.Relevance.ChannelWeight, c.Relevance.ViewsWeight, c.Relevance.LinksWeight,
		c.Representative.ChannelWeight, c.Representative.ViewsWeight, c.Representative.LinksWeight,
		c.Ads.CategoryMeanWeight, c.Ads.LinksWeight, c.Ads.PatternsWeight, c.Ads.NumbersWeight, c.Ads.CategoryMaxWeight,
	}
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("weights must be non-negative")
		}
	}

	norms := []float64{
		c.ChannelWeights.SubscribersNorm, c.ChannelWeights.FrequencyNorm, c.ChannelWeights.ViewsNorm,
		c.Relevance.HorizonHours, c.Relevance.LinksNorm, c.Representative.LinksNorm,
		c.Ads.LinksNorm, c.Ads.NumbersNorm,
	}
	for _, n := range norms {
		if n <= 0 {
			return fmt.Errorf("normalization constants must be > 0")
		}
	}

	if len(c.Ads.Categories) == 0 {
		return fmt.Errorf("at least one ad keyword category is required")
	}
	for _, category := range c.Ads.Categories {
		if len(category.Keywords) == 0 {
			return fmt.Errorf("ad keyword category %q is empty", category.Name)
		}
	}
	if _, err := compileAdPatterns(c.Ads.Patterns); err != nil {
		return err
	}

	if len(c.Topics) > 0 {
		var sum float64
		seen := make(map[string]struct{}, len(c.Topics))
		for _, topic := range c.Topics {
			name := strings.TrimSpace(topic.Name)
			if name == "" {
				return fmt.Errorf("topic name is required")
			}
			if _, dup := seen[name]; dup {
				return fmt.Errorf("duplicate topic %q", name)
			}
			seen[name] = struct{}{}
			if topic.Weight < 0 {
				return fmt.Errorf("topic %q weight must be non-negative", name)
			}
			if len(topic.Exemplars) == 0 {
				return fmt.Errorf("topic %q needs at least one exemplar", name)
			}
			sum += topic.Weight
		}
		if math.Abs(sum-1) > 1e-6 {
			return fmt.Errorf("topic weights must sum to 1, got %.6f", sum)
		}
	}
	return nil
}

// PostTypeDescriptions maps every label the classifier can emit to a description.
func (c Config) PostTypeDescriptions() map[string]string {
	out := make(map[string]string, len(c.Topics)+2)
	for _, topic := range c.Topics {
		out[topic.Name] = topic.Description
	}
	out[PostTypeMixed] = "Posts that belong to several topics at once"
	out[PostTypeGeneral] = "Posts without a pronounced topic"
	return out
}

func defaultAdCategories() []KeywordCategory {
	return []KeywordCategory{
		{
			Name: "direct_promotion",
			Keywords: []string{
				"реклама", "рекламный", "спонсор", "партнер", "сотрудничество", "коллаборация",
				"акция", "скидка", "специальное предложение", "промокод", "предложение дня",
				"купить", "заказать", "цена", "стоимость", "руб", "₽", "скидочный",
				"инвестируй", "инвестиции", "брокер", "трейдинг", "торговля", "регистрация",
				"бонус", "приз", "выигрыш", "розыгрыш", "конкурс", "подпишись", "подписка",
				"канал", "каналы", "telegram", "t.me/", "t.me", "telegram.me", "telegram.org",
				"сейчaс", "сейчас", "эксклюзив", "новинка", "ультра", "ограничено", "лимитированное",
			},
		},
		{
			Name: "financial_terms",
			Keywords: []string{
				"депозит", "вклад", "кредит", "займ", "микрозайм", "финансирование", "процент",
				"годовых", "доходность", "прибыль", "дивиденды", "акции", "облигации", "фонд",
				"портфель", "инвестиционный", "брокерский", "счет", "карта", "кэшбэк", "бонусы",
				"ликвидность", "валюта", "инфляция", "оборот", "рентабельность", "roi",
			},
		},
		{
			Name: "marketing_superlatives",
			Keywords: []string{
				"эксклюзивно", "только сейчас", "ограниченное предложение", "успей", "последний шанс",
				"специальная цена", "выгодно", "бесплатно", "в подарок", "при покупке", "скидка",
				"распродажа", "новинка", "хит продаж", "бестселлер", "популярный", "не пропусти",
				"горячее предложение", "ограниченное время", "топ предложение", "выбор редакции",
				"рекомендация эксперта",
			},
		},
		{
			Name: "action_prompts",
			Keywords: []string{
				"нажми", "кликни", "перейди", "зарегистрируйся", "подпишись", "оставь заявку",
				"заполни форму", "свяжитесь", "позвони", "напиши", "закажи", "купи", "получи",
				"воспользуйся", "присоединяйся", "запишись", "узнай подробнее", "детали", "смотри",
				"сегодня", "не упусти шанс", "подробности", "сделай заказ",
			},
		},
	}
}

// Patterns use \b for word boundaries; see compileAdPatterns.
func defaultAdPatterns() []string {
	return []string{
		`\b\d+\s*%\s*(?:скидк|скидка|off|discount)\b`,
		`\b(?:от|до)\s*\d+\s*(?:руб|₽|р\.)\b`,
		`\b(?:купи|закажи|получи)\b.*\b(?:бесплатно|в подарок)\b`,
		`\b(?:подпишись|подписка)\b.*\b(?:канал|каналы)\b`,
		`\b(?:инвестируй|вкладывай)\b.*\b(?:сейчас|сегодня)\b`,
		`\b(?:только|лишь)\b.*\b(?:до|по)\b.*\d{1,2}(?:\.\d{1,2})?`,
		`\b(?:акция|спецпредложение)\b.*\b(?:действует|действует до)\b`,
		`\b(?:получи|забери)\b.*\b(?:бонус|подарок)\b`,
		`\b(?:регистрация|заявка)\b.*\b(?:бесплатно|без оплаты)\b`,
	}
}

func defaultTopics() []TopicConfig {
	return []TopicConfig{
		{
			Name:        "economy",
			Description: "Macroeconomics, economic growth, inflation",
			Weight:      0.3,
			Exemplars: []string{
				"Экономический рост в стране замедлился до 1.5% в годовом выражении. Инфляция остается в целевых пределах.",
				"Макроэкономические показатели демонстрируют стабильность. ВВП растет, инфляция под контролем.",
				"Экономическая политика направлена на стимулирование роста и поддержание финансовой стабильности.",
			},
		},
		{
			Name:        "finance",
			Description: "Financial system, budget, taxes",
			Weight:      0.25,
			Exemplars: []string{
				"Финансовый рынок показал положительную динамику. Инвесторы проявляют повышенный интерес.",
				"Бюджетная политика остается консервативной. Налоговые поступления растут.",
				"Финансовая система демонстрирует устойчивость. Банковский сектор укрепляется.",
			},
		},
		{
			Name:        "banking",
			Description: "Banking sector, loans, deposits",
			Weight:      0.2,
			Exemplars: []string{
				"Банковский сектор показывает рост прибыли. Кредитный портфель расширяется.",
				"Центральный банк сохраняет ключевую ставку. Банковская система стабильна.",
				"Банки увеличивают объемы кредитования. Процентные ставки снижаются.",
			},
		},
		{
			Name:        "investment",
			Description: "Investments and investment projects",
			Weight:      0.15,
			Exemplars: []string{
				"Инвестиционный климат улучшается. Прямые иностранные инвестиции растут.",
				"Инвесторы проявляют интерес к новым проектам. Инвестиционный портфель расширяется.",
				"Инвестиционная активность в регионе увеличивается. Новые проекты привлекают капитал.",
			},
		},
		{
			Name:        "markets",
			Description: "Stock, bond and commodity markets",
			Weight:      0.1,
			Exemplars: []string{
				"Фондовый рынок достиг новых максимумов. Торговые объемы растут.",
				"Рынок облигаций демонстрирует стабильность. Доходности снижаются.",
				"Товарные рынки показывают разнонаправленную динамику. Волатильность снижается.",
			},
		},
	}
}
