package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("EMBEDDING_API_KEYS", " k1, k2 ,k1,, ")
	t.Setenv("CURATOR_LANGUAGES", "RU, en")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("S3_BUCKET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HasDatabase() || cfg.HasS3() {
		t.Fatalf("expected optional backends to be disabled by default")
	}
	if cfg.EmbeddingBatchSize != 5 || cfg.EmbeddingMinInterval.Seconds() != 1 {
		t.Fatalf("unexpected embedding defaults: %+v", cfg)
	}

	keys := cfg.EmbeddingAPIKeyList()
	if len(keys) != 2 || keys[0] != "k1" || keys[1] != "k2" {
		t.Fatalf("unexpected key list: %v", keys)
	}
	langs := cfg.LanguageList()
	if len(langs) != 2 || langs[0] != "ru" || langs[1] != "en" {
		t.Fatalf("unexpected languages: %v", langs)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			DBMinConns:              1,
			DBMaxConns:              8,
			EmbeddingBatchSize:      5,
			EmbeddingMaxLength:      512,
			EmbeddingRequestTimeout: 1,
			ProviderTimeout:         1,
			CollectorConcurrency:    1,
			CollectorTimeout:        1,
			CollectorBaseURL:        "https://t.me",
		}
	}
	valid := base()
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected base config to validate: %v", err)
	}

	cases := map[string]func(*Config){
		"pool bounds":   func(c *Config) { c.DBMinConns = 9 },
		"batch size":    func(c *Config) { c.EmbeddingBatchSize = 0 },
		"timeout":       func(c *Config) { c.ProviderTimeout = 0 },
		"workers":       func(c *Config) { c.Workers = -1 },
		"collector":     func(c *Config) { c.CollectorConcurrency = 0 },
		"half s3 creds": func(c *Config) { c.S3AccessKey = "AKIA" },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
