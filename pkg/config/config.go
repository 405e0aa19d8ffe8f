// Package config loads the engine's YAML configuration, the way the
// teacher's connector.TelegramConfig does: a single typed struct read
// once at startup, with Normalized* helpers where a zero value is
// ambiguous between "unset" and "explicitly zero".
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RateLimitMode string

const (
	RateAggressive  RateLimitMode = "aggressive"
	RateBalanced    RateLimitMode = "balanced"
	RateConservative RateLimitMode = "conservative"
)

type TelegramConfig struct {
	APIID   int    `yaml:"api_id"`
	APIHash string `yaml:"api_hash"`

	DeviceModel    string `yaml:"device_model"`
	SystemVersion  string `yaml:"system_version"`
	AppVersion     string `yaml:"app_version"`
	SystemLangCode string `yaml:"system_lang_code"`
	LangCode       string `yaml:"lang_code"`
}

type MediaConfig struct {
	Root                     string        `yaml:"root"`
	RetryMaxAttempts         int           `yaml:"retry_max_attempts"`
	RetryDelayBase           time.Duration `yaml:"retry_delay_base"`
	DownloadTimeout          time.Duration `yaml:"download_timeout"`
	ValidationEnabled        bool          `yaml:"validation_enabled"`
	PerceptualHashDistance   int           `yaml:"perceptual_hash_distance"`
	RetryInterval            time.Duration `yaml:"retry_interval"`
	RetryBatchSize           int           `yaml:"retry_batch_size"`
	RetryParallelSlots       int           `yaml:"retry_parallel_slots"`
	WorkerCount              int           `yaml:"worker_count"`
}

func (m MediaConfig) NormalizedPerceptualHashDistance() int {
	if m.PerceptualHashDistance <= 0 {
		return 5
	}
	return m.PerceptualHashDistance
}

type SearchConfig struct {
	FTSLanguage            string `yaml:"fts_language"`
	FallbackToSubstring    bool   `yaml:"fallback_to_substring"`
	LogFailures            bool   `yaml:"log_failures"`
}

type DetectionConfig struct {
	CacheSize        int  `yaml:"cache_size"`
	ValidatePatterns bool `yaml:"validate_patterns"`
	ContextChars     int  `yaml:"context_chars"`
}

func (d DetectionConfig) NormalizedCacheSize() int {
	if d.CacheSize <= 0 {
		return 1000
	}
	return d.CacheSize
}

func (d DetectionConfig) NormalizedContextChars() int {
	if d.ContextChars <= 0 {
		return 40
	}
	return d.ContextChars
}

type EnrichmentConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	BatchSize         int           `yaml:"batch_size"`
	MemberScrapeEvery time.Duration `yaml:"member_scrape_every"`
	ProfilePhotoEvery time.Duration `yaml:"profile_photo_every"`
	StoryEvery        time.Duration `yaml:"story_every"`
	ParallelWorkers   int           `yaml:"parallel_workers"`
}

type RPCConfig struct {
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryDelayBase   time.Duration `yaml:"retry_delay_base"`
	RetryJitter      bool          `yaml:"retry_jitter"`
	Timeout          time.Duration `yaml:"timeout"`
	RateLimitMode    RateLimitMode `yaml:"rate_limit_mode"`
}

type AutoJoinConfig struct {
	MaxPerDay int           `yaml:"max_per_day"`
	Delay     time.Duration `yaml:"delay"`
}

// BackfillConfig bounds the Backfill Coordinator (spec.md §4.F: "bounded
// by a per-session concurrency cap (default 1)").
type BackfillConfig struct {
	PageSize           int `yaml:"page_size"`
	ConcurrencyPerAccount int `yaml:"concurrency_per_account"`
}

func (b BackfillConfig) NormalizedPageSize() int {
	if b.PageSize <= 0 {
		return 100
	}
	return b.PageSize
}

func (b BackfillConfig) NormalizedConcurrencyPerAccount() int {
	if b.ConcurrencyPerAccount <= 0 {
		return 1
	}
	return b.ConcurrencyPerAccount
}

type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	BatchSize       int    `yaml:"batch_size"`
}

func (d DatabaseConfig) NormalizedBatchSize() int {
	if d.BatchSize <= 0 {
		return 500
	}
	return d.BatchSize
}

type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// EventBusConfig bounds the Event Bus (spec.md §4.J): "Subscriber
// streams are bounded".
type EventBusConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

func (e EventBusConfig) NormalizedBufferSize() int {
	if e.BufferSize <= 0 {
		return 256
	}
	return e.BufferSize
}

type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Database   DatabaseConfig   `yaml:"database"`
	Media      MediaConfig      `yaml:"media"`
	Search     SearchConfig     `yaml:"search"`
	Detection  DetectionConfig  `yaml:"detection"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	RPC        RPCConfig        `yaml:"rpc"`
	AutoJoin   AutoJoinConfig   `yaml:"autojoin"`
	Backfill   BackfillConfig   `yaml:"backfill"`
	API        APIConfig        `yaml:"api"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
}

// Default returns the configuration with every default from spec.md §6.5
// applied, overridable by a loaded YAML file.
func Default() Config {
	return Config{
		Media: MediaConfig{
			Root:                   "./media",
			RetryMaxAttempts:       3,
			RetryDelayBase:         2 * time.Second,
			DownloadTimeout:        30 * time.Second,
			ValidationEnabled:      true,
			PerceptualHashDistance: 5,
			RetryInterval:          10 * time.Minute,
			RetryBatchSize:         50,
			RetryParallelSlots:     4,
			WorkerCount:            4,
		},
		Search: SearchConfig{
			FTSLanguage:         "es",
			FallbackToSubstring: true,
			LogFailures:         true,
		},
		Detection: DetectionConfig{
			CacheSize:        1000,
			ValidatePatterns: true,
			ContextChars:     40,
		},
		Enrichment: EnrichmentConfig{
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			BatchSize:         20,
			MemberScrapeEvery: 6 * time.Hour,
			ProfilePhotoEvery: 12 * time.Hour,
			StoryEvery:        4 * time.Hour,
			ParallelWorkers:   4,
		},
		RPC: RPCConfig{
			RetryMaxAttempts: 5,
			RetryDelayBase:   time.Second,
			RetryJitter:      true,
			Timeout:          30 * time.Second,
			RateLimitMode:    RateBalanced,
		},
		AutoJoin: AutoJoinConfig{
			MaxPerDay: 20,
			Delay:     5 * time.Minute,
		},
		Backfill: BackfillConfig{
			PageSize:              100,
			ConcurrencyPerAccount: 1,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			BatchSize:    500,
		},
		API: APIConfig{
			ListenAddr: ":8090",
		},
		EventBus: EventBusConfig{
			BufferSize: 256,
		},
	}
}

// Load reads a YAML file at path, layering it on top of Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Telegram.APIID == 0 {
		return fmt.Errorf("telegram.api_id is required")
	}
	if c.Telegram.APIHash == "" {
		return fmt.Errorf("telegram.api_hash is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	return nil
}
