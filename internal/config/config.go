// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Forum   ForumConfig   `mapstructure:"forum"`
	Harvest HarvestConfig `mapstructure:"harvest"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Render  RenderConfig  `mapstructure:"render"`
	API     APIConfig     `mapstructure:"api"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ForumConfig identifies the target forum.
type ForumConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	PageParam string `mapstructure:"page_param"`
}

// HarvestConfig governs the crawl orchestrator.
type HarvestConfig struct {
	OutputPath         string `mapstructure:"output_path"`
	PriorDir           string `mapstructure:"prior_dir"`
	ChunkSize          int    `mapstructure:"chunk_size"`
	TotalPagesOverride int    `mapstructure:"total_pages_override"`
	CheckpointChunks   bool   `mapstructure:"checkpoint_chunks"`
	ListingConcurrency int    `mapstructure:"listing_concurrency"`
	DetailConcurrency  int    `mapstructure:"detail_concurrency"`
}

// HTTPConfig configures the plain HTTP fetcher.
type HTTPConfig struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	DelayMin  time.Duration `mapstructure:"delay_min"`
	DelayMax  time.Duration `mapstructure:"delay_max"`
	MaxRPS    float64       `mapstructure:"max_rps"`
}

// RenderConfig configures the headless probe renderer.
type RenderConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// APIConfig configures the optional operational HTTP server. An empty
// address disables it.
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("forum.base_url",
		"https://e2e.ti.com/support/processors-group/processors/f/processors-forum")
	v.SetDefault("forum.page_param", "pifragment-322293")

	v.SetDefault("harvest.output_path", "data/answered_qa.json")
	v.SetDefault("harvest.prior_dir", "data")
	v.SetDefault("harvest.chunk_size", 100)
	v.SetDefault("harvest.total_pages_override", 0)
	v.SetDefault("harvest.checkpoint_chunks", false)
	v.SetDefault("harvest.listing_concurrency", 5)
	v.SetDefault("harvest.detail_concurrency", 10)

	v.SetDefault("http.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 12_6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36")
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.delay_min", "100ms")
	v.SetDefault("http.delay_max", "300ms")
	v.SetDefault("http.max_rps", 0.0)

	v.SetDefault("render.enabled", true)
	v.SetDefault("render.timeout", "45s")

	v.SetDefault("api.addr", "")
	v.SetDefault("logging.development", false)
}

// Validate checks for configuration combinations that cannot produce a
// usable run. These are the only fatal configuration errors.
func (c Config) Validate() error {
	if c.Forum.BaseURL == "" {
		return fmt.Errorf("forum.base_url must be set")
	}
	if c.Forum.PageParam == "" {
		return fmt.Errorf("forum.page_param must be set")
	}
	if c.Harvest.OutputPath == "" {
		return fmt.Errorf("harvest.output_path must be set")
	}
	if c.Harvest.ChunkSize <= 0 {
		return fmt.Errorf("harvest.chunk_size must be > 0")
	}
	if c.Harvest.TotalPagesOverride < 0 {
		return fmt.Errorf("harvest.total_pages_override must be >= 0")
	}
	if c.Harvest.ListingConcurrency <= 0 {
		return fmt.Errorf("harvest.listing_concurrency must be > 0")
	}
	if c.Harvest.DetailConcurrency <= 0 {
		return fmt.Errorf("harvest.detail_concurrency must be > 0")
	}
	if c.HTTP.UserAgent == "" {
		return fmt.Errorf("http.user_agent must be set")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.DelayMin < 0 || c.HTTP.DelayMax < 0 {
		return fmt.Errorf("http delay bounds must be >= 0")
	}
	if c.HTTP.DelayMin > c.HTTP.DelayMax {
		return fmt.Errorf("http.delay_min must be <= http.delay_max")
	}
	if c.HTTP.MaxRPS < 0 {
		return fmt.Errorf("http.max_rps must be >= 0")
	}
	if c.Render.Timeout <= 0 {
		return fmt.Errorf("render.timeout must be > 0")
	}
	return nil
}
