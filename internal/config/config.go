// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Source  SourceConfig  `mapstructure:"source"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ScrapeConfig governs enumeration and pool behavior.
type ScrapeConfig struct {
	Letters    []string `mapstructure:"letters"`
	MaxWorkers int      `mapstructure:"max_workers"`
	OutDir     string   `mapstructure:"out_dir"`
}

// SourceConfig identifies the filings website.
type SourceConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// ServerConfig controls the optional status/metrics HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DefaultLetters is the full index-group sweep: a-z, then the "0" group the
// source uses for managers whose names start with a digit.
func DefaultLetters() []string {
	letters := make([]string, 0, 27)
	for c := 'a'; c <= 'z'; c++ {
		letters = append(letters, string(c))
	}
	return append(letters, "0")
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FILINGS")
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

	if len(cfg.Scrape.Letters) == 0 {
		cfg.Scrape.Letters = DefaultLetters()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scrape.max_workers", 12)
	v.SetDefault("scrape.out_dir", "out")
	v.SetDefault("source.base_url", "https://13f.info")
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.user_agent", "filings-crawler/1.0")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scrape.MaxWorkers <= 0 {
		return fmt.Errorf("scrape.max_workers must be > 0")
	}
	if c.Scrape.OutDir == "" {
		return fmt.Errorf("scrape.out_dir must be set")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

// HTTPTimeout returns the fetch timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DBPath returns the store file location under the output directory.
func (c Config) DBPath() string {
	return filepath.Join(c.Scrape.OutDir, "filings.db")
}

// CheckpointPath returns the completed-letters checkpoint file location.
func (c Config) CheckpointPath() string {
	return filepath.Join(c.Scrape.OutDir, "letters_done.txt")
}

// ParseLetters expands a CLI letters argument like "a,b,c", "a-z" or a
// mix such as "a-c,0" into individual index groups.
func ParseLetters(arg string) []string {
	var out []string
	for _, part := range strings.Split(arg, ",") {
		part = strings.TrimSpace(part)
		switch {
		case len(part) == 3 && part[1] == '-':
			for c := part[0]; c <= part[2]; c++ {
				out = append(out, string(c))
			}
		case part != "":
			out = append(out, part)
		}
	}
	return out
}
