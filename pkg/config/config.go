package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:garnscope.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline" jsonschema:"description=Import pipeline configuration"`

	Partner struct {
		Endpoint string `yaml:"endpoint" json:"endpoint" jsonschema:"default=https://www.partner-ads.com/dk/feed_udlaes.php,description=Templated partner feed endpoint"`
		ID       string `yaml:"id" json:"id" jsonschema:"description=Partner identifier used when building feed URLs"`
	} `yaml:"partner" json:"partner" jsonschema:"description=Partner network configuration"`

	Retailers []RetailerSource `yaml:"retailers" json:"retailers" jsonschema:"description=Retailer feed descriptors"`
}

// PipelineConfig holds import pipeline settings
type PipelineConfig struct {
	MaxWorkers          int           `yaml:"max_workers" json:"max_workers" jsonschema:"default=5,description=Maximum concurrent workers for imports and matching"`
	FetchTimeout        time.Duration `yaml:"fetch_timeout" json:"fetch_timeout" jsonschema:"default=30s,description=Per-feed fetch timeout"`
	UserAgent           string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=garnscope/1.0,description=User agent for feed requests"`
	CategoryMarker      string        `yaml:"category_marker" json:"category_marker" jsonschema:"default=garn,description=Substring a product category must contain to pass filtering"`
	UnfilteredRetailers []string      `yaml:"unfiltered_retailers" json:"unfiltered_retailers" jsonschema:"description=Retailers whose feeds bypass the category filter"`
}

// RetailerSource describes one retailer feed: either a direct URL or a
// banner/feed id pair resolved against the partner endpoint
type RetailerSource struct {
	Name     string `yaml:"name" json:"name" jsonschema:"required,description=Retailer name"`
	FeedURL  string `yaml:"feed_url" json:"feed_url" jsonschema:"description=Direct product feed URL"`
	BannerID int64  `yaml:"banner_id" json:"banner_id" jsonschema:"description=Partner network banner id"`
	FeedID   int64  `yaml:"feed_id" json:"feed_id" jsonschema:"description=Partner network feed id"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// set defaults for server
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	// set defaults for database
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:garnscope.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	// set defaults for pipeline
	if cfg.Pipeline.MaxWorkers == 0 {
		cfg.Pipeline.MaxWorkers = 5
	}
	if cfg.Pipeline.FetchTimeout == 0 {
		cfg.Pipeline.FetchTimeout = 30 * time.Second
	}
	if cfg.Pipeline.UserAgent == "" {
		cfg.Pipeline.UserAgent = "garnscope/1.0"
	}
	if cfg.Pipeline.CategoryMarker == "" {
		cfg.Pipeline.CategoryMarker = "garn"
	}

	// set defaults for partner endpoint
	if cfg.Partner.Endpoint == "" {
		cfg.Partner.Endpoint = "https://www.partner-ads.com/dk/feed_udlaes.php"
	}

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	// validate server config
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	// validate pipeline config
	if cfg.Pipeline.MaxWorkers < 1 {
		return fmt.Errorf("pipeline.max_workers must be at least 1")
	}
	if cfg.Pipeline.FetchTimeout < time.Second {
		return fmt.Errorf("pipeline.fetch_timeout must be at least 1 second")
	}

	// validate retailers: names must be present and unique; a retailer that
	// can't build a URL is handled per-retailer at run time, not here
	seen := make(map[string]bool, len(cfg.Retailers))
	for i, r := range cfg.Retailers {
		if r.Name == "" {
			return fmt.Errorf("retailers[%d].name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate retailer name %q", r.Name)
		}
		seen[r.Name] = true
	}

	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// GetPipelineConfig returns pipeline configuration
func (c *Config) GetPipelineConfig() PipelineConfig {
	return c.Pipeline
}
