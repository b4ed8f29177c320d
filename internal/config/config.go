// Package config loads and validates mnemo settings.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/mnemo/internal/embed"
	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/store"
	"github.com/felixgeelhaar/mnemo/internal/weight"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "5s" or "24h" in config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return goerr.Wrap(memory.ErrInvalidInput, "invalid duration", goerr.V("value", string(b)))
	}
	*d = Duration(v)
	return nil
}

// Weight mirrors weight.Config with file-friendly durations.
type Weight struct {
	HalfLife         Duration `json:"half_life" yaml:"half_life"`
	FrequencyWeight  float64  `json:"frequency_weight" yaml:"frequency_weight"`
	Floor            float64  `json:"floor" yaml:"floor"`
	RetentionHorizon Duration `json:"retention_horizon" yaml:"retention_horizon"`
}

func (w Weight) Config() weight.Config {
	return weight.Config{
		HalfLife:         w.HalfLife.Std(),
		FrequencyWeight:  w.FrequencyWeight,
		Floor:            w.Floor,
		RetentionHorizon: w.RetentionHorizon.Std(),
	}
}

// Search selects the optional vector-search delegate.
type Search struct {
	// Backend is "none", "chromem" or "hnsw".
	Backend string `json:"backend" yaml:"backend"`

	// Threshold is the minimum similarity a result must reach.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// TTL is the age after which indexed memories are dropped. Zero keeps
	// them.
	TTL Duration `json:"ttl" yaml:"ttl"`

	Embed embed.Config `json:"embed" yaml:"embed"`
}

// Config is the full mnemo configuration.
type Config struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Sink is "file" or "sqlite".
	Sink string `json:"sink" yaml:"sink"`

	// WriteBehind selects batched asynchronous persistence. When false every
	// add is written before it returns.
	WriteBehind   bool     `json:"write_behind" yaml:"write_behind"`
	BatchSize     int      `json:"batch_size" yaml:"batch_size"`
	FlushInterval Duration `json:"flush_interval" yaml:"flush_interval"`

	MaintenanceInterval Duration `json:"maintenance_interval" yaml:"maintenance_interval"`
	CacheSize           int      `json:"cache_size" yaml:"cache_size"`

	Weight Weight `json:"weight" yaml:"weight"`
	Search Search `json:"search" yaml:"search"`

	// RulesFile optionally replaces the built-in classifier rules.
	RulesFile string `json:"rules_file,omitempty" yaml:"rules_file,omitempty"`
}

// Default provides the default configuration.
var Default = Config{
	DataDir:             ".mnemo",
	Sink:                "file",
	WriteBehind:         true,
	BatchSize:           store.DefaultBatchSize,
	FlushInterval:       Duration(store.DefaultFlushInterval),
	MaintenanceInterval: Duration(5 * time.Minute),
	CacheSize:           1000,
	Weight: Weight{
		HalfLife:         Duration(weight.DefaultConfig.HalfLife),
		FrequencyWeight:  weight.DefaultConfig.FrequencyWeight,
		Floor:            weight.DefaultConfig.Floor,
		RetentionHorizon: Duration(weight.DefaultConfig.RetentionHorizon),
	},
	Search: Search{
		Backend:   "none",
		Threshold: 0.5,
		TTL:       0,
		Embed:     embed.Config{Provider: "hash", CacheSize: 10000},
	},
}

// Load reads a JSON or YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return cfg, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, goerr.Wrap(err, "failed to unmarshal JSON config", goerr.V("path", path))
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, goerr.Wrap(err, "failed to unmarshal YAML config", goerr.V("path", path))
		}
	default:
		return cfg, goerr.Wrap(memory.ErrInvalidInput, "unsupported config format (use .json or .yaml)", goerr.V("ext", ext))
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from MNEMO_* environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("MNEMO_DATA_DIR", &c.DataDir)
	set("MNEMO_SINK", &c.Sink)
	set("MNEMO_SEARCH_BACKEND", &c.Search.Backend)
	set("MNEMO_EMBED_PROVIDER", &c.Search.Embed.Provider)
	set("MNEMO_EMBED_MODEL", &c.Search.Embed.Model)
	set("MNEMO_EMBED_BASE_URL", &c.Search.Embed.BaseURL)
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	invalid := func(msg string, key string, v any) error {
		return goerr.Wrap(memory.ErrInvalidInput, msg, goerr.V(key, v))
	}

	switch {
	case c.DataDir == "":
		return invalid("data dir is required", "data_dir", c.DataDir)
	case c.Sink != "file" && c.Sink != "sqlite":
		return invalid("sink must be file or sqlite", "sink", c.Sink)
	case c.BatchSize < 1:
		return invalid("batch size must be positive", "batch_size", c.BatchSize)
	case c.FlushInterval <= 0:
		return invalid("flush interval must be positive", "flush_interval", c.FlushInterval.Std())
	case c.MaintenanceInterval <= 0:
		return invalid("maintenance interval must be positive", "maintenance_interval", c.MaintenanceInterval.Std())
	case c.CacheSize < 1:
		return invalid("cache size must be positive", "cache_size", c.CacheSize)
	case c.Search.Threshold < 0 || c.Search.Threshold > 1:
		return invalid("search threshold must be within [0,1]", "threshold", c.Search.Threshold)
	case c.Search.TTL < 0:
		return invalid("search ttl must not be negative", "ttl", c.Search.TTL.Std())
	}

	switch c.Search.Backend {
	case "", "none", "chromem", "hnsw":
	default:
		return invalid("unknown search backend", "backend", c.Search.Backend)
	}

	return c.Weight.Config().Validate()
}
