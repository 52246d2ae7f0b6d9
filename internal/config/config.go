// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads and validates the burrowd HCL configuration.
package config

import (
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/burrow/internal/classifier"
	"grimm.is/burrow/internal/errors"
	"grimm.is/burrow/internal/logging"
	"grimm.is/burrow/internal/validation"
)

// Config is the top-level burrowd configuration.
type Config struct {
	Listen         string `hcl:"listen,optional"`
	BodyCap        int    `hcl:"body_cap,optional"`
	MaxQueue       int    `hcl:"max_queue,optional"`
	Workers        int    `hcl:"workers,optional"`
	RecentCap      int    `hcl:"recent_cap,optional"`
	ArchivePath    string `hcl:"archive_path,optional"`
	GeoIPDB        string `hcl:"geoip_db,optional"`
	RetentionHours int    `hcl:"retention_hours,optional"`

	Log        *LogConfig        `hcl:"log,block"`
	Stats      *StatsConfig      `hcl:"stats,block"`
	Classifier *ClassifierConfig `hcl:"classifier,block"`
	BlockRules []BlockRuleConfig `hcl:"block_rule,block"`
}

// LogConfig controls daemon logging.
type LogConfig struct {
	Level  string                `hcl:"level,optional"`
	Format string                `hcl:"format,optional"`
	Syslog *logging.SyslogConfig `hcl:"syslog,block"`
}

// StatsConfig controls the rolling stats window and publish cadence.
type StatsConfig struct {
	Window         int `hcl:"window,optional"`
	CadenceSeconds int `hcl:"cadence_seconds,optional"`
}

// ClassifierConfig tunes the indicator pipeline. Zero values fall back to
// classifier defaults.
type ClassifierConfig struct {
	LongPollMs        float64                `hcl:"long_poll_ms,optional"`
	HeaderEntropy     float64                `hcl:"header_entropy,optional"`
	PayloadEntropy    float64                `hcl:"payload_entropy,optional"`
	MinHeaderSample   int                    `hcl:"min_header_sample,optional"`
	MinBodySample     int                    `hcl:"min_body_sample,optional"`
	RateWindowSeconds int                    `hcl:"rate_window_seconds,optional"`
	BurstThreshold    int                    `hcl:"burst_threshold,optional"`
	BurstMaxPaths     int                    `hcl:"burst_max_paths,optional"`
	MaxTrackedIPs     int                    `hcl:"max_tracked_ips,optional"`
	Weights           map[string]int         `hcl:"weights,optional"`
	Bands             *classifier.ScoreBands `hcl:"bands,block"`
}

// BlockRuleConfig seeds a block rule at startup. The label is the rule kind.
type BlockRuleConfig struct {
	Kind    string `hcl:"kind,label"`
	Value   string `hcl:"value,optional"`
	Method  string `hcl:"method,optional"`
	Pattern string `hcl:"pattern,optional"`
	Field   string `hcl:"field,optional"`
	Reason  string `hcl:"reason,optional"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8664"
	}
	if c.BodyCap == 0 {
		c.BodyCap = 64 * 1024
	}
	if c.MaxQueue == 0 {
		c.MaxQueue = 500
	}
	if c.RecentCap == 0 {
		c.RecentCap = 1000
	}
	if c.RetentionHours == 0 {
		c.RetentionHours = 72
	}
	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Stats == nil {
		c.Stats = &StatsConfig{}
	}
	if c.Stats.Window == 0 {
		c.Stats.Window = 10000
	}
	if c.Stats.CadenceSeconds == 0 {
		c.Stats.CadenceSeconds = 5
	}
	if c.Classifier == nil {
		c.Classifier = &ClassifierConfig{}
	}
}

// LoadFile loads and validates an HCL configuration file.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "failed to parse config %s", path)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.MaxQueue < 1 {
		return errors.New(errors.KindValidation, "max_queue must be positive")
	}
	if c.BodyCap < 1 {
		return errors.New(errors.KindValidation, "body_cap must be positive")
	}

	if b := c.Classifier.Bands; b != nil {
		if !(b.Medium < b.High && b.High < b.Confirmed) {
			return errors.New(errors.KindValidation, "classifier bands must be strictly increasing")
		}
		// Confirmed verdicts must sit in the top decile of the risk scale.
		if b.Confirmed < 90 {
			return errors.Errorf(errors.KindValidation, "confirmed band must be at least 90, got %d", b.Confirmed)
		}
		if b.Confirmed > 100 {
			return errors.Errorf(errors.KindValidation, "confirmed band exceeds risk scale: %d", b.Confirmed)
		}
	}

	for i, r := range c.BlockRules {
		switch r.Kind {
		case "ip":
			if err := validation.ValidateIP(r.Value); err != nil {
				return errors.Wrapf(err, errors.KindValidation, "block_rule %d", i)
			}
		case "endpoint":
			if err := validation.ValidateMethod(orAll(r.Method)); err != nil {
				return errors.Wrapf(err, errors.KindValidation, "block_rule %d", i)
			}
			if err := validation.ValidatePattern(r.Pattern); err != nil {
				return errors.Wrapf(err, errors.KindValidation, "block_rule %d", i)
			}
		case "pattern":
			if err := validation.ValidateFieldName(r.Field); err != nil {
				return errors.Wrapf(err, errors.KindValidation, "block_rule %d", i)
			}
		default:
			return errors.Errorf(errors.KindValidation, "block_rule %d: unknown kind %q", i, r.Kind)
		}
	}
	return nil
}

func orAll(method string) string {
	if method == "" {
		return "ALL"
	}
	return method
}

// Build maps the HCL tuning onto the classifier package config.
func (c *ClassifierConfig) Build() classifier.Config {
	cfg := classifier.Config{
		HeaderEntropyThreshold:  c.HeaderEntropy,
		PayloadEntropyThreshold: c.PayloadEntropy,
		MinHeaderSample:         c.MinHeaderSample,
		MinBodySample:           c.MinBodySample,
		LongPollMs:              c.LongPollMs,
		BurstThreshold:          c.BurstThreshold,
		BurstMaxPaths:           c.BurstMaxPaths,
		MaxTrackedIPs:           c.MaxTrackedIPs,
		Weights:                 c.Weights,
	}
	if c.RateWindowSeconds > 0 {
		cfg.RateWindow = time.Duration(c.RateWindowSeconds) * time.Second
	}
	if c.Bands != nil {
		cfg.Bands = *c.Bands
	}
	return cfg
}

// StatsCadence returns the publish cadence as a duration.
func (c *Config) StatsCadence() time.Duration {
	return time.Duration(c.Stats.CadenceSeconds) * time.Second
}

// Retention returns the archive retention period.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}
