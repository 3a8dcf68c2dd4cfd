package costgate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Bucket    BucketYAML            `yaml:"bucket"`
	Ledger    LedgerYAML            `yaml:"ledger"`
	Drift     DriftYAML             `yaml:"drift"`
	Tiers     map[string]TierConfig `yaml:"tiers"`
	Estimates CostTable             `yaml:"estimates"`
}

// BucketYAML is the wire form of the token bucket settings.
type BucketYAML struct {
	MaxTokens        float64 `yaml:"max_tokens"`
	RefillRate       float64 `yaml:"refill_rate"`
	PollIntervalMs   int     `yaml:"poll_interval_ms"`
	DefaultMaxWaitMs int     `yaml:"default_max_wait_ms"`
}

// BucketConfig converts to the runtime form, applying defaults.
func (b BucketYAML) BucketConfig() BucketConfig {
	return BucketConfig{
		MaxTokens:    b.MaxTokens,
		RefillRate:   b.RefillRate,
		PollInterval: time.Duration(b.PollIntervalMs) * time.Millisecond,
		MaxWait:      time.Duration(b.DefaultMaxWaitMs) * time.Millisecond,
	}.WithDefaults()
}

// LedgerYAML is the wire form of the ledger settings.
type LedgerYAML struct {
	MonthlyCeilingMicroUSD int64 `yaml:"monthly_ceiling_micro_usd"`
	ReservationTTLSeconds  int   `yaml:"reservation_ttl_seconds"`
}

// Ceiling returns the monthly ceiling, defaulting to $100,000.
func (l LedgerYAML) Ceiling() MicroUSD {
	if l.MonthlyCeilingMicroUSD <= 0 {
		return DefaultCeilingMicroUSD
	}
	return MicroUSD(l.MonthlyCeilingMicroUSD)
}

// ReservationTTL returns the reservation TTL, defaulting to 5 minutes.
func (l LedgerYAML) ReservationTTL() time.Duration {
	if l.ReservationTTLSeconds <= 0 {
		return DefaultReservationTTL
	}
	return time.Duration(l.ReservationTTLSeconds) * time.Second
}

// DriftYAML is the wire form of the drift monitor settings.
type DriftYAML struct {
	StaticThresholdMicroCents int64   `yaml:"static_threshold_micro_cents"`
	LagFactorSeconds          float64 `yaml:"lag_factor_seconds"`
	MaxThresholdMicroCents    int64   `yaml:"max_threshold_micro_cents"`
	IntervalSeconds           int     `yaml:"interval_seconds"`
}

// DriftConfig converts to the runtime form, applying defaults.
func (d DriftYAML) DriftConfig() DriftConfig {
	return DriftConfig{
		StaticThreshold:  MicroCents(d.StaticThresholdMicroCents),
		LagFactorSeconds: d.LagFactorSeconds,
		MaxThreshold:     MicroCents(d.MaxThresholdMicroCents),
		Interval:         time.Duration(d.IntervalSeconds) * time.Second,
	}.WithDefaults()
}

// TierConfig configures one tenant tier's ensemble limits.
type TierConfig struct {
	Allowed   bool `yaml:"allowed"`
	MaxN      int  `yaml:"max_n"`
	MaxQuorum int  `yaml:"max_quorum"`
}

// Tier resolves a named tier from the table. Unknown tiers resolve to a
// disallowed tier so a missing mapping fails closed.
func (c Config) Tier(name string) Tier {
	tc, ok := c.Tiers[name]
	if !ok {
		return Tier{Name: name, Allowed: false}
	}
	return Tier{Name: name, Allowed: tc.Allowed, MaxN: tc.MaxN, MaxQuorum: tc.MaxQuorum}
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("costgate: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("costgate: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.Bucket.MaxTokens < 0 || c.Bucket.RefillRate < 0 {
		return fmt.Errorf("costgate: config: bucket: max_tokens and refill_rate must be non-negative")
	}
	if c.Ledger.MonthlyCeilingMicroUSD < 0 {
		return fmt.Errorf("costgate: config: ledger: monthly_ceiling_micro_usd must be non-negative")
	}
	if c.Drift.MaxThresholdMicroCents > 0 &&
		c.Drift.MaxThresholdMicroCents < c.Drift.StaticThresholdMicroCents {
		return fmt.Errorf("costgate: config: drift: max_threshold_micro_cents below static_threshold_micro_cents")
	}

	for name, tc := range c.Tiers {
		if !tc.Allowed {
			continue
		}
		if tc.MaxN < minEnsembleN {
			return fmt.Errorf("costgate: config: tier %s: max_n must be at least %d", name, minEnsembleN)
		}
		if tc.MaxQuorum < 2 {
			return fmt.Errorf("costgate: config: tier %s: max_quorum must be at least 2", name)
		}
	}

	if c.Estimates.Default < 0 {
		return fmt.Errorf("costgate: config: estimates: default_micro_usd must be non-negative")
	}
	for model, v := range c.Estimates.Models {
		if v < 0 {
			return fmt.Errorf("costgate: config: estimates: model %s: cost must be non-negative", model)
		}
	}

	return nil
}
