// Package config loads battery configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// BATTERY_* environment variables. The result is validated against an
// embedded CUE schema before use.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/battery/internal/battery"
	"github.com/roach88/battery/internal/keyderive"
	"github.com/roach88/battery/internal/sampler"
	"github.com/roach88/battery/internal/source"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BATTERY_"

// Defaults not owned by another package.
const (
	DefaultRoundInterval = 100 * time.Millisecond
)

// ErrInvalid is returned when a configuration fails schema validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete runtime configuration.
type Config struct {
	Threshold     float64            `yaml:"threshold" json:"threshold" env:"THRESHOLD"`
	Capacity      int                `yaml:"capacity" json:"capacity" env:"CAPACITY"`
	MinInterval   time.Duration      `yaml:"min_interval" json:"min_interval" env:"MIN_INTERVAL"`
	ReadTimeout   time.Duration      `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	Policy        string             `yaml:"policy" json:"policy" env:"POLICY"`
	RoundInterval time.Duration      `yaml:"round_interval" json:"round_interval" env:"ROUND_INTERVAL"`
	Seed          uint64             `yaml:"seed" json:"seed" env:"SEED"` // 0 = random
	Method        string             `yaml:"method" json:"method" env:"METHOD"`
	TopN          int                `yaml:"top_n" json:"top_n" env:"TOP_N"`
	KeyLength     int                `yaml:"key_length_bytes" json:"key_length_bytes" env:"KEY_LENGTH"`
	Journal       string             `yaml:"journal" json:"journal" env:"JOURNAL"` // "" disables
	Probabilities map[string]float64 `yaml:"probabilities" json:"probabilities,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Threshold:     battery.DefaultThreshold,
		Capacity:      battery.DefaultCapacity,
		MinInterval:   source.DefaultMinInterval,
		ReadTimeout:   source.DefaultReadTimeout,
		Policy:        string(sampler.Probabilistic),
		RoundInterval: DefaultRoundInterval,
		Method:        string(keyderive.Shake256),
		TopN:          keyderive.DefaultTopN,
		KeyLength:     keyderive.DefaultKeyLength,
	}
}

// Load builds a validated configuration. path may be empty to skip the file
// layer.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.mergeEnv(nil); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML file at path. Keys absent from the file keep
// their current value.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// mergeEnv overlays BATTERY_* variables. A nil environment means the process
// environment.
func (c *Config) mergeEnv(environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks c against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(c.values()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}
	return nil
}

// values is the schema view of c.
func (c Config) values() map[string]any {
	m := map[string]any{
		"threshold":        c.Threshold,
		"capacity":         c.Capacity,
		"min_interval":     int64(c.MinInterval),
		"read_timeout":     int64(c.ReadTimeout),
		"policy":           c.Policy,
		"round_interval":   int64(c.RoundInterval),
		"seed":             c.Seed,
		"method":           c.Method,
		"top_n":            c.TopN,
		"key_length_bytes": c.KeyLength,
		"journal":          c.Journal,
	}
	if len(c.Probabilities) > 0 {
		m["probabilities"] = c.Probabilities
	}
	return m
}

// SamplerPolicy returns the configured policy.
func (c Config) SamplerPolicy() (sampler.Policy, error) {
	return sampler.ParsePolicy(c.Policy)
}

// SourceProbabilities returns the probability overrides keyed by source.
func (c Config) SourceProbabilities() map[source.ID]float64 {
	out := make(map[source.ID]float64, len(c.Probabilities))
	for k, v := range c.Probabilities {
		out[source.ID(k)] = v
	}
	return out
}

// DeriveParams returns the configured derivation parameters.
func (c Config) DeriveParams() (keyderive.Params, error) {
	m, err := keyderive.ParseMethod(c.Method)
	if err != nil {
		return keyderive.Params{}, err
	}
	return keyderive.Params{Method: m, TopN: c.TopN, KeyLength: c.KeyLength}, nil
}
