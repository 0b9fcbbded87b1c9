// Package config loads cartsync settings.
//
// Settings come from defaults, then an optional YAML file, then CARTSYNC_*
// environment variables. The result is checked against an embedded CUE
// schema before use.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSrc string

// Environment variables read by ApplyEnv.
const (
	EnvConfig   = "CARTSYNC_CONFIG"
	EnvAPIURL   = "CARTSYNC_API_URL"
	EnvDB       = "CARTSYNC_DB"
	EnvLogLevel = "CARTSYNC_LOG_LEVEL"
)

// Duration is a time.Duration written as "2s" in YAML and JSON.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML accepts a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes d as a duration string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// MarshalJSON writes d as a duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Config is the full settings tree.
type Config struct {
	API     API     `yaml:"api" json:"api"`
	Store   Store   `yaml:"store" json:"store"`
	Sync    Sync    `yaml:"sync" json:"sync"`
	Pricing Pricing `yaml:"pricing" json:"pricing"`
	Log     Log     `yaml:"log" json:"log"`
}

// API configures the remote collection service client.
type API struct {
	BaseURL    string   `yaml:"base_url" json:"base_url"`
	Timeout    Duration `yaml:"timeout" json:"timeout"`
	// MaxRetries is the number of in-memory retries for a failed remote
	// write.
	MaxRetries int      `yaml:"max_retries" json:"max_retries"`
}

// Store configures the durable local store.
type Store struct {
	Path string `yaml:"path" json:"path"`
}

// Sync configures write scheduling.
type Sync struct {
	Debounce  Duration `yaml:"debounce" json:"debounce"`
	ViewedCap int      `yaml:"viewed_cap" json:"viewed_cap"`
}

// Pricing configures the cart summary.
type Pricing struct {
	FreeShippingThreshold float64 `yaml:"free_shipping_threshold" json:"free_shipping_threshold"`
	ShippingFee           float64 `yaml:"shipping_fee" json:"shipping_fee"`
	TaxRate               float64 `yaml:"tax_rate" json:"tax_rate"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		API: API{
			BaseURL:    "http://127.0.0.1:8080",
			Timeout:    Duration(15 * time.Second),
			MaxRetries: 1,
		},
		Store: Store{Path: "cartsync.db"},
		Sync: Sync{
			Debounce:  Duration(2 * time.Second),
			ViewedCap: 10,
		},
		Pricing: Pricing{
			FreeShippingThreshold: 50,
			ShippingFee:           9.99,
			TaxRate:               0.08,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies the environment and
// validates. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decodeInto(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse reads YAML over the defaults and validates. The environment is not
// consulted.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	if err := decodeInto(r, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeInto(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		c.API.BaseURL = v
	}
	if v, ok := lookup(EnvDB); ok && v != "" {
		c.Store.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

// Validate checks c against the embedded schema.
func (c Config) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("compile config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
