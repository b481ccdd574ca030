package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Oskimark/snifer-mac/internal/adapters/observability"
	"github.com/Oskimark/snifer-mac/internal/adapters/serial"
	"github.com/Oskimark/snifer-mac/internal/app/ingest"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

type Config struct {
	Uplink  UplinkConfig            `yaml:"uplink"`
	Ingest  IngestConfig            `yaml:"ingest"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Log     observability.LogConfig `yaml:"log"`
}

type UplinkConfig struct {
	Endpoint   string            `yaml:"endpoint"`
	UserAgent  string            `yaml:"user_agent"`
	Headers    map[string]string `yaml:"headers"`
	VendorHint string            `yaml:"vendor_hint"`

	ports.Policy `yaml:",inline"`

	Serial serial.Config `yaml:"serial"`
	Spool  SpoolConfig   `yaml:"spool"`
}

type SpoolConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type IngestConfig struct {
	Listen          string         `yaml:"listen"`
	Path            string         `yaml:"path"`
	PostgresURL     string         `yaml:"postgres_url"`
	FallbackTrigger string         `yaml:"fallback_trigger"`
	MaxBodyBytes    int64          `yaml:"max_body_bytes"`
	RequestTimeout  time.Duration  `yaml:"request_timeout"`
	Fallback        FallbackConfig `yaml:"fallback"`
}

type FallbackConfig struct {
	Dir  string `yaml:"dir"`
	File string `yaml:"file"`
	// Serverless forces the fallback file into /tmp.
	Serverless bool `yaml:"serverless"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// environment holds the variables that override the file.
type environment struct {
	PostgresURL string `env:"POSTGRES_URL"`
	Vercel      string `env:"VERCEL"`
	APIURL      string `env:"SNIFER_API_URL"`
	SerialPort  string `env:"SNIFER_SERIAL_PORT"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// Load reads path, applies defaults, overlays the process environment and
// validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is Load with an explicit environment; nil means the process
// environment.
func LoadWithEnv(path string, environ map[string]string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw, environ)
}

func Parse(raw []byte, environ map[string]string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.overlayEnv(environ); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) overlayEnv(environ map[string]string) error {
	var e environment
	var err error
	if environ == nil {
		err = env.Parse(&e)
	} else {
		err = env.ParseWithOptions(&e, env.Options{Environment: environ})
	}
	if err != nil {
		return err
	}

	if e.PostgresURL != "" {
		c.Ingest.PostgresURL = e.PostgresURL
	}
	if e.Vercel != "" {
		c.Ingest.Fallback.Serverless = true
	}
	if e.APIURL != "" {
		c.Uplink.Endpoint = e.APIURL
	}
	if e.SerialPort != "" {
		// a named device always wins over the file's selection mode
		c.Uplink.Serial.Port = e.SerialPort
		c.Uplink.Serial.Select = serial.SelectFixed
	}
	if e.LogLevel != "" {
		c.Log.Level = e.LogLevel
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Uplink.BatchSize == 0 {
		c.Uplink.BatchSize = 10
	}
	if c.Uplink.FlushInterval == 0 {
		c.Uplink.FlushInterval = 10 * time.Second
	}
	if c.Uplink.UploadTimeout == 0 {
		c.Uplink.UploadTimeout = 8 * time.Second
	}
	if c.Uplink.OnUploadFailure == "" {
		c.Uplink.OnUploadFailure = ports.OnFailureDrop
	}
	if c.Uplink.VendorHint == "" {
		c.Uplink.VendorHint = "Unknown (Desktop)"
	}
	if c.Uplink.Spool.Dir == "" {
		c.Uplink.Spool.Dir = "./data/spool"
	}
	if c.Uplink.Spool.MaxBytes == 0 {
		c.Uplink.Spool.MaxBytes = 256 << 20
	}
	c.Uplink.MaxSpoolBytes = c.Uplink.Spool.MaxBytes
	c.Uplink.Serial.ApplyDefaults()

	if c.Ingest.Listen == "" {
		c.Ingest.Listen = ":8080"
	}
	if c.Ingest.Path == "" {
		c.Ingest.Path = "/api/ingest"
	}
	if c.Ingest.FallbackTrigger == "" {
		c.Ingest.FallbackTrigger = string(ingest.TriggerNoSuccess)
	}
	if c.Ingest.MaxBodyBytes == 0 {
		c.Ingest.MaxBodyBytes = ingest.DefaultMaxBodyBytes
	}
	if c.Ingest.RequestTimeout == 0 {
		c.Ingest.RequestTimeout = 10 * time.Second
	}
	if c.Ingest.Fallback.Dir == "" {
		c.Ingest.Fallback.Dir = "."
	}
	if c.Ingest.Fallback.File == "" {
		c.Ingest.Fallback.File = "captures.csv"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks both the uplink and the ingest sections. Runtimes only
// use their own section, but a file is expected to be valid as a whole.
func (c *Config) Validate() error {
	var errs []error
	if c.Uplink.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("uplink.batch_size must be >= 1, got %d", c.Uplink.BatchSize))
	}
	if c.Uplink.FlushInterval <= 0 {
		errs = append(errs, errors.New("uplink.flush_interval must be positive"))
	}
	if c.Uplink.UploadTimeout <= 0 || c.Uplink.UploadTimeout >= c.Uplink.FlushInterval {
		errs = append(errs, fmt.Errorf("uplink.upload_timeout %s must be positive and below flush_interval %s",
			c.Uplink.UploadTimeout, c.Uplink.FlushInterval))
	}
	switch c.Uplink.OnUploadFailure {
	case ports.OnFailureDrop, ports.OnFailureSpool:
	default:
		errs = append(errs, fmt.Errorf("uplink.on_upload_failure %q: want drop or spool", c.Uplink.OnUploadFailure))
	}
	if err := c.Uplink.Serial.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("uplink.serial: %w", err))
	}
	if _, err := ingest.ParseFallbackTrigger(c.Ingest.FallbackTrigger); err != nil {
		errs = append(errs, fmt.Errorf("ingest.fallback_trigger: %w", err))
	}
	if c.Ingest.Path == "" || c.Ingest.Path[0] != '/' {
		errs = append(errs, fmt.Errorf("ingest.path %q must start with /", c.Ingest.Path))
	}
	return errors.Join(errs...)
}

// ValidateUplink checks what the collector needs beyond Validate.
func (c *Config) ValidateUplink() error {
	if c.Uplink.Endpoint == "" {
		return errors.New("uplink.endpoint is required (or set SNIFER_API_URL)")
	}
	return nil
}
