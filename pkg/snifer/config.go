package snifer

import (
	"github.com/Oskimark/snifer-mac/internal/adapters/observability"
	"github.com/Oskimark/snifer-mac/internal/adapters/serial"
	"github.com/Oskimark/snifer-mac/internal/app/config"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls batching, upload timeout and failure handling.
	Policy = ports.Policy
	// UplinkConfig configures the field collector.
	UplinkConfig = config.UplinkConfig
	// SerialConfig selects and opens the capture device.
	SerialConfig = serial.Config
	// SpoolConfig configures the on-disk upload spool.
	SpoolConfig = config.SpoolConfig
	// IngestConfig configures the ingest HTTP service.
	IngestConfig = config.IngestConfig
	// FallbackConfig locates the fallback CSV file.
	FallbackConfig = config.FallbackConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// LogConfig configures structured logging.
	LogConfig = observability.LogConfig
)

// LoadConfig loads YAML from disk, overlays the environment and validates.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
