package observability

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig selects level, destination and timestamp layout of the
// structured logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	Debug      bool   `yaml:"debug"`
	Output     string `yaml:"output"`
	TimeFormat string `yaml:"time_format"`
}

// NewLogger builds a JSON zerolog logger from cfg.
func NewLogger(cfg LogConfig) (zerolog.Logger, error) {
	var out io.Writer = os.Stdout
	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		out = os.Stderr
	default:
		return zerolog.Nop(), fmt.Errorf("log output %q: want stdout or stderr", cfg.Output)
	}
	return newLogger(out, cfg)
}

func newLogger(out io.Writer, cfg LogConfig) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), err
		}
	}

	layout := time.RFC3339
	if cfg.TimeFormat != "" {
		layout = cfg.TimeFormat
	}

	return zerolog.New(out).Level(level).Hook(timestampHook(layout)), nil
}

// timestampHook stamps each event with its own layout so loggers built from
// different configs do not share zerolog.TimeFieldFormat.
func timestampHook(layout string) zerolog.HookFunc {
	return func(e *zerolog.Event, _ zerolog.Level, _ string) {
		e.Str(zerolog.TimestampFieldName, time.Now().Format(layout))
	}
}

// WithComponent scopes a logger to one component.
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}
