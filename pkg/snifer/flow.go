package snifer

import (
	"context"
	"fmt"
)

// Flow is a convenience builder that lets callers say Conf → Uplink or
// Conf → Ingest without touching the underlying wiring.
type Flow struct {
	cfg        *Config
	uplinkOpts []UplinkRuntimeOption
	ingestOpts []IngestRuntimeOption
}

// FlowOption mutates the Flow after configuration is loaded.
type FlowOption func(*Flow)

// Conf loads YAML from disk, applies FlowOption values, and returns a Flow builder.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig bootstraps a Flow from an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config returns the underlying configuration so callers can tweak it before building a runtime.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Uplink builds the collector runtime with the recorded and given options.
func (f *Flow) Uplink(opts ...UplinkRuntimeOption) (*UplinkRuntime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	all := append(append([]UplinkRuntimeOption(nil), f.uplinkOpts...), opts...)
	return NewUplinkRuntime(f.cfg, all...)
}

// Ingest builds the ingest runtime with the recorded and given options.
func (f *Flow) Ingest(opts ...IngestRuntimeOption) (*IngestRuntime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	all := append(append([]IngestRuntimeOption(nil), f.ingestOpts...), opts...)
	return NewIngestRuntime(f.cfg, all...)
}

// RunUplink is a shortcut for Uplink + runtime.Run.
func (f *Flow) RunUplink(ctx context.Context, opts ...UplinkRuntimeOption) error {
	rt, err := f.Uplink(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

// RunIngest is a shortcut for Ingest + runtime.Run.
func (f *Flow) RunIngest(ctx context.Context, opts ...IngestRuntimeOption) error {
	rt, err := f.Ingest(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

// WithUplinkOptions records UplinkRuntimeOption values during Conf.
func WithUplinkOptions(opts ...UplinkRuntimeOption) FlowOption {
	return func(f *Flow) {
		for _, opt := range opts {
			if opt != nil {
				f.uplinkOpts = append(f.uplinkOpts, opt)
			}
		}
	}
}

// WithIngestOptions records IngestRuntimeOption values during Conf.
func WithIngestOptions(opts ...IngestRuntimeOption) FlowOption {
	return func(f *Flow) {
		for _, opt := range opts {
			if opt != nil {
				f.ingestOpts = append(f.ingestOpts, opt)
			}
		}
	}
}

// UplinkCallback installs an uploader built from a simple callback function.
func UplinkCallback(name string, fn BatchHandler) UplinkRuntimeOption {
	return WithUploader(NewCallbackUploader(name, fn))
}
