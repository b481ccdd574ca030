package snifer

import (
	base "github.com/Oskimark/snifer-mac/pkg/snifer"
)

// Re-exported errors for convenience.
var (
	ErrRecorderClosed        = base.ErrRecorderClosed
	ErrChannelUploaderClosed = base.ErrChannelUploaderClosed
)

// Type aliases so consumers can import github.com/Oskimark/snifer-mac directly.
type (
	Config              = base.Config
	Policy              = base.Policy
	UplinkConfig        = base.UplinkConfig
	SerialConfig        = base.SerialConfig
	SpoolConfig         = base.SpoolConfig
	IngestConfig        = base.IngestConfig
	FallbackConfig      = base.FallbackConfig
	MetricsConfig       = base.MetricsConfig
	LogConfig           = base.LogConfig
	Flow                = base.Flow
	FlowOption          = base.FlowOption
	UplinkRuntime       = base.UplinkRuntime
	UplinkRuntimeOption = base.UplinkRuntimeOption
	IngestRuntime       = base.IngestRuntime
	IngestRuntimeOption = base.IngestRuntimeOption
	Recorder            = base.Recorder
	RecorderConfig      = base.RecorderConfig
	BatchHandler        = base.BatchHandler
	DetectionRecord     = base.DetectionRecord
	IngestResponse      = base.IngestResponse
	Transport           = base.Transport
	Stream              = base.Stream
	CaptureBuffer       = base.CaptureBuffer
	Uploader            = base.Uploader
	UploadResult        = base.UploadResult
	Spool               = base.Spool
	SpoolStats          = base.SpoolStats
	PrimaryStore        = base.PrimaryStore
	FallbackStore       = base.FallbackStore
	Observability       = base.Observability
	Field               = base.Field
	Selector            = base.Selector
	PortInfo            = base.PortInfo
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithUplinkOptions(opts ...UplinkRuntimeOption) FlowOption {
	return base.WithUplinkOptions(opts...)
}

func WithIngestOptions(opts ...IngestRuntimeOption) FlowOption {
	return base.WithIngestOptions(opts...)
}

func UplinkCallback(name string, fn BatchHandler) UplinkRuntimeOption {
	return base.UplinkCallback(name, fn)
}

// Uplink runtime and options.
func NewUplinkRuntime(cfg *Config, opts ...UplinkRuntimeOption) (*UplinkRuntime, error) {
	return base.NewUplinkRuntime(cfg, opts...)
}

func WithTransport(t Transport) UplinkRuntimeOption {
	return base.WithTransport(t)
}

func WithUploader(u Uploader) UplinkRuntimeOption {
	return base.WithUploader(u)
}

func WithSpool(s Spool) UplinkRuntimeOption {
	return base.WithSpool(s)
}

func WithCaptureBuffer(b CaptureBuffer) UplinkRuntimeOption {
	return base.WithCaptureBuffer(b)
}

func WithObservability(obs Observability) UplinkRuntimeOption {
	return base.WithObservability(obs)
}

func WithSelector(s Selector) UplinkRuntimeOption {
	return base.WithSelector(s)
}

// Ingest runtime and options.
func NewIngestRuntime(cfg *Config, opts ...IngestRuntimeOption) (*IngestRuntime, error) {
	return base.NewIngestRuntime(cfg, opts...)
}

func WithPrimaryStore(s PrimaryStore) IngestRuntimeOption {
	return base.WithPrimaryStore(s)
}

func WithFallbackStore(s FallbackStore) IngestRuntimeOption {
	return base.WithFallbackStore(s)
}

func WithIngestObservability(obs Observability) IngestRuntimeOption {
	return base.WithIngestObservability(obs)
}

// Uploader adapters.
func NewCallbackUploader(name string, fn BatchHandler) Uploader {
	return base.NewCallbackUploader(name, fn)
}

func NewChannelUploader(name string, buffer int) (Uploader, <-chan []DetectionRecord, func()) {
	return base.NewChannelUploader(name, buffer)
}

// In-process producer.
func NewRecorder(cfg *RecorderConfig, up Uploader) (*Recorder, error) {
	return base.NewRecorder(cfg, up)
}

// Serial helpers.
func ListPorts() ([]PortInfo, error) {
	return base.ListPorts()
}

func DescribePort(p PortInfo) string {
	return base.DescribePort(p)
}
