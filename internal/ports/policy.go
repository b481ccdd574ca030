package ports

import "time"

// What the collector does with a batch whose upload failed.
const (
	OnFailureDrop  = "drop"
	OnFailureSpool = "spool"
)

type Policy struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
	MaxSpoolBytes int64         `yaml:"-"`

	OnUploadFailure string `yaml:"on_upload_failure"` // "drop", "spool"
}
