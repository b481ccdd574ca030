package snifer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Oskimark/snifer-mac/internal/adapters/buffer"
	"github.com/Oskimark/snifer-mac/internal/adapters/observability"
	"github.com/Oskimark/snifer-mac/internal/adapters/spool"
	"github.com/Oskimark/snifer-mac/internal/app/collector"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

// ErrRecorderClosed is returned by Publish after Close.
var ErrRecorderClosed = errors.New("snifer: recorder closed")

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Policy Policy
	Spool  SpoolConfig
	Log    LogConfig

	// Observability replaces the default Prometheus/zerolog backend.
	Observability Observability
}

func (c *RecorderConfig) applyDefaults() {
	if c.Policy.BatchSize == 0 {
		c.Policy.BatchSize = 10
	}
	if c.Policy.FlushInterval == 0 {
		c.Policy.FlushInterval = 10 * time.Second
	}
	if c.Policy.UploadTimeout == 0 {
		c.Policy.UploadTimeout = 8 * time.Second
	}
	if c.Policy.OnUploadFailure == "" {
		c.Policy.OnUploadFailure = ports.OnFailureDrop
	}
	if c.Spool.Dir == "" {
		c.Spool.Dir = "./data/snifer-spool"
	}
}

func (c *RecorderConfig) validate() error {
	if c.Policy.BatchSize <= 0 {
		return fmt.Errorf("policy.batch_size must be > 0")
	}
	if c.Policy.UploadTimeout >= c.Policy.FlushInterval {
		return fmt.Errorf("policy.upload_timeout must be below policy.flush_interval")
	}
	switch c.Policy.OnUploadFailure {
	case ports.OnFailureDrop, ports.OnFailureSpool:
	default:
		return fmt.Errorf("policy.on_upload_failure %q: want drop or spool", c.Policy.OnUploadFailure)
	}
	return nil
}

// Recorder feeds records produced in-process (simulators, other capture
// tools) through the same buffer, flush schedule and uploader as the serial
// collector.
type Recorder struct {
	buf      ports.CaptureBuffer
	sched    *collector.Scheduler
	spool    ports.Spool
	ownSpool bool

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecorder starts a Recorder that hands its batches to up.
func NewRecorder(cfg *RecorderConfig, up Uploader) (*Recorder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if up == nil {
		return nil, fmt.Errorf("uploader is required")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	obs := cfg.Observability
	if obs == nil {
		tel, err := newTelemetry(&Config{Log: cfg.Log}, "recorder")
		if err != nil {
			return nil, err
		}
		obs = observability.NewPromObs(tel.reg, tel.logger)
	}

	cfg.Policy.MaxSpoolBytes = cfg.Spool.MaxBytes
	sp, own, err := resolveSpool(nil, cfg.Policy, cfg.Spool)
	if err != nil {
		return nil, err
	}

	r := newRecorder(buffer.NewCaptureBuffer(cfg.Policy.BatchSize), up, sp, own, cfg.Policy, obs)
	r.start()
	return r, nil
}

func newRecorder(buf ports.CaptureBuffer, up ports.Uploader, sp ports.Spool, ownSpool bool, pol ports.Policy, obs ports.Observability) *Recorder {
	var opts []collector.SchedulerOption
	if sp != nil {
		opts = append(opts, collector.WithSpool(sp))
	}
	return &Recorder{
		buf:      buf,
		sched:    collector.NewScheduler(buf, up, pol, obs, opts...),
		spool:    sp,
		ownSpool: ownSpool,
	}
}

// resolveSpool returns the injected spool, or opens the configured one when
// the policy asks for spooling. The bool reports ownership.
func resolveSpool(injected ports.Spool, pol ports.Policy, cfg SpoolConfig) (ports.Spool, bool, error) {
	if injected != nil {
		return injected, false, nil
	}
	if pol.OnUploadFailure != ports.OnFailureSpool {
		return nil, false, nil
	}
	sp, err := spool.Open(cfg.Dir, cfg.MaxBytes)
	if err != nil {
		return nil, false, fmt.Errorf("open spool: %w", err)
	}
	return sp, true, nil
}

func (r *Recorder) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		_ = r.sched.Run(ctx)
	}()
}

// Publish buffers rec; a full batch is uploaded in the background.
func (r *Recorder) Publish(rec DetectionRecord) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRecorderClosed
	}
	r.sched.Add(rec)
	return nil
}

// Flush starts an upload of whatever is buffered. It reports false when a
// flush is already running or there is nothing to send.
func (r *Recorder) Flush() bool {
	return r.sched.Trigger()
}

// Pending is the number of buffered records not yet handed to a flush.
func (r *Recorder) Pending() int {
	return r.buf.Len()
}

// Close stops the interval flush, sends what is still buffered and waits
// for it, respecting ctx.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
		<-r.done
	}

	drained := make(chan struct{})
	go func() {
		r.sched.Drain()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		return fmt.Errorf("drain: %w", ctx.Err())
	}

	if r.ownSpool {
		return r.spool.Close()
	}
	return nil
}
