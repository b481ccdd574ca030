package snifer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Oskimark/snifer-mac/internal/adapters/buffer"
	"github.com/Oskimark/snifer-mac/internal/adapters/observability"
	"github.com/Oskimark/snifer-mac/internal/adapters/serial"
	"github.com/Oskimark/snifer-mac/internal/adapters/uplink"
	"github.com/Oskimark/snifer-mac/internal/app/collector"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

// UplinkRuntimeOption customizes the dependencies used by UplinkRuntime.
type UplinkRuntimeOption func(*uplinkOverrides)

type uplinkOverrides struct {
	transport     Transport
	uploader      Uploader
	spool         Spool
	buffer        CaptureBuffer
	observability Observability
	selector      Selector
}

// WithTransport replaces the serial transport (TCP bridges, replay files, tests).
func WithTransport(t Transport) UplinkRuntimeOption {
	return func(o *uplinkOverrides) {
		o.transport = t
	}
}

// WithUploader replaces the HTTP uploader.
func WithUploader(u Uploader) UplinkRuntimeOption {
	return func(o *uplinkOverrides) {
		o.uploader = u
	}
}

// WithSpool supplies the spool used when uplink.on_upload_failure is spool.
func WithSpool(s Spool) UplinkRuntimeOption {
	return func(o *uplinkOverrides) {
		o.spool = s
	}
}

// WithCaptureBuffer replaces the in-memory capture buffer.
func WithCaptureBuffer(b CaptureBuffer) UplinkRuntimeOption {
	return func(o *uplinkOverrides) {
		o.buffer = b
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) UplinkRuntimeOption {
	return func(o *uplinkOverrides) {
		o.observability = obs
	}
}

// WithSelector overrides how the serial device is chosen. Ignored when a
// custom transport is injected.
func WithSelector(s Selector) UplinkRuntimeOption {
	return func(o *uplinkOverrides) {
		o.selector = s
	}
}

// UplinkRuntime wires transport → line parser → capture buffer → flush
// scheduler → uploader and serves collector metrics.
type UplinkRuntime struct {
	cfg       *Config
	obs       ports.Observability
	tel       *telemetry
	transport ports.Transport
	rec       *Recorder
	session   *collector.Session

	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// NewUplinkRuntime bootstraps the default adapters (serial transport, HTTP
// uploader, memory buffer, optional file spool, Prometheus observability).
// UplinkRuntimeOption values override any of them.
func NewUplinkRuntime(cfg *Config, opts ...UplinkRuntimeOption) (*UplinkRuntime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides uplinkOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	tel, err := newTelemetry(cfg, "uplink")
	if err != nil {
		return nil, err
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs(tel.reg, tel.logger)
	}

	up := overrides.uploader
	if up == nil {
		if err := cfg.ValidateUplink(); err != nil {
			return nil, err
		}
		up, err = uplink.NewHTTPUploader(uplink.Config{
			Endpoint:  cfg.Uplink.Endpoint,
			Timeout:   cfg.Uplink.UploadTimeout,
			UserAgent: cfg.Uplink.UserAgent,
			Headers:   cfg.Uplink.Headers,
		}, nil)
		if err != nil {
			return nil, err
		}
	}

	tr := overrides.transport
	if tr == nil {
		var sopts []serial.Option
		if overrides.selector != nil {
			sopts = append(sopts, serial.WithSelector(overrides.selector))
		}
		tr, err = serial.NewTransport(cfg.Uplink.Serial, obs, sopts...)
		if err != nil {
			return nil, err
		}
	}

	buf := overrides.buffer
	if buf == nil {
		buf = buffer.NewCaptureBuffer(cfg.Uplink.BatchSize)
	}

	pol := cfg.Uplink.Policy
	pol.MaxSpoolBytes = cfg.Uplink.Spool.MaxBytes
	sp, own, err := resolveSpool(overrides.spool, pol, cfg.Uplink.Spool)
	if err != nil {
		return nil, err
	}

	rec := newRecorder(buf, up, sp, own, pol, obs)
	parser := collector.Parser{VendorHint: cfg.Uplink.VendorHint}

	return &UplinkRuntime{
		cfg:       cfg,
		obs:       obs,
		tel:       tel,
		transport: tr,
		rec:       rec,
		session:   collector.NewSession(tr, rec.sched, parser, cfg.Uplink.Serial.ReselectDelay, obs),
	}, nil
}

// Start launches the reader, the interval flush and the metrics server. It
// returns immediately; call Run to block on a context instead.
func (u *UplinkRuntime) Start() error {
	if u == nil {
		return fmt.Errorf("uplink runtime is nil")
	}
	if u.cancel != nil {
		return fmt.Errorf("uplink runtime already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	u.rec.start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return u.session.Run(gctx) })
	g.Go(func() error {
		u.recordResourceGauges(gctx, time.Second)
		return nil
	})

	u.done = make(chan struct{})
	go func() {
		u.runErr = g.Wait()
		close(u.done)
	}()

	u.tel.start(u.cfg.Metrics.Addr)
	u.obs.LogInfo("uplink_started",
		ports.Field{Key: "batch_size", Value: u.cfg.Uplink.BatchSize},
		ports.Field{Key: "flush_interval", Value: u.cfg.Uplink.FlushInterval},
		ports.Field{Key: "on_upload_failure", Value: u.cfg.Uplink.OnUploadFailure},
	)
	return nil
}

// Run starts the runtime and blocks until ctx is cancelled or the reader
// stops on its own, then shuts down within five seconds.
func (u *UplinkRuntime) Run(ctx context.Context) error {
	if err := u.Start(); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
	case <-u.done:
		runErr = u.runErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(runErr, u.Shutdown(shutdownCtx))
}

// Shutdown stops reading, uploads what is still buffered and closes the
// port, the spool and the metrics server.
func (u *UplinkRuntime) Shutdown(ctx context.Context) error {
	var errs []error

	if u.cancel != nil {
		u.cancel()
		select {
		case <-u.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("reader stop: %w", ctx.Err()))
		}
	}

	if err := u.session.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := u.rec.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := u.tel.shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	u.obs.LogInfo("uplink_stopped")
	return errors.Join(errs...)
}

// Publish injects a record as if it had been read from the transport.
func (u *UplinkRuntime) Publish(rec DetectionRecord) error {
	return u.rec.Publish(rec)
}

// Port names the open capture device, or "" while reconnecting.
func (u *UplinkRuntime) Port() string {
	return u.session.Port()
}

func (u *UplinkRuntime) recordResourceGauges(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.obs.SetGauge(ports.MetricBufferLength, float64(u.rec.Pending()))
			if u.rec.spool != nil {
				u.obs.SetGauge(ports.MetricSpoolSize, float64(u.rec.spool.Stats().SizeBytes))
			}
		}
	}
}
