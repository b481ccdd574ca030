package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Oskimark/snifer-mac/internal/adapters/spool"
	"github.com/Oskimark/snifer-mac/internal/domain"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

// Ticker is the periodic event source driving interval flushes.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type TickerFunc func(d time.Duration) Ticker

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) Chan() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()                  { s.t.Stop() }

func NewStdTicker(d time.Duration) Ticker { return stdTicker{t: time.NewTicker(d)} }

// Scheduler flushes the capture buffer when it reaches the batch size or
// when the interval ticks, whichever comes first. At most one flush runs at
// a time; triggers arriving meanwhile are ignored.
type Scheduler struct {
	buf       ports.CaptureBuffer
	up        ports.Uploader
	spool     ports.Spool
	pol       ports.Policy
	obs       ports.Observability
	newTicker TickerFunc

	inFlight atomic.Bool
	wg       sync.WaitGroup
}

type SchedulerOption func(*Scheduler)

func WithTicker(f TickerFunc) SchedulerOption { return func(s *Scheduler) { s.newTicker = f } }

// WithSpool keeps failed batches for replay instead of dropping them.
func WithSpool(sp ports.Spool) SchedulerOption { return func(s *Scheduler) { s.spool = sp } }

func NewScheduler(buf ports.CaptureBuffer, up ports.Uploader, pol ports.Policy, obs ports.Observability, opts ...SchedulerOption) *Scheduler {
	if pol.BatchSize <= 0 {
		pol.BatchSize = 10
	}
	if pol.FlushInterval <= 0 {
		pol.FlushInterval = 10 * time.Second
	}
	if pol.UploadTimeout <= 0 {
		pol.UploadTimeout = 8 * time.Second
	}
	s := &Scheduler{buf: buf, up: up, pol: pol, obs: obs, newTicker: NewStdTicker}
	for _, opt := range opts {
		opt(s)
	}
	if s.pol.OnUploadFailure != ports.OnFailureSpool {
		s.spool = nil
	}
	return s
}

// Add buffers r and flushes once the batch size is reached.
func (s *Scheduler) Add(r domain.DetectionRecord) {
	n := s.buf.Append(r)
	s.obs.SetGauge(ports.MetricBufferLength, float64(n))
	if n >= s.pol.BatchSize {
		s.Trigger()
	}
}

// Trigger starts a flush in the background. It reports false when a flush
// is already in flight or there is nothing to send.
func (s *Scheduler) Trigger() bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.obs.IncCounter(ports.MetricFlushSkipped, 1)
		return false
	}
	batch := s.buf.DrainAll()
	s.obs.SetGauge(ports.MetricBufferLength, 0)
	if len(batch) == 0 && !s.spoolPending() {
		s.inFlight.Store(false)
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.flush(batch)
	}()
	return true
}

// Run fires interval flushes until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	t := s.newTicker(s.pol.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			s.Trigger()
		}
	}
}

// Wait blocks until the in-flight flush, if any, has finished.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Drain waits for the in-flight flush and then sends what is left.
func (s *Scheduler) Drain() {
	s.wg.Wait()
	s.Trigger()
	s.wg.Wait()
}

func (s *Scheduler) flush(batch []domain.DetectionRecord) {
	if len(batch) > 0 {
		if err := s.upload(batch); err != nil {
			s.handleFailure(batch, err)
			return
		}
	}
	s.replay()
}

func (s *Scheduler) upload(batch []domain.DetectionRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.pol.UploadTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.uploadWithin(ctx, batch)
	s.obs.ObserveLatency(ports.MetricUploadLatency, time.Since(start).Seconds())
	if err != nil {
		s.obs.IncCounter(ports.MetricBatchesFailed, 1)
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	s.obs.IncCounter(ports.MetricBatchesUploaded, 1)
	s.obs.LogInfo("batch_uploaded",
		ports.Field{Key: "batch_id", Value: res.BatchID},
		ports.Field{Key: "records", Value: len(batch)},
		ports.Field{Key: "accepted", Value: res.Accepted},
		ports.Field{Key: "mode", Value: res.Mode},
	)
	return nil
}

type uploadOutcome struct {
	res ports.UploadResult
	err error
}

// uploadWithin returns when the uploader does or when ctx ends, whichever is
// first. An uploader that ignores ctx is left to finish on its own.
func (s *Scheduler) uploadWithin(ctx context.Context, batch []domain.DetectionRecord) (ports.UploadResult, error) {
	done := make(chan uploadOutcome, 1)
	go func() {
		res, err := s.up.Upload(ctx, batch)
		done <- uploadOutcome{res: res, err: err}
	}()
	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return ports.UploadResult{}, ctx.Err()
	}
}

func (s *Scheduler) handleFailure(batch []domain.DetectionRecord, err error) {
	s.obs.LogError("upload_failed", err, ports.Field{Key: "records", Value: len(batch)})
	if s.spool == nil {
		s.obs.RecordDropped("upload_failed", len(batch), err)
		return
	}
	id, serr := s.spool.Append(batch)
	if serr != nil {
		reason := "spool_error"
		if errors.Is(serr, spool.ErrSpoolFull) {
			reason = "spool_full"
		}
		s.obs.RecordDropped(reason, len(batch), errors.Join(err, serr))
		return
	}
	stats := s.spool.Stats()
	s.obs.SetGauge(ports.MetricSpoolSize, float64(stats.SizeBytes))
	s.obs.LogWarn("batch_spooled", ports.Field{Key: "entry", Value: uint64(id)}, ports.Field{Key: "records", Value: len(batch)})
}

func (s *Scheduler) spoolPending() bool {
	return s.spool != nil && s.spool.Stats().Pending()
}

// replay resends spooled batches oldest first and stops at the first
// failure; the rest wait for the next successful flush.
func (s *Scheduler) replay() {
	if !s.spoolPending() {
		return
	}
	from := s.spool.Stats().OldestUncommitted

	var last ports.SpoolEntryID
	err := s.spool.Iterate(from, func(id ports.SpoolEntryID, batch []domain.DetectionRecord) error {
		if err := s.upload(batch); err != nil {
			return err
		}
		last = id
		return nil
	})
	if last > 0 {
		if cerr := s.spool.Commit(last); cerr != nil {
			s.obs.LogError("spool_commit_failed", cerr)
		} else if !s.spool.Stats().Pending() {
			if cerr := s.spool.Compact(); cerr != nil {
				s.obs.LogError("spool_compact_failed", cerr)
			}
		}
		s.obs.LogInfo("spool_replayed", ports.Field{Key: "upto", Value: uint64(last)})
	}
	if err != nil {
		s.obs.LogWarn("spool_replay_stopped", ports.Field{Key: "error", Value: err.Error()})
	}
	s.obs.SetGauge(ports.MetricSpoolSize, float64(s.spool.Stats().SizeBytes))
}
