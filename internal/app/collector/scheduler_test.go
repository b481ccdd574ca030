package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oskimark/snifer-mac/internal/adapters/buffer"
	"github.com/Oskimark/snifer-mac/internal/adapters/spool"
	"github.com/Oskimark/snifer-mac/internal/domain"
	"github.com/Oskimark/snifer-mac/internal/ports"
	"github.com/Oskimark/snifer-mac/internal/ports/portstest"
)

type manualTicker struct {
	ch      chan time.Time
	stopped bool
}

func newManualTicker() *manualTicker { return &manualTicker{ch: make(chan time.Time)} }

func (m *manualTicker) Chan() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()                  { m.stopped = true }

func (m *manualTicker) tickerFunc() TickerFunc {
	return func(time.Duration) Ticker { return m }
}

type recordingUploader struct {
	mu      sync.Mutex
	batches [][]domain.DetectionRecord
	fail    func(call int) error
	block   chan struct{}
	calls   int
}

func (u *recordingUploader) Name() string { return "recording" }

func (u *recordingUploader) Upload(ctx context.Context, batch []domain.DetectionRecord) (ports.UploadResult, error) {
	if u.block != nil {
		select {
		case <-u.block:
		case <-ctx.Done():
			return ports.UploadResult{}, ctx.Err()
		}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.fail != nil {
		if err := u.fail(u.calls); err != nil {
			return ports.UploadResult{}, err
		}
	}
	u.batches = append(u.batches, batch)
	return ports.UploadResult{BatchID: fmt.Sprintf("b%d", u.calls), StatusCode: 200, Accepted: len(batch)}, nil
}

func (u *recordingUploader) delivered() [][]domain.DetectionRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([][]domain.DetectionRecord(nil), u.batches...)
}

func rec(i int) domain.DetectionRecord {
	return domain.DetectionRecord{NodeID: "n", HardwareAddress: fmt.Sprintf("AA:BB:CC:DD:EE:%02X", i), SignalStrength: -50}
}

func testPolicy() ports.Policy {
	return ports.Policy{BatchSize: 10, FlushInterval: time.Hour, UploadTimeout: time.Second, OnUploadFailure: ports.OnFailureDrop}
}

func TestSchedulerFlushesBelowThresholdOnlyOnTick(t *testing.T) {
	up := &recordingUploader{}
	ticker := newManualTicker()
	s := NewScheduler(buffer.NewCaptureBuffer(16), up, testPolicy(), portstest.NewObs(), WithTicker(ticker.tickerFunc()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 9; i++ {
		s.Add(rec(i))
	}
	s.Wait()
	assert.Empty(t, up.delivered(), "no flush before the interval fires")

	ticker.ch <- time.Now()
	require.Eventually(t, func() bool { return len(up.delivered()) == 1 }, time.Second, 5*time.Millisecond)
	s.Wait()
	assert.Len(t, up.delivered()[0], 9)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, ticker.stopped)
}

func TestSchedulerFlushesAtBatchSize(t *testing.T) {
	up := &recordingUploader{}
	obs := portstest.NewObs()
	s := NewScheduler(buffer.NewCaptureBuffer(16), up, testPolicy(), obs)

	for i := 0; i < 10; i++ {
		s.Add(rec(i))
	}
	s.Wait()

	batches := up.delivered()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 10)
	for i, r := range batches[0] {
		assert.Equal(t, rec(i).HardwareAddress, r.HardwareAddress)
	}
	assert.Equal(t, float64(1), obs.Counter(ports.MetricBatchesUploaded))
	assert.Equal(t, 1, obs.Observations(ports.MetricUploadLatency))
}

func TestSchedulerSingleFlushInFlight(t *testing.T) {
	up := &recordingUploader{block: make(chan struct{})}
	obs := portstest.NewObs()
	buf := buffer.NewCaptureBuffer(16)
	s := NewScheduler(buf, up, testPolicy(), obs)

	for i := 0; i < 10; i++ {
		s.Add(rec(i))
	}
	for i := 10; i < 20; i++ {
		s.Add(rec(i))
	}
	assert.Equal(t, 10, buf.Len(), "records keep accumulating while a flush is in flight")
	assert.GreaterOrEqual(t, obs.Counter(ports.MetricFlushSkipped), float64(1))

	close(up.block)
	s.Wait()
	require.True(t, s.Trigger())
	s.Wait()

	batches := up.delivered()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Equal(t, rec(10).HardwareAddress, batches[1][0].HardwareAddress)
}

func TestSchedulerTriggerOnEmptyBufferIsNoop(t *testing.T) {
	up := &recordingUploader{}
	s := NewScheduler(buffer.NewCaptureBuffer(0), up, testPolicy(), portstest.NewObs())
	assert.False(t, s.Trigger())
	s.Wait()
	assert.Zero(t, up.calls)
}

func TestSchedulerDropsFailedBatch(t *testing.T) {
	up := &recordingUploader{fail: func(int) error { return errors.New("HTTP 502") }}
	obs := portstest.NewObs()
	s := NewScheduler(buffer.NewCaptureBuffer(16), up, testPolicy(), obs)

	for i := 0; i < 10; i++ {
		s.Add(rec(i))
	}
	s.Wait()

	assert.Equal(t, 10, obs.Dropped("upload_failed"))
	assert.Equal(t, float64(1), obs.Counter(ports.MetricBatchesFailed))
	assert.Contains(t, obs.Messages("error"), "upload_failed")

	s.Add(rec(99))
	require.True(t, s.Trigger(), "failed flush must release the in-flight flag")
	s.Wait()
}

func TestSchedulerUploadTimeoutReleasesFlag(t *testing.T) {
	up := &recordingUploader{block: make(chan struct{})}
	defer close(up.block)
	pol := testPolicy()
	pol.UploadTimeout = 20 * time.Millisecond
	obs := portstest.NewObs()
	s := NewScheduler(buffer.NewCaptureBuffer(16), up, pol, obs)

	s.Add(rec(1))
	require.True(t, s.Trigger())
	s.Wait()

	assert.Equal(t, 1, obs.Dropped("upload_failed"))
	s.Add(rec(2))
	assert.True(t, s.Trigger())
}

// stuckUploader never returns until released and pays no attention to ctx.
type stuckUploader struct{ release chan struct{} }

func (stuckUploader) Name() string { return "stuck" }

func (u stuckUploader) Upload(context.Context, []domain.DetectionRecord) (ports.UploadResult, error) {
	<-u.release
	return ports.UploadResult{}, nil
}

func TestSchedulerUploadTimeoutIgnoredByUploader(t *testing.T) {
	up := stuckUploader{release: make(chan struct{})}
	defer close(up.release)
	pol := testPolicy()
	pol.UploadTimeout = 20 * time.Millisecond
	obs := portstest.NewObs()
	s := NewScheduler(buffer.NewCaptureBuffer(16), up, pol, obs)

	s.Add(rec(1))
	require.True(t, s.Trigger())

	finished := make(chan struct{})
	go func() {
		s.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("flush still in flight long after the upload timeout")
	}

	assert.Equal(t, 1, obs.Dropped("upload_failed"))
	s.Add(rec(2))
	assert.True(t, s.Trigger(), "timed out flush must release the in-flight flag")
	s.Wait()
}

func TestSchedulerSpoolsAndReplays(t *testing.T) {
	sp, err := spool.Open(t.TempDir(), 0)
	require.NoError(t, err)
	defer sp.Close()

	up := &recordingUploader{fail: func(call int) error {
		if call == 1 {
			return errors.New("connection refused")
		}
		return nil
	}}
	pol := testPolicy()
	pol.OnUploadFailure = ports.OnFailureSpool
	obs := portstest.NewObs()
	s := NewScheduler(buffer.NewCaptureBuffer(16), up, pol, obs, WithSpool(sp))

	s.Add(rec(1))
	require.True(t, s.Trigger())
	s.Wait()
	require.True(t, sp.Stats().Pending())
	assert.Zero(t, obs.Dropped("upload_failed"))

	s.Add(rec(2))
	require.True(t, s.Trigger())
	s.Wait()

	batches := up.delivered()
	require.Len(t, batches, 2)
	assert.Equal(t, rec(2).HardwareAddress, batches[0][0].HardwareAddress)
	assert.Equal(t, rec(1).HardwareAddress, batches[1][0].HardwareAddress)
	assert.False(t, sp.Stats().Pending())
	assert.Zero(t, sp.Stats().SizeBytes)
}

func TestSchedulerReplaysSpoolOnIdleTick(t *testing.T) {
	sp, err := spool.Open(t.TempDir(), 0)
	require.NoError(t, err)
	defer sp.Close()
	_, err = sp.Append([]domain.DetectionRecord{rec(7)})
	require.NoError(t, err)

	up := &recordingUploader{}
	pol := testPolicy()
	pol.OnUploadFailure = ports.OnFailureSpool
	s := NewScheduler(buffer.NewCaptureBuffer(0), up, pol, portstest.NewObs(), WithSpool(sp))

	require.True(t, s.Trigger())
	s.Wait()
	require.Len(t, up.delivered(), 1)
	assert.False(t, sp.Stats().Pending())
}

func TestSchedulerSpoolFullDrops(t *testing.T) {
	sp, err := spool.Open(t.TempDir(), 64)
	require.NoError(t, err)
	defer sp.Close()

	up := &recordingUploader{fail: func(int) error { return errors.New("timeout") }}
	pol := testPolicy()
	pol.OnUploadFailure = ports.OnFailureSpool
	obs := portstest.NewObs()
	s := NewScheduler(buffer.NewCaptureBuffer(16), up, pol, obs, WithSpool(sp))

	for i := 0; i < 10; i++ {
		s.Add(rec(i))
	}
	s.Wait()
	assert.Equal(t, 10, obs.Dropped("spool_full"))
}

func TestSchedulerDrainSendsRemainder(t *testing.T) {
	up := &recordingUploader{}
	s := NewScheduler(buffer.NewCaptureBuffer(16), up, testPolicy(), portstest.NewObs())
	s.Add(rec(1))
	s.Add(rec(2))
	s.Drain()
	require.Len(t, up.delivered(), 1)
	assert.Len(t, up.delivered()[0], 2)
}
