package snifer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oskimark/snifer-mac/internal/ports"
	"github.com/Oskimark/snifer-mac/internal/ports/portstest"
)

type batchLog struct {
	mu      sync.Mutex
	batches [][]DetectionRecord
}

func (b *batchLog) handle(batch []DetectionRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, batch)
	return nil
}

func (b *batchLog) snapshot() [][]DetectionRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]DetectionRecord(nil), b.batches...)
}

func detection(i int) DetectionRecord {
	return DetectionRecord{NodeID: "sim", HardwareAddress: fmt.Sprintf("AA:BB:CC:DD:EE:%02X", i), SignalStrength: -50}
}

func TestRecorderBatchesAndDrainsOnClose(t *testing.T) {
	log := &batchLog{}
	rec, err := NewRecorder(&RecorderConfig{
		Policy:        Policy{BatchSize: 2, FlushInterval: time.Hour, UploadTimeout: time.Second},
		Observability: portstest.NewObs(),
	}, NewCallbackUploader("sim", log.handle))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, rec.Publish(detection(i)))
	}
	rec.sched.Wait()
	require.Len(t, log.snapshot(), 1)
	assert.Equal(t, 1, rec.Pending())

	require.NoError(t, rec.Close(context.Background()))
	batches := log.snapshot()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, detection(2).HardwareAddress, batches[1][0].HardwareAddress)

	assert.ErrorIs(t, rec.Publish(detection(9)), ErrRecorderClosed)
	assert.NoError(t, rec.Close(context.Background()), "second close is a no-op")
}

func TestRecorderSpoolsFailedBatches(t *testing.T) {
	var calls int
	var mu sync.Mutex
	up := NewCallbackUploader("flaky", func([]DetectionRecord) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("ingest unreachable")
		}
		return nil
	})

	obs := portstest.NewObs()
	rec, err := NewRecorder(&RecorderConfig{
		Policy:        Policy{BatchSize: 1, FlushInterval: time.Hour, UploadTimeout: time.Second, OnUploadFailure: ports.OnFailureSpool},
		Spool:         SpoolConfig{Dir: t.TempDir()},
		Observability: obs,
	}, up)
	require.NoError(t, err)
	require.True(t, rec.ownSpool)

	require.NoError(t, rec.Publish(detection(1)))
	rec.sched.Wait()
	require.True(t, rec.spool.Stats().Pending())

	require.NoError(t, rec.Publish(detection(2)))
	rec.sched.Wait()
	assert.False(t, rec.spool.Stats().Pending())
	assert.Equal(t, 3, calls)

	require.NoError(t, rec.Close(context.Background()))
	assert.Zero(t, obs.Dropped("upload_failed"))
}

func TestNewRecorderValidates(t *testing.T) {
	_, err := NewRecorder(nil, NewCallbackUploader("x", nil))
	assert.Error(t, err)

	_, err = NewRecorder(&RecorderConfig{Observability: portstest.NewObs()}, nil)
	assert.Error(t, err)

	_, err = NewRecorder(&RecorderConfig{
		Policy:        Policy{FlushInterval: time.Second, UploadTimeout: 2 * time.Second},
		Observability: portstest.NewObs(),
	}, NewCallbackUploader("x", nil))
	assert.Error(t, err)
}
