package snifer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCallbackUploader(t *testing.T) {
	var received []DetectionRecord
	up := NewCallbackUploader("cb", func(batch []DetectionRecord) error {
		received = append(received, batch...)
		return nil
	})

	input := DetectionRecord{NodeID: "Node1", HardwareAddress: "AA:BB:CC:DD:EE:01", SignalStrength: -60}

	res, err := up.Upload(context.Background(), []DetectionRecord{input})
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if res.Accepted != 1 || res.BatchID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 record, got %d", len(received))
	}
	if received[0].HardwareAddress != input.HardwareAddress || received[0].SignalStrength != input.SignalStrength {
		t.Fatalf("mismatched record: %+v vs %+v", received[0], input)
	}
}

func TestNewCallbackUploaderNilHandler(t *testing.T) {
	up := NewCallbackUploader("", nil)
	if up.Name() != "callback" {
		t.Fatalf("expected default name, got %q", up.Name())
	}
	if _, err := up.Upload(context.Background(), []DetectionRecord{{NodeID: "n"}}); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
}

func TestNewChannelUploader(t *testing.T) {
	up, ch, closeFn := NewChannelUploader("chan", 0)
	defer closeFn()

	input := DetectionRecord{NodeID: "Node2", HardwareAddress: "AA:BB:CC:DD:EE:02"}
	errCh := make(chan error, 1)

	go func() {
		_, err := up.Upload(context.Background(), []DetectionRecord{input})
		errCh <- err
	}()

	var batch []DetectionRecord
	select {
	case batch = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel batch")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if len(batch) != 1 || batch[0].NodeID != input.NodeID {
		t.Fatalf("unexpected batch data: %+v", batch)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := up.Upload(ctx, []DetectionRecord{input}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error with nobody reading, got %v", err)
	}

	closeFn()
	if _, err := up.Upload(context.Background(), []DetectionRecord{input}); !errors.Is(err, ErrChannelUploaderClosed) {
		t.Fatalf("expected ErrChannelUploaderClosed, got %v", err)
	}
}
