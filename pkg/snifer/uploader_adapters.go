package snifer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Oskimark/snifer-mac/internal/domain"
)

// ErrChannelUploaderClosed is returned when a channel uploader is used after
// being closed.
var ErrChannelUploaderClosed = errors.New("snifer: channel uploader closed")

// BatchHandler receives every batch the scheduler drains.
type BatchHandler func([]DetectionRecord) error

// NewCallbackUploader adapts a BatchHandler into an Uploader so callers can
// plug arbitrary functions without defining structs.
func NewCallbackUploader(name string, fn BatchHandler) Uploader {
	if name == "" {
		name = "callback"
	}
	return &callbackUploader{name: name, fn: fn}
}

// NewChannelUploader exposes batches via a channel; it returns the uploader,
// the read-only channel, and a close function that the caller should invoke
// during shutdown. An upload blocks until the batch is received or the
// upload timeout expires.
func NewChannelUploader(name string, buffer int) (Uploader, <-chan []DetectionRecord, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan []DetectionRecord, buffer)
	u := &channelUploader{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return u, ch, func() { u.close() }
}

type callbackUploader struct {
	name string
	fn   BatchHandler
}

// Upload calls the handler once per batch. The handler is not interrupted
// when ctx ends; the scheduler stops waiting for it instead.
func (u *callbackUploader) Upload(ctx context.Context, batch []domain.DetectionRecord) (UploadResult, error) {
	if u.fn == nil {
		return UploadResult{}, fmt.Errorf("callback uploader %q: nil handler", u.name)
	}
	if len(batch) == 0 {
		return UploadResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return UploadResult{}, err
	}
	if err := u.fn(copyBatch(batch)); err != nil {
		return UploadResult{}, err
	}
	return UploadResult{BatchID: uuid.NewString(), Mode: u.name, Accepted: len(batch)}, nil
}

func (u *callbackUploader) Name() string { return u.name }

type channelUploader struct {
	name   string
	ch     chan []DetectionRecord
	closed chan struct{}
	once   sync.Once
	mu     sync.RWMutex
}

func (u *channelUploader) Upload(ctx context.Context, batch []domain.DetectionRecord) (UploadResult, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	select {
	case <-u.closed:
		return UploadResult{}, ErrChannelUploaderClosed
	default:
	}

	if len(batch) == 0 {
		return UploadResult{}, nil
	}

	select {
	case <-u.closed:
		return UploadResult{}, ErrChannelUploaderClosed
	case <-ctx.Done():
		return UploadResult{}, ctx.Err()
	case u.ch <- copyBatch(batch):
		return UploadResult{BatchID: uuid.NewString(), Mode: u.name, Accepted: len(batch)}, nil
	}
}

func (u *channelUploader) Name() string { return u.name }

func (u *channelUploader) close() {
	u.once.Do(func() {
		close(u.closed)
		u.mu.Lock()
		close(u.ch)
		u.mu.Unlock()
	})
}

func copyBatch(batch []domain.DetectionRecord) []DetectionRecord {
	out := make([]DetectionRecord, len(batch))
	copy(out, batch)
	return out
}
