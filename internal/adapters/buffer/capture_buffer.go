package buffer

import (
	"sync"

	"github.com/Oskimark/snifer-mac/internal/domain"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

// CaptureBuffer is an unbounded in-memory buffer that preserves arrival order.
// Append and DrainAll may be called from different goroutines.
type CaptureBuffer struct {
	mu   sync.Mutex
	data []domain.DetectionRecord
	hint int
}

func NewCaptureBuffer(sizeHint int) *CaptureBuffer {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &CaptureBuffer{
		data: make([]domain.DetectionRecord, 0, sizeHint),
		hint: sizeHint,
	}
}

func (b *CaptureBuffer) Append(r domain.DetectionRecord) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, r)
	return len(b.data)
}

func (b *CaptureBuffer) DrainAll() []domain.DetectionRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil
	}
	out := b.data
	b.data = make([]domain.DetectionRecord, 0, b.hint)
	return out
}

func (b *CaptureBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

var _ ports.CaptureBuffer = (*CaptureBuffer)(nil)
