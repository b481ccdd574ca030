package ports

import "github.com/Oskimark/snifer-mac/internal/domain"

// CaptureBuffer holds records in arrival order until a flush drains them.
type CaptureBuffer interface {
	// Append adds r and returns the resulting length.
	Append(r domain.DetectionRecord) int
	// DrainAll removes and returns every buffered record.
	DrainAll() []domain.DetectionRecord
	Len() int
}
