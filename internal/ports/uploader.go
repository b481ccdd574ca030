package ports

import (
	"context"

	"github.com/Oskimark/snifer-mac/internal/domain"
)

type UploadResult struct {
	BatchID    string
	StatusCode int
	Mode       string
	Accepted   int
}

// Uploader delivers one drained batch to the ingest service.
type Uploader interface {
	Upload(ctx context.Context, batch []domain.DetectionRecord) (UploadResult, error)
	Name() string
}
