package ports

import (
	"context"
	"time"

	"github.com/Oskimark/snifer-mac/internal/domain"
)

// PrimaryStore is the structured detection store.
type PrimaryStore interface {
	// EnsureSchema creates the tables if they do not exist. Safe to repeat.
	EnsureSchema(ctx context.Context) error
	// LookupVendors resolves a set of OUI prefixes in one round trip.
	LookupVendors(ctx context.Context, prefixes []string) (map[string]string, error)
	// Persist inserts the detection and upserts its node atomically.
	Persist(ctx context.Context, d domain.PersistedDetection, node domain.NodeRecord) (int64, error)
	Name() string
}

// FallbackStore is the append-only store used when the primary is unusable.
type FallbackStore interface {
	// AppendBatch writes every record verbatim and returns the file location.
	AppendBatch(ctx context.Context, batch []domain.DetectionRecord, at time.Time) (string, error)
	Name() string
}
