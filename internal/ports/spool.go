package ports

import "github.com/Oskimark/snifer-mac/internal/domain"

type SpoolEntryID uint64

// Spool persists batches whose upload failed so they can be replayed later.
type Spool interface {
	Append(batch []domain.DetectionRecord) (SpoolEntryID, error)
	Iterate(from SpoolEntryID, fn func(id SpoolEntryID, batch []domain.DetectionRecord) error) error
	Commit(upto SpoolEntryID) error
	Compact() error
	Stats() SpoolStats
	Close() error
}

type SpoolStats struct {
	OldestUncommitted SpoolEntryID
	LatestAppended    SpoolEntryID
	SizeBytes         int64
}

// Pending reports whether any appended batch is still uncommitted.
func (s SpoolStats) Pending() bool {
	return s.LatestAppended != 0 && s.OldestUncommitted <= s.LatestAppended
}
