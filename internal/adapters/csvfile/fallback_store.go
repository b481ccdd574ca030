package csvfile

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Oskimark/snifer-mac/internal/domain"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

const (
	DefaultFileName = "captures.csv"
	Header          = "Timestamp,Nodo,MAC,RSSI,Fingerprint,Fabricante"

	// ServerlessDir is the only writable directory on serverless hosts.
	ServerlessDir = "/tmp"
)

// FallbackStore appends batches verbatim to a flat CSV file. It never
// validates or rewrites what it is given.
type FallbackStore struct {
	mu   sync.Mutex
	path string
}

func NewFallbackStore(dir, name string) *FallbackStore {
	if dir == "" {
		dir = "."
	}
	if name == "" {
		name = DefaultFileName
	}
	return &FallbackStore{path: filepath.Join(dir, name)}
}

// ResolveDir returns ServerlessDir when serverless is set, else dir.
func ResolveDir(dir string, serverless bool) string {
	if serverless {
		return ServerlessDir
	}
	return dir
}

func (s *FallbackStore) Name() string { return "csv" }

func (s *FallbackStore) Path() string { return s.path }

func (s *FallbackStore) AppendBatch(ctx context.Context, batch []domain.DetectionRecord, at time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("open fallback file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	w := bufio.NewWriter(f)
	if info.Size() == 0 {
		w.WriteString(Header)
		w.WriteByte('\n')
	}
	stamp := at.UTC().Format("2006-01-02T15:04:05.000Z")
	for _, r := range batch {
		w.WriteString(FormatLine(stamp, r))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("append fallback file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", err
	}
	return s.path, nil
}

// FormatLine renders one record: timestamp, node, address, signal,
// fingerprint and the quoted vendor hint.
func FormatLine(stamp string, r domain.DetectionRecord) string {
	var b strings.Builder
	b.WriteString(stamp)
	b.WriteByte(',')
	b.WriteString(r.NodeID)
	b.WriteByte(',')
	b.WriteString(r.HardwareAddress)
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(int(r.SignalStrength)))
	b.WriteByte(',')
	b.WriteString(r.Fingerprint)
	b.WriteString(`,"`)
	b.WriteString(strings.ReplaceAll(r.Hint(), `"`, `""`))
	b.WriteByte('"')
	return b.String()
}

var _ ports.FallbackStore = (*FallbackStore)(nil)
