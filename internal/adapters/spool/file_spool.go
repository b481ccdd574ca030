package spool

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Oskimark/snifer-mac/internal/domain"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

const (
	headerLen = 12
	logName   = "spool.log"
	metaName  = "spool.meta"
)

var ErrSpoolFull = errors.New("spool: size limit reached")

type envelope struct {
	BatchID string                   `json:"batch_id"`
	Records []domain.DetectionRecord `json:"records"`
}

// FileSpool stores failed upload batches on disk.
//
// Entry format: [8 bytes id][4 bytes len][len bytes json envelope].
// The highest committed id lives in spool.meta.
type FileSpool struct {
	mu        sync.Mutex
	dir       string
	path      string
	metaPath  string
	maxBytes  int64
	file      *os.File
	writer    *bufio.Writer
	nextID    ports.SpoolEntryID
	committed ports.SpoolEntryID
	sizeBytes int64
}

// Open opens (or creates) the spool in dir. maxBytes <= 0 disables the limit.
func Open(dir string, maxBytes int64) (*FileSpool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &FileSpool{
		dir:      dir,
		path:     filepath.Join(dir, logName),
		metaPath: filepath.Join(dir, metaName),
		maxBytes: maxBytes,
	}
	if err := s.openLog(); err != nil {
		return nil, err
	}
	if err := s.recover(); err != nil {
		_ = s.file.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileSpool) openLog() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.file = f
	s.writer = bufio.NewWriter(f)
	return nil
}

// recover scans the log for the last complete entry, cuts off a torn tail
// and reloads the commit marker.
func (s *FileSpool) recover() error {
	var (
		offset int64
		lastID ports.SpoolEntryID
	)
	err := s.scan(func(id ports.SpoolEntryID, _ []byte, end int64) error {
		lastID = id
		offset = end
		return nil
	})
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	if err := s.file.Truncate(offset); err != nil {
		return err
	}
	s.sizeBytes = offset
	s.nextID = lastID

	committed, err := readMeta(s.metaPath)
	if err != nil {
		return err
	}
	s.committed = committed
	if s.nextID < s.committed {
		s.nextID = s.committed
	}
	_, err = s.file.Seek(0, io.SeekEnd)
	return err
}

// scan walks every complete entry. It returns io.ErrUnexpectedEOF when the
// log ends inside an entry.
func (s *FileSpool) scan(fn func(id ports.SpoolEntryID, body []byte, end int64) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64
	for {
		var hdr [headerLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return io.ErrUnexpectedEOF
			}
			return fmt.Errorf("spool read header: %w", err)
		}
		id := ports.SpoolEntryID(binary.BigEndian.Uint64(hdr[0:8]))
		n := binary.BigEndian.Uint32(hdr[8:12])

		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return io.ErrUnexpectedEOF
			}
			return fmt.Errorf("spool read body: %w", err)
		}
		offset += headerLen + int64(n)
		if err := fn(id, body, offset); err != nil {
			return err
		}
	}
}

func (s *FileSpool) Append(batch []domain.DetectionRecord) (ports.SpoolEntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(envelope{BatchID: uuid.NewString(), Records: batch})
	if err != nil {
		return 0, err
	}
	if s.maxBytes > 0 && s.sizeBytes+int64(len(b)+headerLen) > s.maxBytes {
		return 0, fmt.Errorf("%w (size=%d limit=%d)", ErrSpoolFull, s.sizeBytes, s.maxBytes)
	}

	id := s.nextID + 1
	var hdr [headerLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))

	if _, err := s.writer.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := s.writer.Write(b); err != nil {
		return 0, err
	}
	if err := s.writer.Flush(); err != nil {
		return 0, err
	}
	if err := s.file.Sync(); err != nil {
		return 0, err
	}

	s.nextID = id
	s.sizeBytes += int64(len(b) + headerLen)
	return id, nil
}

// Iterate calls fn for every entry with id >= from, oldest first. Returning an
// error from fn stops the walk and is returned as-is.
func (s *FileSpool) Iterate(from ports.SpoolEntryID, fn func(id ports.SpoolEntryID, batch []domain.DetectionRecord) error) error {
	s.mu.Lock()
	if err := s.writer.Flush(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	err := s.scan(func(id ports.SpoolEntryID, body []byte, _ int64) error {
		if id < from {
			return nil
		}
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("corrupt spool entry %d: %w", id, err)
		}
		return fn(id, env.Records)
	})
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("corrupt spool: %w", err)
	}
	return err
}

func (s *FileSpool) Commit(upto ports.SpoolEntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if upto > s.committed {
		s.committed = upto
	}
	return os.WriteFile(s.metaPath, []byte(fmt.Sprintf("%d\n", s.committed)), 0o644)
}

// Compact rewrites the log keeping only uncommitted entries.
func (s *FileSpool) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		return err
	}

	tmpPath := s.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(tmp)
	var kept int64
	err = s.scan(func(id ports.SpoolEntryID, body []byte, _ int64) error {
		if id <= s.committed {
			return nil
		}
		var hdr [headerLen]byte
		binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := w.Write(body); err != nil {
			return err
		}
		kept += headerLen + int64(len(body))
		return nil
	})
	if err == nil {
		err = w.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("spool compact: %w", err)
	}

	if err := s.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	if err := s.openLog(); err != nil {
		return err
	}
	s.sizeBytes = kept
	return nil
}

func (s *FileSpool) Stats() ports.SpoolStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ports.SpoolStats{
		OldestUncommitted: s.committed + 1,
		LatestAppended:    s.nextID,
		SizeBytes:         s.sizeBytes,
	}
}

func (s *FileSpool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.writer.Flush(), s.file.Close())
}

func readMeta(path string) (ports.SpoolEntryID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return 0, nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("spool meta parse: %w", err)
	}
	return ports.SpoolEntryID(u), nil
}

var _ ports.Spool = (*FileSpool)(nil)
