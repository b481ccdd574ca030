package collector

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Oskimark/snifer-mac/internal/domain"
)

var (
	ErrMalformedLine = errors.New("malformed line")
	ErrLineTooLong   = errors.New("line too long")
	ErrTransportLost = errors.New("transport lost")
	ErrUploadFailed  = errors.New("batch upload failed")
)

const (
	minFields    = 4
	maxLineBytes = 64 << 10
)

// LineSource frames a device byte stream into trimmed lines. It is not
// restartable: once Next reports ErrTransportLost the source is spent.
type LineSource struct {
	r   *bufio.Reader
	err error
}

func NewLineSource(r io.Reader) *LineSource {
	return newLineSource(r, maxLineBytes)
}

func newLineSource(r io.Reader, size int) *LineSource {
	return &LineSource{r: bufio.NewReaderSize(r, size)}
}

// Next returns the next line without surrounding whitespace. A line that
// does not fit the buffer is skipped up to its newline and reported as
// ErrLineTooLong; the source stays usable.
func (l *LineSource) Next() (string, error) {
	if l.err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransportLost, l.err)
	}
	line, err := l.r.ReadSlice('\n')
	switch {
	case err == nil:
		return strings.TrimSpace(string(line)), nil
	case errors.Is(err, bufio.ErrBufferFull):
		l.skipRest()
		return "", ErrLineTooLong
	case errors.Is(err, io.EOF) && len(line) > 0:
		l.err = err
		return strings.TrimSpace(string(line)), nil
	default:
		l.err = err
		return "", fmt.Errorf("%w: %w", ErrTransportLost, err)
	}
}

func (l *LineSource) skipRest() {
	for {
		_, err := l.r.ReadSlice('\n')
		if err == nil {
			return
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			l.err = err
			return
		}
	}
}

// Parser turns "node,mac,rssi,fingerprint[,raw]" lines into records.
type Parser struct {
	VendorHint string
	Now        func() time.Time
}

func (p Parser) Parse(line string) (domain.DetectionRecord, error) {
	parts := strings.Split(line, ",")
	if len(parts) < minFields {
		return domain.DetectionRecord{}, fmt.Errorf("%w: %d fields", ErrMalformedLine, len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	// firmware noise in the rssi column is forwarded with a zero signal
	rssi, _ := strconv.Atoi(parts[2])

	rec := domain.DetectionRecord{
		NodeID:          parts[0],
		HardwareAddress: parts[1],
		SignalStrength:  domain.Signal(rssi),
		Fingerprint:     parts[3],
		RawPayload:      domain.Optional(""),
	}
	if len(parts) > minFields {
		rec.RawPayload = domain.Optional(parts[4])
	}
	if p.VendorHint != "" {
		rec.VendorHint = domain.Optional(p.VendorHint)
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	rec.ObservedAt = domain.MillisOf(now())
	return rec, nil
}
