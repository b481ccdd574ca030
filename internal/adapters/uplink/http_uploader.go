package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Oskimark/snifer-mac/internal/domain"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

// ErrUploadFailed wraps every non-2xx answer from the ingest endpoint.
var ErrUploadFailed = errors.New("upload failed")

const maxResponseBytes = 1 << 20

type Config struct {
	Endpoint  string            `yaml:"endpoint"`
	Timeout   time.Duration     `yaml:"timeout"`
	UserAgent string            `yaml:"user_agent"`
	Headers   map[string]string `yaml:"headers"`
}

// HTTPUploader posts each batch as one JSON array.
type HTTPUploader struct {
	cfg    Config
	client *http.Client
}

// NewHTTPUploader builds an uploader. A nil client gets a default one bound
// to cfg.Timeout.
func NewHTTPUploader(cfg Config, client *http.Client) (*HTTPUploader, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("uplink endpoint is required")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "snifer-uplink"
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPUploader{cfg: cfg, client: client}, nil
}

func (u *HTTPUploader) Name() string { return "http" }

func (u *HTTPUploader) Upload(ctx context.Context, batch []domain.DetectionRecord) (ports.UploadResult, error) {
	res := ports.UploadResult{BatchID: uuid.NewString()}

	body, err := json.Marshal(batch)
	if err != nil {
		return res, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return res, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", u.cfg.UserAgent)
	req.Header.Set("X-Batch-Id", res.BatchID)
	for k, v := range u.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return res, fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()
	res.StatusCode = resp.StatusCode

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	var ack domain.IngestResponse
	decodeErr := json.Unmarshal(raw, &ack)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && ack.Error != "" {
			return res, fmt.Errorf("%w: HTTP %d: %s", ErrUploadFailed, resp.StatusCode, ack.Error)
		}
		return res, fmt.Errorf("%w: HTTP %d", ErrUploadFailed, resp.StatusCode)
	}

	if decodeErr == nil {
		res.Mode = ack.Mode
		res.Accepted = ack.Count
	}
	return res, nil
}

var _ ports.Uploader = (*HTTPUploader)(nil)
