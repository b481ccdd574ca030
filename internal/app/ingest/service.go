package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Oskimark/snifer-mac/internal/domain"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

var (
	ErrMalformedPayload = errors.New("invalid payload: expected a JSON array")
	ErrValidationSkip   = errors.New("record skipped")
	ErrStoreUnavailable = errors.New("primary store unavailable")
)

type SkipReason string

const (
	SkipDecode        SkipReason = "decode"
	SkipMissingNode   SkipReason = "missing_node"
	SkipAddressLength SkipReason = "address_length"
	SkipAddressSyntax SkipReason = "address_syntax"
	SkipNonUnicast    SkipReason = "non_unicast"
)

// Outcome describes what happened to one element of a batch.
type Outcome struct {
	Index    int
	Address  string
	Accepted bool
	ID       int64
	Vendor   string
	Skip     SkipReason
	Err      error
}

type Result struct {
	Mode     string
	Received int
	Accepted int
	Skipped  int
	Written  int
	File     string
	StoreErr error
	Outcomes []Outcome
}

// Response renders r as the wire acknowledgement.
func (r Result) Response() domain.IngestResponse {
	resp := domain.IngestResponse{Success: true, Mode: r.Mode, File: r.File}
	if r.Mode == domain.ModeLocal {
		resp.Count = r.Written
	} else {
		resp.Count = r.Accepted
	}
	if r.StoreErr != nil {
		resp.Error = r.StoreErr.Error()
	}
	return resp
}

// Service validates, enriches and stores detection batches. It keeps no
// state between calls apart from the schema-ready flag of its router.
type Service struct {
	router   *StoreRouter
	resolver *VendorResolver
	obs      ports.Observability
	now      func() time.Time
}

type ServiceOption func(*Service)

// WithClock replaces the server clock.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(router *StoreRouter, obs ports.Observability, opts ...ServiceOption) *Service {
	var lookup VendorLookup
	if p, ok := router.Primary(); ok {
		lookup = p
	}
	s := &Service{
		router:   router,
		resolver: NewVendorResolver(lookup, obs),
		obs:      obs,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest processes one raw request body.
func (s *Service) Ingest(ctx context.Context, payload []byte) (Result, error) {
	raw, err := decodeArray(payload)
	if err != nil {
		return Result{}, err
	}
	s.obs.IncCounter(ports.MetricIngestBatches, 1)

	res := Result{Received: len(raw), Outcomes: make([]Outcome, len(raw))}
	records := make([]domain.DetectionRecord, 0, len(raw))
	index := make([]int, 0, len(raw))
	// every object element, in order, for the fallback file
	verbatim := make([]domain.DetectionRecord, 0, len(raw))
	for i, elem := range raw {
		res.Outcomes[i].Index = i
		var r domain.DetectionRecord
		if err := json.Unmarshal(elem, &r); err != nil {
			res.Outcomes[i] = Outcome{Index: i, Skip: SkipDecode, Err: fmt.Errorf("%w: %v", ErrValidationSkip, err)}
			res.Skipped++
			if loose, ok := looseRecord(elem); ok {
				verbatim = append(verbatim, loose)
			}
			continue
		}
		records = append(records, r)
		index = append(index, i)
		verbatim = append(verbatim, r)
	}
	s.obs.LogInfo("ingest_received", ports.Field{Key: "records", Value: len(raw)})

	var storeErrors int
	if primary, ok := s.router.Primary(); ok {
		storeErrors = s.persistAll(ctx, primary, records, index, &res)
	}

	switch s.router.Decide(res.Accepted, storeErrors) {
	case RoutePrimary:
		res.Mode = domain.ModeCloud
	case RouteFail:
		return res, fmt.Errorf("%w: %d write errors, last: %v", ErrStoreUnavailable, storeErrors, res.StoreErr)
	case RouteFallback:
		path, err := s.router.WriteFallback(ctx, verbatim, s.now())
		if err != nil {
			s.obs.LogCritical("fallback_write_failed", err)
			return res, fmt.Errorf("%w: both stores failed: %w", ErrStoreUnavailable, errors.Join(res.StoreErr, err))
		}
		res.Mode = domain.ModeLocal
		res.File = path
		res.Written = len(verbatim)
		s.obs.IncCounter(ports.MetricIngestFallback, 1)
		s.obs.LogWarn("ingest_fallback",
			ports.Field{Key: "file", Value: path},
			ports.Field{Key: "records", Value: len(verbatim)},
		)
	}

	s.obs.IncCounter(ports.MetricIngestAccepted, float64(res.Accepted))
	s.obs.IncCounter(ports.MetricIngestSkipped, float64(res.Skipped))
	return res, nil
}

func (s *Service) persistAll(ctx context.Context, primary ports.PrimaryStore, records []domain.DetectionRecord, index []int, res *Result) int {
	s.router.EnsureSchema(ctx)
	vendors := s.resolver.Resolve(ctx, PrefixSet(records))

	var (
		storeErrors int
		maxSkew     time.Duration
	)
	for n, r := range records {
		out := Outcome{Index: index[n], Address: r.HardwareAddress}

		if reason, err := validate(r); err != nil {
			out.Skip, out.Err = reason, err
			res.Outcomes[out.Index] = out
			res.Skipped++
			continue
		}

		now := s.now()
		if at := r.ObservedAt.Time(); !at.IsZero() {
			if skew := now.Sub(at).Abs(); skew > maxSkew {
				maxSkew = skew
			}
		}

		out.Vendor = VendorName(vendors, r)
		det := domain.PersistedDetection{Record: r, VendorName: out.Vendor, CreatedAt: now}
		node := domain.NodeRecord{
			NodeID:    r.NodeID,
			Latitude:  domain.DefaultNodeLatitude,
			Longitude: domain.DefaultNodeLongitude,
			Type:      domain.ClassifyNode(r.NodeID),
			LastSeen:  now,
		}

		id, err := primary.Persist(ctx, det, node)
		if err != nil {
			storeErrors++
			out.Err = err
			res.StoreErr = err
			s.obs.IncCounter(ports.MetricIngestStoreErrors, 1)
			s.obs.LogError("record_write_failed", err, ports.Field{Key: "mac", Value: r.HardwareAddress})
			res.Outcomes[out.Index] = out
			continue
		}
		out.Accepted = true
		out.ID = id
		res.Outcomes[out.Index] = out
		res.Accepted++
	}

	if maxSkew > 0 {
		s.obs.LogDebug("client_clock_skew", ports.Field{Key: "max_skew", Value: maxSkew})
	}
	return storeErrors
}

func validate(r domain.DetectionRecord) (SkipReason, error) {
	if r.NodeID == "" {
		return SkipMissingNode, fmt.Errorf("%w: missing node id", ErrValidationSkip)
	}
	switch err := domain.CheckAddress(r.HardwareAddress); {
	case err == nil:
		return "", nil
	case errors.Is(err, domain.ErrAddressLength):
		return SkipAddressLength, fmt.Errorf("%w: %v", ErrValidationSkip, err)
	case errors.Is(err, domain.ErrAddressSyntax):
		return SkipAddressSyntax, fmt.Errorf("%w: %v", ErrValidationSkip, err)
	default:
		return SkipNonUnicast, fmt.Errorf("%w: %v", ErrValidationSkip, err)
	}
}

func decodeArray(payload []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrMalformedPayload
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return raw, nil
}

// looseRecord reads whatever fields an object element carries when strict
// decoding fails. Non-string values keep their JSON text; an rssi that is not
// an integer becomes 0. ok is false when elem is not an object.
func looseRecord(elem json.RawMessage) (domain.DetectionRecord, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(elem, &fields); err != nil || fields == nil {
		return domain.DetectionRecord{}, false
	}
	text := func(key string) (string, bool) {
		v, ok := fields[key]
		if !ok {
			return "", false
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s, true
		}
		v = bytes.TrimSpace(v)
		if bytes.Equal(v, []byte("null")) {
			return "", true
		}
		return string(v), true
	}

	var r domain.DetectionRecord
	r.NodeID, _ = text("nodo")
	r.HardwareAddress, _ = text("mac")
	r.Fingerprint, _ = text("fingerprint")
	if v, ok := fields["rssi"]; ok {
		var sig domain.Signal
		if err := sig.UnmarshalJSON(v); err == nil {
			r.SignalStrength = sig
		}
	}
	if v, ok := text("raw_packet"); ok {
		r.RawPayload = domain.Optional(v)
	}
	if v, ok := text("vendor"); ok {
		r.VendorHint = domain.Optional(v)
	}
	return r, true
}
