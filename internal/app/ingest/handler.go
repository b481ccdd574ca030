package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Oskimark/snifer-mac/internal/domain"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

const DefaultMaxBodyBytes = 4 << 20

type Handler struct {
	svc     *Service
	obs     ports.Observability
	maxBody int64
}

func NewHandler(svc *Service, obs ports.Observability, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Handler{svc: svc, obs: obs, maxBody: maxBody}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, fmt.Sprintf("Method %s Not Allowed", r.Method), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	defer func() {
		h.obs.ObserveLatency(ports.MetricIngestLatency, time.Since(start).Seconds())
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, domain.IngestResponse{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, domain.IngestResponse{Error: err.Error()})
		return
	}

	res, err := h.svc.Ingest(r.Context(), body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res.Response())
	case errors.Is(err, ErrMalformedPayload):
		h.obs.LogWarn("ingest_rejected", ports.Field{Key: "error", Value: err.Error()})
		writeJSON(w, http.StatusBadRequest, domain.IngestResponse{Error: ErrMalformedPayload.Error()})
	default:
		h.obs.LogError("ingest_failed", err)
		writeJSON(w, http.StatusInternalServerError, domain.IngestResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
