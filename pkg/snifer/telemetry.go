package snifer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Oskimark/snifer-mac/internal/adapters/observability"
)

// telemetry owns a runtime's metrics registry, its logger and the
// /metrics + /healthz listener.
type telemetry struct {
	reg    *prometheus.Registry
	logger zerolog.Logger
	srv    *http.Server
}

func newTelemetry(cfg *Config, component string) (*telemetry, error) {
	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &telemetry{reg: reg, logger: observability.WithComponent(logger, component)}, nil
}

func (t *telemetry) start(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(t.reg, promhttp.HandlerOpts{Registry: t.reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	t.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := t.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error().Err(err).Str("addr", addr).Msg("metrics server exited")
		}
	}()
}

func (t *telemetry) shutdown(ctx context.Context) error {
	if t.srv == nil {
		return nil
	}
	if err := t.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
