package snifer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Oskimark/snifer-mac/internal/adapters/csvfile"
	"github.com/Oskimark/snifer-mac/internal/adapters/observability"
	"github.com/Oskimark/snifer-mac/internal/adapters/postgres"
	"github.com/Oskimark/snifer-mac/internal/app/ingest"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

// IngestRuntimeOption customizes the dependencies used by IngestRuntime.
type IngestRuntimeOption func(*ingestOverrides)

type ingestOverrides struct {
	primary       PrimaryStore
	fallback      FallbackStore
	observability Observability
}

// WithPrimaryStore injects the primary store instead of connecting to
// ingest.postgres_url.
func WithPrimaryStore(s PrimaryStore) IngestRuntimeOption {
	return func(o *ingestOverrides) {
		o.primary = s
	}
}

// WithFallbackStore replaces the CSV fallback file.
func WithFallbackStore(s FallbackStore) IngestRuntimeOption {
	return func(o *ingestOverrides) {
		o.fallback = s
	}
}

// WithIngestObservability plugs in a custom observability backend.
func WithIngestObservability(obs Observability) IngestRuntimeOption {
	return func(o *ingestOverrides) {
		o.observability = obs
	}
}

// IngestRuntime serves the batch ingest endpoint backed by the primary
// store with a CSV fallback.
type IngestRuntime struct {
	cfg     *Config
	obs     ports.Observability
	tel     *telemetry
	handler http.Handler
	db      *sql.DB
	srv     *http.Server
	primary string
}

// NewIngestRuntime connects the primary store when ingest.postgres_url is
// set; without it every batch goes to the fallback file. The connection is
// not required at startup.
func NewIngestRuntime(cfg *Config, opts ...IngestRuntimeOption) (*IngestRuntime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides ingestOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	trigger, err := ingest.ParseFallbackTrigger(cfg.Ingest.FallbackTrigger)
	if err != nil {
		return nil, err
	}

	tel, err := newTelemetry(cfg, "ingest")
	if err != nil {
		return nil, err
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs(tel.reg, tel.logger)
	}

	var (
		db      *sql.DB
		primary ports.PrimaryStore
	)
	if overrides.primary != nil {
		primary = overrides.primary
	} else if cfg.Ingest.PostgresURL != "" {
		db, err = postgres.Connect(cfg.Ingest.PostgresURL)
		if err != nil {
			return nil, err
		}
		primary = postgres.NewDetectionStore(db)
		pingPrimary(db, obs)
	}

	fallback := overrides.fallback
	if fallback == nil {
		dir := csvfile.ResolveDir(cfg.Ingest.Fallback.Dir, cfg.Ingest.Fallback.Serverless)
		fallback = csvfile.NewFallbackStore(dir, cfg.Ingest.Fallback.File)
	}

	router := ingest.NewStoreRouter(primary, fallback, trigger, obs)
	svc := ingest.NewService(router, obs)

	path := cfg.Ingest.Path
	if path == "" {
		path = "/api/ingest"
	}
	var h http.Handler = ingest.NewHandler(svc, obs, cfg.Ingest.MaxBodyBytes)
	if cfg.Ingest.RequestTimeout > 0 {
		h = http.TimeoutHandler(h, cfg.Ingest.RequestTimeout, `{"success":false,"error":"request timeout"}`)
	}
	mux := http.NewServeMux()
	mux.Handle(path, h)

	rt := &IngestRuntime{
		cfg:     cfg,
		obs:     obs,
		tel:     tel,
		handler: mux,
		db:      db,
	}
	if primary != nil {
		rt.primary = primary.Name()
	}
	return rt, nil
}

func pingPrimary(db *sql.DB, obs ports.Observability) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		obs.LogWarn("primary_unreachable", ports.Field{Key: "error", Value: err.Error()})
	}
}

// Handler exposes the ingest routes for embedding in another server.
func (r *IngestRuntime) Handler() http.Handler {
	return r.handler
}

// Start listens on ingest.listen and serves until Shutdown.
func (r *IngestRuntime) Start() error {
	if r == nil {
		return fmt.Errorf("ingest runtime is nil")
	}
	if r.srv != nil {
		return fmt.Errorf("ingest runtime already started")
	}

	ln, err := net.Listen("tcp", r.cfg.Ingest.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.cfg.Ingest.Listen, err)
	}
	r.srv = &http.Server{
		Handler:           r.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := r.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("ingest_server_exited", err)
		}
	}()

	r.tel.start(r.cfg.Metrics.Addr)
	r.obs.LogInfo("ingest_started",
		ports.Field{Key: "addr", Value: ln.Addr().String()},
		ports.Field{Key: "path", Value: r.cfg.Ingest.Path},
		ports.Field{Key: "primary", Value: r.primary},
		ports.Field{Key: "fallback_trigger", Value: r.cfg.Ingest.FallbackTrigger},
	)
	return nil
}

// Run starts the runtime and blocks until ctx is cancelled, then shuts down
// within five seconds.
func (r *IngestRuntime) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops both listeners and closes the database pool.
func (r *IngestRuntime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.srv != nil {
		if err := r.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if err := r.tel.shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
