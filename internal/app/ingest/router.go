package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Oskimark/snifer-mac/internal/domain"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

// FallbackTrigger decides when a batch that reached the primary store is
// diverted to the fallback store.
type FallbackTrigger string

const (
	// TriggerNoSuccess falls back when no record was accepted and at least
	// one write failed.
	TriggerNoSuccess FallbackTrigger = "no_success"
	// TriggerUnconfiguredOnly falls back only when no primary store exists.
	TriggerUnconfiguredOnly FallbackTrigger = "unconfigured_only"
)

func ParseFallbackTrigger(s string) (FallbackTrigger, error) {
	switch FallbackTrigger(s) {
	case "", TriggerNoSuccess:
		return TriggerNoSuccess, nil
	case TriggerUnconfiguredOnly:
		return TriggerUnconfiguredOnly, nil
	default:
		return "", fmt.Errorf("unknown fallback trigger %q", s)
	}
}

// Route is the outcome of a routing decision.
type Route int

const (
	RoutePrimary Route = iota
	RouteFallback
	RouteFail
)

// StoreRouter chooses between the primary and the fallback store for one
// ingest attempt. A nil primary means no endpoint is configured.
type StoreRouter struct {
	primary  ports.PrimaryStore
	fallback ports.FallbackStore
	trigger  FallbackTrigger
	obs      ports.Observability

	schemaMu    sync.Mutex
	schemaReady bool
}

func NewStoreRouter(primary ports.PrimaryStore, fallback ports.FallbackStore, trigger FallbackTrigger, obs ports.Observability) *StoreRouter {
	if trigger == "" {
		trigger = TriggerNoSuccess
	}
	return &StoreRouter{primary: primary, fallback: fallback, trigger: trigger, obs: obs}
}

func (r *StoreRouter) Primary() (ports.PrimaryStore, bool) {
	return r.primary, r.primary != nil
}

// EnsureSchema runs schema creation until it first succeeds. Failures are
// warnings; the writes that follow decide whether the store is usable.
func (r *StoreRouter) EnsureSchema(ctx context.Context) {
	if r.primary == nil {
		return
	}
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	if r.schemaReady {
		return
	}
	if err := r.primary.EnsureSchema(ctx); err != nil {
		r.obs.LogWarn("schema_init_failed", ports.Field{Key: "error", Value: err.Error()})
		return
	}
	r.schemaReady = true
	r.obs.LogInfo("schema_ready", ports.Field{Key: "store", Value: r.primary.Name()})
}

// Decide maps the primary-store tallies of one batch to a route.
func (r *StoreRouter) Decide(accepted, storeErrors int) Route {
	if r.primary == nil {
		return RouteFallback
	}
	if accepted > 0 || storeErrors == 0 {
		return RoutePrimary
	}
	if r.trigger == TriggerUnconfiguredOnly {
		return RouteFail
	}
	return RouteFallback
}

// WriteFallback appends batch to the fallback store. An error here means
// neither store took the batch.
func (r *StoreRouter) WriteFallback(ctx context.Context, batch []domain.DetectionRecord, at time.Time) (string, error) {
	if r.fallback == nil {
		return "", errors.New("no fallback store configured")
	}
	path, err := r.fallback.AppendBatch(ctx, batch, at)
	if err != nil {
		return "", fmt.Errorf("fallback %s: %w", r.fallback.Name(), err)
	}
	return path, nil
}
