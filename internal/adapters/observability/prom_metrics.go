package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Oskimark/snifer-mac/internal/ports"
)

// PromObs implements ports.Observability with Prometheus collectors and a
// zerolog logger. Unknown metric names are ignored.
type PromObs struct {
	log      zerolog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
	dropped  *prometheus.CounterVec
}

func NewPromObs(reg prometheus.Registerer, logger zerolog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &PromObs{
		log:      logger,
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
		histos:   make(map[string]prometheus.Observer),
	}

	counter := func(name, help string) prometheus.Collector {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		p.counters[name] = c
		return c
	}
	gauge := func(name, help string) prometheus.Collector {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		p.gauges[name] = g
		return g
	}
	histogram := func(name, help string) prometheus.Collector {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    help,
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		})
		p.histos[name] = h
		return h
	}

	p.dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ports.MetricRecordsDropped,
		Help: "Detection records lost after a drain, by reason.",
	}, []string{"reason"})

	reg.MustRegister(
		counter(ports.MetricLinesRead, "Lines read from the serial transport."),
		counter(ports.MetricLinesDiscarded, "Lines discarded as malformed."),
		gauge(ports.MetricBufferLength, "Records waiting in the capture buffer."),
		counter(ports.MetricBatchesUploaded, "Batches acknowledged by the ingest service."),
		counter(ports.MetricBatchesFailed, "Batch uploads that failed."),
		histogram(ports.MetricUploadLatency, "Duration of one batch upload."),
		gauge(ports.MetricSpoolSize, "Size of the upload spool on disk."),
		counter(ports.MetricReconnects, "Serial transport reopen attempts."),
		counter(ports.MetricFlushSkipped, "Flush triggers ignored because a flush was in flight."),
		counter(ports.MetricIngestBatches, "Batches received by the ingest service."),
		counter(ports.MetricIngestAccepted, "Records persisted to the primary store."),
		counter(ports.MetricIngestSkipped, "Records skipped by validation."),
		counter(ports.MetricIngestFallback, "Batches written to the fallback store."),
		counter(ports.MetricIngestStoreErrors, "Primary store write errors."),
		histogram(ports.MetricIngestLatency, "Duration of one ingest request."),
		p.dropped,
	)

	return p
}

// Logger returns the underlying structured logger.
func (p *PromObs) Logger() zerolog.Logger { return p.log }

func (p *PromObs) LogDebug(msg string, fields ...ports.Field) {
	withFields(p.log.Debug(), fields).Msg(msg)
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	withFields(p.log.Info(), fields).Msg(msg)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	withFields(p.log.Warn(), fields).Msg(msg)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	withFields(p.log.Error().Err(err), fields).Msg(msg)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	withFields(p.log.WithLevel(zerolog.FatalLevel).Err(err).Bool("critical", true), fields).Msg(msg)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDropped(reason string, records int, err error) {
	p.dropped.WithLabelValues(reason).Add(float64(records))
	p.log.Warn().Err(err).Str("reason", reason).Int("records", records).Msg("batch_dropped")
}

func withFields(e *zerolog.Event, fields []ports.Field) *zerolog.Event {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			e = e.Str(f.Key, v)
		case int:
			e = e.Int(f.Key, v)
		case int64:
			e = e.Int64(f.Key, v)
		case uint64:
			e = e.Uint64(f.Key, v)
		case float64:
			e = e.Float64(f.Key, v)
		case bool:
			e = e.Bool(f.Key, v)
		case time.Duration:
			e = e.Dur(f.Key, v)
		case time.Time:
			e = e.Time(f.Key, v)
		case error:
			e = e.AnErr(f.Key, v)
		default:
			e = e.Interface(f.Key, v)
		}
	}
	return e
}

var _ ports.Observability = (*PromObs)(nil)
