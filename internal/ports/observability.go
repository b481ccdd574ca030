package ports

type Observability interface {
	LogDebug(msg string, fields ...Field)
	LogInfo(msg string, fields ...Field)
	LogWarn(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)

	RecordDropped(reason string, records int, err error)
}

type Field struct {
	Key   string
	Value any
}

// Metric names shared by the collector and the ingest service.
const (
	MetricLinesRead         = "snifer_lines_read_total"
	MetricLinesDiscarded    = "snifer_lines_discarded_total"
	MetricBufferLength      = "snifer_buffer_length"
	MetricBatchesUploaded   = "snifer_batches_uploaded_total"
	MetricBatchesFailed     = "snifer_batches_failed_total"
	MetricRecordsDropped    = "snifer_records_dropped_total"
	MetricUploadLatency     = "snifer_upload_latency_seconds"
	MetricSpoolSize         = "snifer_spool_size_bytes"
	MetricReconnects        = "snifer_transport_reconnects_total"
	MetricFlushSkipped      = "snifer_flush_skipped_total"
	MetricIngestBatches     = "snifer_ingest_batches_total"
	MetricIngestAccepted    = "snifer_ingest_records_accepted_total"
	MetricIngestSkipped     = "snifer_ingest_records_skipped_total"
	MetricIngestFallback    = "snifer_ingest_fallback_total"
	MetricIngestStoreErrors = "snifer_ingest_store_errors_total"
	MetricIngestLatency     = "snifer_ingest_latency_seconds"
)
