package snifer

import (
	"github.com/Oskimark/snifer-mac/internal/adapters/serial"
	"github.com/Oskimark/snifer-mac/internal/domain"
	"github.com/Oskimark/snifer-mac/internal/ports"
)

// DetectionRecord is one sighting of a wireless device as it travels from
// the collector to the ingest service.
type DetectionRecord = domain.DetectionRecord

// IngestResponse is the JSON body the ingest service answers with.
type IngestResponse = domain.IngestResponse

// Transport opens the byte stream the collector reads lines from.
type Transport = ports.Transport

// Stream is one open transport connection.
type Stream = ports.Stream

// CaptureBuffer holds records between flushes.
type CaptureBuffer = ports.CaptureBuffer

// Uploader ships one batch to the ingest service.
type Uploader = ports.Uploader

// UploadResult describes an acknowledged batch.
type UploadResult = ports.UploadResult

// Spool keeps failed batches on disk for replay.
type Spool = ports.Spool

// SpoolStats exposes spool positions and size.
type SpoolStats = ports.SpoolStats

// PrimaryStore persists detections and nodes.
type PrimaryStore = ports.PrimaryStore

// FallbackStore receives whole batches when the primary store cannot.
type FallbackStore = ports.FallbackStore

// Observability emits metrics and structured log events.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// Selector picks which serial device to open.
type Selector = serial.Selector

// PortInfo describes one serial device visible to the host.
type PortInfo = serial.PortInfo
