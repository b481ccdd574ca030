package ports

import (
	"context"
	"io"
)

// Transport yields line-oriented byte streams from a field device. Every call
// to Open returns a fresh stream; the caller closes the previous one first.
type Transport interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open connection to a device.
type Stream interface {
	io.ReadCloser
	Name() string
}
