package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Oskimark/snifer-mac/internal/ports"
)

// Session owns the state of one collector process: the transport, the
// scheduler that owns the buffer and uploader, and the port currently open.
// The port reference is replaced on every reconnect.
type Session struct {
	transport      ports.Transport
	sched          *Scheduler
	parser         Parser
	obs            ports.Observability
	reconnectDelay time.Duration
	discardLog     rate.Sometimes

	mu      sync.Mutex
	current ports.Stream
}

func NewSession(transport ports.Transport, sched *Scheduler, parser Parser, reconnectDelay time.Duration, obs ports.Observability) *Session {
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	return &Session{
		transport:      transport,
		sched:          sched,
		parser:         parser,
		obs:            obs,
		reconnectDelay: reconnectDelay,
		discardLog:     rate.Sometimes{First: 10, Interval: time.Second},
	}
}

// Run reads from the transport until ctx ends, reopening it whenever the
// stream is lost. Transport loss is never returned as an error.
func (s *Session) Run(ctx context.Context) error {
	for {
		stream, err := s.transport.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.setCurrent(stream)

		err = s.read(ctx, stream)
		s.closeCurrent()
		if ctx.Err() != nil {
			return nil
		}

		s.obs.IncCounter(ports.MetricReconnects, 1)
		s.obs.LogWarn("transport_lost",
			ports.Field{Key: "port", Value: stream.Name()},
			ports.Field{Key: "error", Value: err.Error()},
			ports.Field{Key: "retry_in", Value: s.reconnectDelay},
		)

		t := time.NewTimer(s.reconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (s *Session) read(ctx context.Context, stream ports.Stream) error {
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	src := NewLineSource(stream)
	for {
		line, err := src.Next()
		if errors.Is(err, ErrLineTooLong) {
			s.obs.IncCounter(ports.MetricLinesRead, 1)
			s.obs.IncCounter(ports.MetricLinesDiscarded, 1)
			s.discardLog.Do(func() {
				s.obs.LogWarn("line_discarded", ports.Field{Key: "reason", Value: err.Error()})
			})
			continue
		}
		if err != nil {
			return err
		}
		s.obs.IncCounter(ports.MetricLinesRead, 1)

		rec, err := s.parser.Parse(line)
		if err != nil {
			s.obs.IncCounter(ports.MetricLinesDiscarded, 1)
			if errors.Is(err, ErrMalformedLine) {
				s.discardLog.Do(func() {
					s.obs.LogWarn("line_discarded",
						ports.Field{Key: "line", Value: line},
						ports.Field{Key: "reason", Value: err.Error()},
					)
				})
			}
			continue
		}
		s.sched.Add(rec)
	}
}

// Port returns the name of the open device, or "" between connections.
func (s *Session) Port() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.Name()
}

func (s *Session) setCurrent(st ports.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = st
}

func (s *Session) closeCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		_ = s.current.Close()
		s.current = nil
	}
}

// Close releases the open device, if any.
func (s *Session) Close() error {
	s.closeCurrent()
	return nil
}
