package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	bugserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/Oskimark/snifer-mac/internal/ports"
)

var ErrNoPorts = errors.New("no serial ports found")

// Selection modes.
const (
	SelectFixed    = "fixed"
	SelectFirstUSB = "first_usb"
	SelectPrompt   = "prompt"
)

type Config struct {
	Port            string        `yaml:"port"`
	Baud            int           `yaml:"baud"`
	Select          string        `yaml:"select"`
	ReselectDelay   time.Duration `yaml:"reselect_delay"`
	EmptyRetryDelay time.Duration `yaml:"empty_retry_delay"`
}

func (c *Config) ApplyDefaults() {
	if c.Baud == 0 {
		c.Baud = 115200
	}
	if c.Select == "" {
		if c.Port != "" {
			c.Select = SelectFixed
		} else {
			c.Select = SelectFirstUSB
		}
	}
	if c.ReselectDelay <= 0 {
		c.ReselectDelay = 2 * time.Second
	}
	if c.EmptyRetryDelay <= 0 {
		c.EmptyRetryDelay = 5 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Baud < 0 {
		return fmt.Errorf("baud %d must be positive", c.Baud)
	}
	switch c.Select {
	case SelectFixed:
		if c.Port == "" {
			return errors.New("port is required when select is fixed")
		}
	case SelectFirstUSB, SelectPrompt:
	default:
		return fmt.Errorf("unknown select mode %q", c.Select)
	}
	return nil
}

// PortInfo describes one serial device visible to the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// Lister enumerates the serial devices currently attached.
type Lister func() ([]PortInfo, error)

// Opener opens a device at the given baud rate.
type Opener func(name string, baud int) (io.ReadCloser, error)

// ListPorts enumerates ports with USB details, falling back to bare names
// where the platform has no detailed enumerator.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		out := make([]PortInfo, 0, len(details))
		for _, d := range details {
			out = append(out, PortInfo{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		return out, nil
	}

	names, nerr := bugserial.GetPortsList()
	if nerr != nil {
		return nil, errors.Join(err, nerr)
	}
	out := make([]PortInfo, 0, len(names))
	for _, n := range names {
		out = append(out, PortInfo{Name: n})
	}
	return out, nil
}

func openDevice(name string, baud int) (io.ReadCloser, error) {
	return bugserial.Open(name, &bugserial.Mode{BaudRate: baud})
}

type stream struct {
	io.ReadCloser
	name string
}

func (s *stream) Name() string { return s.name }

// Transport selects and opens a serial device, retrying without limit until
// one opens or ctx ends.
type Transport struct {
	cfg  Config
	sel  Selector
	list Lister
	open Opener
	obs  ports.Observability
}

type Option func(*Transport)

func WithLister(l Lister) Option { return func(t *Transport) { t.list = l } }

func WithOpener(o Opener) Option { return func(t *Transport) { t.open = o } }

func WithSelector(s Selector) Option { return func(t *Transport) { t.sel = s } }

func NewTransport(cfg Config, obs ports.Observability, opts ...Option) (*Transport, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{
		cfg:  cfg,
		list: ListPorts,
		open: openDevice,
		obs:  obs,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.sel == nil {
		sel, err := SelectorFor(cfg, nil, nil)
		if err != nil {
			return nil, err
		}
		t.sel = sel
	}
	return t, nil
}

func (t *Transport) Open(ctx context.Context) (ports.Stream, error) {
	b := &reselectBackOff{reselect: t.cfg.ReselectDelay, empty: t.cfg.EmptyRetryDelay}

	op := func() (ports.Stream, error) {
		name, err := t.sel.Select(ctx, t.list)
		b.lastEmpty = errors.Is(err, ErrNoPorts)
		if err != nil {
			return nil, err
		}
		rc, err := t.open(name, t.cfg.Baud)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		return &stream{ReadCloser: rc, name: name}, nil
	}

	notify := func(err error, wait time.Duration) {
		t.obs.IncCounter(ports.MetricReconnects, 1)
		t.obs.LogWarn("serial_open_retry",
			ports.Field{Key: "error", Value: err.Error()},
			ports.Field{Key: "wait", Value: wait},
		)
	}

	s, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return nil, err
	}
	t.obs.LogInfo("serial_open", ports.Field{Key: "port", Value: s.Name()}, ports.Field{Key: "baud", Value: t.cfg.Baud})
	return s, nil
}

// reselectBackOff waits longer when no device is attached at all.
type reselectBackOff struct {
	reselect  time.Duration
	empty     time.Duration
	lastEmpty bool
}

func (b *reselectBackOff) Reset() { b.lastEmpty = false }

func (b *reselectBackOff) NextBackOff() time.Duration {
	if b.lastEmpty {
		return b.empty
	}
	return b.reselect
}

var _ ports.Transport = (*Transport)(nil)
