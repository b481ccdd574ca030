package serial

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v5"
)

// Selector picks the device to open from the ports currently listed.
type Selector interface {
	Select(ctx context.Context, list Lister) (string, error)
}

// SelectorFor builds the selector named by cfg.Select. Nil in/out default to
// the process standard streams.
func SelectorFor(cfg Config, in io.Reader, out io.Writer) (Selector, error) {
	switch cfg.Select {
	case SelectFixed:
		return FixedSelector{Path: cfg.Port}, nil
	case SelectFirstUSB:
		return FirstUSBSelector{}, nil
	case SelectPrompt:
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stdout
		}
		return NewPromptSelector(in, out), nil
	default:
		return nil, fmt.Errorf("unknown select mode %q", cfg.Select)
	}
}

// FixedSelector always returns the configured path.
type FixedSelector struct {
	Path string
}

func (s FixedSelector) Select(context.Context, Lister) (string, error) {
	return s.Path, nil
}

// FirstUSBSelector prefers the first USB device and otherwise takes the
// first port listed.
type FirstUSBSelector struct{}

func (FirstUSBSelector) Select(_ context.Context, list Lister) (string, error) {
	ports, err := list()
	if err != nil {
		return "", fmt.Errorf("list ports: %w", err)
	}
	if len(ports) == 0 {
		return "", ErrNoPorts
	}
	for _, p := range ports {
		if p.IsUSB {
			return p.Name, nil
		}
	}
	return ports[0].Name, nil
}

// PromptSelector asks an operator to choose a port by number. Entering r
// lists the ports again.
type PromptSelector struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPromptSelector(in io.Reader, out io.Writer) *PromptSelector {
	return &PromptSelector{in: bufio.NewReader(in), out: out}
}

func (s *PromptSelector) Select(ctx context.Context, list Lister) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", backoff.Permanent(err)
		}

		ports, err := list()
		if err != nil {
			return "", fmt.Errorf("list ports: %w", err)
		}
		if len(ports) == 0 {
			fmt.Fprintln(s.out, "No serial ports found.")
			return "", ErrNoPorts
		}

		fmt.Fprintln(s.out, "Available serial ports:")
		for i, p := range ports {
			fmt.Fprintf(s.out, "  [%d] %s\n", i+1, Describe(p))
		}
		fmt.Fprint(s.out, "Select a port number (r to refresh): ")

		line, err := s.in.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", backoff.Permanent(fmt.Errorf("read selection: %w", err))
		}
		answer := strings.TrimSpace(line)
		if strings.EqualFold(answer, "r") {
			continue
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < 1 || n > len(ports) {
			fmt.Fprintf(s.out, "Invalid selection %q.\n", answer)
			continue
		}
		return ports[n-1].Name, nil
	}
}

// Describe renders a port as "path  product vid:pid".
func Describe(p PortInfo) string {
	var b strings.Builder
	b.WriteString(p.Name)
	if p.Product != "" {
		b.WriteString("  ")
		b.WriteString(p.Product)
	}
	if p.IsUSB {
		fmt.Fprintf(&b, "  %s:%s", p.VID, p.PID)
	}
	return b.String()
}
