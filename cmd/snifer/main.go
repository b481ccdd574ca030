package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	snifer "github.com/Oskimark/snifer-mac"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "uplink":
		err = uplinkCommand(os.Args[2:])
	case "ingest":
		err = ingestCommand(os.Args[2:])
	case "ports":
		err = portsCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("snifer failed")
	}
}

func uplinkCommand(args []string) error {
	fs := pflag.NewFlagSet("uplink", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "Path to configuration file")
	port := fs.StringP("port", "p", "", "Serial device to open, overrides uplink.serial.port")
	prompt := fs.Bool("prompt", false, "Choose the serial device interactively")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := snifer.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	switch {
	case *port != "":
		cfg.Uplink.Serial.Port = *port
		cfg.Uplink.Serial.Select = "fixed"
	case *prompt:
		cfg.Uplink.Serial.Select = "prompt"
	}

	flow, err := snifer.ConfFromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.RunUplink(ctx)
}

func ingestCommand(args []string) error {
	fs := pflag.NewFlagSet("ingest", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "Path to configuration file")
	listen := fs.String("listen", "", "Listen address, overrides ingest.listen")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := snifer.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *listen != "" {
		flow.Config().Ingest.Listen = *listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.RunIngest(ctx)
}

func portsCommand(args []string) error {
	fs := pflag.NewFlagSet("ports", pflag.ExitOnError)
	usbOnly := fs.Bool("usb", false, "Only list USB devices")
	if err := fs.Parse(args); err != nil {
		return err
	}

	list, err := snifer.ListPorts()
	if err != nil {
		return err
	}
	var shown int
	for _, p := range list {
		if *usbOnly && !p.IsUSB {
			continue
		}
		shown++
		fmt.Printf("  [%d] %s\n", shown, snifer.DescribePort(p))
	}
	if shown == 0 {
		fmt.Println("no serial ports found")
	}
	return nil
}

func validateCommand(args []string) error {
	fs := pflag.NewFlagSet("validate", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := snifer.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	if cfg.Uplink.Endpoint == "" {
		fmt.Println("  note: uplink.endpoint is empty, `snifer uplink` will refuse to start")
	}
	if cfg.Ingest.PostgresURL == "" {
		fmt.Printf("  note: no postgres_url, ingest writes every batch to %s\n", cfg.Ingest.Fallback.File)
	}
	return nil
}

func statsCommand(args []string) error {
	fs := pflag.NewFlagSet("stats", pflag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: *interval}
	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(ctx, client, *url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var statsTargets = []string{
	"snifer_lines_read_total",
	"snifer_lines_discarded_total",
	"snifer_buffer_length",
	"snifer_batches_uploaded_total",
	"snifer_batches_failed_total",
	"snifer_records_dropped_total",
	"snifer_spool_size_bytes",
	"snifer_ingest_records_accepted_total",
	"snifer_ingest_fallback_total",
}

func printMetricsSnapshot(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values := make(map[string]float64, len(statsTargets))
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range statsTargets {
			if !strings.HasPrefix(line, key+" ") && !strings.HasPrefix(line, key+"{") {
				continue
			}
			fields := strings.Fields(line)
			if v, err := strconv.ParseFloat(fields[len(fields)-1], 64); err == nil {
				// labelled series (dropped by reason) are summed
				values[key] += v
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] read=%.0f discarded=%.0f buffered=%.0f uploaded=%.0f failed=%.0f dropped=%.0f spool_bytes=%.0f accepted=%.0f fallback=%.0f\n",
		time.Now().Format(time.RFC3339),
		values["snifer_lines_read_total"],
		values["snifer_lines_discarded_total"],
		values["snifer_buffer_length"],
		values["snifer_batches_uploaded_total"],
		values["snifer_batches_failed_total"],
		values["snifer_records_dropped_total"],
		values["snifer_spool_size_bytes"],
		values["snifer_ingest_records_accepted_total"],
		values["snifer_ingest_fallback_total"],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`snifer: wireless detection collector and ingest service

Usage:
  snifer <command> [flags]

Commands:
  uplink     Read detections from the serial sniffer and upload them in batches
  ingest     Serve the batch ingest endpoint (PostgreSQL with CSV fallback)
  ports      List serial devices attached to this host
  validate   Load and validate a config file without starting anything
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  snifer uplink --config ./data/config.yaml --port /dev/ttyUSB0
  snifer uplink -c ./data/config.yaml --prompt
  snifer ingest -c ./data/config.yaml --listen :8080
  snifer ports --usb
  snifer validate -c ./data/config.yaml
  snifer stats --url http://localhost:9100/metrics --interval 1s

Environment:
  POSTGRES_URL        primary store connection string (ingest)
  VERCEL              any value stores the fallback file under /tmp (ingest)
  SNIFER_API_URL      ingest endpoint (uplink)
  SNIFER_SERIAL_PORT  serial device (uplink)
  LOG_LEVEL           debug, info, warn or error
`)
}
