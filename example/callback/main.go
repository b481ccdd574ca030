package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/Oskimark/snifer-mac/pkg/snifer"
)

// Prints every batch instead of uploading it, handy when bringing up a new
// sniffer board.
func main() {
	flow, err := snifer.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(batch []snifer.DetectionRecord) error {
		for _, r := range batch {
			fmt.Printf("%s node=%s mac=%s rssi=%d fp=%s\n",
				r.ObservedAt.Time().Format(time.RFC3339Nano),
				r.NodeID,
				r.HardwareAddress,
				r.SignalStrength,
				r.Fingerprint,
			)
		}
		return nil
	}

	if err := flow.RunUplink(ctx, snifer.UplinkCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
