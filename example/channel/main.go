package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	snifer "github.com/Oskimark/snifer-mac"
)

func main() {
	flow, err := snifer.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uploader, batches, closeBatches := snifer.NewChannelUploader("fanout", 32)
	defer closeBatches()

	go fanoutWorker("nearby", batches)

	if err := flow.RunUplink(ctx, snifer.WithUploader(uploader)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

// fanoutWorker reports devices seen with a strong signal.
func fanoutWorker(name string, batches <-chan []snifer.DetectionRecord) {
	for batch := range batches {
		var near int
		for _, r := range batch {
			if r.SignalStrength >= -55 {
				near++
			}
		}
		fmt.Printf("[%s] %d of %d detections above -55 dBm at %s\n", name, near, len(batch), time.Now().Format(time.RFC3339))
	}
}
