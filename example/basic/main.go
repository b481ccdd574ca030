package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	snifer "github.com/Oskimark/snifer-mac"
)

func main() {
	flow, err := snifer.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := flow.RunUplink(ctx); err != nil && err != context.Canceled {
		log.Fatalf("uplink runtime exited: %v", err)
	}
}
