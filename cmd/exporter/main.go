package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/canopy-network/utxo-exporter/app/exporter"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := exporter.Initialize(ctx)

	app.Start(ctx)
}
