package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"seatwatch/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to parse config: %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	swaggerPath := os.Getenv("swaggerPath")

	if err := RunSeatWorker(ctx, cfg, defaultWorkerFactories(), swaggerPath); err != nil && err != context.Canceled {
		panic(err)
	}
}
