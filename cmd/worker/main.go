package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"blingsync/internal/app"
	"blingsync/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, "worker")
	if err != nil {
		log.Fatal("Failed to start: ", err)
	}
	logger := a.Logger

	if !a.Config.KafkaEnabled() {
		a.Close()
		logger.Fatal("The worker needs KAFKA_BROKERS")
	}

	w := worker.New(a.Config, logger, a.Connector())

	logger.Info("Starting worker...")
	err = w.Start(ctx)

	logger.Info("Shutting down worker...")
	w.Stop()
	code := 0
	if err != nil {
		code = 1
	}
	if err := a.Close(); err != nil {
		code = 1
	}
	os.Exit(code)
}
