package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blingsync/internal/api"
	"blingsync/internal/app"
	"blingsync/internal/events"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, "api")
	if err != nil {
		log.Fatal("Failed to start: ", err)
	}
	logger := a.Logger

	deps := api.Dependencies{
		Tokens:     a.Tokens,
		Refresher:  a.Refresher,
		Authorizer: a.Refresher,
		Contacts:   a.Client,
	}
	var requests *events.KafkaPublisher
	if a.Config.KafkaEnabled() {
		requests = events.NewKafkaPublisher(a.Config.KafkaBrokerList(), a.Config.KafkaRequestsTopic, logger)
		deps.Requests = requests
	}

	server := api.New(a.Config, logger, a.DB, deps)

	errs := make(chan error, 1)
	go func() {
		errs <- server.Start()
	}()

	code := 0
	select {
	case <-ctx.Done():
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped: %v", err)
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("Server shutdown: %v", err)
	}
	if requests != nil {
		requests.Close()
	}
	if err := a.Close(); err != nil {
		code = 1
	}
	os.Exit(code)
}
