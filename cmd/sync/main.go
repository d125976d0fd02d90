package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"blingsync/internal/app"
	apperrors "blingsync/internal/errors"
	"blingsync/internal/models"
)

func main() {
	os.Exit(run())
}

func run() int {
	resources := flag.String("resources", "", "comma-separated resources to sync (default SYNC_RESOURCES)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, "blingsync")
	if err != nil {
		fmt.Fprintf(os.Stderr, "blingsync: %v\n", err)
		return 1
	}
	logger := a.Logger

	names := a.Config.SyncResources
	if *resources != "" {
		names = nil
		for _, name := range strings.Split(*resources, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}

	runs, err := a.Connector().Run(ctx, names, "cli")
	if closeErr := a.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	partial := false
	for _, r := range runs {
		if r.Status == models.SyncRunPartial {
			partial = true
		}
	}

	switch {
	case err == nil && partial:
		logger.Warn("Sync finished with gaps; the next run will pick them up")
		return 0
	case err == nil:
		logger.Info("Sync finished")
		return 0
	case ctx.Err() != nil:
		logger.Warn("Sync interrupted: %v", err)
	case apperrors.Is(err, apperrors.ErrReauthorizationRequired):
		logger.Critical("Bling authorization must be granted again: %v", err)
	default:
		logger.Error("Sync failed: %v", err)
	}
	return 1
}
