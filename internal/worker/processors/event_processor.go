package processors

import (
	"context"
	"encoding/json"

	"blingsync/internal/config"
	apperrors "blingsync/internal/errors"
	"blingsync/internal/events"
	"blingsync/internal/logger"
	"blingsync/internal/models"
	blingapi "blingsync/internal/services/bling"
)

const TriggerKafka = "kafka"

// Runner runs a sync of the named resources.
type Runner interface {
	Run(ctx context.Context, resources []string, trigger string) ([]*models.SyncRun, error)
}

type EventProcessor struct {
	config *config.Config
	logger *logger.Logger
	runner Runner
}

func NewEventProcessor(cfg *config.Config, logger *logger.Logger, runner Runner) *EventProcessor {
	return &EventProcessor{
		config: cfg,
		logger: logger,
		runner: runner,
	}
}

// Process handles one event from the requests topic. Only sync.requested
// does anything; other types are ignored.
func (ep *EventProcessor) Process(ctx context.Context, event events.Event) error {
	if event.Type != events.TypeSyncRequested {
		ep.logger.Debug("Ignoring event %s of type %s", event.ID, event.Type)
		return nil
	}

	var req events.SyncRequest
	if len(event.Data) > 0 {
		if err := json.Unmarshal(event.Data, &req); err != nil {
			return apperrors.Wrap(apperrors.ErrDataShape, "decode sync request", err)
		}
	}

	resources := req.Resources
	if len(resources) == 0 {
		resources = ep.config.SyncResources
	}
	for _, r := range resources {
		if r != blingapi.ResourceProducts && r != blingapi.ResourceContacts {
			return apperrors.Newf(apperrors.ErrNonRetryable, "sync request %s names unknown resource %q", event.ID, r)
		}
	}

	ep.logger.Info("Processing sync request %s (resources=%v, requester=%q)", event.ID, resources, req.Requester)
	runs, err := ep.runner.Run(ctx, resources, TriggerKafka)
	for _, run := range runs {
		ep.logger.Info("Sync request %s: %s %s (written=%d)", event.ID, run.Resource, run.Status, run.Written)
	}
	return err
}
