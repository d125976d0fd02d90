package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"blingsync/internal/config"
	apperrors "blingsync/internal/errors"
	"blingsync/internal/events"
	"blingsync/internal/logger"
	"blingsync/internal/worker/processors"
)

const groupID = "blingsync-worker"

// messageReader is the part of kafka.Reader the worker uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Worker consumes sync requests one at a time. A message is committed after
// it has been handled, whatever the outcome, so a bad request is not redelivered
// forever.
type Worker struct {
	config    *config.Config
	logger    *logger.Logger
	reader    messageReader
	processor *processors.EventProcessor
	retryWait time.Duration
}

func New(cfg *config.Config, logger *logger.Logger, runner processors.Runner) *Worker {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokerList(),
		GroupID:  groupID,
		Topic:    cfg.KafkaRequestsTopic,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})

	return &Worker{
		config:    cfg,
		logger:    logger,
		reader:    reader,
		processor: processors.NewEventProcessor(cfg, logger, runner),
		retryWait: 5 * time.Second,
	}
}

// Start blocks until ctx is cancelled or a sync fails in a way that needs an
// operator.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Worker started, listening on %s...", w.config.KafkaRequestsTopic)

	for {
		message, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("Failed to read message: %v", err)
			if !w.wait(ctx) {
				return nil
			}
			continue
		}

		w.logger.Debug("Received message at offset %d: %s", message.Offset, string(message.Value))

		var event events.Event
		if err := json.Unmarshal(message.Value, &event); err != nil {
			w.logger.Error("Failed to parse event: %v", err)
		} else if err := w.processor.Process(ctx, event); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if apperrors.Is(err, apperrors.ErrReauthorizationRequired) {
				w.logger.Critical("Sync request %s needs a new Bling authorization: %v", event.ID, err)
				w.commit(message)
				return err
			}
			w.logger.Error("Failed to process event %s: %v", event.ID, err)
		}

		w.commit(message)
	}
}

func (w *Worker) commit(message kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.reader.CommitMessages(ctx, message); err != nil {
		w.logger.Error("Failed to commit offset %d: %v", message.Offset, err)
	}
}

func (w *Worker) wait(ctx context.Context) bool {
	t := time.NewTimer(w.retryWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	if err := w.reader.Close(); err != nil {
		w.logger.Warn("Closing reader: %v", err)
	}
}
