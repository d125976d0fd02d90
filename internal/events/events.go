package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TypeProductUpserted  = "product.upserted"
	TypeCustomerUpserted = "customer.upserted"
	TypeSyncCompleted    = "sync.completed"
	TypeSyncRequested    = "sync.requested"
)

type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	ExternalID string          `json:"external_id,omitempty"`
	RunID      string          `json:"run_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// New builds an event with a fresh id; data is encoded as JSON.
func New(eventType, externalID string, data interface{}) (Event, error) {
	e := Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		ExternalID: externalID,
		Timestamp:  time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		e.Data = raw
	}
	return e, nil
}

// SyncRequest is the payload of a sync.requested event.
type SyncRequest struct {
	Resources []string `json:"resources,omitempty"`
	Requester string   `json:"requester,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// Nop drops every event; used when no broker is configured.
type Nop struct{}

func (Nop) Publish(ctx context.Context, events ...Event) error { return nil }

func (Nop) Close() error { return nil }
