package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BeanCounter/internal/pkg/loyalty"
)

// Envelope is the wire shape of a published event.
type Envelope struct {
	Type       string          `json:"type"`
	CustomerID string          `json:"customer_id"`
	EmittedAt  time.Time       `json:"emitted_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope wraps event for publishing.
func NewEnvelope(event loyalty.Event, now time.Time) (Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:       event.EventType(),
		CustomerID: event.Customer(),
		EmittedAt:  now.UTC(),
		Payload:    payload,
	}, nil
}

// LogNotifier writes events to the application log. It is the fallback when
// no delivery channel is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event loyalty.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Errorf("[Notify] Failed to encode %s event for %s: %v", event.EventType(), event.Customer(), err)
		return
	}
	log.Infof("[Notify] %s for %s: %s", event.EventType(), event.Customer(), payload)
}

// Multi delivers every event to each notifier in order.
type Multi []loyalty.Notifier

func (m Multi) Notify(ctx context.Context, event loyalty.Event) {
	for _, n := range m {
		n.Notify(ctx, event)
	}
}
