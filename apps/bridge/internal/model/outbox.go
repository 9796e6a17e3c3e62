package model

import (
	"encoding/json"
	"time"
)

// Outbox event statuses.
const (
	OutboxStatusUnsent     = "unsent"
	OutboxStatusProcessing = "processing"
	OutboxStatusSent       = "sent"
)

// OutboxEvent is a lifecycle event staged in postgres for delivery to
// Kafka. Events are written alongside the state change they describe and
// drained by the event publisher.
type OutboxEvent struct {
	EventID     string          `db:"event_id"`
	AggregateID string          `db:"aggregate_id"` // exchange_id or offer_id
	EventType   string          `db:"event_type"`
	Status      string          `db:"status"`
	Payload     json.RawMessage `db:"payload"`
	CreatedAt   time.Time       `db:"created_at"`
}
