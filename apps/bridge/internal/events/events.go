package events

import (
	"encoding/json"
	"time"
)

// Event types published to Kafka. One event per state transition, keyed by
// aggregate id so consumers see a partition-ordered lifecycle per record.
const (
	IntentCreated      = "intent.created"
	IntentProcessing   = "intent.processing"
	IntentCompleted    = "intent.completed"
	IntentFailed       = "intent.failed"
	IntentInReview     = "intent.in_review"
	IntentExpired      = "intent.expired"
	IntentRetried      = "intent.retried"
	OfferCreated       = "offer.created"
	OfferSellerLocked  = "offer.seller_locked"
	OfferBothLocked    = "offer.both_locked"
	OfferCompleted     = "offer.completed"
	OfferCancelled     = "offer.cancelled"
	EscrowFeeDue       = "escrow.fee_due"
	DepositUnmatched   = "deposit.unmatched"
)

// LifecycleEvent is the wire shape of a bridge lifecycle event.
type LifecycleEvent struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
}
