package model

import (
	"time"
)

// Intent statuses. Transitions are enforced by conditional updates in the
// repository layer; see IntentRepository.
const (
	IntentStatusPending    = "pending"
	IntentStatusProcessing = "processing"
	IntentStatusCompleted  = "completed"
	IntentStatusFailed     = "failed"
	IntentStatusInReview   = "in_review"
	IntentStatusExpired    = "expired"
)

// ExchangeIntent is a requested currency swap, tracked from creation until
// the converted asset has been withdrawn. Rows are append-only; only the
// status/progress fields mutate.
type ExchangeIntent struct {
	ExchangeID       string     `db:"exchange_id"`
	UserID           *string    `db:"user_id"` // nil for anonymous intents
	FromCurrency     string     `db:"from_currency"`
	FromAmount       float64    `db:"from_amount"`
	ToCurrency       string     `db:"to_currency"`
	ToAmount         float64    `db:"to_amount"` // indicative until settled
	DepositAddress   string     `db:"deposit_address"`
	DepositCurrency  string     `db:"deposit_currency"`
	RecipientAddress *string    `db:"recipient_address"` // nil means manual payout
	Status           string     `db:"status"`
	DepositReceived  bool       `db:"deposit_received"`
	SwapCompleted    bool       `db:"swap_completed"`
	MonitoringActive bool       `db:"monitoring_active"`
	DepositTxID      *string    `db:"deposit_tx_id"`
	WithdrawalTxID   *string    `db:"withdrawal_tx_id"`
	OrderID          *string    `db:"order_id"`
	DepositAmount    *float64   `db:"deposit_amount"`
	FeeAmount        *float64   `db:"fee_amount"`
	NetAmount        *float64   `db:"net_amount"`
	FailureReason    *string    `db:"failure_reason"`
	CreatedAt        time.Time  `db:"created_at"`
	ExpiresAt        time.Time  `db:"expires_at"`
}

// Terminal reports whether the intent may never be mutated again except
// through an explicit retry.
func (i *ExchangeIntent) Terminal() bool {
	switch i.Status {
	case IntentStatusCompleted, IntentStatusFailed, IntentStatusExpired:
		return true
	}
	return false
}
