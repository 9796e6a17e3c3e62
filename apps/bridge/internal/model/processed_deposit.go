package model

import (
	"time"
)

// ProcessedDeposit records an external deposit identifier that has already
// been consumed by the matcher. The primary key on deposit_id is what makes
// deposit processing idempotent across polling ticks and process restarts.
// A row with a nil MatchedIntent is an unmatched deposit waiting for manual
// reconciliation or a future intent.
type ProcessedDeposit struct {
	DepositID     string    `db:"deposit_id"`
	Currency      string    `db:"currency"`
	Address       string    `db:"address"`
	Amount        float64   `db:"amount"`
	MatchedIntent *string   `db:"matched_intent"`
	ProcessedAt   time.Time `db:"processed_at"`
}
