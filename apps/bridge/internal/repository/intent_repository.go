package repository

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bridge/apps/bridge/internal/model"
)

const intentColumns = `exchange_id, user_id, from_currency, from_amount, to_currency, to_amount,
		deposit_address, deposit_currency, recipient_address, status,
		deposit_received, swap_completed, monitoring_active,
		deposit_tx_id, withdrawal_tx_id, order_id,
		deposit_amount, fee_amount, net_amount, failure_reason,
		created_at, expires_at`

// IntentRepository persists exchange intents. Every state transition is a
// conditional update keyed on the expected prior status; the affected row
// count tells the caller whether it won the transition. That single guard
// is what keeps concurrent matcher ticks, the reaper, and in-flight
// pipelines from clobbering each other.
type IntentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewIntentRepository(db *sql.DB, logger *zap.Logger) *IntentRepository {
	return &IntentRepository{db: db, logger: logger}
}

func (r *IntentRepository) CreateIntent(intent model.ExchangeIntent) error {
	_, err := r.db.Exec(`
		INSERT INTO exchange_intents (exchange_id, user_id, from_currency, from_amount, to_currency, to_amount,
			deposit_address, deposit_currency, recipient_address, status,
			deposit_received, swap_completed, monitoring_active, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, intent.ExchangeID, intent.UserID, intent.FromCurrency, intent.FromAmount, intent.ToCurrency, intent.ToAmount,
		intent.DepositAddress, intent.DepositCurrency, intent.RecipientAddress, intent.Status,
		intent.DepositReceived, intent.SwapCompleted, intent.MonitoringActive, intent.CreatedAt, intent.ExpiresAt)

	if err != nil {
		return fmt.Errorf("failed to create intent: %w", err)
	}

	r.logger.Info("Created exchange intent",
		zap.String("exchange_id", intent.ExchangeID),
		zap.String("from_currency", intent.FromCurrency),
		zap.String("to_currency", intent.ToCurrency),
		zap.String("deposit_address", intent.DepositAddress))
	return nil
}

func (r *IntentRepository) GetByID(exchangeID string) (*model.ExchangeIntent, error) {
	row := r.db.QueryRow(`
		SELECT `+intentColumns+`
		FROM exchange_intents
		WHERE exchange_id = $1
	`, exchangeID)

	intent, err := scanIntent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}

	return intent, nil
}

// ListActive returns intents still eligible for deposit matching, oldest
// first so amount-tolerance ties break toward the earliest intent.
func (r *IntentRepository) ListActive(now time.Time) ([]model.ExchangeIntent, error) {
	rows, err := r.db.Query(`
		SELECT `+intentColumns+`
		FROM exchange_intents
		WHERE monitoring_active = TRUE AND deposit_received = FALSE AND expires_at > $1
		ORDER BY created_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list active intents: %w", err)
	}
	defer rows.Close()

	var intents []model.ExchangeIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		intents = append(intents, *intent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating intents: %w", err)
	}

	return intents, nil
}

// ClaimProcessing performs the pending->processing transition. It returns
// false when the intent was already claimed, expired, or otherwise left
// the pending state; exactly one concurrent caller can win.
func (r *IntentRepository) ClaimProcessing(exchangeID, depositTxID string, depositAmount float64) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE exchange_intents
		SET status = $1, deposit_received = TRUE, deposit_tx_id = $2, deposit_amount = $3
		WHERE exchange_id = $4 AND status = $5
	`, model.IntentStatusProcessing, depositTxID, depositAmount, exchangeID, model.IntentStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim intent: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}

	if affected == 1 {
		r.logger.Info("Claimed intent for processing",
			zap.String("exchange_id", exchangeID),
			zap.String("deposit_tx_id", depositTxID),
			zap.Float64("deposit_amount", depositAmount))
	}
	return affected == 1, nil
}

func (r *IntentRepository) SetOrderID(exchangeID, orderID string) error {
	_, err := r.db.Exec(`
		UPDATE exchange_intents SET order_id = $1 WHERE exchange_id = $2
	`, orderID, exchangeID)
	if err != nil {
		return fmt.Errorf("failed to set order id: %w", err)
	}
	return nil
}

// MarkCompleted finishes a processing intent. Completion takes precedence
// over any concurrent expiry write because the predicate only matches the
// processing status, which the reaper never touches.
func (r *IntentRepository) MarkCompleted(exchangeID string, withdrawalTxID *string, toAmount, feeAmount, netAmount float64) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE exchange_intents
		SET status = $1, swap_completed = TRUE, monitoring_active = FALSE,
			withdrawal_tx_id = $2, to_amount = $3, fee_amount = $4, net_amount = $5
		WHERE exchange_id = $6 AND status = $7
	`, model.IntentStatusCompleted, withdrawalTxID, toAmount, feeAmount, netAmount,
		exchangeID, model.IntentStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to complete intent: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected == 1 {
		r.logger.Info("Completed exchange intent",
			zap.String("exchange_id", exchangeID),
			zap.Float64("net_amount", netAmount))
	}
	return affected == 1, nil
}

func (r *IntentRepository) MarkFailed(exchangeID, reason string) (bool, error) {
	return r.finishProcessing(exchangeID, model.IntentStatusFailed, reason)
}

// MarkInReview parks an intent whose funds have already moved but whose
// pipeline hit a consistency error. Operator intervention required.
func (r *IntentRepository) MarkInReview(exchangeID, reason string) (bool, error) {
	return r.finishProcessing(exchangeID, model.IntentStatusInReview, reason)
}

func (r *IntentRepository) finishProcessing(exchangeID, status, reason string) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE exchange_intents
		SET status = $1, monitoring_active = FALSE, failure_reason = $2
		WHERE exchange_id = $3 AND status = $4
	`, status, reason, exchangeID, model.IntentStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to mark intent %s: %w", status, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected == 1 {
		r.logger.Warn("Intent left the pipeline",
			zap.String("exchange_id", exchangeID),
			zap.String("status", status),
			zap.String("reason", reason))
	}
	return affected == 1, nil
}

// ListExpiredPending returns pending intents past their deadline that never
// saw a deposit.
func (r *IntentRepository) ListExpiredPending(now time.Time) ([]model.ExchangeIntent, error) {
	rows, err := r.db.Query(`
		SELECT `+intentColumns+`
		FROM exchange_intents
		WHERE monitoring_active = TRUE AND deposit_received = FALSE AND status = $1 AND expires_at <= $2
	`, model.IntentStatusPending, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired intents: %w", err)
	}
	defer rows.Close()

	var intents []model.ExchangeIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		intents = append(intents, *intent)
	}

	return intents, rows.Err()
}

// MarkExpired expires a pending intent. The status predicate means a
// processing intent can never be overwritten to expired, even when its
// deadline has passed.
func (r *IntentRepository) MarkExpired(exchangeID string) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE exchange_intents
		SET status = $1, monitoring_active = FALSE
		WHERE exchange_id = $2 AND status = $3
	`, model.IntentStatusExpired, exchangeID, model.IntentStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to expire intent: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Retry rewinds a failed or expired intent to pending with a fresh
// deadline, clearing per-run fields but keeping the exchange id.
func (r *IntentRepository) Retry(exchangeID string, newExpiry time.Time) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE exchange_intents
		SET status = $1, deposit_received = FALSE, swap_completed = FALSE, monitoring_active = TRUE,
			deposit_tx_id = NULL, withdrawal_tx_id = NULL, order_id = NULL,
			deposit_amount = NULL, fee_amount = NULL, net_amount = NULL, failure_reason = NULL,
			expires_at = $2
		WHERE exchange_id = $3 AND status IN ($4, $5)
	`, model.IntentStatusPending, newExpiry, exchangeID, model.IntentStatusFailed, model.IntentStatusExpired)
	if err != nil {
		return false, fmt.Errorf("failed to retry intent: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected == 1 {
		r.logger.Info("Retried exchange intent",
			zap.String("exchange_id", exchangeID),
			zap.Time("expires_at", newExpiry))
	}
	return affected == 1, nil
}

// OverrideStatus is the manual operator escape hatch, used to resolve
// in_review intents. Completed intents are immutable.
func (r *IntentRepository) OverrideStatus(exchangeID, status string) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE exchange_intents
		SET status = $1
		WHERE exchange_id = $2 AND status <> $3
	`, status, exchangeID, model.IntentStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to override intent status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected == 1 {
		r.logger.Warn("Manually overrode intent status",
			zap.String("exchange_id", exchangeID),
			zap.String("status", status))
	}
	return affected == 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntent(row rowScanner) (*model.ExchangeIntent, error) {
	var intent model.ExchangeIntent
	err := row.Scan(&intent.ExchangeID, &intent.UserID, &intent.FromCurrency, &intent.FromAmount,
		&intent.ToCurrency, &intent.ToAmount, &intent.DepositAddress, &intent.DepositCurrency,
		&intent.RecipientAddress, &intent.Status, &intent.DepositReceived, &intent.SwapCompleted,
		&intent.MonitoringActive, &intent.DepositTxID, &intent.WithdrawalTxID, &intent.OrderID,
		&intent.DepositAmount, &intent.FeeAmount, &intent.NetAmount, &intent.FailureReason,
		&intent.CreatedAt, &intent.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &intent, nil
}
