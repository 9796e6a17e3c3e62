package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"bridge/apps/bridge/internal/model"
)

// DepositRepository is the persisted processed-deposit set. The primary
// key on deposit_id makes ClaimDeposit a cross-restart idempotence guard:
// a given external deposit id can be claimed exactly once no matter how
// many polling ticks or instances see it.
type DepositRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewDepositRepository(db *sql.DB, logger *zap.Logger) *DepositRepository {
	return &DepositRepository{db: db, logger: logger}
}

// ClaimDeposit inserts the deposit id, returning false if it was already
// recorded. matchedIntent is nil for deposits recorded as unmatched.
func (r *DepositRepository) ClaimDeposit(deposit model.ProcessedDeposit) (bool, error) {
	result, err := r.db.Exec(`
		INSERT INTO processed_deposits (deposit_id, currency, address, amount, matched_intent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (deposit_id) DO NOTHING
	`, deposit.DepositID, deposit.Currency, deposit.Address, deposit.Amount, deposit.MatchedIntent)
	if err != nil {
		return false, fmt.Errorf("failed to claim deposit: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// AttachIntent binds a previously unmatched deposit to an intent. The
// matched_intent IS NULL predicate keeps the binding single-shot.
func (r *DepositRepository) AttachIntent(depositID, exchangeID string) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE processed_deposits
		SET matched_intent = $1
		WHERE deposit_id = $2 AND matched_intent IS NULL
	`, exchangeID, depositID)
	if err != nil {
		return false, fmt.Errorf("failed to attach intent to deposit: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected == 1 {
		r.logger.Info("Attached stored deposit to intent",
			zap.String("deposit_id", depositID),
			zap.String("exchange_id", exchangeID))
	}
	return affected == 1, nil
}

// ListUnmatched returns stored deposits that never found an intent.
func (r *DepositRepository) ListUnmatched() ([]model.ProcessedDeposit, error) {
	rows, err := r.db.Query(`
		SELECT deposit_id, currency, address, amount, matched_intent, processed_at
		FROM processed_deposits
		WHERE matched_intent IS NULL
		ORDER BY processed_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmatched deposits: %w", err)
	}
	defer rows.Close()

	var deposits []model.ProcessedDeposit
	for rows.Next() {
		var d model.ProcessedDeposit
		if err := rows.Scan(&d.DepositID, &d.Currency, &d.Address, &d.Amount, &d.MatchedIntent, &d.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		deposits = append(deposits, d)
	}

	return deposits, rows.Err()
}

// Prune removes matched entries older than the retention horizon. Entries
// never need to expire for correctness; this is memory hygiene only, and
// unmatched rows are kept for reconciliation.
func (r *DepositRepository) Prune(retainDays int) (int64, error) {
	result, err := r.db.Exec(fmt.Sprintf(`
		DELETE FROM processed_deposits
		WHERE matched_intent IS NOT NULL AND processed_at < NOW() - INTERVAL '%d days'
	`, retainDays))
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed deposits: %w", err)
	}
	return result.RowsAffected()
}
