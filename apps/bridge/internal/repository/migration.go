package repository

import (
	"database/sql"
	"fmt"
)

// InitMigration initializes the database. In production, this would use a proper migration
// library like go-migrate
func InitMigration(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS exchange_intents (
			exchange_id UUID PRIMARY KEY,
			user_id VARCHAR(64),
			from_currency VARCHAR(16) NOT NULL,
			from_amount DECIMAL(36,18) NOT NULL,
			to_currency VARCHAR(16) NOT NULL,
			to_amount DECIMAL(36,18) NOT NULL DEFAULT 0,
			deposit_address VARCHAR(128) NOT NULL,
			deposit_currency VARCHAR(16) NOT NULL,
			recipient_address VARCHAR(128),
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			deposit_received BOOLEAN NOT NULL DEFAULT FALSE,
			swap_completed BOOLEAN NOT NULL DEFAULT FALSE,
			monitoring_active BOOLEAN NOT NULL DEFAULT TRUE,
			deposit_tx_id VARCHAR(128),
			withdrawal_tx_id VARCHAR(128),
			order_id VARCHAR(128),
			deposit_amount DECIMAL(36,18),
			fee_amount DECIMAL(36,18),
			net_amount DECIMAL(36,18),
			failure_reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_active ON exchange_intents (monitoring_active, deposit_received, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_deposit_addr ON exchange_intents (deposit_currency, deposit_address)`,
		`CREATE TABLE IF NOT EXISTS escrow_offers (
			offer_id UUID PRIMARY KEY,
			status VARCHAR(20) NOT NULL DEFAULT 'created',
			seller_chain VARCHAR(32) NOT NULL,
			seller_address VARCHAR(128) NOT NULL,
			seller_amount DECIMAL(36,18) NOT NULL,
			seller_currency VARCHAR(16) NOT NULL,
			seller_escrow_tx VARCHAR(128),
			seller_contract_ref VARCHAR(128),
			seller_locked_at TIMESTAMP,
			buyer_chain VARCHAR(32),
			buyer_address VARCHAR(128),
			buyer_amount DECIMAL(36,18),
			buyer_currency VARCHAR(16),
			buyer_escrow_tx VARCHAR(128),
			buyer_contract_ref VARCHAR(128),
			buyer_locked_at TIMESTAMP,
			admin_fee_percentage DECIMAL(10,6) NOT NULL,
			admin_fee_amount DECIMAL(36,18) NOT NULL,
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			description TEXT NOT NULL DEFAULT '',
			terms TEXT NOT NULL DEFAULT '',
			cancel_reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_status_expiry ON escrow_offers (status, expires_at)`,
		`CREATE TABLE IF NOT EXISTS processed_deposits (
			deposit_id VARCHAR(128) PRIMARY KEY,
			currency VARCHAR(16) NOT NULL,
			address VARCHAR(128) NOT NULL,
			amount DECIMAL(36,18) NOT NULL,
			matched_intent UUID,
			processed_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deposits_unmatched ON processed_deposits (currency, address) WHERE matched_intent IS NULL`,
		`CREATE TABLE IF NOT EXISTS event_outbox (
			event_id UUID PRIMARY KEY,
			aggregate_id VARCHAR(64) NOT NULL,
			event_type VARCHAR(40) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'unsent',
			payload JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_unsent ON event_outbox (status, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}
