package repository

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bridge/apps/bridge/internal/model"
)

const offerColumns = `offer_id, status,
		seller_chain, seller_address, seller_amount, seller_currency,
		seller_escrow_tx, seller_contract_ref, seller_locked_at,
		buyer_chain, buyer_address, buyer_amount, buyer_currency,
		buyer_escrow_tx, buyer_contract_ref, buyer_locked_at,
		admin_fee_percentage, admin_fee_amount,
		is_public, description, terms, cancel_reason, created_at, expires_at`

// OfferRepository persists escrow offers. As with intents, every
// transition is a status-guarded conditional update.
type OfferRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOfferRepository(db *sql.DB, logger *zap.Logger) *OfferRepository {
	return &OfferRepository{db: db, logger: logger}
}

func (r *OfferRepository) CreateOffer(offer model.EscrowOffer) error {
	_, err := r.db.Exec(`
		INSERT INTO escrow_offers (offer_id, status, seller_chain, seller_address, seller_amount, seller_currency,
			admin_fee_percentage, admin_fee_amount, is_public, description, terms, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, offer.OfferID, offer.Status, offer.SellerChain, offer.SellerAddress, offer.SellerAmount, offer.SellerCurrency,
		offer.AdminFeePercentage, offer.AdminFeeAmount, offer.IsPublic, offer.Description, offer.Terms,
		offer.CreatedAt, offer.ExpiresAt)

	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}

	r.logger.Info("Created escrow offer",
		zap.String("offer_id", offer.OfferID),
		zap.String("seller_chain", offer.SellerChain),
		zap.String("seller_currency", offer.SellerCurrency),
		zap.Float64("seller_amount", offer.SellerAmount))
	return nil
}

func (r *OfferRepository) GetByID(offerID string) (*model.EscrowOffer, error) {
	row := r.db.QueryRow(`
		SELECT `+offerColumns+`
		FROM escrow_offers
		WHERE offer_id = $1
	`, offerID)

	offer, err := scanOffer(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}

	return offer, nil
}

// MarkSellerLocked records the seller leg lock; only valid from created.
func (r *OfferRepository) MarkSellerLocked(offerID, escrowTx, contractRef string, lockedAt time.Time) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE escrow_offers
		SET status = $1, seller_escrow_tx = $2, seller_contract_ref = $3, seller_locked_at = $4
		WHERE offer_id = $5 AND status = $6
	`, model.OfferStatusSellerLocked, escrowTx, contractRef, lockedAt, offerID, model.OfferStatusCreated)
	if err != nil {
		return false, fmt.Errorf("failed to mark seller locked: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected == 1 {
		r.logger.Info("Seller leg locked",
			zap.String("offer_id", offerID),
			zap.String("escrow_tx", escrowTx))
	}
	return affected == 1, nil
}

// MarkBuyerAccepted records the buyer leg; only valid from seller_locked.
func (r *OfferRepository) MarkBuyerAccepted(offerID string, leg model.BuyerLeg) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE escrow_offers
		SET status = $1, buyer_chain = $2, buyer_address = $3, buyer_amount = $4, buyer_currency = $5,
			buyer_escrow_tx = $6, buyer_contract_ref = $7, buyer_locked_at = $8
		WHERE offer_id = $9 AND status = $10
	`, model.OfferStatusBothLocked, leg.Chain, leg.Address, leg.Amount, leg.Currency,
		leg.EscrowTx, leg.ContractRef, leg.LockedAt, offerID, model.OfferStatusSellerLocked)
	if err != nil {
		return false, fmt.Errorf("failed to mark buyer accepted: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected == 1 {
		r.logger.Info("Buyer accepted offer",
			zap.String("offer_id", offerID),
			zap.String("buyer_address", leg.Address))
	}
	return affected == 1, nil
}

// MarkCompleted finishes a release; only valid from both_locked.
func (r *OfferRepository) MarkCompleted(offerID string) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE escrow_offers
		SET status = $1
		WHERE offer_id = $2 AND status = $3
	`, model.OfferStatusCompleted, offerID, model.OfferStatusBothLocked)
	if err != nil {
		return false, fmt.Errorf("failed to complete offer: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected == 1 {
		r.logger.Info("Completed escrow offer", zap.String("offer_id", offerID))
	}
	return affected == 1, nil
}

// MarkCancelled cancels any non-terminal offer with a mandatory reason.
func (r *OfferRepository) MarkCancelled(offerID, reason string) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE escrow_offers
		SET status = $1, cancel_reason = $2
		WHERE offer_id = $3 AND status NOT IN ($4, $5)
	`, model.OfferStatusCancelled, reason, offerID, model.OfferStatusCompleted, model.OfferStatusCancelled)
	if err != nil {
		return false, fmt.Errorf("failed to cancel offer: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected == 1 {
		r.logger.Info("Cancelled escrow offer",
			zap.String("offer_id", offerID),
			zap.String("reason", reason))
	}
	return affected == 1, nil
}

// ListExpired returns non-terminal offers past their deadline. The caller
// decides between a bare cancel (no funds locked) and the refund path.
func (r *OfferRepository) ListExpired(now time.Time) ([]model.EscrowOffer, error) {
	rows, err := r.db.Query(`
		SELECT `+offerColumns+`
		FROM escrow_offers
		WHERE status NOT IN ($1, $2) AND expires_at <= $3
	`, model.OfferStatusCompleted, model.OfferStatusCancelled, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired offers: %w", err)
	}
	defer rows.Close()

	var offers []model.EscrowOffer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, *offer)
	}

	return offers, rows.Err()
}

// ListPublic returns open public offers for discovery.
func (r *OfferRepository) ListPublic(now time.Time) ([]model.EscrowOffer, error) {
	rows, err := r.db.Query(`
		SELECT `+offerColumns+`
		FROM escrow_offers
		WHERE is_public = TRUE AND status IN ($1, $2) AND expires_at > $3
		ORDER BY created_at DESC
	`, model.OfferStatusCreated, model.OfferStatusSellerLocked, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list public offers: %w", err)
	}
	defer rows.Close()

	var offers []model.EscrowOffer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, *offer)
	}

	return offers, rows.Err()
}

func scanOffer(row rowScanner) (*model.EscrowOffer, error) {
	var offer model.EscrowOffer
	err := row.Scan(&offer.OfferID, &offer.Status,
		&offer.SellerChain, &offer.SellerAddress, &offer.SellerAmount, &offer.SellerCurrency,
		&offer.SellerEscrowTx, &offer.SellerContractRef, &offer.SellerLockedAt,
		&offer.BuyerChain, &offer.BuyerAddress, &offer.BuyerAmount, &offer.BuyerCurrency,
		&offer.BuyerEscrowTx, &offer.BuyerContractRef, &offer.BuyerLockedAt,
		&offer.AdminFeePercentage, &offer.AdminFeeAmount,
		&offer.IsPublic, &offer.Description, &offer.Terms, &offer.CancelReason,
		&offer.CreatedAt, &offer.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &offer, nil
}
