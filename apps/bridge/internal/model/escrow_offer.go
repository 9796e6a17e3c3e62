package model

import (
	"time"
)

// Offer statuses. completed and cancelled are terminal.
const (
	OfferStatusCreated      = "created"
	OfferStatusSellerLocked = "seller_locked"
	OfferStatusBothLocked   = "both_locked"
	OfferStatusCompleted    = "completed"
	OfferStatusCancelled    = "cancelled"
)

// EscrowOffer is a peer-to-peer trade with two independent escrow legs.
// The legs are independent by design: the seller leg can be locked, and
// refunded, without the buyer leg ever existing.
type EscrowOffer struct {
	OfferID string `db:"offer_id"`
	Status  string `db:"status"`

	SellerChain       string     `db:"seller_chain"`
	SellerAddress     string     `db:"seller_address"`
	SellerAmount      float64    `db:"seller_amount"`
	SellerCurrency    string     `db:"seller_currency"`
	SellerEscrowTx    *string    `db:"seller_escrow_tx"`
	SellerContractRef *string    `db:"seller_contract_ref"`
	SellerLockedAt    *time.Time `db:"seller_locked_at"`

	// Buyer leg, empty until the offer is accepted.
	BuyerChain       *string    `db:"buyer_chain"`
	BuyerAddress     *string    `db:"buyer_address"`
	BuyerAmount      *float64   `db:"buyer_amount"`
	BuyerCurrency    *string    `db:"buyer_currency"`
	BuyerEscrowTx    *string    `db:"buyer_escrow_tx"`
	BuyerContractRef *string    `db:"buyer_contract_ref"`
	BuyerLockedAt    *time.Time `db:"buyer_locked_at"`

	// Frozen at offer creation, immutable afterward.
	AdminFeePercentage float64 `db:"admin_fee_percentage"`
	AdminFeeAmount     float64 `db:"admin_fee_amount"`

	IsPublic     bool      `db:"is_public"`
	Description  string    `db:"description"`
	Terms        string    `db:"terms"`
	CancelReason *string   `db:"cancel_reason"`
	CreatedAt    time.Time `db:"created_at"`
	ExpiresAt    time.Time `db:"expires_at"`
}

// BuyerLeg carries the buyer side recorded on accept. EscrowTx and
// ContractRef stay nil when the buyer settles on the seller's own chain.
type BuyerLeg struct {
	Chain       string
	Address     string
	Amount      float64
	Currency    string
	EscrowTx    *string
	ContractRef *string
	LockedAt    *time.Time
}

// Terminal reports whether the offer has reached a final state.
func (o *EscrowOffer) Terminal() bool {
	return o.Status == OfferStatusCompleted || o.Status == OfferStatusCancelled
}

// SellerLegLocked reports whether seller funds are currently held in escrow.
func (o *EscrowOffer) SellerLegLocked() bool {
	return o.SellerEscrowTx != nil
}

// BuyerLegLocked reports whether buyer funds are currently held in escrow.
// An accepted offer on the seller's own chain has a buyer address but no
// buyer-side lock.
func (o *EscrowOffer) BuyerLegLocked() bool {
	return o.BuyerEscrowTx != nil
}
