package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bridge/apps/bridge/internal/assets"
	"bridge/apps/bridge/internal/chain"
	"bridge/apps/bridge/internal/events"
	"bridge/apps/bridge/internal/fees"
	"bridge/apps/bridge/internal/metrics"
	"bridge/apps/bridge/internal/model"
)

var (
	ErrOfferNotFound       = errors.New("offer not found")
	ErrInvalidTransition   = errors.New("offer is not in a state that allows this operation")
	ErrOfferExpired        = errors.New("offer has expired")
	ErrReasonRequired      = errors.New("a cancellation reason is required")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// OfferStore is the offer persistence surface the coordinator needs.
type OfferStore interface {
	CreateOffer(offer model.EscrowOffer) error
	GetByID(offerID string) (*model.EscrowOffer, error)
	MarkSellerLocked(offerID, escrowTx, contractRef string, lockedAt time.Time) (bool, error)
	MarkBuyerAccepted(offerID string, leg model.BuyerLeg) (bool, error)
	MarkCompleted(offerID string) (bool, error)
	MarkCancelled(offerID, reason string) (bool, error)
}

// EventRecorder stages lifecycle events in the outbox.
type EventRecorder interface {
	Record(aggregateID, eventType string, payload interface{}) error
}

// Coordinator owns the escrow offer lifecycle. The two legs are
// independent escrows, not an atomic swap: between the seller locking and
// the buyer locking (or never locking) one party's funds sit at custodial
// risk. That window is the product's trust model and is preserved here.
type Coordinator struct {
	offers    OfferStore
	chains    *chain.Registry
	registry  *assets.Registry
	feePolicy *fees.Policy
	eventsOut EventRecorder
	logger    *zap.Logger
}

func NewCoordinator(
	offers OfferStore,
	chains *chain.Registry,
	registry *assets.Registry,
	feePolicy *fees.Policy,
	eventsOut EventRecorder,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		offers:    offers,
		chains:    chains,
		registry:  registry,
		feePolicy: feePolicy,
		eventsOut: eventsOut,
		logger:    logger.With(zap.String("module", "escrow")),
	}
}

// CreateParams describes a new offer's seller side.
type CreateParams struct {
	SellerAddress string
	Amount        float64
	Currency      string
	IsPublic      bool
	Description   string
	Terms         string
	ExpiresAt     time.Time
}

// CreateOffer validates the seller side and persists a new offer with the
// admin fee frozen from the current fee policy.
func (c *Coordinator) CreateOffer(ctx context.Context, params CreateParams) (*model.EscrowOffer, error) {
	currency, ok := c.registry.GetBySymbol(params.Currency)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, params.Currency)
	}
	if params.Amount < currency.MinAmount {
		return nil, fmt.Errorf("amount %f below minimum %f for %s", params.Amount, currency.MinAmount, params.Currency)
	}

	adapter, err := c.chains.Get(currency.Chain)
	if err != nil {
		return nil, err
	}
	if !adapter.ValidateAddress(params.SellerAddress) {
		return nil, fmt.Errorf("invalid seller address %s for chain %s", params.SellerAddress, currency.Chain)
	}

	feePct, err := c.feePolicy.FeePercentage(params.Currency)
	if err != nil {
		return nil, err
	}
	feeAmount, err := c.feePolicy.ComputeFee(params.Currency, params.Amount)
	if err != nil {
		return nil, err
	}

	offer := model.EscrowOffer{
		OfferID:            uuid.New().String(),
		Status:             model.OfferStatusCreated,
		SellerChain:        currency.Chain,
		SellerAddress:      params.SellerAddress,
		SellerAmount:       params.Amount,
		SellerCurrency:     params.Currency,
		AdminFeePercentage: feePct,
		AdminFeeAmount:     feeAmount,
		IsPublic:           params.IsPublic,
		Description:        params.Description,
		Terms:              params.Terms,
		CreatedAt:          time.Now(),
		ExpiresAt:          params.ExpiresAt,
	}

	if err := c.offers.CreateOffer(offer); err != nil {
		return nil, err
	}

	metrics.EscrowTransitions.WithLabelValues(model.OfferStatusCreated).Inc()
	if err := c.eventsOut.Record(offer.OfferID, events.OfferCreated, offer); err != nil {
		c.logger.Error("Failed to record offer created event", zap.Error(err))
	}

	return &offer, nil
}

// LockSeller locks the seller leg via the seller chain's adapter. Failure
// leaves the offer in created.
func (c *Coordinator) LockSeller(ctx context.Context, offerID, signingKey string) (*model.EscrowOffer, error) {
	offer, err := c.getOffer(offerID)
	if err != nil {
		return nil, err
	}
	if offer.Status != model.OfferStatusCreated {
		return nil, ErrInvalidTransition
	}
	if time.Now().After(offer.ExpiresAt) {
		return nil, ErrOfferExpired
	}

	adapter, err := c.chains.Get(offer.SellerChain)
	if err != nil {
		return nil, err
	}

	lock, err := adapter.LockEscrow(ctx, chain.LockRequest{
		OwnerAddress: offer.SellerAddress,
		SigningKey:   signingKey,
		Amount:       offer.SellerAmount,
		Currency:     offer.SellerCurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("seller lock failed: %w", err)
	}

	lockedAt := time.Now()
	ok, err := c.offers.MarkSellerLocked(offerID, lock.TxRef, lock.ContractRef, lockedAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Funds are locked but the offer moved under us; this needs an
		// operator, not a silent retry.
		c.logger.Error("Seller funds locked but offer left created state",
			zap.String("offer_id", offerID),
			zap.String("escrow_tx", lock.TxRef))
		return nil, ErrInvalidTransition
	}

	metrics.EscrowTransitions.WithLabelValues(model.OfferStatusSellerLocked).Inc()
	if err := c.eventsOut.Record(offerID, events.OfferSellerLocked, map[string]string{
		"escrow_tx":    lock.TxRef,
		"contract_ref": lock.ContractRef,
	}); err != nil {
		c.logger.Error("Failed to record seller lock event", zap.Error(err))
	}

	return c.getOffer(offerID)
}

// AcceptParams describes the buyer side of an accept call. SigningKey is
// required only when the buyer settles on a different chain and must lock
// their own leg.
type AcceptParams struct {
	Address    string
	Amount     float64
	Currency   string
	SigningKey string
}

// AcceptOffer records the buyer leg. When the buyer's chain differs from
// the seller's, the buyer independently locks funds on their own chain.
func (c *Coordinator) AcceptOffer(ctx context.Context, offerID string, params AcceptParams) (*model.EscrowOffer, error) {
	offer, err := c.getOffer(offerID)
	if err != nil {
		return nil, err
	}
	if offer.Status != model.OfferStatusSellerLocked {
		return nil, ErrInvalidTransition
	}
	if time.Now().After(offer.ExpiresAt) {
		return nil, ErrOfferExpired
	}

	currency, ok := c.registry.GetBySymbol(params.Currency)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, params.Currency)
	}

	adapter, err := c.chains.Get(currency.Chain)
	if err != nil {
		return nil, err
	}
	if !adapter.ValidateAddress(params.Address) {
		return nil, fmt.Errorf("invalid buyer address %s for chain %s", params.Address, currency.Chain)
	}

	leg := model.BuyerLeg{
		Chain:    currency.Chain,
		Address:  params.Address,
		Amount:   params.Amount,
		Currency: params.Currency,
	}

	if currency.Chain != offer.SellerChain {
		lock, err := adapter.LockEscrow(ctx, chain.LockRequest{
			OwnerAddress: params.Address,
			SigningKey:   params.SigningKey,
			Amount:       params.Amount,
			Currency:     params.Currency,
		})
		if err != nil {
			return nil, fmt.Errorf("buyer lock failed: %w", err)
		}
		now := time.Now()
		leg.EscrowTx = &lock.TxRef
		leg.ContractRef = &lock.ContractRef
		leg.LockedAt = &now
	}

	ok2, err := c.offers.MarkBuyerAccepted(offerID, leg)
	if err != nil {
		return nil, err
	}
	if !ok2 {
		if leg.EscrowTx != nil {
			c.logger.Error("Buyer funds locked but offer left seller_locked state",
				zap.String("offer_id", offerID),
				zap.String("escrow_tx", *leg.EscrowTx))
		}
		return nil, ErrInvalidTransition
	}

	metrics.EscrowTransitions.WithLabelValues(model.OfferStatusBothLocked).Inc()
	if err := c.eventsOut.Record(offerID, events.OfferBothLocked, leg); err != nil {
		c.logger.Error("Failed to record accept event", zap.Error(err))
	}

	return c.getOffer(offerID)
}

// Release completes the trade: each leg's locked funds go to the other
// party. Both legs must individually succeed before the offer completes.
// Admin fee collection happens after release, via the fee_due event; it
// never blocks either leg.
func (c *Coordinator) Release(ctx context.Context, offerID string) (*model.EscrowOffer, error) {
	offer, err := c.getOffer(offerID)
	if err != nil {
		return nil, err
	}
	if offer.Status != model.OfferStatusBothLocked {
		return nil, ErrInvalidTransition
	}

	sellerAdapter, err := c.chains.Get(offer.SellerChain)
	if err != nil {
		return nil, err
	}

	// Seller leg goes to the buyer.
	sellerLock := &chain.EscrowLock{TxRef: deref(offer.SellerEscrowTx), ContractRef: deref(offer.SellerContractRef)}
	sellerReleaseTx, err := sellerAdapter.ReleaseEscrow(ctx, sellerLock, deref(offer.BuyerAddress), offer.SellerAmount)
	if err != nil {
		return nil, fmt.Errorf("seller leg release failed: %w", err)
	}

	// Buyer leg, when locked, goes to the seller.
	var buyerReleaseTx string
	if offer.BuyerLegLocked() {
		buyerAdapter, err := c.chains.Get(deref(offer.BuyerChain))
		if err != nil {
			return nil, err
		}
		buyerLock := &chain.EscrowLock{TxRef: deref(offer.BuyerEscrowTx), ContractRef: deref(offer.BuyerContractRef)}
		buyerReleaseTx, err = buyerAdapter.ReleaseEscrow(ctx, buyerLock, offer.SellerAddress, deref64(offer.BuyerAmount))
		if err != nil {
			// Seller leg already paid out; operators must finish the
			// buyer leg by hand. The offer stays both_locked.
			c.logger.Error("Buyer leg release failed after seller leg paid out",
				zap.String("offer_id", offerID),
				zap.String("seller_release_tx", sellerReleaseTx), zap.Error(err))
			return nil, fmt.Errorf("buyer leg release failed: %w", err)
		}
	}

	ok, err := c.offers.MarkCompleted(offerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}

	metrics.EscrowTransitions.WithLabelValues(model.OfferStatusCompleted).Inc()
	if err := c.eventsOut.Record(offerID, events.OfferCompleted, map[string]string{
		"seller_release_tx": sellerReleaseTx,
		"buyer_release_tx":  buyerReleaseTx,
	}); err != nil {
		c.logger.Error("Failed to record release event", zap.Error(err))
	}
	if err := c.eventsOut.Record(offerID, events.EscrowFeeDue, map[string]interface{}{
		"currency": offer.SellerCurrency,
		"amount":   offer.AdminFeeAmount,
	}); err != nil {
		c.logger.Error("Failed to record fee due event", zap.Error(err))
	}

	return c.getOffer(offerID)
}

// Cancel terminates a non-terminal offer with a mandatory reason,
// refunding any leg already locked to its original owner.
func (c *Coordinator) Cancel(ctx context.Context, offerID, reason string) (*model.EscrowOffer, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}

	offer, err := c.getOffer(offerID)
	if err != nil {
		return nil, err
	}
	if offer.Terminal() {
		return nil, ErrInvalidTransition
	}

	if offer.SellerLegLocked() {
		adapter, err := c.chains.Get(offer.SellerChain)
		if err != nil {
			return nil, err
		}
		lock := &chain.EscrowLock{TxRef: deref(offer.SellerEscrowTx), ContractRef: deref(offer.SellerContractRef)}
		if _, err := adapter.RefundEscrow(ctx, lock, offer.SellerAddress, offer.SellerAmount); err != nil {
			return nil, fmt.Errorf("seller leg refund failed: %w", err)
		}
	}

	if offer.BuyerLegLocked() {
		adapter, err := c.chains.Get(deref(offer.BuyerChain))
		if err != nil {
			return nil, err
		}
		lock := &chain.EscrowLock{TxRef: deref(offer.BuyerEscrowTx), ContractRef: deref(offer.BuyerContractRef)}
		if _, err := adapter.RefundEscrow(ctx, lock, deref(offer.BuyerAddress), deref64(offer.BuyerAmount)); err != nil {
			return nil, fmt.Errorf("buyer leg refund failed: %w", err)
		}
	}

	ok, err := c.offers.MarkCancelled(offerID, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}

	metrics.EscrowTransitions.WithLabelValues(model.OfferStatusCancelled).Inc()
	if err := c.eventsOut.Record(offerID, events.OfferCancelled, map[string]string{"reason": reason}); err != nil {
		c.logger.Error("Failed to record cancel event", zap.Error(err))
	}

	return c.getOffer(offerID)
}

func (c *Coordinator) getOffer(offerID string) (*model.EscrowOffer, error) {
	offer, err := c.offers.GetByID(offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, ErrOfferNotFound
	}
	return offer, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func deref64(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
