package api

import (
	"time"

	"bridge/apps/bridge/internal/model"
)

// CreateIntentRequest is the request body for creating an exchange intent
type CreateIntentRequest struct {
	FromCurrency     string  `json:"from_currency"`
	FromAmount       float64 `json:"from_amount"`
	ToCurrency       string  `json:"to_currency"`
	RecipientAddress string  `json:"recipient_address,omitempty"`
	UserID           string  `json:"user_id,omitempty"`
}

// IntentResponse is the API shape of an exchange intent
type IntentResponse struct {
	ExchangeID       string    `json:"exchange_id"`
	FromCurrency     string    `json:"from_currency"`
	FromAmount       float64   `json:"from_amount"`
	ToCurrency       string    `json:"to_currency"`
	ToAmount         float64   `json:"to_amount"`
	DepositAddress   string    `json:"deposit_address"`
	DepositCurrency  string    `json:"deposit_currency"`
	RecipientAddress *string   `json:"recipient_address,omitempty"`
	Status           string    `json:"status"`
	DepositReceived  bool      `json:"deposit_received"`
	SwapCompleted    bool      `json:"swap_completed"`
	DepositTxID      *string   `json:"deposit_tx_id,omitempty"`
	WithdrawalTxID   *string   `json:"withdrawal_tx_id,omitempty"`
	FeeAmount        *float64  `json:"fee_amount,omitempty"`
	NetAmount        *float64  `json:"net_amount,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

func intentResponse(intent *model.ExchangeIntent) IntentResponse {
	return IntentResponse{
		ExchangeID:       intent.ExchangeID,
		FromCurrency:     intent.FromCurrency,
		FromAmount:       intent.FromAmount,
		ToCurrency:       intent.ToCurrency,
		ToAmount:         intent.ToAmount,
		DepositAddress:   intent.DepositAddress,
		DepositCurrency:  intent.DepositCurrency,
		RecipientAddress: intent.RecipientAddress,
		Status:           intent.Status,
		DepositReceived:  intent.DepositReceived,
		SwapCompleted:    intent.SwapCompleted,
		DepositTxID:      intent.DepositTxID,
		WithdrawalTxID:   intent.WithdrawalTxID,
		FeeAmount:        intent.FeeAmount,
		NetAmount:        intent.NetAmount,
		CreatedAt:        intent.CreatedAt,
		ExpiresAt:        intent.ExpiresAt,
	}
}

// StatusOverrideRequest is the manual operator override body
type StatusOverrideRequest struct {
	Status string `json:"status"`
}

// CreateOfferRequest is the request body for creating an escrow offer
type CreateOfferRequest struct {
	SellerAddress string  `json:"seller_address"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	IsPublic      bool    `json:"is_public"`
	Description   string  `json:"description,omitempty"`
	Terms         string  `json:"terms,omitempty"`
	TTLMinutes    int     `json:"ttl_minutes,omitempty"`
}

// LockSellerRequest carries the seller's signing material for the lock
type LockSellerRequest struct {
	SigningKey string `json:"signing_key"`
}

// AcceptOfferRequest is the buyer side of an accept call
type AcceptOfferRequest struct {
	Address    string  `json:"address"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	SigningKey string  `json:"signing_key,omitempty"`
}

// CancelOfferRequest carries the mandatory cancellation reason
type CancelOfferRequest struct {
	Reason string `json:"reason"`
}

// OfferResponse is the API shape of an escrow offer
type OfferResponse struct {
	OfferID            string     `json:"offer_id"`
	Status             string     `json:"status"`
	SellerChain        string     `json:"seller_chain"`
	SellerAddress      string     `json:"seller_address"`
	SellerAmount       float64    `json:"seller_amount"`
	SellerCurrency     string     `json:"seller_currency"`
	SellerEscrowTx     *string    `json:"seller_escrow_tx,omitempty"`
	SellerLockedAt     *time.Time `json:"seller_locked_at,omitempty"`
	BuyerChain         *string    `json:"buyer_chain,omitempty"`
	BuyerAddress       *string    `json:"buyer_address,omitempty"`
	BuyerAmount        *float64   `json:"buyer_amount,omitempty"`
	BuyerCurrency      *string    `json:"buyer_currency,omitempty"`
	BuyerEscrowTx      *string    `json:"buyer_escrow_tx,omitempty"`
	BuyerLockedAt      *time.Time `json:"buyer_locked_at,omitempty"`
	AdminFeePercentage float64    `json:"admin_fee_percentage"`
	AdminFeeAmount     float64    `json:"admin_fee_amount"`
	IsPublic           bool       `json:"is_public"`
	Description        string     `json:"description,omitempty"`
	Terms              string     `json:"terms,omitempty"`
	CancelReason       *string    `json:"cancel_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
}

func offerResponse(offer *model.EscrowOffer) OfferResponse {
	return OfferResponse{
		OfferID:            offer.OfferID,
		Status:             offer.Status,
		SellerChain:        offer.SellerChain,
		SellerAddress:      offer.SellerAddress,
		SellerAmount:       offer.SellerAmount,
		SellerCurrency:     offer.SellerCurrency,
		SellerEscrowTx:     offer.SellerEscrowTx,
		SellerLockedAt:     offer.SellerLockedAt,
		BuyerChain:         offer.BuyerChain,
		BuyerAddress:       offer.BuyerAddress,
		BuyerAmount:        offer.BuyerAmount,
		BuyerCurrency:      offer.BuyerCurrency,
		BuyerEscrowTx:      offer.BuyerEscrowTx,
		BuyerLockedAt:      offer.BuyerLockedAt,
		AdminFeePercentage: offer.AdminFeePercentage,
		AdminFeeAmount:     offer.AdminFeeAmount,
		IsPublic:           offer.IsPublic,
		Description:        offer.Description,
		Terms:              offer.Terms,
		CancelReason:       offer.CancelReason,
		CreatedAt:          offer.CreatedAt,
		ExpiresAt:          offer.ExpiresAt,
	}
}

// ErrorResponse is the API error shape
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
