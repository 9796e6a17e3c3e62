package exchange

import (
	"context"
	"time"
)

// Sub-accounts used by the settlement pipeline. Deposits land on the main
// account; conversion orders execute from the trade account.
const (
	AccountMain  = "main"
	AccountTrade = "trade"
)

// Convert order terminal and non-terminal states as reported by the
// exchange.
const (
	OrderStatusPending = "PENDING"
	OrderStatusFilled  = "FILLED"
	OrderStatusFailed  = "FAILED"
)

// Deposit is an external deposit observed by the exchange.
type Deposit struct {
	ID       string    `json:"id"`
	Currency string    `json:"currency"`
	Amount   float64   `json:"amount,string"`
	Address  string    `json:"address"`
	From     string    `json:"from"`
	Time     time.Time `json:"time"`
}

// Quote is a conversion quote, valid for a short window.
type Quote struct {
	QuoteID      string  `json:"quote_id"`
	FromCurrency string  `json:"from_currency"`
	ToCurrency   string  `json:"to_currency"`
	FromAmount   float64 `json:"from_amount,string"`
	ToAmount     float64 `json:"to_amount,string"`
}

// OrderResult is the polled state of a placed conversion order.
type OrderResult struct {
	OrderID  string  `json:"order_id"`
	Status   string  `json:"status"`
	ToAmount float64 `json:"to_amount,string"`
}

// Client is the exchange API surface consumed by the deposit matcher and
// the settlement orchestrator.
type Client interface {
	// ListRecentDeposits returns deposits observed within the lookback
	// window, in the order reported by the exchange.
	ListRecentDeposits(ctx context.Context, lookback time.Duration) ([]Deposit, error)

	// GetConvertQuote requests a quote for converting amount of the from
	// currency into the to currency.
	GetConvertQuote(ctx context.Context, fromCurrency, toCurrency string, amount float64) (*Quote, error)

	// PlaceConvertOrder submits a previously obtained quote for execution.
	PlaceConvertOrder(ctx context.Context, quoteID string) (string, error)

	// GetConvertOrderStatus polls a placed order.
	GetConvertOrderStatus(ctx context.Context, orderID string) (*OrderResult, error)

	// InnerTransfer moves funds between sub-accounts.
	InnerTransfer(ctx context.Context, currency string, amount float64, fromAccount, toAccount string) error

	// Withdraw sends funds to an external address and returns the
	// exchange-side withdrawal id.
	Withdraw(ctx context.Context, currency string, amount float64, address, memo string) (string, error)
}
