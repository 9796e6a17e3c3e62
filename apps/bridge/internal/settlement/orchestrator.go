package settlement

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"bridge/apps/bridge/internal/events"
	"bridge/apps/bridge/internal/exchange"
	"bridge/apps/bridge/internal/fees"
	"bridge/apps/bridge/internal/metrics"
	"bridge/apps/bridge/internal/model"
)

// Once the conversion order has filled, money has moved: anything that
// goes wrong after that point is parked in_review for an operator, never
// auto-failed. fillDeviationLimit is the allowed relative gap between the
// quoted and the filled amount before a fill is treated as inconsistent.
const fillDeviationLimit = 0.10

// IntentStore is the intent persistence surface the orchestrator needs.
type IntentStore interface {
	SetOrderID(exchangeID, orderID string) error
	MarkCompleted(exchangeID string, withdrawalTxID *string, toAmount, feeAmount, netAmount float64) (bool, error)
	MarkFailed(exchangeID, reason string) (bool, error)
	MarkInReview(exchangeID, reason string) (bool, error)
}

// EventRecorder stages lifecycle events in the outbox.
type EventRecorder interface {
	Record(aggregateID, eventType string, payload interface{}) error
}

// Orchestrator drives the conversion pipeline for a matched deposit:
// quote, rebalance to the trade account, convert, poll, rebalance back,
// withdraw. Every step is single-shot except the order poll; a failure
// fails the whole intent rather than retrying, to keep money movement
// at-most-once.
type Orchestrator struct {
	exchangeClient exchange.Client
	intents        IntentStore
	feePolicy      *fees.Policy
	eventsOut      EventRecorder
	logger         *zap.Logger

	settleDelay  time.Duration
	pollInterval time.Duration
	pollAttempts int
}

func NewOrchestrator(
	exchangeClient exchange.Client,
	intents IntentStore,
	feePolicy *fees.Policy,
	eventsOut EventRecorder,
	settleDelay, pollInterval time.Duration,
	pollAttempts int,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		exchangeClient: exchangeClient,
		intents:        intents,
		feePolicy:      feePolicy,
		eventsOut:      eventsOut,
		logger:         logger.With(zap.String("module", "settlement")),
		settleDelay:    settleDelay,
		pollInterval:   pollInterval,
		pollAttempts:   pollAttempts,
	}
}

// Settle runs the pipeline for an intent already claimed into processing.
func (o *Orchestrator) Settle(ctx context.Context, intent model.ExchangeIntent, depositTxID string, depositAmount float64) {
	started := time.Now()
	logger := o.logger.With(zap.String("exchange_id", intent.ExchangeID))

	logger.Info("Starting settlement pipeline",
		zap.String("deposit_tx_id", depositTxID),
		zap.Float64("deposit_amount", depositAmount),
		zap.String("from", intent.DepositCurrency),
		zap.String("to", intent.ToCurrency))

	outcome := o.run(ctx, intent, depositAmount, logger)
	metrics.SettlementOutcomes.WithLabelValues(outcome).Inc()
	metrics.SettlementDuration.Observe(time.Since(started).Seconds())
}

func (o *Orchestrator) run(ctx context.Context, intent model.ExchangeIntent, depositAmount float64, logger *zap.Logger) string {
	// Step 1: quote.
	quote, err := o.exchangeClient.GetConvertQuote(ctx, intent.DepositCurrency, intent.ToCurrency, depositAmount)
	if err != nil {
		return o.fail(intent.ExchangeID, "quote failed", err, logger)
	}

	// Step 2: move the deposit to the trading sub-account.
	if err := o.exchangeClient.InnerTransfer(ctx, intent.DepositCurrency, depositAmount, exchange.AccountMain, exchange.AccountTrade); err != nil {
		return o.fail(intent.ExchangeID, "transfer failed", err, logger)
	}

	// Step 3: let the transfer post before ordering.
	select {
	case <-time.After(o.settleDelay):
	case <-ctx.Done():
		return o.fail(intent.ExchangeID, "settlement cancelled", ctx.Err(), logger)
	}

	// Step 4: place the conversion order.
	orderID, err := o.exchangeClient.PlaceConvertOrder(ctx, quote.QuoteID)
	if err != nil {
		return o.fail(intent.ExchangeID, "convert order rejected", err, logger)
	}
	if err := o.intents.SetOrderID(intent.ExchangeID, orderID); err != nil {
		logger.Error("Failed to persist order id", zap.Error(err))
	}

	// Step 5: poll the order to a terminal state, bounded attempts. On
	// timeout the funds stay in the trading sub-account for manual
	// recovery; that is a deliberate safety stop, not loss.
	filled, err := o.pollOrder(ctx, orderID, logger)
	if err != nil {
		return o.fail(intent.ExchangeID, err.Error(), nil, logger)
	}

	// Funds have converted; from here every problem is an operator case.
	if quote.ToAmount > 0 && math.Abs(filled-quote.ToAmount) > fillDeviationLimit*quote.ToAmount {
		return o.review(intent.ExchangeID,
			fmt.Sprintf("filled amount %.8f deviates from quote %.8f", filled, quote.ToAmount), logger)
	}

	// Step 6: move the converted funds back to the main account.
	if err := o.exchangeClient.InnerTransfer(ctx, intent.ToCurrency, filled, exchange.AccountTrade, exchange.AccountMain); err != nil {
		return o.review(intent.ExchangeID, "transfer back failed: "+err.Error(), logger)
	}

	// Fee is computed from what was actually received, not from the
	// amount originally requested.
	netAmount, feeAmount, err := o.feePolicy.NetAmount(intent.ToCurrency, filled)
	if err != nil {
		return o.review(intent.ExchangeID, "fee computation failed: "+err.Error(), logger)
	}

	// Step 7: withdraw to the recipient, if one was supplied.
	var withdrawalTxID *string
	if intent.RecipientAddress != nil {
		withdrawalID, err := o.exchangeClient.Withdraw(ctx, intent.ToCurrency, netAmount, *intent.RecipientAddress, "")
		if err != nil {
			return o.review(intent.ExchangeID, "withdrawal failed: "+err.Error(), logger)
		}
		withdrawalTxID = &withdrawalID
	} else {
		logger.Info("No recipient address, leaving funds for manual payout")
	}

	// Step 8: mark complete. The conditional update only matches the
	// processing status, so a concurrent expiry can never win over this.
	done, err := o.intents.MarkCompleted(intent.ExchangeID, withdrawalTxID, filled, feeAmount, netAmount)
	if err != nil {
		logger.Error("Failed to mark intent completed", zap.Error(err))
		return "error"
	}
	if !done {
		logger.Error("Intent left processing before completion could be recorded")
		return "error"
	}

	if err := o.eventsOut.Record(intent.ExchangeID, events.IntentCompleted, map[string]interface{}{
		"order_id":   orderID,
		"to_amount":  filled,
		"fee_amount": feeAmount,
		"net_amount": netAmount,
	}); err != nil {
		logger.Error("Failed to record completion event", zap.Error(err))
	}

	logger.Info("Settlement completed",
		zap.Float64("to_amount", filled),
		zap.Float64("fee_amount", feeAmount),
		zap.Float64("net_amount", netAmount))
	return "completed"
}

// pollOrder polls until the order reaches a terminal state or attempts run
// out. Transient poll errors consume attempts rather than failing outright.
func (o *Orchestrator) pollOrder(ctx context.Context, orderID string, logger *zap.Logger) (float64, error) {
	for attempt := 1; attempt <= o.pollAttempts; attempt++ {
		select {
		case <-time.After(o.pollInterval):
		case <-ctx.Done():
			return 0, fmt.Errorf("order poll cancelled")
		}

		result, err := o.exchangeClient.GetConvertOrderStatus(ctx, orderID)
		if err != nil {
			logger.Warn("Order status poll failed",
				zap.String("order_id", orderID),
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		switch result.Status {
		case exchange.OrderStatusFilled:
			return result.ToAmount, nil
		case exchange.OrderStatusFailed:
			return 0, fmt.Errorf("convert order failed")
		}
	}

	return 0, fmt.Errorf("order timeout")
}

func (o *Orchestrator) fail(exchangeID, reason string, cause error, logger *zap.Logger) string {
	logger.Error("Settlement failed", zap.String("reason", reason), zap.Error(cause))

	if _, err := o.intents.MarkFailed(exchangeID, reason); err != nil {
		logger.Error("Failed to persist failure", zap.Error(err))
	}
	if err := o.eventsOut.Record(exchangeID, events.IntentFailed, map[string]string{"reason": reason}); err != nil {
		logger.Error("Failed to record failure event", zap.Error(err))
	}
	return "failed"
}

func (o *Orchestrator) review(exchangeID, reason string, logger *zap.Logger) string {
	logger.Error("Settlement needs operator review", zap.String("reason", reason))

	if _, err := o.intents.MarkInReview(exchangeID, reason); err != nil {
		logger.Error("Failed to persist review state", zap.Error(err))
	}
	if err := o.eventsOut.Record(exchangeID, events.IntentInReview, map[string]string{"reason": reason}); err != nil {
		logger.Error("Failed to record review event", zap.Error(err))
	}
	return "in_review"
}
