package matcher

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"bridge/apps/bridge/internal/events"
	"bridge/apps/bridge/internal/exchange"
	"bridge/apps/bridge/internal/metrics"
	"bridge/apps/bridge/internal/model"
)

// IntentStore is the intent persistence surface the matcher needs.
type IntentStore interface {
	ListActive(now time.Time) ([]model.ExchangeIntent, error)
	ClaimProcessing(exchangeID, depositTxID string, depositAmount float64) (bool, error)
}

// DepositStore is the persisted processed-deposit set.
type DepositStore interface {
	ClaimDeposit(deposit model.ProcessedDeposit) (bool, error)
	AttachIntent(depositID, exchangeID string) (bool, error)
	ListUnmatched() ([]model.ProcessedDeposit, error)
}

// Settler receives matched deposits for pipeline execution.
type Settler interface {
	Settle(ctx context.Context, intent model.ExchangeIntent, depositTxID string, depositAmount float64)
}

// EventRecorder stages lifecycle events in the outbox.
type EventRecorder interface {
	Record(aggregateID, eventType string, payload interface{}) error
}

// Matcher polls the exchange for new deposits and matches each one to a
// pending intent by currency, address, and amount tolerance. All the
// idempotence lives in the persistence layer: the deposit-id primary key
// and the pending->processing conditional update mean a deposit triggers
// settlement exactly once no matter how many ticks or instances see it.
type Matcher struct {
	exchangeClient exchange.Client
	intents        IntentStore
	deposits       DepositStore
	settler        Settler
	eventsOut      EventRecorder
	logger         *zap.Logger

	interval  time.Duration
	lookback  time.Duration
	tolerance float64
}

func NewMatcher(
	exchangeClient exchange.Client,
	intents IntentStore,
	deposits DepositStore,
	settler Settler,
	eventsOut EventRecorder,
	interval, lookback time.Duration,
	tolerance float64,
	logger *zap.Logger,
) *Matcher {
	return &Matcher{
		exchangeClient: exchangeClient,
		intents:        intents,
		deposits:       deposits,
		settler:        settler,
		eventsOut:      eventsOut,
		logger:         logger.With(zap.String("module", "deposit-matcher")),
		interval:       interval,
		lookback:       lookback,
		tolerance:      tolerance,
	}
}

// Start runs the matching loop until ctx is done. Each tick runs to
// completion before the next is scheduled.
func (m *Matcher) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.logger.Error("Deposit matching tick failed", zap.Error(err))
			}
		}
	}
}

// Tick performs one matching pass.
func (m *Matcher) Tick(ctx context.Context) error {
	intents, err := m.intents.ListActive(time.Now())
	if err != nil {
		return err
	}
	metrics.ActiveIntents.Set(float64(len(intents)))

	deposits, err := m.exchangeClient.ListRecentDeposits(ctx, m.lookback)
	if err != nil {
		return err
	}

	// Intents claimed within this tick must not match a second deposit.
	claimed := make(map[string]bool)

	for _, deposit := range deposits {
		m.processDeposit(ctx, deposit, intents, claimed)
	}

	// Deposits stored as unmatched stay eligible: a later intent with the
	// same address and currency can still pick them up. No alert is
	// raised here; that happened once, when the deposit was first stored.
	stored, err := m.deposits.ListUnmatched()
	if err != nil {
		return err
	}
	for _, d := range stored {
		m.reclaimStored(ctx, d, intents, claimed)
	}

	return nil
}

func (m *Matcher) processDeposit(ctx context.Context, deposit exchange.Deposit, intents []model.ExchangeIntent, claimed map[string]bool) {
	match := m.findMatch(deposit.Currency, deposit.Address, deposit.Amount, intents, claimed)
	if match == nil {
		m.recordUnmatched(deposit)
		return
	}

	intentID := match.ExchangeID
	fresh, err := m.deposits.ClaimDeposit(model.ProcessedDeposit{
		DepositID:     deposit.ID,
		Currency:      deposit.Currency,
		Address:       deposit.Address,
		Amount:        deposit.Amount,
		MatchedIntent: &intentID,
	})
	if err != nil {
		m.logger.Error("Failed to claim deposit", zap.String("deposit_id", deposit.ID), zap.Error(err))
		return
	}
	if !fresh {
		// Seen before. Either already consumed, or stored unmatched in an
		// earlier tick; the reclaim pass handles the latter.
		return
	}

	m.dispatch(ctx, *match, deposit.ID, deposit.Amount, claimed)
}

func (m *Matcher) reclaimStored(ctx context.Context, deposit model.ProcessedDeposit, intents []model.ExchangeIntent, claimed map[string]bool) {
	match := m.findMatch(deposit.Currency, deposit.Address, deposit.Amount, intents, claimed)
	if match == nil {
		return
	}

	attached, err := m.deposits.AttachIntent(deposit.DepositID, match.ExchangeID)
	if err != nil {
		m.logger.Error("Failed to attach stored deposit", zap.String("deposit_id", deposit.DepositID), zap.Error(err))
		return
	}
	if !attached {
		return
	}

	m.logger.Info("Reclaimed previously unmatched deposit",
		zap.String("deposit_id", deposit.DepositID),
		zap.String("exchange_id", match.ExchangeID))
	m.dispatch(ctx, *match, deposit.DepositID, deposit.Amount, claimed)
}

func (m *Matcher) dispatch(ctx context.Context, intent model.ExchangeIntent, depositTxID string, amount float64, claimed map[string]bool) {
	won, err := m.intents.ClaimProcessing(intent.ExchangeID, depositTxID, amount)
	if err != nil {
		m.logger.Error("Failed to claim intent", zap.String("exchange_id", intent.ExchangeID), zap.Error(err))
		return
	}
	if !won {
		// The intent left pending under us (concurrent match or expiry).
		// The deposit is already recorded against it; operators can see
		// both sides, so this is reconciliation, not loss.
		m.logger.Warn("Deposit consumed but intent no longer pending",
			zap.String("exchange_id", intent.ExchangeID),
			zap.String("deposit_tx_id", depositTxID))
		return
	}

	claimed[intent.ExchangeID] = true
	metrics.DepositsMatched.WithLabelValues(intent.DepositCurrency).Inc()

	if err := m.eventsOut.Record(intent.ExchangeID, events.IntentProcessing, map[string]interface{}{
		"deposit_tx_id":  depositTxID,
		"deposit_amount": amount,
	}); err != nil {
		m.logger.Error("Failed to record processing event", zap.Error(err))
	}

	m.logger.Info("Matched deposit to intent",
		zap.String("exchange_id", intent.ExchangeID),
		zap.String("deposit_tx_id", depositTxID),
		zap.Float64("deposit_amount", amount))

	go m.settler.Settle(ctx, intent, depositTxID, amount)
}

// findMatch returns the first active intent with the deposit's currency
// and address whose expected amount is within tolerance. ListActive
// returns intents oldest first, so ties break toward the earliest intent.
func (m *Matcher) findMatch(currency, address string, amount float64, intents []model.ExchangeIntent, claimed map[string]bool) *model.ExchangeIntent {
	for i := range intents {
		intent := &intents[i]
		if claimed[intent.ExchangeID] {
			continue
		}
		if intent.DepositCurrency != currency || intent.DepositAddress != address {
			continue
		}
		if withinTolerance(amount, intent.FromAmount, m.tolerance) {
			return intent
		}
	}
	return nil
}

func (m *Matcher) recordUnmatched(deposit exchange.Deposit) {
	fresh, err := m.deposits.ClaimDeposit(model.ProcessedDeposit{
		DepositID: deposit.ID,
		Currency:  deposit.Currency,
		Address:   deposit.Address,
		Amount:    deposit.Amount,
	})
	if err != nil {
		m.logger.Error("Failed to record unmatched deposit", zap.String("deposit_id", deposit.ID), zap.Error(err))
		return
	}
	if !fresh {
		return // already logged on first sight
	}

	metrics.DepositsUnmatched.Inc()
	m.logger.Warn("Deposit did not match any intent, held for reconciliation",
		zap.String("deposit_id", deposit.ID),
		zap.String("currency", deposit.Currency),
		zap.String("address", deposit.Address),
		zap.Float64("amount", deposit.Amount))

	if err := m.eventsOut.Record(deposit.ID, events.DepositUnmatched, deposit); err != nil {
		m.logger.Error("Failed to record unmatched event", zap.Error(err))
	}
}

// withinTolerance reports whether observed is within the relative band
// around expected: |observed-expected| <= tolerance*expected.
func withinTolerance(observed, expected, tolerance float64) bool {
	return math.Abs(observed-expected) <= tolerance*expected
}
