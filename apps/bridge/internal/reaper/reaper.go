package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bridge/apps/bridge/internal/events"
	"bridge/apps/bridge/internal/metrics"
	"bridge/apps/bridge/internal/model"
)

// IntentStore is the intent persistence surface the reaper needs.
type IntentStore interface {
	ListExpiredPending(now time.Time) ([]model.ExchangeIntent, error)
	MarkExpired(exchangeID string) (bool, error)
}

// OfferStore lists offers past their deadline.
type OfferStore interface {
	ListExpired(now time.Time) ([]model.EscrowOffer, error)
	MarkCancelled(offerID, reason string) (bool, error)
}

// OfferCanceller is the refund-cancel path for offers with locked funds.
// Implemented by the escrow coordinator.
type OfferCanceller interface {
	Cancel(ctx context.Context, offerID, reason string) (*model.EscrowOffer, error)
}

// DepositPruner bounds the processed-deposit set.
type DepositPruner interface {
	Prune(retainDays int) (int64, error)
}

// OutboxPruner drops delivered events past the retention horizon.
type OutboxPruner interface {
	PruneSent(olderThan time.Time) (int64, error)
}

// EventRecorder stages lifecycle events in the outbox.
type EventRecorder interface {
	Record(aggregateID, eventType string, payload interface{}) error
}

// Reaper sweeps intents and offers that outlived their deadline. Expiry is
// a conditional update from pending only: an intent mid-pipeline is left
// alone no matter how stale its deadline, because completion must win over
// expiry. Offers with locked funds are never flipped to cancelled
// directly; they go through the coordinator's refund path.
type Reaper struct {
	intents   IntentStore
	offers    OfferStore
	canceller OfferCanceller
	deposits  DepositPruner
	outbox    OutboxPruner
	eventsOut EventRecorder
	logger    *zap.Logger
	interval  time.Duration

	lastPrune time.Time
}

// Retention horizons for the housekeeping pass. Deposits stay long enough
// for reconciliation; sent outbox events are already delivered to Kafka.
const (
	depositRetainDays = 7
	outboxRetention   = 7 * 24 * time.Hour
	pruneEvery        = time.Hour
)

func NewReaper(
	intents IntentStore,
	offers OfferStore,
	canceller OfferCanceller,
	deposits DepositPruner,
	outbox OutboxPruner,
	eventsOut EventRecorder,
	interval time.Duration,
	logger *zap.Logger,
) *Reaper {
	return &Reaper{
		intents:   intents,
		offers:    offers,
		canceller: canceller,
		deposits:  deposits,
		outbox:    outbox,
		eventsOut: eventsOut,
		logger:    logger.With(zap.String("module", "reaper")),
		interval:  interval,
	}
}

// Start runs the sweep loop until ctx is done.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick performs one sweep.
func (r *Reaper) Tick(ctx context.Context) {
	r.reapIntents()
	r.reapOffers(ctx)
	r.prune()
}

// prune runs the retention housekeeping at most once per pruneEvery.
func (r *Reaper) prune() {
	if time.Since(r.lastPrune) < pruneEvery {
		return
	}
	r.lastPrune = time.Now()

	if n, err := r.deposits.Prune(depositRetainDays); err != nil {
		r.logger.Error("Failed to prune processed deposits", zap.Error(err))
	} else if n > 0 {
		r.logger.Info("Pruned processed deposits", zap.Int64("rows", n))
	}

	if n, err := r.outbox.PruneSent(time.Now().Add(-outboxRetention)); err != nil {
		r.logger.Error("Failed to prune sent events", zap.Error(err))
	} else if n > 0 {
		r.logger.Info("Pruned sent outbox events", zap.Int64("rows", n))
	}
}

func (r *Reaper) reapIntents() {
	expired, err := r.intents.ListExpiredPending(time.Now())
	if err != nil {
		r.logger.Error("Failed to list expired intents", zap.Error(err))
		return
	}

	for _, intent := range expired {
		ok, err := r.intents.MarkExpired(intent.ExchangeID)
		if err != nil {
			r.logger.Error("Failed to expire intent", zap.String("exchange_id", intent.ExchangeID), zap.Error(err))
			continue
		}
		if !ok {
			// A deposit arrived between the list and the update; the
			// matcher won and the intent is in flight.
			continue
		}

		metrics.IntentsExpired.Inc()
		r.logger.Info("Expired intent without deposit", zap.String("exchange_id", intent.ExchangeID))

		if err := r.eventsOut.Record(intent.ExchangeID, events.IntentExpired, nil); err != nil {
			r.logger.Error("Failed to record expiry event", zap.Error(err))
		}
	}
}

func (r *Reaper) reapOffers(ctx context.Context) {
	expired, err := r.offers.ListExpired(time.Now())
	if err != nil {
		r.logger.Error("Failed to list expired offers", zap.Error(err))
		return
	}

	for _, offer := range expired {
		if offer.Status == model.OfferStatusCreated {
			// No funds ever locked; a bare cancel is safe.
			ok, err := r.offers.MarkCancelled(offer.OfferID, "expired, no seller lock")
			if err != nil {
				r.logger.Error("Failed to cancel expired offer", zap.String("offer_id", offer.OfferID), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}

			metrics.OffersExpired.Inc()
			r.logger.Info("Cancelled expired offer", zap.String("offer_id", offer.OfferID))
			if err := r.eventsOut.Record(offer.OfferID, events.OfferCancelled, map[string]string{
				"reason": "expired, no seller lock",
			}); err != nil {
				r.logger.Error("Failed to record offer expiry event", zap.Error(err))
			}
			continue
		}

		// Funds are custodially held; route through the refund path.
		if _, err := r.canceller.Cancel(ctx, offer.OfferID, "expired with funds locked"); err != nil {
			r.logger.Error("Failed to refund-cancel expired offer",
				zap.String("offer_id", offer.OfferID),
				zap.String("status", offer.Status), zap.Error(err))
			continue
		}
		metrics.OffersExpired.Inc()
	}
}
