package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"bridge/apps/bridge/internal/events"
	"bridge/apps/bridge/internal/model"
)

type fakeIntentStore struct {
	expired []model.ExchangeIntent
	status  map[string]string

	marked []string
}

func (f *fakeIntentStore) ListExpiredPending(now time.Time) ([]model.ExchangeIntent, error) {
	return f.expired, nil
}

func (f *fakeIntentStore) MarkExpired(exchangeID string) (bool, error) {
	if f.status[exchangeID] != model.IntentStatusPending {
		return false, nil
	}
	f.status[exchangeID] = model.IntentStatusExpired
	f.marked = append(f.marked, exchangeID)
	return true, nil
}

type fakeOfferStore struct {
	expired   []model.EscrowOffer
	cancelled []string
}

func (f *fakeOfferStore) ListExpired(now time.Time) ([]model.EscrowOffer, error) {
	return f.expired, nil
}

func (f *fakeOfferStore) MarkCancelled(offerID, reason string) (bool, error) {
	f.cancelled = append(f.cancelled, offerID)
	return true, nil
}

type fakeCanceller struct {
	calls   []string
	reasons []string
}

func (f *fakeCanceller) Cancel(ctx context.Context, offerID, reason string) (*model.EscrowOffer, error) {
	f.calls = append(f.calls, offerID)
	f.reasons = append(f.reasons, reason)
	return &model.EscrowOffer{OfferID: offerID, Status: model.OfferStatusCancelled}, nil
}

type fakeRecorder struct {
	events []string
}

func (f *fakeRecorder) Record(aggregateID, eventType string, payload interface{}) error {
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakeRecorder) count(eventType string) int {
	n := 0
	for _, e := range f.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type fakePruner struct {
	depositCalls int
	outboxCalls  int
}

func (f *fakePruner) Prune(retainDays int) (int64, error) {
	f.depositCalls++
	return 0, nil
}

func (f *fakePruner) PruneSent(olderThan time.Time) (int64, error) {
	f.outboxCalls++
	return 0, nil
}

func newTestReaper(intents *fakeIntentStore, offers *fakeOfferStore, canceller *fakeCanceller, recorder *fakeRecorder) *Reaper {
	return NewReaper(intents, offers, canceller, &fakePruner{}, &fakePruner{}, recorder, time.Second, zap.NewNop())
}

func TestExpiresPendingIntentPastDeadline(t *testing.T) {
	intents := &fakeIntentStore{
		expired: []model.ExchangeIntent{{ExchangeID: "intent-1", Status: model.IntentStatusPending}},
		status:  map[string]string{"intent-1": model.IntentStatusPending},
	}
	recorder := &fakeRecorder{}

	r := newTestReaper(intents, &fakeOfferStore{}, &fakeCanceller{}, recorder)
	r.Tick(context.Background())

	assert.Equal(t, []string{"intent-1"}, intents.marked)
	assert.Equal(t, 1, recorder.count(events.IntentExpired))
}

func TestNeverExpiresIntentClaimedByMatcher(t *testing.T) {
	// The intent showed up in the expired list, but the matcher claimed it
	// into processing before the reaper's conditional update ran.
	intents := &fakeIntentStore{
		expired: []model.ExchangeIntent{{ExchangeID: "intent-1", Status: model.IntentStatusPending}},
		status:  map[string]string{"intent-1": model.IntentStatusProcessing},
	}
	recorder := &fakeRecorder{}

	r := newTestReaper(intents, &fakeOfferStore{}, &fakeCanceller{}, recorder)
	r.Tick(context.Background())

	assert.Empty(t, intents.marked)
	assert.Equal(t, 0, recorder.count(events.IntentExpired))
}

func TestExpiredOfferWithoutLockGetsBareCancel(t *testing.T) {
	offers := &fakeOfferStore{
		expired: []model.EscrowOffer{{OfferID: "offer-1", Status: model.OfferStatusCreated}},
	}
	canceller := &fakeCanceller{}
	recorder := &fakeRecorder{}

	r := newTestReaper(&fakeIntentStore{}, offers, canceller, recorder)
	r.Tick(context.Background())

	assert.Equal(t, []string{"offer-1"}, offers.cancelled)
	assert.Empty(t, canceller.calls)
	assert.Equal(t, 1, recorder.count(events.OfferCancelled))
}

func TestPruneRunsAtMostOncePerHour(t *testing.T) {
	pruner := &fakePruner{}
	r := NewReaper(&fakeIntentStore{}, &fakeOfferStore{}, &fakeCanceller{}, pruner, pruner, &fakeRecorder{}, time.Second, zap.NewNop())

	r.Tick(context.Background())
	r.Tick(context.Background())
	r.Tick(context.Background())

	assert.Equal(t, 1, pruner.depositCalls)
	assert.Equal(t, 1, pruner.outboxCalls)
}

func TestExpiredOfferWithLockedFundsGoesThroughRefundPath(t *testing.T) {
	tx := "lock-tx"
	offers := &fakeOfferStore{
		expired: []model.EscrowOffer{{
			OfferID:        "offer-1",
			Status:         model.OfferStatusSellerLocked,
			SellerEscrowTx: &tx,
		}},
	}
	canceller := &fakeCanceller{}
	recorder := &fakeRecorder{}

	r := newTestReaper(&fakeIntentStore{}, offers, canceller, recorder)
	r.Tick(context.Background())

	// Never a bare cancel when funds are held.
	assert.Empty(t, offers.cancelled)
	assert.Equal(t, []string{"offer-1"}, canceller.calls)
	assert.Equal(t, []string{"expired with funds locked"}, canceller.reasons)
}
