package matcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bridge/apps/bridge/internal/events"
	"bridge/apps/bridge/internal/exchange"
	"bridge/apps/bridge/internal/model"
)

type fakeExchange struct {
	deposits []exchange.Deposit
}

func (f *fakeExchange) ListRecentDeposits(ctx context.Context, lookback time.Duration) ([]exchange.Deposit, error) {
	return f.deposits, nil
}

func (f *fakeExchange) GetConvertQuote(ctx context.Context, fromCurrency, toCurrency string, amount float64) (*exchange.Quote, error) {
	return nil, nil
}

func (f *fakeExchange) PlaceConvertOrder(ctx context.Context, quoteID string) (string, error) {
	return "", nil
}

func (f *fakeExchange) GetConvertOrderStatus(ctx context.Context, orderID string) (*exchange.OrderResult, error) {
	return nil, nil
}

func (f *fakeExchange) InnerTransfer(ctx context.Context, currency string, amount float64, fromAccount, toAccount string) error {
	return nil
}

func (f *fakeExchange) Withdraw(ctx context.Context, currency string, amount float64, address, memo string) (string, error) {
	return "", nil
}

type fakeIntentStore struct {
	mu      sync.Mutex
	active  []model.ExchangeIntent
	status  map[string]string
	claimed []string
}

func newFakeIntentStore(intents ...model.ExchangeIntent) *fakeIntentStore {
	status := make(map[string]string)
	for _, intent := range intents {
		status[intent.ExchangeID] = intent.Status
	}
	return &fakeIntentStore{active: intents, status: status}
}

func (f *fakeIntentStore) ListActive(now time.Time) ([]model.ExchangeIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ExchangeIntent, len(f.active))
	copy(out, f.active)
	return out, nil
}

func (f *fakeIntentStore) ClaimProcessing(exchangeID, depositTxID string, depositAmount float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status[exchangeID] != model.IntentStatusPending {
		return false, nil
	}
	f.status[exchangeID] = model.IntentStatusProcessing
	f.claimed = append(f.claimed, exchangeID)
	return true, nil
}

type fakeDepositStore struct {
	mu        sync.Mutex
	seen      map[string]*model.ProcessedDeposit
	unmatched []model.ProcessedDeposit
}

func newFakeDepositStore() *fakeDepositStore {
	return &fakeDepositStore{seen: make(map[string]*model.ProcessedDeposit)}
}

func (f *fakeDepositStore) ClaimDeposit(deposit model.ProcessedDeposit) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[deposit.DepositID]; ok {
		return false, nil
	}
	d := deposit
	f.seen[deposit.DepositID] = &d
	return true, nil
}

func (f *fakeDepositStore) AttachIntent(depositID, exchangeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.seen[depositID]
	if !ok || d.MatchedIntent != nil {
		return false, nil
	}
	d.MatchedIntent = &exchangeID
	return true, nil
}

func (f *fakeDepositStore) ListUnmatched() ([]model.ProcessedDeposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ProcessedDeposit
	for _, d := range f.seen {
		if d.MatchedIntent == nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

type settleCall struct {
	exchangeID  string
	depositTxID string
	amount      float64
}

type fakeSettler struct {
	calls chan settleCall
}

func newFakeSettler() *fakeSettler {
	return &fakeSettler{calls: make(chan settleCall, 16)}
}

func (f *fakeSettler) Settle(ctx context.Context, intent model.ExchangeIntent, depositTxID string, depositAmount float64) {
	f.calls <- settleCall{exchangeID: intent.ExchangeID, depositTxID: depositTxID, amount: depositAmount}
}

func (f *fakeSettler) waitForCall(t *testing.T) settleCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("settler was never called")
		return settleCall{}
	}
}

func (f *fakeSettler) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case call := <-f.calls:
		t.Fatalf("unexpected settlement for %s", call.exchangeID)
	case <-time.After(100 * time.Millisecond):
	}
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeRecorder) Record(aggregateID, eventType string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakeRecorder) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func pendingIntent(id, currency, address string, amount float64, createdAt time.Time) model.ExchangeIntent {
	return model.ExchangeIntent{
		ExchangeID:      id,
		FromCurrency:    currency,
		FromAmount:      amount,
		ToCurrency:      "ETH",
		DepositAddress:  address,
		DepositCurrency: currency,
		Status:          model.IntentStatusPending,
		CreatedAt:       createdAt,
		ExpiresAt:       createdAt.Add(5 * time.Minute),
	}
}

func newTestMatcher(ex *fakeExchange, intents *fakeIntentStore, deposits *fakeDepositStore, settler *fakeSettler, recorder *fakeRecorder) *Matcher {
	return NewMatcher(ex, intents, deposits, settler, recorder, time.Second, 5*time.Minute, 0.05, zap.NewNop())
}

func TestTickMatchesDepositWithinTolerance(t *testing.T) {
	intents := newFakeIntentStore(pendingIntent("intent-1", "BTC", "addr-1", 1.0, time.Now()))
	deposits := newFakeDepositStore()
	settler := newFakeSettler()
	recorder := &fakeRecorder{}
	ex := &fakeExchange{deposits: []exchange.Deposit{
		{ID: "dep-1", Currency: "BTC", Address: "addr-1", Amount: 0.96},
	}}

	m := newTestMatcher(ex, intents, deposits, settler, recorder)
	require.NoError(t, m.Tick(context.Background()))

	call := settler.waitForCall(t)
	assert.Equal(t, "intent-1", call.exchangeID)
	assert.Equal(t, "dep-1", call.depositTxID)
	assert.Equal(t, 0.96, call.amount)
	assert.Equal(t, 1, recorder.count(events.IntentProcessing))
}

func TestTickRejectsDepositOutsideTolerance(t *testing.T) {
	intents := newFakeIntentStore(pendingIntent("intent-1", "BTC", "addr-1", 1.0, time.Now()))
	deposits := newFakeDepositStore()
	settler := newFakeSettler()
	recorder := &fakeRecorder{}
	ex := &fakeExchange{deposits: []exchange.Deposit{
		{ID: "dep-1", Currency: "BTC", Address: "addr-1", Amount: 0.90},
	}}

	m := newTestMatcher(ex, intents, deposits, settler, recorder)
	require.NoError(t, m.Tick(context.Background()))

	settler.assertNoCall(t)
	assert.Equal(t, 1, recorder.count(events.DepositUnmatched))
}

func TestUnmatchedDepositAlertsOnlyOnce(t *testing.T) {
	intents := newFakeIntentStore()
	deposits := newFakeDepositStore()
	settler := newFakeSettler()
	recorder := &fakeRecorder{}
	ex := &fakeExchange{deposits: []exchange.Deposit{
		{ID: "dep-1", Currency: "BTC", Address: "addr-unknown", Amount: 1.0},
	}}

	m := newTestMatcher(ex, intents, deposits, settler, recorder)
	require.NoError(t, m.Tick(context.Background()))
	require.NoError(t, m.Tick(context.Background()))
	require.NoError(t, m.Tick(context.Background()))

	assert.Equal(t, 1, recorder.count(events.DepositUnmatched))
}

func TestDepositTriggersSettlementOnce(t *testing.T) {
	intents := newFakeIntentStore(pendingIntent("intent-1", "BTC", "addr-1", 1.0, time.Now()))
	deposits := newFakeDepositStore()
	settler := newFakeSettler()
	recorder := &fakeRecorder{}
	ex := &fakeExchange{deposits: []exchange.Deposit{
		{ID: "dep-1", Currency: "BTC", Address: "addr-1", Amount: 1.0},
	}}

	m := newTestMatcher(ex, intents, deposits, settler, recorder)
	require.NoError(t, m.Tick(context.Background()))
	settler.waitForCall(t)

	// The same deposit is reported again on later ticks.
	require.NoError(t, m.Tick(context.Background()))
	require.NoError(t, m.Tick(context.Background()))
	settler.assertNoCall(t)
}

func TestTieBreaksToEarliestIntent(t *testing.T) {
	now := time.Now()
	// ListActive returns intents oldest first.
	intents := newFakeIntentStore(
		pendingIntent("intent-old", "BTC", "addr-1", 1.0, now.Add(-time.Minute)),
		pendingIntent("intent-new", "BTC", "addr-1", 1.0, now),
	)
	deposits := newFakeDepositStore()
	settler := newFakeSettler()
	recorder := &fakeRecorder{}
	ex := &fakeExchange{deposits: []exchange.Deposit{
		{ID: "dep-1", Currency: "BTC", Address: "addr-1", Amount: 1.0},
	}}

	m := newTestMatcher(ex, intents, deposits, settler, recorder)
	require.NoError(t, m.Tick(context.Background()))

	call := settler.waitForCall(t)
	assert.Equal(t, "intent-old", call.exchangeID)
}

func TestIntentClaimedOncePerTick(t *testing.T) {
	intents := newFakeIntentStore(pendingIntent("intent-1", "BTC", "addr-1", 1.0, time.Now()))
	deposits := newFakeDepositStore()
	settler := newFakeSettler()
	recorder := &fakeRecorder{}
	// Two deposits both inside the tolerance band of the single intent.
	ex := &fakeExchange{deposits: []exchange.Deposit{
		{ID: "dep-1", Currency: "BTC", Address: "addr-1", Amount: 1.0},
		{ID: "dep-2", Currency: "BTC", Address: "addr-1", Amount: 1.01},
	}}

	m := newTestMatcher(ex, intents, deposits, settler, recorder)
	require.NoError(t, m.Tick(context.Background()))

	settler.waitForCall(t)
	settler.assertNoCall(t)
	assert.Equal(t, 1, recorder.count(events.DepositUnmatched))
}

func TestClaimLostSkipsSettlement(t *testing.T) {
	intent := pendingIntent("intent-1", "BTC", "addr-1", 1.0, time.Now())
	intents := newFakeIntentStore(intent)
	// Another instance already claimed the intent.
	intents.status["intent-1"] = model.IntentStatusProcessing

	deposits := newFakeDepositStore()
	settler := newFakeSettler()
	recorder := &fakeRecorder{}
	ex := &fakeExchange{deposits: []exchange.Deposit{
		{ID: "dep-1", Currency: "BTC", Address: "addr-1", Amount: 1.0},
	}}

	m := newTestMatcher(ex, intents, deposits, settler, recorder)
	require.NoError(t, m.Tick(context.Background()))

	settler.assertNoCall(t)
}

func TestReclaimsStoredUnmatchedDeposit(t *testing.T) {
	deposits := newFakeDepositStore()
	settler := newFakeSettler()
	recorder := &fakeRecorder{}
	ex := &fakeExchange{deposits: []exchange.Deposit{
		{ID: "dep-1", Currency: "BTC", Address: "addr-1", Amount: 1.0},
	}}

	// First tick: no intent matches, the deposit is stored unmatched.
	m := newTestMatcher(ex, newFakeIntentStore(), deposits, settler, recorder)
	require.NoError(t, m.Tick(context.Background()))
	settler.assertNoCall(t)

	// A matching intent appears later; the exchange no longer reports the
	// deposit, but the stored copy is still eligible.
	ex.deposits = nil
	intents := newFakeIntentStore(pendingIntent("intent-late", "BTC", "addr-1", 1.0, time.Now()))
	m = newTestMatcher(ex, intents, deposits, settler, recorder)
	require.NoError(t, m.Tick(context.Background()))

	call := settler.waitForCall(t)
	assert.Equal(t, "intent-late", call.exchangeID)
	assert.Equal(t, "dep-1", call.depositTxID)
}

func TestWithinTolerance(t *testing.T) {
	tests := []struct {
		name      string
		observed  float64
		expected  float64
		tolerance float64
		want      bool
	}{
		{"exact", 1.0, 1.0, 0.05, true},
		{"lower edge", 0.95, 1.0, 0.05, true},
		{"upper edge", 1.05, 1.0, 0.05, true},
		{"below band", 0.9499, 1.0, 0.05, false},
		{"above band", 1.0501, 1.0, 0.05, false},
		{"zero tolerance", 1.0, 1.0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, withinTolerance(tt.observed, tt.expected, tt.tolerance))
		})
	}
}
