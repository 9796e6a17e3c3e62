package escrow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bridge/apps/bridge/internal/assets"
	"bridge/apps/bridge/internal/chain"
	"bridge/apps/bridge/internal/events"
	"bridge/apps/bridge/internal/fees"
	"bridge/apps/bridge/internal/model"
)

type memoryOfferStore struct {
	mu     sync.Mutex
	offers map[string]*model.EscrowOffer
}

func newMemoryOfferStore() *memoryOfferStore {
	return &memoryOfferStore{offers: make(map[string]*model.EscrowOffer)}
}

func (s *memoryOfferStore) CreateOffer(offer model.EscrowOffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := offer
	s.offers[offer.OfferID] = &o
	return nil
}

func (s *memoryOfferStore) GetByID(offerID string) (*model.EscrowOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok {
		return nil, nil
	}
	out := *o
	return &out, nil
}

func (s *memoryOfferStore) MarkSellerLocked(offerID, escrowTx, contractRef string, lockedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok || o.Status != model.OfferStatusCreated {
		return false, nil
	}
	o.Status = model.OfferStatusSellerLocked
	o.SellerEscrowTx = &escrowTx
	o.SellerContractRef = &contractRef
	o.SellerLockedAt = &lockedAt
	return true, nil
}

func (s *memoryOfferStore) MarkBuyerAccepted(offerID string, leg model.BuyerLeg) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok || o.Status != model.OfferStatusSellerLocked {
		return false, nil
	}
	o.Status = model.OfferStatusBothLocked
	o.BuyerChain = &leg.Chain
	o.BuyerAddress = &leg.Address
	o.BuyerAmount = &leg.Amount
	o.BuyerCurrency = &leg.Currency
	o.BuyerEscrowTx = leg.EscrowTx
	o.BuyerContractRef = leg.ContractRef
	o.BuyerLockedAt = leg.LockedAt
	return true, nil
}

func (s *memoryOfferStore) MarkCompleted(offerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok || o.Status != model.OfferStatusBothLocked {
		return false, nil
	}
	o.Status = model.OfferStatusCompleted
	return true, nil
}

func (s *memoryOfferStore) MarkCancelled(offerID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok || o.Status == model.OfferStatusCompleted || o.Status == model.OfferStatusCancelled {
		return false, nil
	}
	o.Status = model.OfferStatusCancelled
	o.CancelReason = &reason
	return true, nil
}

// fakeAdapter is a chain adapter that records escrow operations.
type fakeAdapter struct {
	mu   sync.Mutex
	name string

	lockErr    error
	releaseErr error

	locks    []chain.LockRequest
	releases []string // destination addresses
	refunds  []string // owner addresses
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) GenerateDepositAddress(ctx context.Context) (*chain.DepositAddress, error) {
	return &chain.DepositAddress{Address: "gen-addr"}, nil
}

func (f *fakeAdapter) GetBalance(ctx context.Context, address string) (float64, error) {
	return 0, nil
}

func (f *fakeAdapter) ValidateAddress(address string) bool {
	return address != ""
}

func (f *fakeAdapter) BuildAndBroadcast(ctx context.Context, signingKey, toAddress string, amount float64) (string, error) {
	return "tx", nil
}

func (f *fakeAdapter) MonitorAddress(ctx context.Context, address string, interval time.Duration, onDeposit chain.DepositCallback) error {
	return nil
}

func (f *fakeAdapter) LockEscrow(ctx context.Context, req chain.LockRequest) (*chain.EscrowLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	f.locks = append(f.locks, req)
	return &chain.EscrowLock{
		TxRef:       fmt.Sprintf("%s-lock-%d", f.name, len(f.locks)),
		ContractRef: f.name + "-escrow",
	}, nil
}

func (f *fakeAdapter) ReleaseEscrow(ctx context.Context, lock *chain.EscrowLock, toAddress string, amount float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return "", f.releaseErr
	}
	f.releases = append(f.releases, toAddress)
	return f.name + "-release", nil
}

func (f *fakeAdapter) RefundEscrow(ctx context.Context, lock *chain.EscrowLock, ownerAddress string, amount float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, ownerAddress)
	return f.name + "-refund", nil
}

type captureRecorder struct {
	mu     sync.Mutex
	events []string
}

func (c *captureRecorder) Record(aggregateID, eventType string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, eventType)
	return nil
}

func (c *captureRecorder) has(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type testRig struct {
	coordinator *Coordinator
	store       *memoryOfferStore
	evm         *fakeAdapter
	xrpl        *fakeAdapter
	recorder    *captureRecorder
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	store := newMemoryOfferStore()
	evm := &fakeAdapter{name: "evm"}
	xrpl := &fakeAdapter{name: "xrpl"}

	chains := chain.NewRegistry()
	chains.Register(evm)
	chains.Register(xrpl)

	registry := assets.NewRegistry(assets.DefaultCurrencies())
	recorder := &captureRecorder{}
	coordinator := NewCoordinator(store, chains, registry, fees.NewPolicy(registry), recorder, zap.NewNop())

	return &testRig{coordinator: coordinator, store: store, evm: evm, xrpl: xrpl, recorder: recorder}
}

func createParams() CreateParams {
	return CreateParams{
		SellerAddress: "0xseller",
		Amount:        10.0,
		Currency:      "ETH",
		IsPublic:      true,
		ExpiresAt:     time.Now().Add(time.Hour),
	}
}

func TestCreateOfferFreezesAdminFee(t *testing.T) {
	rig := newTestRig(t)

	offer, err := rig.coordinator.CreateOffer(context.Background(), createParams())
	require.NoError(t, err)

	assert.Equal(t, model.OfferStatusCreated, offer.Status)
	assert.Equal(t, 0.01, offer.AdminFeePercentage)
	// 1% of 10 ETH, inside the fee bounds.
	assert.InDelta(t, 0.1, offer.AdminFeeAmount, 1e-9)
}

func TestCreateOfferRejectsUnsupportedCurrency(t *testing.T) {
	rig := newTestRig(t)

	params := createParams()
	params.Currency = "DOGE"
	_, err := rig.coordinator.CreateOffer(context.Background(), params)
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestCreateOfferRejectsAmountBelowMinimum(t *testing.T) {
	rig := newTestRig(t)

	params := createParams()
	params.Amount = 0.0001
	_, err := rig.coordinator.CreateOffer(context.Background(), params)
	assert.Error(t, err)
}

func TestLockSellerTransitionsToSellerLocked(t *testing.T) {
	rig := newTestRig(t)
	offer, err := rig.coordinator.CreateOffer(context.Background(), createParams())
	require.NoError(t, err)

	locked, err := rig.coordinator.LockSeller(context.Background(), offer.OfferID, "seller-key")
	require.NoError(t, err)

	assert.Equal(t, model.OfferStatusSellerLocked, locked.Status)
	require.NotNil(t, locked.SellerEscrowTx)
	require.Len(t, rig.evm.locks, 1)
	assert.Equal(t, "0xseller", rig.evm.locks[0].OwnerAddress)
	assert.Equal(t, 10.0, rig.evm.locks[0].Amount)

	// Locking twice is a state error, not a second lock.
	_, err = rig.coordinator.LockSeller(context.Background(), offer.OfferID, "seller-key")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, rig.evm.locks, 1)
}

func TestLockSellerRejectsExpiredOffer(t *testing.T) {
	rig := newTestRig(t)
	params := createParams()
	params.ExpiresAt = time.Now().Add(-time.Minute)
	offer, err := rig.coordinator.CreateOffer(context.Background(), params)
	require.NoError(t, err)

	_, err = rig.coordinator.LockSeller(context.Background(), offer.OfferID, "seller-key")
	assert.ErrorIs(t, err, ErrOfferExpired)
	assert.Empty(t, rig.evm.locks)
}

func TestAcceptOnSameChainDoesNotLockBuyerLeg(t *testing.T) {
	rig := newTestRig(t)
	offer, err := rig.coordinator.CreateOffer(context.Background(), createParams())
	require.NoError(t, err)
	_, err = rig.coordinator.LockSeller(context.Background(), offer.OfferID, "seller-key")
	require.NoError(t, err)

	accepted, err := rig.coordinator.AcceptOffer(context.Background(), offer.OfferID, AcceptParams{
		Address:  "0xbuyer",
		Amount:   5000,
		Currency: "USDT",
	})
	require.NoError(t, err)

	assert.Equal(t, model.OfferStatusBothLocked, accepted.Status)
	assert.False(t, accepted.BuyerLegLocked())
	// Only the seller leg ever hit the chain.
	assert.Len(t, rig.evm.locks, 1)
}

func TestAcceptAcrossChainsLocksBuyerLeg(t *testing.T) {
	rig := newTestRig(t)
	offer, err := rig.coordinator.CreateOffer(context.Background(), createParams())
	require.NoError(t, err)
	_, err = rig.coordinator.LockSeller(context.Background(), offer.OfferID, "seller-key")
	require.NoError(t, err)

	accepted, err := rig.coordinator.AcceptOffer(context.Background(), offer.OfferID, AcceptParams{
		Address:    "rBuyer",
		Amount:     20000,
		Currency:   "XRP",
		SigningKey: "buyer-key",
	})
	require.NoError(t, err)

	assert.True(t, accepted.BuyerLegLocked())
	require.Len(t, rig.xrpl.locks, 1)
	assert.Equal(t, "rBuyer", rig.xrpl.locks[0].OwnerAddress)
}

func TestAcceptRequiresSellerLocked(t *testing.T) {
	rig := newTestRig(t)
	offer, err := rig.coordinator.CreateOffer(context.Background(), createParams())
	require.NoError(t, err)

	_, err = rig.coordinator.AcceptOffer(context.Background(), offer.OfferID, AcceptParams{
		Address: "0xbuyer", Amount: 5000, Currency: "USDT",
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReleasePaysEachLegToTheOtherParty(t *testing.T) {
	rig := newTestRig(t)
	offer, err := rig.coordinator.CreateOffer(context.Background(), createParams())
	require.NoError(t, err)
	_, err = rig.coordinator.LockSeller(context.Background(), offer.OfferID, "seller-key")
	require.NoError(t, err)
	_, err = rig.coordinator.AcceptOffer(context.Background(), offer.OfferID, AcceptParams{
		Address: "rBuyer", Amount: 20000, Currency: "XRP", SigningKey: "buyer-key",
	})
	require.NoError(t, err)

	released, err := rig.coordinator.Release(context.Background(), offer.OfferID)
	require.NoError(t, err)

	assert.Equal(t, model.OfferStatusCompleted, released.Status)
	// Seller's ETH goes to the buyer, buyer's XRP goes to the seller.
	assert.Equal(t, []string{"rBuyer"}, rig.evm.releases)
	assert.Equal(t, []string{"0xseller"}, rig.xrpl.releases)
	// Fee collection is asynchronous: an event, never a blocking transfer.
	assert.True(t, rig.recorder.has(events.EscrowFeeDue))
}

func TestReleaseRequiresBothLocked(t *testing.T) {
	rig := newTestRig(t)
	offer, err := rig.coordinator.CreateOffer(context.Background(), createParams())
	require.NoError(t, err)
	_, err = rig.coordinator.LockSeller(context.Background(), offer.OfferID, "seller-key")
	require.NoError(t, err)

	_, err = rig.coordinator.Release(context.Background(), offer.OfferID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, rig.evm.releases)
}

func TestCancelRequiresReason(t *testing.T) {
	rig := newTestRig(t)
	offer, err := rig.coordinator.CreateOffer(context.Background(), createParams())
	require.NoError(t, err)

	_, err = rig.coordinator.Cancel(context.Background(), offer.OfferID, "")
	assert.ErrorIs(t, err, ErrReasonRequired)
}

func TestCancelRefundsLockedLegs(t *testing.T) {
	rig := newTestRig(t)
	offer, err := rig.coordinator.CreateOffer(context.Background(), createParams())
	require.NoError(t, err)
	_, err = rig.coordinator.LockSeller(context.Background(), offer.OfferID, "seller-key")
	require.NoError(t, err)
	_, err = rig.coordinator.AcceptOffer(context.Background(), offer.OfferID, AcceptParams{
		Address: "rBuyer", Amount: 20000, Currency: "XRP", SigningKey: "buyer-key",
	})
	require.NoError(t, err)

	cancelled, err := rig.coordinator.Cancel(context.Background(), offer.OfferID, "dispute")
	require.NoError(t, err)

	assert.Equal(t, model.OfferStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "dispute", *cancelled.CancelReason)
	// Each leg goes back to its original owner.
	assert.Equal(t, []string{"0xseller"}, rig.evm.refunds)
	assert.Equal(t, []string{"rBuyer"}, rig.xrpl.refunds)
}

func TestCancelBeforeLockTouchesNoChain(t *testing.T) {
	rig := newTestRig(t)
	offer, err := rig.coordinator.CreateOffer(context.Background(), createParams())
	require.NoError(t, err)

	cancelled, err := rig.coordinator.Cancel(context.Background(), offer.OfferID, "seller backed out")
	require.NoError(t, err)

	assert.Equal(t, model.OfferStatusCancelled, cancelled.Status)
	assert.Empty(t, rig.evm.refunds)
}

func TestCompletedOfferIsImmutable(t *testing.T) {
	rig := newTestRig(t)
	offer, err := rig.coordinator.CreateOffer(context.Background(), createParams())
	require.NoError(t, err)
	_, err = rig.coordinator.LockSeller(context.Background(), offer.OfferID, "seller-key")
	require.NoError(t, err)
	_, err = rig.coordinator.AcceptOffer(context.Background(), offer.OfferID, AcceptParams{
		Address: "0xbuyer", Amount: 5000, Currency: "USDT",
	})
	require.NoError(t, err)
	_, err = rig.coordinator.Release(context.Background(), offer.OfferID)
	require.NoError(t, err)

	_, err = rig.coordinator.Cancel(context.Background(), offer.OfferID, "too late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
