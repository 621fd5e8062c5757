package services

import (
	"context"
	"testing"
	"time"

	"wagerbot/domain/entities"
	"wagerbot/domain/testhelpers"
	"wagerbot/events"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// Test constants for consistent test data
const (
	TestWagerID       = "4b7e5f0c-1111-4a55-9c0e-000000000001"
	TestCreatorID     = "alice"
	TestJoinerID      = "bob"
	TestOutsiderID    = "carol"
	TestEscrowAddress = "0x00000000000000000000000000000000000e5c70"
	TestEscrowRef     = "escrow-ref-1"
	TestWinnerAddress = "0x000000000000000000000000000000000000b0b0"
	TestAsset         = "USDC"
	TestNativeAsset   = "ETH"
	TestCreatorClaim  = "It rains"
	TestJoinerClaim   = "It stays dry"
)

// TestNow is the fixed clock used by service tests
var TestNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// TestMocks aggregates all repository and collaborator mocks for testing
type TestMocks struct {
	WagerRepo          *testhelpers.MockWagerRepository
	SettlementRepo     *testhelpers.MockSettlementRepository
	Ledger             *testhelpers.MockLedger
	Oracle             *testhelpers.MockOracle
	Swapper            *testhelpers.MockSwapper
	Transferer         *testhelpers.MockTransferer
	EventPublisher     *testhelpers.MockEventPublisher
	Locks              *testhelpers.MockLockManager
	RateLimiter        *testhelpers.MockRateLimiter
	FundingMonitor     *testhelpers.MockFundingMonitor
	DeadlineResolver   *testhelpers.MockDeadlineResolver
	SettlementExecutor *testhelpers.MockSettlementExecutor
}

// NewTestMocks creates a new set of mocks
func NewTestMocks() *TestMocks {
	return &TestMocks{
		WagerRepo:          &testhelpers.MockWagerRepository{},
		SettlementRepo:     &testhelpers.MockSettlementRepository{},
		Ledger:             &testhelpers.MockLedger{},
		Oracle:             &testhelpers.MockOracle{},
		Swapper:            &testhelpers.MockSwapper{},
		Transferer:         &testhelpers.MockTransferer{},
		EventPublisher:     &testhelpers.MockEventPublisher{},
		Locks:              &testhelpers.MockLockManager{},
		RateLimiter:        &testhelpers.MockRateLimiter{},
		FundingMonitor:     &testhelpers.MockFundingMonitor{},
		DeadlineResolver:   &testhelpers.MockDeadlineResolver{},
		SettlementExecutor: &testhelpers.MockSettlementExecutor{},
	}
}

// AssertAllExpectations verifies all mock expectations were met
func (m *TestMocks) AssertAllExpectations(t *testing.T) {
	m.WagerRepo.AssertExpectations(t)
	m.SettlementRepo.AssertExpectations(t)
	m.Ledger.AssertExpectations(t)
	m.Oracle.AssertExpectations(t)
	m.Swapper.AssertExpectations(t)
	m.Transferer.AssertExpectations(t)
	m.EventPublisher.AssertExpectations(t)
	m.Locks.AssertExpectations(t)
	m.RateLimiter.AssertExpectations(t)
	m.FundingMonitor.AssertExpectations(t)
	m.DeadlineResolver.AssertExpectations(t)
	m.SettlementExecutor.AssertExpectations(t)
}

// MockHelper provides common mock setup patterns
type MockHelper struct {
	mocks *TestMocks
	ctx   context.Context
}

// NewMockHelper creates a new mock helper
func NewMockHelper(mocks *TestMocks) *MockHelper {
	return &MockHelper{
		mocks: mocks,
		ctx:   context.Background(),
	}
}

// ExpectWagerLookup sets up wager repository mock expectations
func (h *MockHelper) ExpectWagerLookup(wager *entities.Wager) {
	h.mocks.WagerRepo.On("GetByID", mock.Anything, wager.ID).Return(wager, nil)
}

// ExpectWagerNotFound sets up wager repository mock to return not found
func (h *MockHelper) ExpectWagerNotFound(wagerID string) {
	h.mocks.WagerRepo.On("GetByID", mock.Anything, wagerID).Return(nil, nil)
}

// ExpectWagerUpdate sets up an update expectation matched by a predicate
func (h *MockHelper) ExpectWagerUpdate(match func(w *entities.Wager) bool) {
	h.mocks.WagerRepo.On("Update", mock.Anything, mock.MatchedBy(match)).Return(nil)
}

// ExpectEventPublish sets up event publisher mock expectations
func (h *MockHelper) ExpectEventPublish(eventType events.EventType) {
	h.mocks.EventPublisher.On("Publish", mock.MatchedBy(func(e events.Event) bool {
		return e.Type() == eventType
	})).Return(nil)
}

// ExpectLock sets up the per-wager lock to be acquired and released
func (h *MockHelper) ExpectLock(wagerID string) {
	h.mocks.Locks.On("Acquire", mock.Anything, "wager:"+wagerID, mock.Anything).Return(func() {}, nil)
}

// ExpectSettlementUpdates accepts any number of settlement writes
func (h *MockHelper) ExpectSettlementUpdates() {
	h.mocks.SettlementRepo.On("Update", mock.Anything, mock.Anything).Return(nil)
}

// NewPendingWager builds a pending wager created by TestCreatorID
func NewPendingWager() *entities.Wager {
	return &entities.Wager{
		ID:           TestWagerID,
		Description:  "Will it rain?",
		Participants: []string{TestCreatorID},
		Amounts:      map[string]decimal.Decimal{TestCreatorID: decimal.NewFromInt(10)},
		Claims:       map[string]string{TestCreatorID: TestCreatorClaim},
		Asset:        TestAsset,
		Status:       entities.WagerStatusPending,
		Escrow: entities.EscrowAccount{
			PublicIdentity: TestEscrowAddress,
			SigningRef:     TestEscrowRef,
		},
		VerificationMethod: entities.VerificationMethodOracle,
		CreatedAt:          TestNow.Add(-time.Hour),
		Version:            1,
	}
}

// NewActiveWager builds an active wager between TestCreatorID and TestJoinerID
func NewActiveWager() *entities.Wager {
	w := NewPendingWager()
	w.Participants = append(w.Participants, TestJoinerID)
	w.Amounts[TestJoinerID] = decimal.NewFromInt(10)
	w.Claims[TestJoinerID] = TestJoinerClaim
	w.Status = entities.WagerStatusActive
	w.Version = 2
	return w
}

// NewNativeCompletedWager builds a completed wager staked in the native asset
func NewNativeCompletedWager() *entities.Wager {
	w := NewCompletedWager()
	w.Asset = TestNativeAsset
	return w
}

// NewCompletedWager builds a wager won by TestJoinerID
func NewCompletedWager() *entities.Wager {
	w := NewActiveWager()
	winner := TestJoinerID
	outcome := "it rained"
	completedAt := TestNow.Add(-time.Minute)
	w.Status = entities.WagerStatusCompleted
	w.Winner = &winner
	w.Outcome = &outcome
	w.CompletedAt = &completedAt
	w.Version = 3
	return w
}
