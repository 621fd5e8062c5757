package testhelpers

import (
	"context"
	"time"

	"wagerbot/domain/entities"
	"wagerbot/domain/interfaces"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockLedger is a mock implementation of Ledger
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) CreateEscrowAccount(ctx context.Context) (entities.EscrowAccount, error) {
	args := m.Called(ctx)
	return args.Get(0).(entities.EscrowAccount), args.Error(1)
}

func (m *MockLedger) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockLedger) GetTokenBalance(ctx context.Context, address string, asset string) (decimal.Decimal, error) {
	args := m.Called(ctx, address, asset)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// MockOracle is a mock implementation of Oracle
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) ClassifyWager(ctx context.Context, message string) (*entities.DetectionResult, error) {
	args := m.Called(ctx, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.DetectionResult), args.Error(1)
}

func (m *MockOracle) ClassifyDeadline(ctx context.Context, description string) (*entities.DeadlineClassification, error) {
	args := m.Called(ctx, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.DeadlineClassification), args.Error(1)
}

func (m *MockOracle) VerifyOutcome(ctx context.Context, query entities.OutcomeQuery) (*entities.VerificationResult, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.VerificationResult), args.Error(1)
}

// MockSwapper is a mock implementation of Swapper
type MockSwapper struct {
	mock.Mock
}

func (m *MockSwapper) Swap(ctx context.Context, req interfaces.SwapRequest) (*entities.SwapReceipt, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SwapReceipt), args.Error(1)
}

// MockTransferer is a mock implementation of Transferer
type MockTransferer struct {
	mock.Mock
}

func (m *MockTransferer) Transfer(ctx context.Context, req interfaces.TransferRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// MockNotifier is a mock implementation of Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Deliver(ctx context.Context, recipient string, text string) error {
	args := m.Called(ctx, recipient, text)
	return args.Error(0)
}

// MockLockManager is a mock implementation of LockManager
type MockLockManager struct {
	mock.Mock
}

func (m *MockLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

// MockRateLimiter is a mock implementation of RateLimiter
type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) Wait(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockArchiver is a mock implementation of Archiver
type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) ArchiveWager(ctx context.Context, wager *entities.Wager) (string, error) {
	args := m.Called(ctx, wager)
	return args.String(0), args.Error(1)
}

// MockFundingMonitor is a mock implementation of FundingMonitor
type MockFundingMonitor struct {
	mock.Mock
}

func (m *MockFundingMonitor) Snapshot(ctx context.Context, escrowAddress string, trackedAssets []string) (map[string]decimal.Decimal, error) {
	args := m.Called(ctx, escrowAddress, trackedAssets)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]decimal.Decimal), args.Error(1)
}

func (m *MockFundingMonitor) IsFullyFunded(ctx context.Context, escrowAddress string, required decimal.Decimal, asset string) (bool, error) {
	args := m.Called(ctx, escrowAddress, required, asset)
	return args.Bool(0), args.Error(1)
}

// MockDeadlineResolver is a mock implementation of DeadlineResolver
type MockDeadlineResolver struct {
	mock.Mock
}

func (m *MockDeadlineResolver) ClassifyDeadline(ctx context.Context, description string) entities.DeadlineDecision {
	args := m.Called(ctx, description)
	return args.Get(0).(entities.DeadlineDecision)
}

// MockSettlementExecutor is a mock implementation of SettlementExecutor
type MockSettlementExecutor struct {
	mock.Mock
}

func (m *MockSettlementExecutor) Settle(ctx context.Context, wager *entities.Wager, winnerAddress string, amount decimal.Decimal) (*entities.SettlementReceipt, error) {
	args := m.Called(ctx, wager, winnerAddress, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SettlementReceipt), args.Error(1)
}

func (m *MockSettlementExecutor) ResumeIncomplete(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
