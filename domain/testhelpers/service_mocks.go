package testhelpers

import (
	"context"

	"wagerbot/domain/entities"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockWagerLifecycleService is a mock implementation of WagerLifecycleService
type MockWagerLifecycleService struct {
	mock.Mock
}

func (m *MockWagerLifecycleService) wager(args mock.Arguments) (*entities.Wager, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Wager), args.Error(1)
}

func (m *MockWagerLifecycleService) verification(args mock.Arguments) (*entities.VerificationResult, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.VerificationResult), args.Error(1)
}

func (m *MockWagerLifecycleService) Create(ctx context.Context, description, asset string, stake decimal.Decimal, initialParticipant, claim string) (*entities.Wager, error) {
	return m.wager(m.Called(ctx, description, asset, stake, initialParticipant, claim))
}

func (m *MockWagerLifecycleService) Join(ctx context.Context, wagerID, participantID, claim string) (*entities.Wager, error) {
	return m.wager(m.Called(ctx, wagerID, participantID, claim))
}

func (m *MockWagerLifecycleService) Activate(ctx context.Context, wagerID string) (*entities.Wager, error) {
	return m.wager(m.Called(ctx, wagerID))
}

func (m *MockWagerLifecycleService) SetDeadline(ctx context.Context, wagerID string, minutesFromNow int) (*entities.Wager, error) {
	return m.wager(m.Called(ctx, wagerID, minutesFromNow))
}

func (m *MockWagerLifecycleService) AssignDeadline(ctx context.Context, wagerID string) (*entities.Wager, error) {
	return m.wager(m.Called(ctx, wagerID))
}

func (m *MockWagerLifecycleService) Resolve(ctx context.Context, wagerID, outcomeText, resolverID string) (*entities.VerificationResult, error) {
	return m.verification(m.Called(ctx, wagerID, outcomeText, resolverID))
}

func (m *MockWagerLifecycleService) ResolveDue(ctx context.Context, wagerID string) (*entities.VerificationResult, error) {
	return m.verification(m.Called(ctx, wagerID))
}

func (m *MockWagerLifecycleService) Settle(ctx context.Context, wagerID, winnerAddress string, amount decimal.Decimal) (*entities.SettlementReceipt, error) {
	args := m.Called(ctx, wagerID, winnerAddress, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SettlementReceipt), args.Error(1)
}

func (m *MockWagerLifecycleService) Abandon(ctx context.Context, wagerID, reason string) (*entities.Wager, error) {
	return m.wager(m.Called(ctx, wagerID, reason))
}

func (m *MockWagerLifecycleService) CheckEscrow(ctx context.Context, wagerID string) (*entities.EscrowStatus, error) {
	args := m.Called(ctx, wagerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.EscrowStatus), args.Error(1)
}

func (m *MockWagerLifecycleService) GetWager(ctx context.Context, wagerID string) (*entities.Wager, error) {
	return m.wager(m.Called(ctx, wagerID))
}

func (m *MockWagerLifecycleService) ListForParticipant(ctx context.Context, participantID string) ([]*entities.Wager, error) {
	args := m.Called(ctx, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Wager), args.Error(1)
}
