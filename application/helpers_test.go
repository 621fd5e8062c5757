package application

import (
	"context"
	"testing"
	"time"

	"wagerbot/domain/entities"
	"wagerbot/domain/testhelpers"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

const (
	testWagerID = "0f9a3c1e-2222-4b66-8d1f-000000000042"
	testEscrow  = "0x00000000000000000000000000000000000e5c70"
	testWallet  = "0x000000000000000000000000000000000000b0b0"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type appMocks struct {
	Lifecycle *testhelpers.MockWagerLifecycleService
	Users     *testhelpers.MockUserRepository
	WagerRepo *testhelpers.MockWagerRepository
	Ledger    *testhelpers.MockLedger
	Oracle    *testhelpers.MockOracle
	Executor  *testhelpers.MockSettlementExecutor
	Archiver  *testhelpers.MockArchiver
	Notifier  *testhelpers.MockNotifier
	Wallets   *mockWalletProvisioner
}

func newAppMocks() *appMocks {
	return &appMocks{
		Lifecycle: &testhelpers.MockWagerLifecycleService{},
		Users:     &testhelpers.MockUserRepository{},
		WagerRepo: &testhelpers.MockWagerRepository{},
		Ledger:    &testhelpers.MockLedger{},
		Oracle:    &testhelpers.MockOracle{},
		Executor:  &testhelpers.MockSettlementExecutor{},
		Archiver:  &testhelpers.MockArchiver{},
		Notifier:  &testhelpers.MockNotifier{},
		Wallets:   &mockWalletProvisioner{},
	}
}

func (m *appMocks) AssertAllExpectations(t *testing.T) {
	m.Lifecycle.AssertExpectations(t)
	m.Users.AssertExpectations(t)
	m.WagerRepo.AssertExpectations(t)
	m.Ledger.AssertExpectations(t)
	m.Oracle.AssertExpectations(t)
	m.Executor.AssertExpectations(t)
	m.Archiver.AssertExpectations(t)
	m.Notifier.AssertExpectations(t)
	m.Wallets.AssertExpectations(t)
}

func (m *appMocks) commands() *Commands {
	return NewCommands(m.Lifecycle, m.Users, m.Wallets, m.Ledger, m.Oracle, CommandConfig{
		BotName:     "WagerBot",
		NativeAsset: "ETH",
		PayoutAsset: "USDC",
		GasReserve:  decimal.RequireFromString("0.001"),
	})
}

type mockWalletProvisioner struct {
	mock.Mock
}

func (m *mockWalletProvisioner) CreateWallet(ctx context.Context) (entities.EscrowAccount, error) {
	args := m.Called(ctx)
	return args.Get(0).(entities.EscrowAccount), args.Error(1)
}

// newTestWager builds a wager in the given status with alice and bob staking 10 ETH
func newTestWager(status entities.WagerStatus) *entities.Wager {
	deadline := testNow.Add(time.Hour)
	return &entities.Wager{
		ID:           testWagerID,
		Description:  "It rains in Paris tomorrow",
		Participants: []string{"alice", "bob"},
		Amounts: map[string]decimal.Decimal{
			"alice": decimal.NewFromInt(10),
			"bob":   decimal.NewFromInt(10),
		},
		Asset:     "ETH",
		Status:    status,
		Escrow:    entities.EscrowAccount{PublicIdentity: testEscrow, SigningRef: "escrow-ref"},
		Deadline:  &deadline,
		CreatedAt: testNow.Add(-time.Hour),
		Version:   3,
	}
}

func completedWager(winner string) *entities.Wager {
	w := newTestWager(entities.WagerStatusCompleted)
	completedAt := testNow
	w.Winner = &winner
	w.CompletedAt = &completedAt
	return w
}
