package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"wagerbot/domain"
	"wagerbot/domain/entities"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

func newTestSettlementWorker(mocks *appMocks, autoSettle bool, withArchive bool) *SettlementWorker {
	var w *SettlementWorker
	cfg := SettlementWorkerConfig{
		Interval:    time.Minute,
		AutoSettle:  autoSettle,
		NativeAsset: "ETH",
		GasReserve:  decimal.RequireFromString("0.001"),
	}
	if withArchive {
		w = NewSettlementWorker(mocks.Executor, mocks.Lifecycle, mocks.WagerRepo, mocks.Users, mocks.Ledger, mocks.Archiver, cfg)
	} else {
		w = NewSettlementWorker(mocks.Executor, mocks.Lifecycle, mocks.WagerRepo, mocks.Users, mocks.Ledger, nil, cfg)
	}
	w.now = func() time.Time { return testNow }
	return w
}

func TestSettlementWorker_ResumeOnly(t *testing.T) {
	mocks := newAppMocks()
	mocks.Executor.On("ResumeIncomplete", mock.Anything).Return(2, nil)

	newTestSettlementWorker(mocks, false, false).RunOnce(context.Background())

	mocks.WagerRepo.AssertNotCalled(t, "ListCompletedUnsettled", mock.Anything, mock.Anything)
	mocks.AssertAllExpectations(t)
}

func TestSettlementWorker_AutoSettle(t *testing.T) {
	mocks := newAppMocks()
	mocks.Executor.On("ResumeIncomplete", mock.Anything).Return(0, errors.New("db down"))

	paid := completedWager("bob")

	noWallet := completedWager("alice")
	noWallet.ID = "wager-no-wallet"

	inProgress := completedWager("bob")
	inProgress.ID = "wager-in-progress"
	inProgress.Settlement = &entities.Settlement{State: entities.SettlementStateSwapped}

	drained := completedWager("bob")
	drained.ID = "wager-drained"
	drained.Escrow.PublicIdentity = "0xdrained"

	token := completedWager("bob")
	token.ID = "wager-token"
	token.Asset = "USDC"
	token.Escrow.PublicIdentity = "0xtoken"

	mocks.WagerRepo.On("ListCompletedUnsettled", mock.Anything, sweepBatchSize).
		Return([]*entities.Wager{paid, noWallet, inProgress, drained, token}, nil)

	wallet := testWallet
	mocks.Users.On("GetByID", mock.Anything, "bob").Return(&entities.User{ID: "bob", WalletAddress: &wallet}, nil)
	mocks.Users.On("GetByID", mock.Anything, "alice").Return(&entities.User{ID: "alice"}, nil)

	mocks.Ledger.On("GetBalance", mock.Anything, testEscrow).Return(decimal.RequireFromString("1.001"), nil)
	mocks.Ledger.On("GetBalance", mock.Anything, "0xdrained").Return(decimal.Zero, nil)
	mocks.Ledger.On("GetTokenBalance", mock.Anything, "0xtoken", "USDC").Return(decimal.NewFromInt(20), nil)

	mocks.Lifecycle.On("Settle", mock.Anything, paid.ID, testWallet, mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(decimal.NewFromInt(1))
	})).Return(&entities.SettlementReceipt{WagerID: paid.ID}, nil)
	mocks.Lifecycle.On("Settle", mock.Anything, token.ID, testWallet, mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(decimal.NewFromInt(20))
	})).Return(&entities.SettlementReceipt{WagerID: token.ID}, nil)

	newTestSettlementWorker(mocks, true, false).RunOnce(context.Background())

	mocks.Lifecycle.AssertNumberOfCalls(t, "Settle", 2)
	mocks.Ledger.AssertNotCalled(t, "GetBalance", mock.Anything, "0xtoken")
	mocks.AssertAllExpectations(t)
}

func TestSettlementWorker_SettleFailureContinues(t *testing.T) {
	mocks := newAppMocks()
	mocks.Executor.On("ResumeIncomplete", mock.Anything).Return(0, nil)

	first := completedWager("bob")
	second := completedWager("bob")
	second.ID = "wager-second"

	mocks.WagerRepo.On("ListCompletedUnsettled", mock.Anything, sweepBatchSize).Return([]*entities.Wager{first, second}, nil)
	wallet := testWallet
	mocks.Users.On("GetByID", mock.Anything, "bob").Return(&entities.User{ID: "bob", WalletAddress: &wallet}, nil)
	mocks.Ledger.On("GetBalance", mock.Anything, testEscrow).Return(decimal.NewFromInt(2), nil)
	mocks.Lifecycle.On("Settle", mock.Anything, first.ID, testWallet, mock.Anything).Return(nil, domain.ErrLockHeld)
	mocks.Lifecycle.On("Settle", mock.Anything, second.ID, testWallet, mock.Anything).Return(&entities.SettlementReceipt{}, nil)

	newTestSettlementWorker(mocks, true, false).RunOnce(context.Background())

	mocks.AssertAllExpectations(t)
}

func TestSettlementWorker_Archive(t *testing.T) {
	mocks := newAppMocks()
	mocks.Executor.On("ResumeIncomplete", mock.Anything).Return(0, nil)

	archived := completedWager("bob")
	failing := completedWager("bob")
	failing.ID = "wager-archive-fails"

	mocks.WagerRepo.On("ListSettledUnarchived", mock.Anything, sweepBatchSize).Return([]*entities.Wager{archived, failing}, nil)
	mocks.Archiver.On("ArchiveWager", mock.Anything, archived).Return("archive/wagers/2024-05/"+archived.ID+".json", nil)
	mocks.Archiver.On("ArchiveWager", mock.Anything, failing).Return("", errors.New("bucket unavailable"))
	mocks.WagerRepo.On("MarkArchived", mock.Anything, archived.ID, testNow).Return(nil)

	newTestSettlementWorker(mocks, false, true).RunOnce(context.Background())

	mocks.WagerRepo.AssertNotCalled(t, "MarkArchived", mock.Anything, failing.ID, mock.Anything)
	mocks.AssertAllExpectations(t)
}
