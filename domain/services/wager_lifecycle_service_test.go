package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"wagerbot/domain"
	"wagerbot/domain/entities"
	"wagerbot/events"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestLifecycleService(mocks *TestMocks, cfg LifecycleConfig) *wagerLifecycleService {
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.5
	}
	if cfg.NativeAsset == "" {
		cfg.NativeAsset = TestNativeAsset
	}
	if cfg.PayoutAsset == "" {
		cfg.PayoutAsset = TestAsset
	}
	service := NewWagerLifecycleService(
		mocks.WagerRepo,
		mocks.Ledger,
		mocks.Oracle,
		mocks.FundingMonitor,
		mocks.DeadlineResolver,
		mocks.SettlementExecutor,
		mocks.EventPublisher,
		mocks.Locks,
		cfg,
	).(*wagerLifecycleService)
	service.now = func() time.Time { return TestNow }
	return service
}

func TestWagerLifecycleService_Create(t *testing.T) {
	escrow := entities.EscrowAccount{PublicIdentity: TestEscrowAddress, SigningRef: TestEscrowRef}

	tests := []struct {
		name          string
		description   string
		asset         string
		stake         decimal.Decimal
		participant   string
		claim         string
		setupMocks    func(*TestMocks, *MockHelper)
		expectedError error
	}{
		{
			name:        "creates pending wager with creator stake",
			description: "Will it rain?",
			asset:       "usdc",
			stake:       decimal.NewFromInt(10),
			participant: TestCreatorID,
			claim:       " " + TestCreatorClaim + " ",
			setupMocks: func(m *TestMocks, h *MockHelper) {
				m.Ledger.On("CreateEscrowAccount", mock.Anything).Return(escrow, nil)
				m.WagerRepo.On("Create", mock.Anything, mock.MatchedBy(func(w *entities.Wager) bool {
					return w.Status == entities.WagerStatusPending &&
						w.Asset == TestAsset &&
						w.Escrow == escrow &&
						w.Claim(TestCreatorID) == TestCreatorClaim &&
						len(w.Participants) == 1 &&
						w.Amounts[TestCreatorID].Equal(decimal.NewFromInt(10)) &&
						w.AmountsMatchParticipants() &&
						w.CreatedAt.Equal(TestNow)
				})).Return(nil)
				h.ExpectEventPublish(events.EventTypeWagerCreated)
			},
		},
		{
			name:          "missing description",
			description:   "  ",
			asset:         TestAsset,
			stake:         decimal.NewFromInt(10),
			participant:   TestCreatorID,
			setupMocks:    func(m *TestMocks, h *MockHelper) {},
			expectedError: domain.ErrValidation,
		},
		{
			name:        "native stake is accepted",
			description: "Will it rain?",
			asset:       "eth",
			stake:       decimal.RequireFromString("0.5"),
			participant: TestCreatorID,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				m.Ledger.On("CreateEscrowAccount", mock.Anything).Return(escrow, nil)
				m.WagerRepo.On("Create", mock.Anything, mock.MatchedBy(func(w *entities.Wager) bool {
					return w.Asset == TestNativeAsset && len(w.Claims) == 0
				})).Return(nil)
				h.ExpectEventPublish(events.EventTypeWagerCreated)
			},
		},
		{
			name:          "stake asset that cannot be paid out",
			description:   "Will it rain?",
			asset:         "DOGE",
			stake:         decimal.NewFromInt(10),
			participant:   TestCreatorID,
			setupMocks:    func(m *TestMocks, h *MockHelper) {},
			expectedError: domain.ErrValidation,
		},
		{
			name:          "non-positive stake",
			description:   "Will it rain?",
			asset:         TestAsset,
			stake:         decimal.NewFromInt(-1),
			participant:   TestCreatorID,
			setupMocks:    func(m *TestMocks, h *MockHelper) {},
			expectedError: domain.ErrValidation,
		},
		{
			name:          "missing participant",
			description:   "Will it rain?",
			asset:         TestAsset,
			stake:         decimal.NewFromInt(10),
			setupMocks:    func(m *TestMocks, h *MockHelper) {},
			expectedError: domain.ErrValidation,
		},
		{
			name:        "ledger unavailable",
			description: "Will it rain?",
			asset:       TestAsset,
			stake:       decimal.NewFromInt(10),
			participant: TestCreatorID,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				m.Ledger.On("CreateEscrowAccount", mock.Anything).Return(entities.EscrowAccount{}, errors.New("rpc down"))
			},
			expectedError: domain.ErrCollaborator,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mocks := NewTestMocks()
			helper := NewMockHelper(mocks)
			tt.setupMocks(mocks, helper)

			service := newTestLifecycleService(mocks, LifecycleConfig{})
			wager, err := service.Create(context.Background(), tt.description, tt.asset, tt.stake, tt.participant, tt.claim)

			if tt.expectedError != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, wager)
				mocks.WagerRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			} else {
				require.NoError(t, err)
				assert.NotEmpty(t, wager.ID)
				assert.Equal(t, entities.WagerStatusPending, wager.Status)
			}

			mocks.AssertAllExpectations(t)
		})
	}
}

func TestWagerLifecycleService_Join(t *testing.T) {
	tests := []struct {
		name           string
		wager          func() *entities.Wager
		participant    string
		claim          string
		cfg            LifecycleConfig
		setupMocks     func(*TestMocks, *MockHelper)
		expectedError  error
		expectedStatus entities.WagerStatus
	}{
		{
			name:        "second participant mirrors stake and activates",
			wager:       NewPendingWager,
			participant: TestJoinerID,
			claim:       TestJoinerClaim,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
				h.ExpectWagerUpdate(func(w *entities.Wager) bool {
					return w.Status == entities.WagerStatusActive &&
						assert.ObjectsAreEqual([]string{TestCreatorID, TestJoinerID}, w.Participants) &&
						w.Claim(TestJoinerID) == TestJoinerClaim &&
						w.Claim(TestCreatorID) == TestCreatorClaim &&
						w.Amounts[TestJoinerID].Equal(decimal.NewFromInt(10)) &&
						w.AmountsMatchParticipants()
				})
				h.ExpectEventPublish(events.EventTypeParticipantJoined)
			},
			expectedStatus: entities.WagerStatusActive,
		},
		{
			name:        "active wager is not joinable",
			wager:       NewActiveWager,
			participant: TestOutsiderID,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
			},
			expectedError: domain.ErrNotJoinable,
		},
		{
			name:        "completed wager is not joinable",
			wager:       NewCompletedWager,
			participant: TestOutsiderID,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
			},
			expectedError: domain.ErrNotJoinable,
		},
		{
			name:        "duplicate participant rejected",
			wager:       NewPendingWager,
			participant: TestCreatorID,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
			},
			expectedError: domain.ErrAlreadyParticipant,
		},
		{
			name:        "claim already held by another participant",
			wager:       NewPendingWager,
			participant: TestJoinerID,
			claim:       "it RAINS",
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
			},
			expectedError: domain.ErrValidation,
		},
		{
			name:        "funding gate keeps underfunded wager pending",
			wager:       NewPendingWager,
			participant: TestJoinerID,
			cfg:         LifecycleConfig{RequireFundingToActivate: true},
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
				m.FundingMonitor.On("IsFullyFunded", mock.Anything, TestEscrowAddress, mock.MatchedBy(func(d decimal.Decimal) bool {
					return d.Equal(decimal.NewFromInt(20))
				}), TestAsset).Return(false, nil)
				h.ExpectWagerUpdate(func(w *entities.Wager) bool {
					return w.Status == entities.WagerStatusPending && len(w.Participants) == 2
				})
				h.ExpectEventPublish(events.EventTypeParticipantJoined)
			},
			expectedStatus: entities.WagerStatusPending,
		},
		{
			name:        "funding gate activates funded wager",
			wager:       NewPendingWager,
			participant: TestJoinerID,
			cfg:         LifecycleConfig{RequireFundingToActivate: true},
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
				m.FundingMonitor.On("IsFullyFunded", mock.Anything, TestEscrowAddress, mock.Anything, TestAsset).Return(true, nil)
				h.ExpectWagerUpdate(func(w *entities.Wager) bool {
					return w.Status == entities.WagerStatusActive
				})
				h.ExpectEventPublish(events.EventTypeParticipantJoined)
			},
			expectedStatus: entities.WagerStatusActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mocks := NewTestMocks()
			helper := NewMockHelper(mocks)
			stored := tt.wager()
			before := stored.Clone()
			helper.ExpectWagerLookup(stored)
			tt.setupMocks(mocks, helper)

			service := newTestLifecycleService(mocks, tt.cfg)
			wager, err := service.Join(context.Background(), TestWagerID, tt.participant, tt.claim)

			if tt.expectedError != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectedError)
				if !errors.Is(tt.expectedError, domain.ErrValidation) {
					assert.ErrorIs(t, err, domain.ErrInvalidTransition)
				}
				assert.Nil(t, wager)
				mocks.WagerRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectedStatus, wager.Status)
				assert.True(t, wager.AmountsMatchParticipants())
			}
			assert.Equal(t, before, stored, "stored record must never be mutated in place")

			mocks.AssertAllExpectations(t)
		})
	}
}

func TestWagerLifecycleService_Resolve(t *testing.T) {
	future := TestNow.Add(time.Hour)
	past := TestNow.Add(-time.Minute)

	tests := []struct {
		name          string
		wager         func() *entities.Wager
		setupMocks    func(*TestMocks, *MockHelper)
		expectedError error
		validate      func(*testing.T, *entities.VerificationResult)
	}{
		{
			name:  "verified outcome completes wager for the named participant",
			wager: NewActiveWager,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
				m.Oracle.On("VerifyOutcome", mock.Anything, entities.OutcomeQuery{
					Description:  "Will it rain?",
					OutcomeText:  "it rained",
					Participants: []string{TestCreatorID, TestJoinerID},
					Claims:       map[string]string{TestCreatorID: TestCreatorClaim, TestJoinerID: TestJoinerClaim},
				}).Return(&entities.VerificationResult{Verified: true, Confidence: 0.9, Explanation: "Rain recorded", Winner: "Bob"}, nil)
				h.ExpectWagerUpdate(func(w *entities.Wager) bool {
					return w.Status == entities.WagerStatusCompleted &&
						w.Winner != nil && *w.Winner == TestJoinerID &&
						w.CompletedAt != nil && w.CompletedAt.Equal(TestNow) &&
						w.Outcome != nil && *w.Outcome == "it rained" &&
						w.ResolvedBy != nil && *w.ResolvedBy == TestCreatorID &&
						w.Verification != nil && w.Verification.Confidence == 0.9
				})
				h.ExpectEventPublish(events.EventTypeWagerResolved)
			},
			validate: func(t *testing.T, r *entities.VerificationResult) {
				assert.True(t, r.Verified)
				assert.Equal(t, 0.9, r.Confidence)
			},
		},
		{
			name:  "winner given as the upheld claim maps to the participant holding it",
			wager: NewActiveWager,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
				m.Oracle.On("VerifyOutcome", mock.Anything, mock.MatchedBy(func(q entities.OutcomeQuery) bool {
					return q.Claims[TestCreatorID] == TestCreatorClaim && q.Claims[TestJoinerID] == TestJoinerClaim
				})).Return(&entities.VerificationResult{Verified: true, Confidence: 0.9, Explanation: "No rain recorded", Winner: "it stays dry"}, nil)
				h.ExpectWagerUpdate(func(w *entities.Wager) bool {
					return w.Status == entities.WagerStatusCompleted && w.Winner != nil && *w.Winner == TestJoinerID
				})
				h.ExpectEventPublish(events.EventTypeWagerResolved)
			},
			validate: func(t *testing.T, r *entities.VerificationResult) {
				assert.True(t, r.Verified)
			},
		},
		{
			name:  "pending wager cannot be resolved",
			wager: NewPendingWager,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
			},
			expectedError: domain.ErrNotActive,
		},
		{
			name:  "completed wager cannot be resolved again",
			wager: NewCompletedWager,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
			},
			expectedError: domain.ErrNotActive,
		},
		{
			name: "trusted deadline not reached",
			wager: func() *entities.Wager {
				w := NewActiveWager()
				w.Deadline = &future
				return w
			},
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
			},
			expectedError: domain.ErrDeadlineNotReached,
		},
		{
			name: "manual deadline does not block on-demand resolution",
			wager: func() *entities.Wager {
				w := NewActiveWager()
				w.Deadline = &future
				w.DeadlineManual = true
				return w
			},
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
				m.Oracle.On("VerifyOutcome", mock.Anything, mock.Anything).
					Return(&entities.VerificationResult{Verified: true, Confidence: 0.8, Winner: TestCreatorID}, nil)
				h.ExpectWagerUpdate(func(w *entities.Wager) bool {
					return *w.Winner == TestCreatorID
				})
				h.ExpectEventPublish(events.EventTypeWagerResolved)
			},
		},
		{
			name: "passed deadline allows resolution",
			wager: func() *entities.Wager {
				w := NewActiveWager()
				w.Deadline = &past
				return w
			},
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
				m.Oracle.On("VerifyOutcome", mock.Anything, mock.Anything).
					Return(&entities.VerificationResult{Verified: true, Confidence: 0.7, Winner: TestJoinerID}, nil)
				h.ExpectWagerUpdate(func(w *entities.Wager) bool { return w.Status == entities.WagerStatusCompleted })
				h.ExpectEventPublish(events.EventTypeWagerResolved)
			},
		},
		{
			name:  "verified outcome naming a non-participant is ambiguous",
			wager: NewActiveWager,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
				m.Oracle.On("VerifyOutcome", mock.Anything, mock.Anything).
					Return(&entities.VerificationResult{Verified: true, Confidence: 0.9, Winner: TestOutsiderID}, nil)
			},
			expectedError: domain.ErrAmbiguousOutcome,
		},
		{
			name:  "verified outcome naming nobody is ambiguous",
			wager: NewActiveWager,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
				m.Oracle.On("VerifyOutcome", mock.Anything, mock.Anything).
					Return(&entities.VerificationResult{Verified: true, Confidence: 0.9}, nil)
			},
			expectedError: domain.ErrAmbiguousOutcome,
		},
		{
			name:  "unverified outcome leaves wager active",
			wager: NewActiveWager,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
				m.Oracle.On("VerifyOutcome", mock.Anything, mock.Anything).
					Return(&entities.VerificationResult{Verified: false, Confidence: 0.2, Explanation: "No rain"}, nil)
			},
			validate: func(t *testing.T, r *entities.VerificationResult) {
				assert.False(t, r.Verified)
				assert.Equal(t, "No rain", r.Explanation)
			},
		},
		{
			name:  "low confidence verification is not accepted",
			wager: NewActiveWager,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
				m.Oracle.On("VerifyOutcome", mock.Anything, mock.Anything).
					Return(&entities.VerificationResult{Verified: true, Confidence: 0.3, Winner: TestJoinerID}, nil)
			},
			validate: func(t *testing.T, r *entities.VerificationResult) {
				assert.False(t, r.Verified)
				assert.Contains(t, r.Explanation, "below threshold")
			},
		},
		{
			name:  "oracle failure degrades to not verified",
			wager: NewActiveWager,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
				m.Oracle.On("VerifyOutcome", mock.Anything, mock.Anything).Return(nil, errors.New("oracle timeout"))
			},
			validate: func(t *testing.T, r *entities.VerificationResult) {
				assert.False(t, r.Verified)
				assert.Equal(t, 0.0, r.Confidence)
				assert.Equal(t, "Error during verification", r.Explanation)
			},
		},
		{
			name:  "concurrent update surfaces as conflict",
			wager: NewActiveWager,
			setupMocks: func(m *TestMocks, h *MockHelper) {
				h.ExpectLock(TestWagerID)
				m.Oracle.On("VerifyOutcome", mock.Anything, mock.Anything).
					Return(&entities.VerificationResult{Verified: true, Confidence: 0.9, Winner: TestJoinerID}, nil)
				m.WagerRepo.On("Update", mock.Anything, mock.Anything).Return(domain.ErrConcurrentUpdate)
			},
			expectedError: domain.ErrConcurrentUpdate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mocks := NewTestMocks()
			helper := NewMockHelper(mocks)
			stored := tt.wager()
			helper.ExpectWagerLookup(stored)
			tt.setupMocks(mocks, helper)

			service := newTestLifecycleService(mocks, LifecycleConfig{})
			result, err := service.Resolve(context.Background(), TestWagerID, "it rained", TestCreatorID)

			if tt.expectedError != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, result)
			} else {
				require.NoError(t, err)
				require.NotNil(t, result)
			}
			if tt.validate != nil {
				tt.validate(t, result)
			}
			if stored.Status != entities.WagerStatusCompleted {
				assert.Nil(t, stored.Winner)
				assert.Nil(t, stored.CompletedAt)
			}

			mocks.AssertAllExpectations(t)
		})
	}
}

func TestWagerLifecycleService_ResolveValidation(t *testing.T) {
	mocks := NewTestMocks()
	service := newTestLifecycleService(mocks, LifecycleConfig{})

	_, err := service.Resolve(context.Background(), TestWagerID, "  ", TestCreatorID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = service.Resolve(context.Background(), TestWagerID, "it rained", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	mocks.AssertAllExpectations(t)
}

func TestWagerLifecycleService_ResolveDue(t *testing.T) {
	past := TestNow.Add(-time.Minute)
	future := TestNow.Add(time.Minute)

	t.Run("resolves wager past its trusted deadline", func(t *testing.T) {
		mocks := NewTestMocks()
		helper := NewMockHelper(mocks)
		w := NewActiveWager()
		w.Deadline = &past
		helper.ExpectWagerLookup(w)
		helper.ExpectLock(TestWagerID)
		mocks.Oracle.On("VerifyOutcome", mock.Anything, mock.MatchedBy(func(q entities.OutcomeQuery) bool {
			return q.OutcomeText == ""
		})).Return(&entities.VerificationResult{Verified: true, Confidence: 0.95, Explanation: "It rained in the city", Winner: TestCreatorID}, nil)
		helper.ExpectWagerUpdate(func(w *entities.Wager) bool {
			return *w.ResolvedBy == SweepResolverID && *w.Outcome == "It rained in the city"
		})
		helper.ExpectEventPublish(events.EventTypeWagerResolved)

		service := newTestLifecycleService(mocks, LifecycleConfig{})
		result, err := service.ResolveDue(context.Background(), TestWagerID)

		require.NoError(t, err)
		assert.True(t, result.Verified)
		mocks.AssertAllExpectations(t)
	})

	for name, wager := range map[string]func() *entities.Wager{
		"manual deadline is never swept": func() *entities.Wager {
			w := NewActiveWager()
			w.Deadline = &past
			w.DeadlineManual = true
			return w
		},
		"future deadline is not due": func() *entities.Wager {
			w := NewActiveWager()
			w.Deadline = &future
			return w
		},
		"missing deadline is not due": NewActiveWager,
	} {
		t.Run(name, func(t *testing.T) {
			mocks := NewTestMocks()
			helper := NewMockHelper(mocks)
			helper.ExpectWagerLookup(wager())
			helper.ExpectLock(TestWagerID)

			service := newTestLifecycleService(mocks, LifecycleConfig{})
			_, err := service.ResolveDue(context.Background(), TestWagerID)

			assert.ErrorIs(t, err, domain.ErrDeadlineNotReached)
			mocks.Oracle.AssertNotCalled(t, "VerifyOutcome", mock.Anything, mock.Anything)
			mocks.AssertAllExpectations(t)
		})
	}
}

func TestWagerLifecycleService_RainScenario(t *testing.T) {
	mocks := NewTestMocks()
	escrow := entities.EscrowAccount{PublicIdentity: TestEscrowAddress, SigningRef: TestEscrowRef}

	repo := newMemoryWagerRepository()
	mocks.Ledger.On("CreateEscrowAccount", mock.Anything).Return(escrow, nil)
	mocks.Locks.On("Acquire", mock.Anything, mock.Anything, mock.Anything).Return(func() {}, nil)
	mocks.EventPublisher.On("Publish", mock.Anything).Return(nil)
	mocks.Oracle.On("VerifyOutcome", mock.Anything, mock.MatchedBy(func(q entities.OutcomeQuery) bool {
		return q.Claims["alice"] == "it stays dry" && q.Claims["bob"] == "it rains"
	})).Return(&entities.VerificationResult{Verified: true, Confidence: 0.9, Winner: "It rains"}, nil)

	service := newTestLifecycleService(mocks, LifecycleConfig{})
	service.wagerRepo = repo
	ctx := context.Background()

	w, err := service.Create(ctx, "Will it rain?", "USDC", decimal.NewFromInt(10), "alice", "it stays dry")
	require.NoError(t, err)
	assert.Equal(t, entities.WagerStatusPending, w.Status)

	w, err = service.Join(ctx, w.ID, "bob", "it rains")
	require.NoError(t, err)
	assert.Equal(t, entities.WagerStatusActive, w.Status)
	assert.True(t, w.Amounts["alice"].Equal(decimal.NewFromInt(10)))
	assert.True(t, w.Amounts["bob"].Equal(decimal.NewFromInt(10)))

	result, err := service.Resolve(ctx, w.ID, "it rained", "bob")
	require.NoError(t, err)
	assert.True(t, result.Verified)

	stored := repo.wagers[w.ID]
	assert.Equal(t, entities.WagerStatusCompleted, stored.Status)
	require.NotNil(t, stored.Winner)
	assert.Equal(t, "bob", *stored.Winner)
	require.NotNil(t, stored.CompletedAt)
	firstCompletedAt := *stored.CompletedAt

	_, err = service.Resolve(ctx, w.ID, "it rained again", "alice")
	assert.ErrorIs(t, err, domain.ErrNotActive)
	stored = repo.wagers[w.ID]
	assert.Equal(t, "bob", *stored.Winner)
	assert.Equal(t, firstCompletedAt, *stored.CompletedAt)
}

func TestWagerLifecycleService_SetDeadline(t *testing.T) {
	t.Run("overwrites deadline and clears manual flag", func(t *testing.T) {
		mocks := NewTestMocks()
		helper := NewMockHelper(mocks)
		w := NewActiveWager()
		earlier := TestNow.Add(5 * time.Minute)
		w.Deadline = &earlier
		w.DeadlineManual = true
		helper.ExpectWagerLookup(w)
		helper.ExpectLock(TestWagerID)
		helper.ExpectWagerUpdate(func(w *entities.Wager) bool {
			return w.Deadline.Equal(TestNow.Add(30*time.Minute)) && !w.DeadlineManual && w.Status == entities.WagerStatusActive
		})
		helper.ExpectEventPublish(events.EventTypeDeadlineSet)

		service := newTestLifecycleService(mocks, LifecycleConfig{})
		updated, err := service.SetDeadline(context.Background(), TestWagerID, 30)

		require.NoError(t, err)
		assert.False(t, updated.DeadlineManual)
		mocks.AssertAllExpectations(t)
	})

	t.Run("rejects non-positive minutes", func(t *testing.T) {
		mocks := NewTestMocks()
		service := newTestLifecycleService(mocks, LifecycleConfig{})
		_, err := service.SetDeadline(context.Background(), TestWagerID, 0)
		assert.ErrorIs(t, err, domain.ErrValidation)
		mocks.AssertAllExpectations(t)
	})

	t.Run("rejects closed wagers", func(t *testing.T) {
		mocks := NewTestMocks()
		helper := NewMockHelper(mocks)
		helper.ExpectWagerLookup(NewCompletedWager())
		helper.ExpectLock(TestWagerID)

		service := newTestLifecycleService(mocks, LifecycleConfig{})
		_, err := service.SetDeadline(context.Background(), TestWagerID, 10)

		assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
		mocks.AssertAllExpectations(t)
	})
}

func TestWagerLifecycleService_AssignDeadline(t *testing.T) {
	checkTime := time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)

	mocks := NewTestMocks()
	helper := NewMockHelper(mocks)
	w := NewPendingWager()
	w.Description = "Will BTC exceed $100k at 3PM UTC today?"
	helper.ExpectWagerLookup(w)
	helper.ExpectLock(TestWagerID)
	mocks.DeadlineResolver.On("ClassifyDeadline", mock.Anything, w.Description).Return(entities.DeadlineDecision{
		Deadline: checkTime,
		Manual:   false,
		Classification: entities.DeadlineClassification{
			IsTimeBound: true,
			CheckTime:   &checkTime,
		},
	})
	helper.ExpectWagerUpdate(func(w *entities.Wager) bool {
		return w.Deadline != nil && w.Deadline.Equal(checkTime) && !w.DeadlineManual
	})
	helper.ExpectEventPublish(events.EventTypeDeadlineSet)

	service := newTestLifecycleService(mocks, LifecycleConfig{})
	updated, err := service.AssignDeadline(context.Background(), TestWagerID)

	require.NoError(t, err)
	assert.Equal(t, checkTime, *updated.Deadline)
	mocks.AssertAllExpectations(t)
}

func TestWagerLifecycleService_Abandon(t *testing.T) {
	t.Run("abandons active wager", func(t *testing.T) {
		mocks := NewTestMocks()
		helper := NewMockHelper(mocks)
		helper.ExpectWagerLookup(NewActiveWager())
		helper.ExpectLock(TestWagerID)
		helper.ExpectWagerUpdate(func(w *entities.Wager) bool {
			return w.Status == entities.WagerStatusAbandoned && *w.AbandonReason == "expired" && w.AbandonedAt.Equal(TestNow)
		})
		helper.ExpectEventPublish(events.EventTypeWagerAbandoned)

		service := newTestLifecycleService(mocks, LifecycleConfig{})
		w, err := service.Abandon(context.Background(), TestWagerID, "expired")

		require.NoError(t, err)
		assert.Equal(t, entities.WagerStatusAbandoned, w.Status)
		mocks.AssertAllExpectations(t)
	})

	t.Run("completed wager cannot be abandoned", func(t *testing.T) {
		mocks := NewTestMocks()
		helper := NewMockHelper(mocks)
		helper.ExpectWagerLookup(NewCompletedWager())
		helper.ExpectLock(TestWagerID)

		service := newTestLifecycleService(mocks, LifecycleConfig{})
		_, err := service.Abandon(context.Background(), TestWagerID, "")

		assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
		mocks.AssertAllExpectations(t)
	})
}

func TestWagerLifecycleService_Activate(t *testing.T) {
	tests := []struct {
		name          string
		wager         func() *entities.Wager
		funded        bool
		expectedError error
	}{
		{
			name: "funded pending wager activates",
			wager: func() *entities.Wager {
				w := NewActiveWager()
				w.Status = entities.WagerStatusPending
				return w
			},
			funded: true,
		},
		{
			name: "underfunded wager stays pending",
			wager: func() *entities.Wager {
				w := NewActiveWager()
				w.Status = entities.WagerStatusPending
				return w
			},
			funded:        false,
			expectedError: domain.ErrNotFunded,
		},
		{
			name:          "single participant cannot activate",
			wager:         NewPendingWager,
			expectedError: domain.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mocks := NewTestMocks()
			helper := NewMockHelper(mocks)
			w := tt.wager()
			helper.ExpectWagerLookup(w)
			helper.ExpectLock(TestWagerID)
			if len(w.Participants) > 1 {
				mocks.FundingMonitor.On("IsFullyFunded", mock.Anything, TestEscrowAddress, mock.Anything, TestAsset).Return(tt.funded, nil)
			}
			if tt.expectedError == nil {
				helper.ExpectWagerUpdate(func(w *entities.Wager) bool { return w.Status == entities.WagerStatusActive })
			}

			service := newTestLifecycleService(mocks, LifecycleConfig{RequireFundingToActivate: true})
			_, err := service.Activate(context.Background(), TestWagerID)

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			mocks.AssertAllExpectations(t)
		})
	}
}

func TestWagerLifecycleService_Settle(t *testing.T) {
	amount := decimal.RequireFromString("0.25")

	t.Run("delegates completed wager to executor", func(t *testing.T) {
		mocks := NewTestMocks()
		helper := NewMockHelper(mocks)
		completed := NewCompletedWager()
		helper.ExpectWagerLookup(completed)
		helper.ExpectLock(TestWagerID)
		receipt := &entities.SettlementReceipt{WagerID: TestWagerID, PayoutSignature: "0xpaid"}
		mocks.SettlementExecutor.On("Settle", mock.Anything, completed, TestWinnerAddress, amount).Return(receipt, nil)

		service := newTestLifecycleService(mocks, LifecycleConfig{})
		got, err := service.Settle(context.Background(), TestWagerID, TestWinnerAddress, amount)

		require.NoError(t, err)
		assert.Equal(t, receipt, got)
		mocks.AssertAllExpectations(t)
	})

	t.Run("active wager is rejected before the executor", func(t *testing.T) {
		mocks := NewTestMocks()
		helper := NewMockHelper(mocks)
		helper.ExpectWagerLookup(NewActiveWager())
		helper.ExpectLock(TestWagerID)

		service := newTestLifecycleService(mocks, LifecycleConfig{})
		_, err := service.Settle(context.Background(), TestWagerID, TestWinnerAddress, amount)

		assert.ErrorIs(t, err, domain.ErrNotCompleted)
		mocks.AssertAllExpectations(t)
	})

	t.Run("lock held by another worker", func(t *testing.T) {
		mocks := NewTestMocks()
		mocks.Locks.On("Acquire", mock.Anything, "wager:"+TestWagerID, mock.Anything).Return(nil, domain.ErrLockHeld)

		service := newTestLifecycleService(mocks, LifecycleConfig{})
		_, err := service.Settle(context.Background(), TestWagerID, TestWinnerAddress, amount)

		assert.ErrorIs(t, err, domain.ErrLockHeld)
		assert.True(t, domain.IsRetryable(err))
		mocks.AssertAllExpectations(t)
	})
}

func TestWagerLifecycleService_CheckEscrow(t *testing.T) {
	mocks := NewTestMocks()
	helper := NewMockHelper(mocks)
	helper.ExpectWagerLookup(NewActiveWager())
	mocks.FundingMonitor.On("Snapshot", mock.Anything, TestEscrowAddress, []string{TestAsset}).Return(map[string]decimal.Decimal{
		TestNativeAsset: decimal.RequireFromString("0.01"),
		TestAsset:       decimal.NewFromInt(15),
	}, nil)

	service := newTestLifecycleService(mocks, LifecycleConfig{PayoutAsset: "usdc"})
	status, err := service.CheckEscrow(context.Background(), TestWagerID)

	require.NoError(t, err)
	assert.True(t, status.Required.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, TestAsset, status.RequiredAsset)
	assert.False(t, status.FullyFunded)
	mocks.AssertAllExpectations(t)
}

func TestWagerLifecycleService_GetWagerNotFound(t *testing.T) {
	mocks := NewTestMocks()
	helper := NewMockHelper(mocks)
	helper.ExpectWagerNotFound("missing")

	service := newTestLifecycleService(mocks, LifecycleConfig{})
	_, err := service.GetWager(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrNotFound)
	mocks.AssertAllExpectations(t)
}

func TestWagerLifecycleService_ConcurrentJoinsActivateOnce(t *testing.T) {
	mocks := NewTestMocks()
	repo := newMemoryWagerRepository()
	require.NoError(t, repo.Create(context.Background(), NewPendingWager()))

	mocks.Locks.On("Acquire", mock.Anything, mock.Anything, mock.Anything).Return(func() {}, nil)
	mocks.EventPublisher.On("Publish", mock.Anything).Return(nil)

	service := newTestLifecycleService(mocks, LifecycleConfig{})
	service.wagerRepo = repo

	const joiners = 8
	var wg sync.WaitGroup
	errs := make(chan error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := service.Join(context.Background(), TestWagerID, fmt.Sprintf("player-%d", i), "")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrConcurrentUpdate) || errors.Is(err, domain.ErrNotJoinable), "unexpected error: %v", err)
	}

	stored := repo.wagers[TestWagerID]
	assert.Equal(t, 1, succeeded)
	assert.Len(t, stored.Participants, 2)
	assert.True(t, stored.AmountsMatchParticipants())
	assert.Equal(t, entities.WagerStatusActive, stored.Status)
}
