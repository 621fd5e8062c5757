package oracle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"wagerbot/domain/entities"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestOracle serves reply as the assistant message of every completion
func newTestOracle(t *testing.T, reply string) (*Perplexity, *int32, *[]string) {
	t.Helper()

	var calls int32
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   DefaultModel,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(server.Close)

	return NewPerplexity(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5 * time.Second}), &calls, &bodies
}

func TestClassifyWager_FixedPhrasingSkipsModel(t *testing.T) {
	oracle, calls, _ := newTestOracle(t, `{"isWager": false}`)

	result, err := oracle.ClassifyWager(context.Background(),
		"@wagerbot Can you create a wager between alice, bob and carol for 25 USDC on whether it rains in Paris tomorrow?")
	require.NoError(t, err)

	assert.True(t, result.IsWager)
	assert.True(t, result.BotMentioned)
	assert.Equal(t, []string{"alice", "bob", "carol"}, result.Participants)
	assert.True(t, decimal.NewFromInt(25).Equal(result.Amount))
	assert.Equal(t, "USDC", result.Asset)
	assert.Equal(t, "whether it rains in Paris tomorrow", result.Description)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestClassifyWager_ModelFallback(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		expected *entities.DetectionResult
		wantErr  bool
	}{
		{
			name:  "fenced JSON",
			reply: "```json\n{\"isWager\": true, \"description\": \"Lakers win tonight\", \"amount\": 0.5, \"asset\": \"eth\", \"participants\": [\"dan\", \" erin \"], \"botMentioned\": false}\n```",
			expected: &entities.DetectionResult{
				IsWager:      true,
				Description:  "Lakers win tonight",
				Amount:       decimal.RequireFromString("0.5"),
				Asset:        "ETH",
				Participants: []string{"dan", "erin"},
			},
		},
		{
			name:     "no wager",
			reply:    `{"isWager": false}`,
			expected: &entities.DetectionResult{IsWager: false},
		},
		{
			name:    "prose only",
			reply:   "I cannot tell.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle, calls, _ := newTestOracle(t, tt.reply)

			result, err := oracle.ClassifyWager(context.Background(), "bet you 0.5 eth the lakers win tonight")
			assert.Equal(t, int32(1), atomic.LoadInt32(calls))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected.IsWager, result.IsWager)
			assert.Equal(t, tt.expected.Description, result.Description)
			assert.True(t, tt.expected.Amount.Equal(result.Amount))
			assert.Equal(t, tt.expected.Asset, result.Asset)
			assert.Equal(t, tt.expected.Participants, result.Participants)
		})
	}
}

func TestClassifyDeadline(t *testing.T) {
	t.Run("time-bound", func(t *testing.T) {
		oracle, _, bodies := newTestOracle(t,
			`{"isTimeBound": true, "checkTime": "2024-06-01T15:00:00Z", "manual": false, "explanation": "Market close"}`)

		result, err := oracle.ClassifyDeadline(context.Background(), "BTC above 70k at 3PM UTC on June 1")
		require.NoError(t, err)

		assert.True(t, result.IsTimeBound)
		require.NotNil(t, result.CheckTime)
		assert.True(t, time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC).Equal(*result.CheckTime))
		assert.False(t, result.Manual)
		assert.Equal(t, "Market close", result.Explanation)
		require.Len(t, *bodies, 1)
		assert.Contains(t, (*bodies)[0], `"model":"sonar-pro"`)
	})

	t.Run("null check time", func(t *testing.T) {
		oracle, _, _ := newTestOracle(t, `{"isTimeBound": false, "checkTime": null, "manual": true, "explanation": "Subjective"}`)

		result, err := oracle.ClassifyDeadline(context.Background(), "Best pizza in town")
		require.NoError(t, err)
		assert.Nil(t, result.CheckTime)
		assert.True(t, result.Manual)
	})

	t.Run("unparseable check time is dropped", func(t *testing.T) {
		oracle, _, _ := newTestOracle(t, `{"isTimeBound": true, "checkTime": "tomorrow-ish", "manual": false}`)

		result, err := oracle.ClassifyDeadline(context.Background(), "Rain tomorrow")
		require.NoError(t, err)
		assert.Nil(t, result.CheckTime)
	})
}

func TestVerifyOutcome(t *testing.T) {
	oracle, _, bodies := newTestOracle(t,
		`Here you go: {"verified": true, "confidence": 0.92, "explanation": "Official box score", "winner": "alice"}`)

	result, err := oracle.VerifyOutcome(context.Background(), entities.OutcomeQuery{
		Description:  "Lakers beat the Celtics",
		OutcomeText:  "Lakers won 110-102",
		Participants: []string{"alice", "bob"},
	})
	require.NoError(t, err)

	assert.True(t, result.Verified)
	assert.InDelta(t, 0.92, result.Confidence, 1e-9)
	assert.Equal(t, "alice", result.Winner)
	assert.Equal(t, "Official box score", result.Explanation)
	require.Len(t, *bodies, 1)
	assert.True(t, strings.Contains((*bodies)[0], "alice, bob"))
}

func TestVerifyOutcome_ListsParticipantClaims(t *testing.T) {
	oracle, _, bodies := newTestOracle(t, `{"verified": true, "confidence": 0.9, "explanation": "Final score", "winner": "bob"}`)

	result, err := oracle.VerifyOutcome(context.Background(), entities.OutcomeQuery{
		Description:  "Lakers beat the Celtics",
		Participants: []string{"alice", "bob", "carol"},
		Claims:       map[string]string{"alice": "Lakers win", "bob": "Celtics win"},
	})
	require.NoError(t, err)

	assert.Equal(t, "bob", result.Winner)
	require.Len(t, *bodies, 1)
	assert.Contains(t, (*bodies)[0], "alice (claims: Lakers win), bob (claims: Celtics win), carol")
}

func TestVerifyOutcome_WithoutClaimAsksModel(t *testing.T) {
	oracle, _, bodies := newTestOracle(t, `{"verified": false, "confidence": 0.1}`)

	result, err := oracle.VerifyOutcome(context.Background(), entities.OutcomeQuery{
		Description:  "Snow in Denver by Friday",
		Participants: []string{"carol", "dave"},
	})
	require.NoError(t, err)

	assert.False(t, result.Verified)
	assert.Empty(t, result.Winner)
	assert.Equal(t, "No explanation provided", result.Explanation)
	assert.Contains(t, (*bodies)[0], "Determine the actual outcome")
}

func TestVerifyOutcome_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	oracle := NewPerplexity(Config{APIKey: "wrong", BaseURL: server.URL, Timeout: 5 * time.Second})

	_, err := oracle.VerifyOutcome(context.Background(), entities.OutcomeQuery{Description: "x"})
	assert.Error(t, err)
}
