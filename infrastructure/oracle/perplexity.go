// Package oracle interprets wager text and verifies outcomes with an
// OpenAI-compatible search model.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"wagerbot/domain/entities"
	"wagerbot/domain/interfaces"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL = "https://api.perplexity.ai"
	DefaultModel   = "sonar-pro"
)

const detectPrompt = `You are a wager detection system. Decide whether the message proposes a wager. ` +
	`If it does, extract the proposition, the stake amount, the asset symbol and the participants. ` +
	`Respond only with JSON: {"isWager": boolean, "description": string, "amount": number, "asset": string, "participants": string[], "botMentioned": boolean}. ` +
	`If there is no wager respond {"isWager": false}.`

const deadlinePrompt = `You are a wager time extraction system. Given a wager description, decide whether the outcome ` +
	`is time-bound and can be independently verified (weather, markets, sports, public events). ` +
	`If so, give the UTC time when the outcome should be checked. If not, set "manual" to true. ` +
	`Respond only with JSON: {"isTimeBound": boolean, "checkTime": "<ISO8601 UTC time or null>", "manual": boolean, "explanation": string}.`

const verifyPrompt = `You are a wager outcome verification system. Check the claimed outcome against reliable public sources. ` +
	`Decide which participant wins under the wager's terms. When participants state the side they took, the winner is the one whose claim holds. ` +
	`Respond only with JSON: {"verified": boolean, "confidence": number between 0 and 1, "explanation": string, "winner": "<one participant exactly as listed, or empty>"}.`

// wagerRequestPattern matches "@bot Can you create a wager between A and B for 10 USDC on <proposition>?"
var wagerRequestPattern = regexp.MustCompile(`(?i)@([\w_]+)[,\s]*can you create a wager between (.+?) for (\d+(?:\.\d+)?)\s*([A-Za-z]+) on (.+)\?`)

var participantSeparator = regexp.MustCompile(`\s*(?:,|\band\b)\s*`)

// Config selects the endpoint and model
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Perplexity implements interfaces.Oracle over the chat completions API
type Perplexity struct {
	client openai.Client
	model  string
}

// NewPerplexity creates an oracle client
func NewPerplexity(cfg Config) *Perplexity {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(2),
	)

	return &Perplexity{client: client, model: cfg.Model}
}

var _ interfaces.Oracle = (*Perplexity)(nil)

// ClassifyWager detects a wager proposal, trying the fixed request phrasing before the model
func (p *Perplexity) ClassifyWager(ctx context.Context, message string) (*entities.DetectionResult, error) {
	if result, ok := matchWagerRequest(message); ok {
		return result, nil
	}

	content, err := p.complete(ctx, detectPrompt, message, 0.2, 1024)
	if err != nil {
		return nil, err
	}

	doc, err := extractJSON(content)
	if err != nil {
		return nil, err
	}

	result := &entities.DetectionResult{
		IsWager:      doc.Get("isWager").Bool(),
		Description:  strings.TrimSpace(doc.Get("description").String()),
		Asset:        strings.ToUpper(strings.TrimSpace(doc.Get("asset").String())),
		BotMentioned: doc.Get("botMentioned").Bool(),
	}
	if amount := doc.Get("amount"); amount.Exists() {
		if parsed, err := decimal.NewFromString(amount.String()); err == nil {
			result.Amount = parsed
		}
	}
	for _, participant := range doc.Get("participants").Array() {
		if name := strings.TrimSpace(participant.String()); name != "" {
			result.Participants = append(result.Participants, name)
		}
	}

	return result, nil
}

// ClassifyDeadline asks when the proposition can be checked
func (p *Perplexity) ClassifyDeadline(ctx context.Context, description string) (*entities.DeadlineClassification, error) {
	content, err := p.complete(ctx, deadlinePrompt, description, 0.2, 512)
	if err != nil {
		return nil, err
	}

	doc, err := extractJSON(content)
	if err != nil {
		return nil, err
	}

	classification := &entities.DeadlineClassification{
		IsTimeBound: doc.Get("isTimeBound").Bool(),
		Manual:      doc.Get("manual").Bool(),
		Explanation: doc.Get("explanation").String(),
	}
	if raw := doc.Get("checkTime").String(); raw != "" && raw != "null" {
		checkTime, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			log.WithFields(log.Fields{
				"checkTime": raw,
				"error":     err,
			}).Warn("Oracle returned an unparseable check time")
		} else {
			classification.CheckTime = &checkTime
		}
	}

	return classification, nil
}

// describeParticipants lists participants with the side each one took
func describeParticipants(query entities.OutcomeQuery) string {
	described := make([]string, 0, len(query.Participants))
	for _, p := range query.Participants {
		if claim := strings.TrimSpace(query.Claims[p]); claim != "" {
			described = append(described, fmt.Sprintf("%s (claims: %s)", p, claim))
			continue
		}
		described = append(described, p)
	}
	return strings.Join(described, ", ")
}

// VerifyOutcome asks whether the outcome holds and which participant it favours.
// An empty OutcomeText asks the model to establish the outcome itself.
func (p *Perplexity) VerifyOutcome(ctx context.Context, query entities.OutcomeQuery) (*entities.VerificationResult, error) {
	outcome := query.OutcomeText
	if strings.TrimSpace(outcome) == "" {
		outcome = "Not supplied. Determine the actual outcome from public information as of now."
	}
	prompt := fmt.Sprintf("Wager: %s\nParticipants: %s\nClaimed outcome: %s",
		query.Description, describeParticipants(query), outcome)

	content, err := p.complete(ctx, verifyPrompt, prompt, 0.2, 1024)
	if err != nil {
		return nil, err
	}

	doc, err := extractJSON(content)
	if err != nil {
		return nil, err
	}

	result := &entities.VerificationResult{
		Verified:    doc.Get("verified").Bool(),
		Confidence:  doc.Get("confidence").Float(),
		Explanation: doc.Get("explanation").String(),
		Winner:      strings.TrimSpace(doc.Get("winner").String()),
	}
	if result.Explanation == "" {
		result.Explanation = "No explanation provided"
	}

	return result, nil
}

func (p *Perplexity) complete(ctx context.Context, system, user string, temperature float64, maxTokens int64) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(temperature),
		TopP:        openai.Float(0.9),
		MaxTokens:   openai.Int(maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("oracle: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("oracle: empty completion")
	}

	content := resp.Choices[0].Message.Content
	log.WithFields(log.Fields{
		"model":  p.model,
		"length": len(content),
	}).Debug("Oracle completion received")

	return content, nil
}

// extractJSON finds the JSON object in a completion that may wrap it in prose or code fences
func extractJSON(content string) (gjson.Result, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return gjson.Result{}, fmt.Errorf("oracle: no JSON object in completion %q", truncate(content, 120))
	}

	raw := content[start : end+1]
	if !gjson.Valid(raw) {
		return gjson.Result{}, fmt.Errorf("oracle: invalid JSON in completion %q", truncate(raw, 120))
	}
	return gjson.Parse(raw), nil
}

func matchWagerRequest(message string) (*entities.DetectionResult, bool) {
	match := wagerRequestPattern.FindStringSubmatch(message)
	if match == nil {
		return nil, false
	}

	amount, err := decimal.NewFromString(match[3])
	if err != nil {
		return nil, false
	}

	var participants []string
	for _, name := range participantSeparator.Split(match[2], -1) {
		if name = strings.TrimSpace(name); name != "" {
			participants = append(participants, name)
		}
	}

	return &entities.DetectionResult{
		IsWager:      true,
		Description:  strings.TrimSpace(match[5]),
		Amount:       amount,
		Asset:        strings.ToUpper(match[4]),
		Participants: participants,
		BotMentioned: true,
	}, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
