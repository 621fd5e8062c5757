package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"

	"wagerbot/domain"
	"wagerbot/domain/entities"
	"wagerbot/domain/interfaces"
	"wagerbot/infrastructure/custody"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	swapPath = "/api/v5/dex/aggregator/swap"

	// nativeTokenAddress is the aggregator's placeholder for the chain's native asset
	nativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
)

// Executor broadcasts the aggregator's transaction from the escrow account
type Executor interface {
	Execute(ctx context.Context, signingRef string, call custody.Call, idempotencyKey string) (common.Hash, error)
}

// QuoteStore keeps the first quote obtained for an idempotency key
type QuoteStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
}

// SwapConfig selects the chain and output token
type SwapConfig struct {
	ChainIndex string
	ToToken    custody.Token
	Slippage   string
}

// storedQuote is the part of a swap quote needed to sign and account for the swap
type storedQuote struct {
	To        string `json:"to"`
	Data      string `json:"data"`
	Value     string `json:"value"`
	Gas       uint64 `json:"gas"`
	MinOutput string `json:"min_output"`
}

// Swapper implements interfaces.Swapper using the aggregator and the custody broadcaster
type Swapper struct {
	client   *Client
	executor Executor
	quotes   QuoteStore
	cfg      SwapConfig
}

// NewSwapper creates a native-to-token swapper
func NewSwapper(client *Client, executor Executor, quotes QuoteStore, cfg SwapConfig) *Swapper {
	if cfg.Slippage == "" {
		cfg.Slippage = "0.005"
	}
	return &Swapper{client: client, executor: executor, quotes: quotes, cfg: cfg}
}

var _ interfaces.Swapper = (*Swapper)(nil)

// Swap converts req.NativeAmount into the payout token.
// The receipt reports the quote's minimum output so payouts never exceed what the escrow received.
func (s *Swapper) Swap(ctx context.Context, req interfaces.SwapRequest) (*entities.SwapReceipt, error) {
	quote, err := s.quote(ctx, req)
	if err != nil {
		return nil, err
	}

	value, ok := new(big.Int).SetString(quote.Value, 10)
	if !ok {
		return nil, fmt.Errorf("okx: invalid tx value %q", quote.Value)
	}
	data, err := hexutil.Decode(quote.Data)
	if err != nil {
		return nil, fmt.Errorf("okx: invalid tx data: %w", err)
	}
	minOutput, ok := new(big.Int).SetString(quote.MinOutput, 10)
	if !ok {
		return nil, fmt.Errorf("okx: invalid min output %q", quote.MinOutput)
	}

	hash, err := s.executor.Execute(ctx, req.Escrow.SigningRef, custody.Call{
		To:    common.HexToAddress(quote.To),
		Data:  data,
		Value: value,
		Gas:   quote.Gas,
	}, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	receipt := &entities.SwapReceipt{
		TxHash:     hash.Hex(),
		FromAmount: req.NativeAmount,
		ToAmount:   custody.FromBaseUnits(minOutput, s.cfg.ToToken.Decimals),
	}

	log.WithFields(log.Fields{
		"escrow":  req.Escrow.PublicIdentity,
		"from":    receipt.FromAmount.String(),
		"to":      receipt.ToAmount.String(),
		"toToken": s.cfg.ToToken.Symbol,
		"txHash":  receipt.TxHash,
	}).Info("Swapped escrow funds")

	return receipt, nil
}

// quote returns the stored quote for the key or fetches and stores a new one.
// TODO: fetch a fresh quote once the broadcaster retires a reverted swap transaction.
func (s *Swapper) quote(ctx context.Context, req interfaces.SwapRequest) (*storedQuote, error) {
	quoteKey := req.IdempotencyKey + ":quote"

	raw, err := s.quotes.Get(ctx, quoteKey)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		fresh, err := s.fetchQuote(ctx, req)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(fresh)
		if err != nil {
			return nil, fmt.Errorf("okx: encode quote: %w", err)
		}
		if _, err := s.quotes.PutIfAbsent(ctx, quoteKey, encoded); err != nil {
			return nil, err
		}
		if raw, err = s.quotes.Get(ctx, quoteKey); err != nil {
			return nil, err
		}
	}

	var quote storedQuote
	if err := json.Unmarshal(raw, &quote); err != nil {
		return nil, fmt.Errorf("okx: decode stored quote: %w", err)
	}
	return &quote, nil
}

func (s *Swapper) fetchQuote(ctx context.Context, req interfaces.SwapRequest) (*storedQuote, error) {
	units := custody.ToBaseUnits(req.NativeAmount, custody.NativeDecimals)
	if units.Sign() <= 0 {
		return nil, domain.Validationf("swap amount must be positive")
	}

	query := url.Values{}
	query.Set("chainIndex", s.cfg.ChainIndex)
	query.Set("chainId", s.cfg.ChainIndex)
	query.Set("amount", units.String())
	query.Set("fromTokenAddress", nativeTokenAddress)
	query.Set("toTokenAddress", s.cfg.ToToken.Address.Hex())
	query.Set("slippage", s.cfg.Slippage)
	query.Set("userWalletAddress", req.Escrow.PublicIdentity)

	data, err := s.client.Get(ctx, swapPath, query)
	if err != nil {
		return nil, err
	}

	first := data.Get("0")
	if !first.Exists() {
		return nil, errors.New("okx: swap response has no routes")
	}

	tx := first.Get("tx")
	quote := &storedQuote{
		To:        tx.Get("to").String(),
		Data:      tx.Get("data").String(),
		Value:     tx.Get("value").String(),
		MinOutput: firstNonEmpty(tx.Get("minReceiveAmount"), first.Get("routerResult.toTokenAmount")),
	}
	if gas, err := strconv.ParseUint(tx.Get("gas").String(), 10, 64); err == nil {
		quote.Gas = gas
	}
	if quote.Value == "" {
		quote.Value = "0"
	}
	if !common.IsHexAddress(quote.To) || quote.MinOutput == "" {
		return nil, fmt.Errorf("okx: incomplete swap transaction in response")
	}

	return quote, nil
}

func firstNonEmpty(values ...gjson.Result) string {
	for _, v := range values {
		if s := v.String(); s != "" {
			return s
		}
	}
	return ""
}
