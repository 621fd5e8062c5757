package custody

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"
)

// TxStore remembers the first signed transaction produced for an idempotency key
type TxStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
}

// Call describes a contract call or value transfer to sign
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	// Gas is estimated when zero
	Gas uint64
}

// BroadcasterConfig holds confirmation settings
type BroadcasterConfig struct {
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// DefaultReceiptTimeout bounds the wait for a receipt when BroadcasterConfig leaves it unset
const DefaultReceiptTimeout = 2 * time.Minute

// maxSigningAttempts caps how many transactions one idempotency key may sign
const maxSigningAttempts = 5

var (
	errReceiptPending = errors.New("receipt not available yet")

	// ErrTransactionReverted means the transaction was mined but failed
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrTransactionRejected means the node refused the transaction and it can never be mined
	ErrTransactionRejected = errors.New("transaction rejected")

	// ErrSigningAttemptsExhausted means every transaction signed for a key was retired
	ErrSigningAttemptsExhausted = errors.New("signing attempts exhausted")
)

// Broadcaster signs, broadcasts and confirms transactions exactly once per idempotency key.
// A signed transaction is stored before broadcast and rebroadcast verbatim on retry until it
// confirms. A transaction that reverts or that the node rejects is retired, and the next call
// signs a new one under the following attempt.
type Broadcaster struct {
	client     ChainClient
	accounts   *Accounts
	store      TxStore
	chainID    *big.Int
	cfg        BroadcasterConfig
	newBackOff func() backoff.BackOff
}

// NewBroadcaster creates a broadcaster for the chain behind client
func NewBroadcaster(client ChainClient, accounts *Accounts, store TxStore, chainID *big.Int, cfg BroadcasterConfig) *Broadcaster {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = DefaultReceiptTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	b := &Broadcaster{
		client:   client,
		accounts: accounts,
		store:    store,
		chainID:  chainID,
		cfg:      cfg,
	}
	b.newBackOff = func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = b.cfg.PollInterval
		bo.MaxInterval = 4 * b.cfg.PollInterval
		bo.MaxElapsedTime = b.cfg.ReceiptTimeout
		return bo
	}
	return b
}

// Execute signs call with the key behind signingRef, broadcasts it and waits for a successful receipt
func (b *Broadcaster) Execute(ctx context.Context, signingRef string, call Call, idempotencyKey string) (common.Hash, error) {
	for attempt := 0; attempt < maxSigningAttempts; attempt++ {
		key := attemptKey(idempotencyKey, attempt)
		retired, err := b.store.Get(ctx, key+":retired")
		if err != nil {
			return common.Hash{}, err
		}
		if retired != nil {
			continue
		}

		tx, err := b.signedTransaction(ctx, signingRef, call, key)
		if err != nil {
			return common.Hash{}, err
		}

		hash, err := b.broadcast(ctx, tx, key)
		if errors.Is(err, ErrTransactionReverted) || errors.Is(err, ErrTransactionRejected) {
			if _, rerr := b.store.PutIfAbsent(ctx, key+":retired", []byte(tx.Hash().Hex())); rerr != nil {
				return common.Hash{}, rerr
			}
			log.WithFields(log.Fields{
				"txHash":         tx.Hash().Hex(),
				"idempotencyKey": key,
				"attempt":        attempt,
				"error":          err,
			}).Warn("Retired transaction, the next call signs a new one")
		}
		return hash, err
	}
	return common.Hash{}, fmt.Errorf("custody: %s: %w", idempotencyKey, ErrSigningAttemptsExhausted)
}

// broadcast sends tx and waits for its receipt.
// A spent nonce is resolved through the receipt of tx itself: mined means confirmed or reverted, missing means replaced.
func (b *Broadcaster) broadcast(ctx context.Context, tx *types.Transaction, key string) (common.Hash, error) {
	logger := log.WithFields(log.Fields{
		"txHash":         tx.Hash().Hex(),
		"idempotencyKey": key,
		"nonce":          tx.Nonce(),
	})

	sendErr := b.client.SendTransaction(ctx, tx)
	switch {
	case sendErr == nil:
		logger.Info("Broadcast transaction")
	case isAlreadyKnown(sendErr):
		logger.Info("Transaction already in the mempool, waiting for receipt")
	case isNonceTooLow(sendErr):
		logger.Info("Nonce already used, looking up the stored transaction")
	case isRejected(sendErr):
		return common.Hash{}, fmt.Errorf("custody: broadcast %s: %v: %w", tx.Hash().Hex(), sendErr, ErrTransactionRejected)
	default:
		return common.Hash{}, fmt.Errorf("custody: broadcast %s: %w", tx.Hash().Hex(), sendErr)
	}

	receipt, err := b.waitForReceipt(ctx, tx.Hash())
	if err != nil {
		if sendErr != nil && isNonceTooLow(sendErr) && errors.Is(err, errReceiptPending) {
			return common.Hash{}, fmt.Errorf("custody: nonce %d of %s was used by another transaction: %w", tx.Nonce(), tx.Hash().Hex(), ErrTransactionRejected)
		}
		return common.Hash{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("custody: %s in block %v: %w", tx.Hash().Hex(), receipt.BlockNumber, ErrTransactionReverted)
	}

	logger.WithField("block", receipt.BlockNumber).Info("Transaction confirmed")
	return tx.Hash(), nil
}

// signedTransaction returns the stored transaction for the key or signs and stores a new one
func (b *Broadcaster) signedTransaction(ctx context.Context, signingRef string, call Call, idempotencyKey string) (*types.Transaction, error) {
	raw, err := b.store.Get(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		return decodeTransaction(raw)
	}

	key, err := b.accounts.Open(ctx, signingRef)
	if err != nil {
		return nil, err
	}
	from := ethcrypto.PubkeyToAddress(key.PublicKey)

	nonce, err := b.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("custody: nonce of %s: %w", from.Hex(), err)
	}
	tip, err := b.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("custody: gas tip: %w", err)
	}
	head, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("custody: latest header: %w", err)
	}

	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	gas := call.Gas
	if gas == 0 {
		estimate, err := b.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &call.To, Value: value, Data: call.Data})
		if err != nil {
			return nil, fmt.Errorf("custody: estimate gas: %w", err)
		}
		gas = estimate * 12 / 10
	}

	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee(head), big.NewInt(2)))

	tx, err := types.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &call.To,
		Value:     value,
		Data:      call.Data,
	}), types.LatestSignerForChainID(b.chainID), key)
	if err != nil {
		return nil, fmt.Errorf("custody: sign transaction: %w", err)
	}

	encoded, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("custody: encode transaction: %w", err)
	}

	stored, err := b.store.PutIfAbsent(ctx, idempotencyKey, encoded)
	if err != nil {
		return nil, err
	}
	if !stored {
		// Another attempt signed first; broadcast its transaction instead of ours
		raw, err := b.store.Get(ctx, idempotencyKey)
		if err != nil {
			return nil, err
		}
		return decodeTransaction(raw)
	}

	return tx, nil
}

func (b *Broadcaster) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := backoff.RetryWithData(func() (*types.Receipt, error) {
		receipt, err := b.client.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return nil, errReceiptPending
		}
		return receipt, err
	}, backoff.WithContext(b.newBackOff(), ctx))
	if err != nil {
		return nil, fmt.Errorf("custody: receipt for %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}

func decodeTransaction(raw []byte) (*types.Transaction, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("custody: decode stored transaction: %w", err)
	}
	return tx, nil
}

func baseFee(head *types.Header) *big.Int {
	if head == nil || head.BaseFee == nil {
		return new(big.Int)
	}
	return head.BaseFee
}

func attemptKey(idempotencyKey string, attempt int) string {
	if attempt == 0 {
		return idempotencyKey
	}
	return fmt.Sprintf("%s:attempt:%d", idempotencyKey, attempt)
}

// isAlreadyKnown reports that the node already holds the transaction in its mempool
func isAlreadyKnown(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already known")
}

// isNonceTooLow reports that the transaction's nonce was spent, by it or by another transaction
func isNonceTooLow(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

var rejectionMessages = []string{
	"insufficient funds",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"fee cap less than block base fee",
	"max fee per gas less than block base fee",
	"underpriced",
}

// isRejected reports node errors after which the transaction can never be mined
func isRejected(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range rejectionMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
