package custody

import (
	"context"
	"fmt"

	"wagerbot/domain"
	"wagerbot/domain/interfaces"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

// transferSelector is the 4-byte selector of transfer(address,uint256)
var transferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

// Transferer pays out the payout token from escrow accounts
type Transferer struct {
	broadcaster *Broadcaster
	token       Token
}

// NewTransferer creates a transferer for the payout asset
func NewTransferer(broadcaster *Broadcaster, tokens TokenRegistry, payoutAsset string) (*Transferer, error) {
	token, ok := tokens.Lookup(payoutAsset)
	if !ok {
		return nil, fmt.Errorf("custody: payout asset %s is not a registered token", payoutAsset)
	}
	return &Transferer{broadcaster: broadcaster, token: token}, nil
}

var _ interfaces.Transferer = (*Transferer)(nil)

// Transfer sends req.Amount of the payout token and returns the transaction hash
func (t *Transferer) Transfer(ctx context.Context, req interfaces.TransferRequest) (string, error) {
	if !common.IsHexAddress(req.Destination) {
		return "", domain.Validationf("invalid destination address %q", req.Destination)
	}
	units := ToBaseUnits(req.Amount, t.token.Decimals)
	if units.Sign() <= 0 {
		return "", domain.Validationf("transfer amount %s is below the smallest %s unit", req.Amount, t.token.Symbol)
	}

	data := make([]byte, 0, 4+64)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(req.Destination).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(units.Bytes(), 32)...)

	hash, err := t.broadcaster.Execute(ctx, req.Escrow.SigningRef, Call{To: t.token.Address, Data: data}, req.IdempotencyKey)
	if err != nil {
		return "", err
	}

	log.WithFields(log.Fields{
		"escrow":      req.Escrow.PublicIdentity,
		"destination": req.Destination,
		"amount":      req.Amount.String(),
		"asset":       t.token.Symbol,
		"txHash":      hash.Hex(),
	}).Info("Payout transferred")

	return hash.Hex(), nil
}
