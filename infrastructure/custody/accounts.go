package custody

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"wagerbot/domain"
	"wagerbot/domain/entities"
	"wagerbot/domain/interfaces"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Accounts creates custodial accounts and opens their keys for signing
type Accounts struct {
	keys  interfaces.EscrowKeyRepository
	vault *KeyVault
}

// NewAccounts creates an account store over sealed key storage
func NewAccounts(keys interfaces.EscrowKeyRepository, vault *KeyVault) *Accounts {
	return &Accounts{keys: keys, vault: vault}
}

// Create generates a key, seals it and stores it under a fresh reference.
// Only the address and reference leave this package.
func (a *Accounts) Create(ctx context.Context, kind string) (entities.EscrowAccount, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return entities.EscrowAccount{}, fmt.Errorf("custody: generating key: %w", err)
	}

	sealed, err := a.vault.Seal(key)
	if err != nil {
		return entities.EscrowAccount{}, err
	}

	account := entities.EscrowAccount{
		PublicIdentity: ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		SigningRef:     kind + "-" + uuid.NewString(),
	}

	if err := a.keys.Save(ctx, account.SigningRef, account.PublicIdentity, sealed); err != nil {
		return entities.EscrowAccount{}, err
	}

	log.WithFields(log.Fields{
		"kind":    kind,
		"address": account.PublicIdentity,
	}).Info("Created custodial account")

	return account, nil
}

// Open loads and decrypts the signing key behind a reference
func (a *Accounts) Open(ctx context.Context, ref string) (*ecdsa.PrivateKey, error) {
	sealed, err := a.keys.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if sealed == nil {
		return nil, fmt.Errorf("custody: signing key %s: %w", ref, domain.ErrNotFound)
	}
	return a.vault.Open(sealed)
}
