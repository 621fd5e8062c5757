// Package custody holds escrow and user wallets on an EVM chain: key sealing,
// balance reads and idempotent transaction broadcast.
package custody

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultKDFIterations is the OWASP minimum for PBKDF2-HMAC-SHA256
	DefaultKDFIterations = 480_000

	saltLen       = 16
	aesKeyLen     = 32
	sealedVersion = 1
)

// sealedKey is the stored form of an encrypted signing key.
// Iterations are stored so the work factor can be raised without breaking old keys.
type sealedKey struct {
	Version    int    `json:"version"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyVault seals secp256k1 keys with PBKDF2-derived AES-256-GCM keys
type KeyVault struct {
	passphrase []byte
	iterations int
}

// NewKeyVault creates a vault for the given passphrase
func NewKeyVault(passphrase string, iterations int) (*KeyVault, error) {
	if passphrase == "" {
		return nil, errors.New("custody: key passphrase must not be empty")
	}
	if iterations <= 0 {
		iterations = DefaultKDFIterations
	}
	return &KeyVault{passphrase: []byte(passphrase), iterations: iterations}, nil
}

// Seal encrypts a private key into a self-describing JSON blob
func (v *KeyVault) Seal(key *ecdsa.PrivateKey) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("custody: generating salt: %w", err)
	}

	gcm, err := v.cipher(salt, v.iterations)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("custody: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, ethcrypto.FromECDSA(key), nil)

	return json.Marshal(sealedKey{
		Version:    sealedVersion,
		Iterations: v.iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
}

// Open decrypts a blob produced by Seal
func (v *KeyVault) Open(sealed []byte) (*ecdsa.PrivateKey, error) {
	var stored sealedKey
	if err := json.Unmarshal(sealed, &stored); err != nil {
		return nil, fmt.Errorf("custody: parsing sealed key: %w", err)
	}
	if stored.Version != sealedVersion {
		return nil, fmt.Errorf("custody: unsupported sealed key version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("custody: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("custody: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("custody: decoding ciphertext: %w", err)
	}

	gcm, err := v.cipher(salt, stored.Iterations)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("custody: decryption failed (wrong passphrase?): %w", err)
	}

	key, err := ethcrypto.ToECDSA(plaintext)
	if err != nil {
		return nil, fmt.Errorf("custody: invalid private key: %w", err)
	}
	return key, nil
}

func (v *KeyVault) cipher(salt []byte, iterations int) (cipher.AEAD, error) {
	derived := pbkdf2.Key(v.passphrase, salt, iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("custody: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("custody: creating GCM: %w", err)
	}
	return gcm, nil
}
