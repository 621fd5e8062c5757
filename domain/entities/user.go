package entities

import "time"

// User represents a chat identity that may own a personal custodial wallet
type User struct {
	ID            string    `db:"id"`
	Username      string    `db:"username"`
	WalletAddress *string   `db:"wallet_address"`
	WalletKeyRef  *string   `db:"wallet_key_ref"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// HasWallet checks if the user has a provisioned wallet
func (u *User) HasWallet() bool {
	return u.WalletAddress != nil && *u.WalletAddress != ""
}
