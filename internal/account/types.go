package account

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("account: not found")
	ErrInvalidInput = errors.New("account: invalid input")
)

// Account is a user-owned financial account. Balances and postings live in
// their own subsystem; this record carries ownership and display metadata.
type Account struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Name      string     `json:"name"`
	Currency  string     `json:"currency"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the account was soft-deleted.
func (a *Account) Deleted() bool { return a.DeletedAt != nil }
